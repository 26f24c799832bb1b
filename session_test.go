package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSessionLifecycle(t *testing.T) {
	m, err := NewSessionManager(nil, t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}

	s, err := m.Create()
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.ID == "" || s.Status != StatusIdle {
		t.Fatalf("unexpected new session: %+v", s)
	}
	if _, err := os.Stat(s.Dir); err != nil {
		t.Fatalf("session dir missing: %v", err)
	}

	got, ok := m.Get(s.ID)
	if !ok || got.ID != s.ID {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
	if _, ok := m.Get("nope"); ok {
		t.Fatal("unknown id must not resolve")
	}

	m.SetStatus(s.ID, StatusProcessing)
	if m.Status(s.ID) != StatusProcessing {
		t.Fatalf("status = %q", m.Status(s.ID))
	}

	m.Remove(s.ID)
	if _, ok := m.Get(s.ID); ok {
		t.Fatal("removed session must be gone")
	}
	if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
		t.Fatalf("session dir must be deleted, stat err=%v", err)
	}
}

func TestSessionAttachFile(t *testing.T) {
	m, _ := NewSessionManager(nil, t.TempDir())
	s, _ := m.Create()

	src := filepath.Join(t.TempDir(), "upload.xlsx")
	if err := os.WriteFile(src, []byte("fake workbook"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	dst, err := m.AttachFile(s.ID, SlotResponses, src)
	if err != nil {
		t.Fatalf("AttachFile failed: %v", err)
	}
	if filepath.Dir(dst) != s.Dir {
		t.Fatalf("attached file must live in the session dir, got %s", dst)
	}
	if s.FilePath(SlotResponses) != dst {
		t.Fatalf("slot not recorded: %q", s.FilePath(SlotResponses))
	}
	if s.FilePath(SlotCodes) != "" {
		t.Fatal("unrelated slot must stay empty")
	}
}

func TestCleanupStaleSparesActiveSessions(t *testing.T) {
	m, _ := NewSessionManager(nil, t.TempDir())

	stale, _ := m.Create()
	busy, _ := m.Create()
	fresh, _ := m.Create()

	m.SetStatus(busy.ID, StatusProcessing)

	m.mu.Lock()
	m.sessions[stale.ID].LastActive = time.Now().Add(-48 * time.Hour)
	m.sessions[busy.ID].LastActive = time.Now().Add(-48 * time.Hour)
	m.mu.Unlock()

	removed := m.CleanupStale(24 * time.Hour)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := m.Get(stale.ID); ok {
		t.Fatal("stale idle session must be removed")
	}
	if _, ok := m.Get(busy.ID); !ok {
		t.Fatal("processing session must be spared regardless of age")
	}
	if _, ok := m.Get(fresh.ID); !ok {
		t.Fatal("fresh session must be spared")
	}
}
