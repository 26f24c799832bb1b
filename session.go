package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Session statuses.
const (
	StatusIdle       = "idle"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusStopped    = "stopped"
	StatusError      = "error"
	StatusReviewing  = "reviewing"
)

// File slots inside a session directory.
const (
	SlotResponses = "responses"
	SlotCodes     = "codes"
	SlotManual    = "manual"
)

// Session is one operator workspace: uploaded inputs, checkpoint files and
// produced outputs all live under its private directory.
type Session struct {
	ID         string
	Dir        string
	Status     string
	LastActive time.Time

	files map[string]string
}

// FilePath returns the stored path for a slot, or "" when nothing was
// uploaded there yet.
func (s *Session) FilePath(slot string) string { return s.files[slot] }

// SessionManager owns the session table, both in memory and in sqlite. All
// methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	db      *sql.DB
	baseDir string
}

func NewSessionManager(db *sql.DB, baseDir string) (*SessionManager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session base dir: %w", err)
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		db:       db,
		baseDir:  baseDir,
	}, nil
}

// Create allocates a new session with its own directory.
func (m *SessionManager) Create() (*Session, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	s := &Session{
		ID:         id,
		Dir:        dir,
		Status:     StatusIdle,
		LastActive: time.Now(),
		files:      make(map[string]string),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if m.db != nil {
		if err := InsertSession(m.db, id, dir); err != nil {
			log.Printf("session insert id=%s err=%v", id, err)
		}
	}
	log.Printf("session created id=%s dir=%s", id, dir)
	return s, nil
}

// Get returns the session and touches its activity clock.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.LastActive = time.Now()
		if m.db != nil {
			if err := TouchSession(m.db, id); err != nil {
				log.Printf("session touch id=%s err=%v", id, err)
			}
		}
	}
	return s, ok
}

// AttachFile copies an uploaded file into the session directory under a
// stable name per slot and records it.
func (m *SessionManager) AttachFile(id, slot, srcPath string) (string, error) {
	s, ok := m.Get(id)
	if !ok {
		return "", fmt.Errorf("unknown session %s", id)
	}

	ext := filepath.Ext(srcPath)
	dst := filepath.Join(s.Dir, slot+ext)
	if err := copyFile(srcPath, dst); err != nil {
		return "", fmt.Errorf("attach %s file: %w", slot, err)
	}

	m.mu.Lock()
	s.files[slot] = dst
	m.mu.Unlock()
	return dst, nil
}

// SetStatus transitions a session and mirrors the state to sqlite.
func (m *SessionManager) SetStatus(id, status string) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.Status = status
		s.LastActive = time.Now()
	}
	m.mu.Unlock()

	if m.db != nil {
		if err := UpdateSessionStatus(m.db, id, status); err != nil {
			log.Printf("session status id=%s err=%v", id, err)
		}
	}
}

func (m *SessionManager) Status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Status
	}
	return ""
}

// Remove deletes a session's directory and forgets it.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		if err := os.RemoveAll(s.Dir); err != nil {
			log.Printf("session remove dir id=%s err=%v", id, err)
		}
	}
	if m.db != nil {
		if err := DeleteSession(m.db, id); err != nil {
			log.Printf("session delete id=%s err=%v", id, err)
		}
	}
	log.Printf("session removed id=%s", id)
}

// CleanupStale removes sessions idle for longer than ttl. Sessions still
// processing are spared regardless of age.
func (m *SessionManager) CleanupStale(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.Status == StatusProcessing || s.Status == StatusReviewing {
			continue
		}
		if s.LastActive.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Remove(id)
	}

	// Orphaned rows from previous processes.
	if m.db != nil {
		if records, err := GetStaleSessions(m.db, cutoff); err == nil {
			for _, rec := range records {
				m.mu.Lock()
				_, live := m.sessions[rec.ID]
				m.mu.Unlock()
				if live {
					continue
				}
				if err := os.RemoveAll(rec.Dir); err != nil {
					log.Printf("session orphan cleanup id=%s err=%v", rec.ID, err)
				}
				if err := DeleteSession(m.db, rec.ID); err != nil {
					log.Printf("session orphan delete id=%s err=%v", rec.ID, err)
				}
				stale = append(stale, rec.ID)
			}
		}
	}
	if len(stale) > 0 {
		log.Printf("session cleanup removed=%d", len(stale))
	}
	return len(stale)
}

// StartCleanupScheduler runs CleanupStale on a 5-field cron expression
// (minute hour day-of-month month day-of-week). An empty schedule disables
// cleanup.
func (m *SessionManager) StartCleanupScheduler(schedule string, ttl time.Duration) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		log.Println("Session cleanup disabled (cleanup_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid cleanup_schedule '%s': %v, session cleanup disabled", schedule, err)
		return
	}
	log.Printf("Session cleanup scheduled (cron: %s, ttl: %s)", schedule, ttl)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			time.Sleep(next.Sub(now))
			m.CleanupStale(ttl)
		}
	}()
}
