package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// RunOutputs are the final artifacts of a completed coding run.
type RunOutputs struct {
	ResponsesPath string
	CodesPath     string
}

// jobHandle tracks one in-flight worker for a session.
type jobHandle struct {
	kind     string
	stop     *atomic.Bool
	notifier *Notifier
	done     chan struct{}

	mu      sync.Mutex
	outputs RunOutputs
	review  ReviewResult
	err     error
}

func (h *jobHandle) finish(outputs RunOutputs, review ReviewResult, err error) {
	h.mu.Lock()
	h.outputs = outputs
	h.review = review
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Runner starts, observes and stops coding and review workers, one per
// session at a time.
type Runner struct {
	cfg      Config
	db       *sql.DB
	sessions *SessionManager

	mu   sync.Mutex
	jobs map[string]*jobHandle
}

func NewRunner(cfg Config, db *sql.DB, sessions *SessionManager) *Runner {
	return &Runner{cfg: cfg, db: db, sessions: sessions, jobs: make(map[string]*jobHandle)}
}

func (r *Runner) register(sessionID, kind string) (*jobHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.jobs[sessionID]; ok {
		select {
		case <-h.done:
		default:
			return nil, fmt.Errorf("session %s already has a %s in progress", sessionID, h.kind)
		}
	}
	h := &jobHandle{
		kind:     kind,
		stop:     &atomic.Bool{},
		notifier: NewNotifier(256),
		done:     make(chan struct{}),
	}
	r.jobs[sessionID] = h
	return h, nil
}

// StartCoding launches the coding worker for a session. The session must
// have responses and codes files attached. Resume semantics come for free:
// when a working checkpoint exists in the session directory it wins over the
// uploads, and job.SkipFirstUncoded steps past the first uncoded response.
func (r *Runner) StartCoding(sessionID string, job CodingJob) (*jobHandle, error) {
	s, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	responsesPath := s.FilePath(SlotResponses)
	codesPath := s.FilePath(SlotCodes)
	if responsesPath == "" || codesPath == "" {
		return nil, fmt.Errorf("session %s is missing responses or codes file", sessionID)
	}
	if len(job.Columns) == 0 {
		return nil, fmt.Errorf("no columns configured")
	}

	h, err := r.register(sessionID, "coding run")
	if err != nil {
		return nil, err
	}

	r.sessions.SetStatus(sessionID, StatusProcessing)
	go r.runCoding(sessionID, s, h, responsesPath, codesPath, job)
	return h, nil
}

func (r *Runner) runCoding(sessionID string, s *Session, h *jobHandle, responsesPath, codesPath string, job CodingJob) {
	defer h.notifier.Close()
	ctx := context.Background()
	started := time.Now()

	completer, policy, err := newCompleter(r.cfg)
	if err != nil {
		r.failJob(sessionID, h, fmt.Errorf("build llm client: %w", err))
		return
	}
	gateway := NewGateway(completer, policy, h.stop.Load)

	runID := int64(0)
	if r.db != nil {
		runID, err = InsertRun(r.db, sessionID, "coding", r.cfg.LLMProvider, r.cfg.LLMModel)
		if err != nil {
			log.Printf("run insert session=%s err=%v", sessionID, err)
		}
	}

	minter := NewMinter(gateway, localeName(r.cfg.LabelLocale))
	if r.db != nil && runID != 0 {
		minter.MintAudit = func(question, label, code string) {
			if err := InsertMintedLabel(r.db, runID, question, code, label); err != nil {
				log.Printf("mint audit run=%d err=%v", runID, err)
			}
		}
	}
	classifier := NewClassifier(gateway, minter)

	checkpointer := NewCheckpointer(s.Dir, r.cfg.CodebookSheet)
	pipeline := NewPipeline(classifier, checkpointer, h.notifier, h.stop)

	responses, codesTable, resumed, err := checkpointer.Load(responsesPath, codesPath)
	if err != nil {
		r.finishRun(runID, StatusError, err.Error())
		r.failJob(sessionID, h, err)
		return
	}
	if resumed {
		h.notifier.Status("Resuming from checkpoint")
	} else {
		// A fresh start means any stale skip directive is meaningless.
		job.SkipFirstUncoded = false
	}

	cb, err := NewCodebookFromTable(codesTable)
	if err != nil {
		r.finishRun(runID, StatusError, err.Error())
		r.failJob(sessionID, h, err)
		return
	}

	responses, cb, modified := pipeline.Run(ctx, responses, cb, job)
	r.recordUsage(runID, completer)

	if h.stop.Load() {
		// Leave the checkpoint in place for a later resume.
		r.finishRun(runID, StatusStopped, fmt.Sprintf("stopped after %s, %d cells coded", time.Since(started).Round(time.Second), len(modified)))
		r.sessions.SetStatus(sessionID, StatusStopped)
		h.notifier.Status("Processing stopped")
		h.finish(RunOutputs{}, ReviewResult{}, nil)
		return
	}

	outputs, err := r.writeFinalOutputs(responses, cb)
	if err != nil {
		r.finishRun(runID, StatusError, err.Error())
		r.failJob(sessionID, h, err)
		return
	}
	checkpointer.Clear()

	detail := fmt.Sprintf("coded %d cells in %s", len(modified), time.Since(started).Round(time.Second))
	r.finishRun(runID, StatusCompleted, detail)
	r.sessions.SetStatus(sessionID, StatusCompleted)
	h.notifier.Status("Processing completed")
	log.Printf("coding run done session=%s %s", sessionID, detail)
	h.finish(outputs, ReviewResult{}, nil)
}

// writeFinalOutputs saves the processed tables under timestamped names in the
// output directory.
func (r *Runner) writeFinalOutputs(responses *Table, cb *Codebook) (RunOutputs, error) {
	ts := time.Now().Format("20060102_150405")
	out := RunOutputs{
		ResponsesPath: filepath.Join(r.cfg.OutputDir, fmt.Sprintf("responses_processed_%s.xlsx", ts)),
		CodesPath:     filepath.Join(r.cfg.OutputDir, fmt.Sprintf("codes_updated_%s.xlsx", ts)),
	}
	if err := SaveSheet(responses, out.ResponsesPath, ""); err != nil {
		return RunOutputs{}, fmt.Errorf("save final responses: %w", err)
	}
	if err := SaveSheet(cb.Table(), out.CodesPath, r.cfg.CodebookSheet); err != nil {
		return RunOutputs{}, fmt.Errorf("save final codebook: %w", err)
	}
	return out, nil
}

// FrequentResponses analyzes the session's responses file and returns the
// most frequent fuzzy-grouped values per column, the raw material for a
// manual pre-coding map.
func (r *Runner) FrequentResponses(sessionID string, columns []string) (map[string][]ResponseGroup, error) {
	s, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	path := s.FilePath(SlotResponses)
	if path == "" {
		return nil, fmt.Errorf("session %s has no responses file", sessionID)
	}
	responses, err := LoadSheet(path, "")
	if err != nil {
		return nil, err
	}
	return FrequentResponses(responses, columns, defaultFrequentTopN, defaultFrequentMinCount, defaultFrequentThreshold), nil
}

// StartReview launches the review worker over a finished coding output.
// Empty paths fall back to the session's attached files.
func (r *Runner) StartReview(sessionID, responsesPath, codesPath string, columns []string) (*jobHandle, error) {
	s, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	if responsesPath == "" {
		responsesPath = s.FilePath(SlotResponses)
	}
	if codesPath == "" {
		codesPath = s.FilePath(SlotCodes)
	}
	if responsesPath == "" || codesPath == "" {
		return nil, fmt.Errorf("session %s is missing responses or codes file", sessionID)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns to review")
	}

	h, err := r.register(sessionID, "review run")
	if err != nil {
		return nil, err
	}

	r.sessions.SetStatus(sessionID, StatusReviewing)
	go r.runReview(sessionID, h, responsesPath, codesPath, columns)
	return h, nil
}

func (r *Runner) runReview(sessionID string, h *jobHandle, responsesPath, codesPath string, columns []string) {
	defer h.notifier.Close()
	ctx := context.Background()

	completer, policy, err := newCompleter(r.cfg)
	if err != nil {
		r.failJob(sessionID, h, fmt.Errorf("build llm client: %w", err))
		return
	}
	gateway := NewGateway(completer, policy, h.stop.Load)

	runID := int64(0)
	if r.db != nil {
		runID, err = InsertRun(r.db, sessionID, "review", r.cfg.LLMProvider, r.cfg.LLMModel)
		if err != nil {
			log.Printf("run insert session=%s err=%v", sessionID, err)
		}
	}

	reviewer := NewReviewer(gateway, h.notifier, h.stop, r.cfg.CodebookSheet)
	if r.db != nil && runID != 0 {
		reviewer.CorrectionAudit = func(codeColumn, response, original, corrected string) {
			if err := InsertReviewCorrection(r.db, runID, codeColumn, response, original, corrected); err != nil {
				log.Printf("correction audit run=%d err=%v", runID, err)
			}
		}
	}

	result, err := reviewer.Run(ctx, responsesPath, codesPath, columns)
	r.recordUsage(runID, completer)
	if err != nil {
		r.finishRun(runID, StatusError, err.Error())
		r.failJob(sessionID, h, err)
		return
	}

	if h.stop.Load() {
		r.finishRun(runID, StatusStopped, fmt.Sprintf("stopped, %d corrections so far", result.Corrections))
		r.sessions.SetStatus(sessionID, StatusStopped)
	} else {
		r.finishRun(runID, StatusCompleted, fmt.Sprintf("%d corrections over %d rows", result.Corrections, result.RowsReviewed))
		r.sessions.SetStatus(sessionID, StatusCompleted)
	}
	h.notifier.Status("Review completed")
	h.finish(RunOutputs{}, result, nil)
}

// Stop requests a cooperative stop of the session's current worker. The
// worker finishes its in-flight model call, checkpoints and exits.
func (r *Runner) Stop(sessionID string) bool {
	r.mu.Lock()
	h, ok := r.jobs[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
	}
	h.stop.Store(true)
	log.Printf("stop requested session=%s", sessionID)
	return true
}

// Wait blocks until the session's current worker finishes and returns its
// results.
func (r *Runner) Wait(sessionID string) (RunOutputs, ReviewResult, error) {
	r.mu.Lock()
	h, ok := r.jobs[sessionID]
	r.mu.Unlock()
	if !ok {
		return RunOutputs{}, ReviewResult{}, fmt.Errorf("no run for session %s", sessionID)
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outputs, h.review, h.err
}

// Events exposes the current worker's notification stream.
func (r *Runner) Events(sessionID string) <-chan Event {
	r.mu.Lock()
	h, ok := r.jobs[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return h.notifier.Events()
}

// recordUsage stores the completer's cumulative token counts on the run row.
func (r *Runner) recordUsage(runID int64, completer Completer) {
	ur, ok := completer.(usageReporter)
	if !ok {
		return
	}
	u := ur.Usage()
	if u.TotalTokens() == 0 {
		return
	}
	log.Printf("llm usage tokens_in=%d tokens_out=%d total=%d", u.InputTokens, u.OutputTokens, u.TotalTokens())
	if r.db == nil || runID == 0 {
		return
	}
	if err := UpdateRunUsage(r.db, runID, u.InputTokens, u.OutputTokens); err != nil {
		log.Printf("run usage id=%d err=%v", runID, err)
	}
}

func (r *Runner) failJob(sessionID string, h *jobHandle, err error) {
	log.Printf("run failed session=%s err=%v", sessionID, err)
	r.sessions.SetStatus(sessionID, StatusError)
	h.notifier.Error(err.Error())
	h.finish(RunOutputs{}, ReviewResult{}, err)
}

func (r *Runner) finishRun(runID int64, status, detail string) {
	if r.db == nil || runID == 0 {
		return
	}
	if err := FinishRun(r.db, runID, status, detail); err != nil {
		log.Printf("run finish id=%d err=%v", runID, err)
	}
}

// localeName expands a short locale code to the phrasing used in the minting
// prompt.
func localeName(code string) string {
	switch code {
	case "es", "":
		return "Latin American Spanish"
	case "en":
		return "English"
	default:
		return code
	}
}
