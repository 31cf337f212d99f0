// Package progress maintains the per-run progress ledger: a JSON document holding the
// overall and per-stage state of a generation run, mirrored onto the movie row.
//
// The orchestrator is the only writer of a run's ledger. Within one process the scene
// fan-out updates the same ledger from several goroutines, so writes for a run are
// serialized by a per-run mutex.
package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"PromptToMovie-server/models"
)

var (
	ErrLedgerNotFound = errors.New("progress ledger not found")
	ErrLedgerExists   = errors.New("progress ledger already initialized")
	ErrRunNotFound    = errors.New("run not found")
	ErrRunTerminal    = errors.New("run already finished")
	ErrStageConflict  = errors.New("stage transition not allowed")
	ErrUnknownStage   = errors.New("unknown stage")
)

type Ledger struct {
	db    *gorm.DB
	log   zerolog.Logger
	now   func() time.Time
	locks sync.Map
}

func New(db *gorm.DB, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:  db,
		log: log.With().Str("component", "progress").Logger(),
		now: time.Now,
	}
}

// WithClock replaces the time source used for timestamps and elapsed time.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) lock(runID string) func() {
	m, _ := l.locks.LoadOrStore(runID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Init seeds the ledger for a run: every stage pending except the first, which is
// running at 0%.
func (l *Ledger) Init(ctx context.Context, runID string, stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("init ledger %s: empty stage list", runID)
	}
	defer l.lock(runID)()

	now := l.now()
	doc := newDocument(stages, now)
	doc.OverallStatus = models.RunStatusProcessing
	doc.Stats.StartedAt = &now
	first := doc.Stages[doc.StageOrder[0]]
	first.Status = models.StageStatusRunning
	doc.CurrentStage = doc.StageOrder[0]

	return l.create(ctx, runID, doc, map[string]interface{}{
		"started_at": now,
	})
}

// Reject records a run that failed before any stage ran, e.g. when provider
// validation does not pass. No stage is ever marked running.
func (l *Ledger) Reject(ctx context.Context, runID string, stages []Stage, stage Stage, message string) error {
	defer l.lock(runID)()

	now := l.now()
	doc := newDocument(stages, now)
	doc.OverallStatus = models.RunStatusFailed
	doc.CurrentStage = string(stage)
	doc.CurrentStageDetail = message
	doc.Stats.FinishedAt = &now
	if rec, ok := doc.Stages[string(stage)]; ok {
		rec.Status = models.StageStatusFailed
		rec.Detail = message
	}
	doc.Errors = append(doc.Errors, models.ErrorEntry{
		Stage:     string(stage),
		Message:   message,
		Timestamp: now,
	})
	return l.create(ctx, runID, doc, map[string]interface{}{
		"completed_at": now,
	})
}

func newDocument(stages []Stage, now time.Time) *models.LedgerDocument {
	doc := &models.LedgerDocument{
		OverallStatus: models.RunStatusQueued,
		StageOrder:    stageNames(stages),
		Stages:        make(map[string]*models.StageRecord, len(stages)),
		Errors:        []models.ErrorEntry{},
	}
	for _, name := range doc.StageOrder {
		doc.Stages[name] = &models.StageRecord{Status: models.StageStatusPending, UpdatedAt: now}
	}
	return doc
}

func (l *Ledger) create(ctx context.Context, runID string, doc *models.LedgerDocument, extra map[string]interface{}) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := models.GetProgressLedger(tx, runID)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrLedgerExists, runID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load ledger %s: %w", runID, err)
		}
		rec := &models.ProgressLedger{RunID: runID, Document: *doc}
		if err := models.SaveProgressLedger(tx, rec); err != nil {
			return fmt.Errorf("save ledger %s: %w", runID, err)
		}
		return mirror(tx, runID, doc, extra)
	})
}

// mutate loads the document, applies fn, recomputes overall progress and persists the
// document together with the movie row in one transaction.
func (l *Ledger) mutate(ctx context.Context, runID string, fn func(doc *models.LedgerDocument, now time.Time) (map[string]interface{}, error)) error {
	defer l.lock(runID)()

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := models.GetProgressLedger(tx, runID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrLedgerNotFound, runID)
		}
		if err != nil {
			return fmt.Errorf("load ledger %s: %w", runID, err)
		}
		doc := &rec.Document
		if isTerminal(doc.OverallStatus) {
			return fmt.Errorf("%w: %s is %s", ErrRunTerminal, runID, doc.OverallStatus)
		}
		extra, err := fn(doc, l.now())
		if err != nil {
			return err
		}
		recompute(doc)
		if err := models.SaveProgressLedger(tx, rec); err != nil {
			return fmt.Errorf("save ledger %s: %w", runID, err)
		}
		return mirror(tx, runID, doc, extra)
	})
}

func (l *Ledger) BeginStage(ctx context.Context, runID string, stage Stage, detail string) error {
	return l.mutate(ctx, runID, func(doc *models.LedgerDocument, now time.Time) (map[string]interface{}, error) {
		rec, err := stageRecord(doc, stage)
		if err != nil {
			return nil, err
		}
		for name, other := range doc.Stages {
			if name != string(stage) && other.Status == models.StageStatusRunning {
				return nil, fmt.Errorf("%w: begin %s while %s is running", ErrStageConflict, stage, name)
			}
		}
		if rec.Status == models.StageStatusCompleted || rec.Status == models.StageStatusFailed {
			return nil, fmt.Errorf("%w: begin %s which is %s", ErrStageConflict, stage, rec.Status)
		}
		rec.Status = models.StageStatusRunning
		rec.Detail = detail
		rec.UpdatedAt = now
		doc.CurrentStage = string(stage)
		doc.CurrentStageDetail = detail
		return nil, nil
	})
}

// UpdateStageProgress raises a running stage's percentage. Lower values than the
// recorded one are ignored so observers never see progress go backwards.
func (l *Ledger) UpdateStageProgress(ctx context.Context, runID string, stage Stage, pct int, detail string) error {
	return l.mutate(ctx, runID, func(doc *models.LedgerDocument, now time.Time) (map[string]interface{}, error) {
		rec, err := runningStage(doc, stage)
		if err != nil {
			return nil, err
		}
		pct = clamp(pct)
		if pct > rec.Progress {
			rec.Progress = pct
		}
		if detail != "" {
			rec.Detail = detail
			if doc.CurrentStage == string(stage) {
				doc.CurrentStageDetail = detail
			}
		}
		rec.UpdatedAt = now
		return nil, nil
	})
}

// UpdateSceneStats records scene totals alongside the stage's progress.
func (l *Ledger) UpdateSceneStats(ctx context.Context, runID string, total, completed int) error {
	return l.mutate(ctx, runID, func(doc *models.LedgerDocument, now time.Time) (map[string]interface{}, error) {
		if total >= 0 {
			doc.Stats.TotalScenes = total
		}
		if completed > doc.Stats.ScenesCompleted {
			doc.Stats.ScenesCompleted = completed
		}
		return map[string]interface{}{"scene_count": doc.Stats.TotalScenes}, nil
	})
}

func (l *Ledger) CompleteStage(ctx context.Context, runID string, stage Stage) error {
	return l.mutate(ctx, runID, func(doc *models.LedgerDocument, now time.Time) (map[string]interface{}, error) {
		rec, err := runningStage(doc, stage)
		if err != nil {
			return nil, err
		}
		rec.Status = models.StageStatusCompleted
		rec.Progress = 100
		rec.UpdatedAt = now
		return nil, nil
	})
}

// RecordWarning appends a recoverable entry to the error log without changing state.
func (l *Ledger) RecordWarning(ctx context.Context, runID string, stage Stage, message string) error {
	return l.mutate(ctx, runID, func(doc *models.LedgerDocument, now time.Time) (map[string]interface{}, error) {
		doc.Errors = append(doc.Errors, models.ErrorEntry{
			Stage:       string(stage),
			Message:     message,
			Timestamp:   now,
			Recoverable: true,
		})
		return nil, nil
	})
}

// FailRun marks stage and the run failed and appends the error. Overall progress
// stays at its last value.
func (l *Ledger) FailRun(ctx context.Context, runID string, stage Stage, message string) error {
	return l.mutate(ctx, runID, func(doc *models.LedgerDocument, now time.Time) (map[string]interface{}, error) {
		if rec, ok := doc.Stages[string(stage)]; ok {
			rec.Status = models.StageStatusFailed
			rec.Detail = message
			rec.UpdatedAt = now
		}
		// a stage left running by an interrupted write must not outlive the run
		for _, rec := range doc.Stages {
			if rec.Status == models.StageStatusRunning {
				rec.Status = models.StageStatusFailed
				rec.UpdatedAt = now
			}
		}
		doc.OverallStatus = models.RunStatusFailed
		doc.CurrentStage = string(stage)
		doc.CurrentStageDetail = message
		doc.Stats.FinishedAt = &now
		doc.Errors = append(doc.Errors, models.ErrorEntry{
			Stage:     string(stage),
			Message:   message,
			Timestamp: now,
		})
		return map[string]interface{}{"completed_at": now}, nil
	})
}

// CompleteRun commits the successful terminal state. Every stage must be completed.
func (l *Ledger) CompleteRun(ctx context.Context, runID string) error {
	return l.mutate(ctx, runID, func(doc *models.LedgerDocument, now time.Time) (map[string]interface{}, error) {
		for _, name := range doc.StageOrder {
			if st := doc.Stages[name].Status; st != models.StageStatusCompleted {
				return nil, fmt.Errorf("%w: complete run while %s is %s", ErrStageConflict, name, st)
			}
		}
		doc.OverallStatus = models.RunStatusCompleted
		doc.CurrentStageDetail = "completed"
		doc.Stats.FinishedAt = &now
		if doc.Stats.TotalScenes > doc.Stats.ScenesCompleted {
			doc.Stats.ScenesCompleted = doc.Stats.TotalScenes
		}
		return map[string]interface{}{"completed_at": now}, nil
	})
}

func stageRecord(doc *models.LedgerDocument, stage Stage) (*models.StageRecord, error) {
	rec, ok := doc.Stages[string(stage)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	return rec, nil
}

func runningStage(doc *models.LedgerDocument, stage Stage) (*models.StageRecord, error) {
	rec, err := stageRecord(doc, stage)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StageStatusRunning {
		return nil, fmt.Errorf("%w: %s is %s, not running", ErrStageConflict, stage, rec.Status)
	}
	return rec, nil
}

// recompute derives overall progress from the weighted stage percentages.
func recompute(doc *models.LedgerDocument) {
	switch doc.OverallStatus {
	case models.RunStatusCompleted:
		doc.OverallProgress = 100
	case models.RunStatusProcessing:
		if p := weightedProgress(doc); p > doc.OverallProgress {
			doc.OverallProgress = p
		}
	}
}

func weightedProgress(doc *models.LedgerDocument) int {
	total, sum := 0, 0
	for _, name := range doc.StageOrder {
		w := Weight(Stage(name))
		total += w
		if rec := doc.Stages[name]; rec != nil {
			sum += w * rec.Progress
		}
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// mirror copies the coarse state onto the movie row so list views and the
// reconstruction path see it without reading the ledger.
func mirror(tx *gorm.DB, runID string, doc *models.LedgerDocument, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":               coarseStatus(doc),
		"progress":             doc.OverallProgress,
		"current_stage":        doc.CurrentStage,
		"current_stage_detail": truncate(doc.CurrentStageDetail, 1000),
	}
	if doc.OverallStatus == models.RunStatusFailed && len(doc.Errors) > 0 {
		updates["error_message"] = doc.Errors[len(doc.Errors)-1].Message
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&models.Movie{}).Where("id = ?", runID).Updates(withTimestamp(updates))
	if res.Error != nil {
		return fmt.Errorf("update movie %s: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func withTimestamp(updates map[string]interface{}) map[string]interface{} {
	updates["updated_at"] = time.Now()
	return updates
}

func coarseStatus(doc *models.LedgerDocument) string {
	switch doc.OverallStatus {
	case models.RunStatusCompleted:
		return models.MovieStatusCompleted
	case models.RunStatusFailed:
		return models.MovieStatusFailed
	case models.RunStatusProcessing:
		if s := Stage(doc.CurrentStage).MovieStatus(); s != "" {
			return s
		}
		return models.RunStatusProcessing
	default:
		return models.MovieStatusQueued
	}
}

func isTerminal(status string) bool {
	return status == models.RunStatusCompleted || status == models.RunStatusFailed
}

func clamp(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
