package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"PromptToMovie-server/models"
)

// RunView is what observers see of a run.
type RunView struct {
	RunID              string                        `json:"run_id"`
	OverallStatus      string                        `json:"overall_status"`
	OverallProgress    int                           `json:"overall_progress"`
	CurrentStage       string                        `json:"current_stage"`
	CurrentStageDetail string                        `json:"current_stage_detail"`
	StageOrder         []string                      `json:"stage_order"`
	Stages             map[string]models.StageRecord `json:"stages"`
	Stats              Stats                         `json:"stats"`
	Errors             []models.ErrorEntry           `json:"errors"`
	// Reconstructed is set when no ledger document exists and the view was derived
	// from the movie row alone.
	Reconstructed bool `json:"reconstructed"`
}

type Stats struct {
	TotalScenes     int        `json:"total_scenes"`
	ScenesCompleted int        `json:"scenes_completed"`
	ElapsedTime     float64    `json:"elapsed_time"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
}

// RunningStages lists the stages currently marked running.
func (v *RunView) RunningStages() []string {
	var out []string
	for _, name := range v.StageOrder {
		if v.Stages[name].Status == models.StageStatusRunning {
			out = append(out, name)
		}
	}
	return out
}

// Read returns the run's progress. A missing ledger is not an error: the view is
// synthesized from the movie row. Only a missing movie fails.
func (l *Ledger) Read(ctx context.Context, runID string) (*models.Movie, *RunView, error) {
	db := l.db.WithContext(ctx)
	movie, err := models.GetMovieByID(db, runID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load movie %s: %w", runID, err)
	}

	rec, err := models.GetProgressLedger(db, runID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			l.log.Warn().Err(err).Str("run_id", runID).Msg("ledger unreadable, reconstructing from movie")
		}
		return movie, Reconstruct(movie, l.now()), nil
	}
	return movie, viewFromDocument(runID, &rec.Document, l.now()), nil
}

func viewFromDocument(runID string, doc *models.LedgerDocument, now time.Time) *RunView {
	v := &RunView{
		RunID:              runID,
		OverallStatus:      doc.OverallStatus,
		OverallProgress:    doc.OverallProgress,
		CurrentStage:       doc.CurrentStage,
		CurrentStageDetail: doc.CurrentStageDetail,
		StageOrder:         append([]string(nil), doc.StageOrder...),
		Stages:             make(map[string]models.StageRecord, len(doc.Stages)),
		Errors:             append([]models.ErrorEntry{}, doc.Errors...),
		Stats: Stats{
			TotalScenes:     doc.Stats.TotalScenes,
			ScenesCompleted: doc.Stats.ScenesCompleted,
			StartedAt:       doc.Stats.StartedAt,
			ElapsedTime:     elapsed(doc.Stats.StartedAt, doc.Stats.FinishedAt, now),
		},
	}
	for name, rec := range doc.Stages {
		if rec != nil {
			v.Stages[name] = *rec
		}
	}
	return v
}

// elapsed is computed at read time; a finished run stops the clock at FinishedAt.
func elapsed(started, finished *time.Time, now time.Time) float64 {
	if started == nil {
		return 0
	}
	end := now
	if finished != nil {
		end = *finished
	}
	if end.Before(*started) {
		return 0
	}
	return end.Sub(*started).Seconds()
}
