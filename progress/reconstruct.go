package progress

import (
	"time"

	"PromptToMovie-server/models"
)

// statusEstimates is the status-driven progress estimator used when no ledger exists.
// It is independent of the stage weights: it guesses how far a run usually is when
// the movie row shows a given status, not how the weighted sum would read.
var statusEstimates = map[Stage]int{
	StageValidateProviders:  1,
	StageResearchLocations:  4,
	StageGenerateScreenplay: 10,
	StageAssignCharacters:   17,
	StageGenerateVideos:     40,
	StageGenerateAudio:      62,
	StageApplyLipSync:       72,
	StageGenerateMusic:      80,
	StageAssembleMovie:      88,
	StageGenerateCover:      95,
	StageFinalize:           98,
}

// Reconstruct synthesizes a best-effort view from the movie row alone. The result
// depends only on the movie's fields and now, so repeated reads of an unchanged run
// with the same clock are identical.
func Reconstruct(m *models.Movie, now time.Time) *RunView {
	order := stageNames(Stages)
	v := &RunView{
		RunID:              m.ID,
		CurrentStageDetail: m.CurrentStageDetail,
		StageOrder:         order,
		Stages:             make(map[string]models.StageRecord, len(order)),
		Errors:             []models.ErrorEntry{},
		Reconstructed:      true,
	}

	current, known := reconstructStage(m)
	idx := -1
	if known {
		idx = indexOf(order, string(current))
		v.CurrentStage = string(current)
	}

	switch m.Status {
	case models.MovieStatusQueued, "pending", "":
		v.OverallStatus = models.RunStatusQueued
	case models.MovieStatusCompleted:
		v.OverallStatus = models.RunStatusCompleted
	case models.MovieStatusFailed:
		v.OverallStatus = models.RunStatusFailed
	default:
		v.OverallStatus = models.RunStatusProcessing
	}

	for i, name := range order {
		rec := models.StageRecord{Status: models.StageStatusPending, UpdatedAt: m.UpdatedAt}
		switch {
		case v.OverallStatus == models.RunStatusCompleted:
			rec.Status, rec.Progress = models.StageStatusCompleted, 100
		case idx < 0:
		case i < idx:
			rec.Status, rec.Progress = models.StageStatusCompleted, 100
		case i == idx && v.OverallStatus == models.RunStatusFailed:
			rec.Status, rec.Detail = models.StageStatusFailed, m.ErrorMessage
		case i == idx && v.OverallStatus == models.RunStatusProcessing:
			rec.Status, rec.Detail = models.StageStatusRunning, m.CurrentStageDetail
		}
		v.Stages[name] = rec
	}

	switch v.OverallStatus {
	case models.RunStatusCompleted:
		v.OverallProgress = 100
	case models.RunStatusQueued:
		v.OverallProgress = 0
	default:
		v.OverallProgress = clamp(m.Progress)
		if v.OverallProgress == 0 && known {
			v.OverallProgress = statusEstimates[current]
		}
	}

	v.Stats.TotalScenes = m.SceneCount
	videoIdx := indexOf(order, string(StageGenerateVideos))
	if v.OverallStatus == models.RunStatusCompleted || (idx > videoIdx && videoIdx >= 0) {
		v.Stats.ScenesCompleted = m.SceneCount
	}
	started := m.StartedAt
	if started == nil && v.OverallStatus != models.RunStatusQueued {
		created := m.CreatedAt
		started = &created
	}
	v.Stats.StartedAt = started
	finished := m.CompletedAt
	if finished == nil && v.OverallStatus == models.RunStatusFailed {
		updated := m.UpdatedAt
		finished = &updated
	}
	v.Stats.ElapsedTime = elapsed(started, finished, now)

	if v.OverallStatus == models.RunStatusFailed && m.ErrorMessage != "" {
		v.Errors = append(v.Errors, models.ErrorEntry{
			Stage:     v.CurrentStage,
			Message:   m.ErrorMessage,
			Timestamp: m.UpdatedAt,
		})
	}
	return v
}

// reconstructStage picks the stage a movie row points at: whatever its coarse status
// maps to, otherwise the recorded current stage (failed rows keep it there).
func reconstructStage(m *models.Movie) (Stage, bool) {
	if st, ok := StageForMovieStatus(m.Status); ok {
		return st, true
	}
	if st := Stage(m.CurrentStage); st.Valid() {
		return st, true
	}
	return "", false
}
