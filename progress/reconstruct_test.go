package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PromptToMovie-server/models"
)

func TestReconstructVideoGenerating(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &models.Movie{
		ID:         "m1",
		Status:     models.MovieStatusVideoGenerating,
		SceneCount: 6,
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Minute),
	}
	now := created.Add(2 * time.Minute)
	v := Reconstruct(m, now)

	assert.True(t, v.Reconstructed)
	assert.Equal(t, models.RunStatusProcessing, v.OverallStatus)
	assert.Equal(t, string(StageGenerateVideos), v.CurrentStage)
	assert.Greater(t, v.OverallProgress, 0)
	assert.Equal(t, []string{string(StageGenerateVideos)}, v.RunningStages())
	assert.Equal(t, models.StageStatusCompleted, v.Stages[string(StageAssignCharacters)].Status)
	assert.Equal(t, models.StageStatusPending, v.Stages[string(StageGenerateAudio)].Status)
	assert.Equal(t, 6, v.Stats.TotalScenes)
	assert.Equal(t, 0, v.Stats.ScenesCompleted)
	assert.Equal(t, 120.0, v.Stats.ElapsedTime)

	again := Reconstruct(m, now)
	assert.Equal(t, v, again, "reconstruction is a pure function of the row and clock")
}

func TestReconstructKeepsMirroredProgress(t *testing.T) {
	m := &models.Movie{ID: "m1", Status: models.MovieStatusAudioGenerating, Progress: 57, SceneCount: 4}
	v := Reconstruct(m, time.Now())
	assert.Equal(t, 57, v.OverallProgress)
	assert.Equal(t, 4, v.Stats.ScenesCompleted)
}

func TestReconstructStatuses(t *testing.T) {
	tests := []struct {
		name        string
		movie       models.Movie
		wantStatus  string
		wantStage   string
		wantPercent int
	}{
		{name: "queued", movie: models.Movie{Status: models.MovieStatusQueued}, wantStatus: models.RunStatusQueued},
		{name: "completed", movie: models.Movie{Status: models.MovieStatusCompleted, Progress: 40}, wantStatus: models.RunStatusCompleted, wantPercent: 100},
		{name: "legacy alias", movie: models.Movie{Status: "generating_video"}, wantStatus: models.RunStatusProcessing, wantStage: string(StageGenerateVideos), wantPercent: 40},
		{
			name:        "failed keeps current stage",
			movie:       models.Movie{Status: models.MovieStatusFailed, CurrentStage: string(StageAssembleMovie), Progress: 80, ErrorMessage: "ffmpeg exited 1"},
			wantStatus:  models.RunStatusFailed,
			wantStage:   string(StageAssembleMovie),
			wantPercent: 80,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Reconstruct(&tt.movie, time.Now())
			assert.Equal(t, tt.wantStatus, v.OverallStatus)
			assert.Equal(t, tt.wantStage, v.CurrentStage)
			assert.Equal(t, tt.wantPercent, v.OverallProgress)
			assert.LessOrEqual(t, len(v.RunningStages()), 1)
		})
	}
}

func TestReconstructFailed(t *testing.T) {
	m := &models.Movie{
		ID:           "m1",
		Status:       models.MovieStatusFailed,
		CurrentStage: string(StageGenerateVideos),
		ErrorMessage: "NSFW content detected",
	}
	v := Reconstruct(m, time.Now())
	assert.Equal(t, models.StageStatusFailed, v.Stages[string(StageGenerateVideos)].Status)
	assert.Equal(t, "NSFW content detected", v.Stages[string(StageGenerateVideos)].Detail)
	assert.Equal(t, models.StageStatusPending, v.Stages[string(StageAssembleMovie)].Status)
	require.Len(t, v.Errors, 1)
	assert.Equal(t, string(StageGenerateVideos), v.Errors[0].Stage)
}

func TestReadFallsBackToReconstruction(t *testing.T) {
	l, db, _ := newTestLedger(t)
	id := newMovie(t, db)
	require.NoError(t, models.UpdateMovie(db, id, map[string]interface{}{"status": models.MovieStatusCasting}))

	_, v := read(t, l, id)
	assert.True(t, v.Reconstructed)
	assert.Equal(t, string(StageAssignCharacters), v.CurrentStage)
	assert.Equal(t, statusEstimates[StageAssignCharacters], v.OverallProgress)
}

func TestStageTables(t *testing.T) {
	total := 0
	for _, st := range Stages {
		assert.True(t, st.Valid(), st)
		assert.NotEmpty(t, st.MovieStatus(), st)
		assert.NotEmpty(t, st.Description(), st)
		back, ok := StageForMovieStatus(st.MovieStatus())
		require.True(t, ok)
		assert.Equal(t, st, back)
		total += Weight(st)
	}
	assert.Equal(t, 100, total)
}
