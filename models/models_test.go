package models

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"PromptToMovie-server/config"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "models.db")
	db, err := Open(cfg)
	require.NoError(t, err)
	return db
}

func TestMovieRenditionsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	m := &Movie{ID: uuid.NewString(), Prompt: "p", Status: MovieStatusQueued}
	require.NoError(t, CreateMovie(db, m))

	got, err := GetMovieByID(db, m.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Renditions)

	require.NoError(t, UpdateMovie(db, m.ID, map[string]interface{}{
		"renditions": Renditions{"1080p": "https://store/1080p.mp4"},
		"status":     MovieStatusCompleted,
	}))
	got, err = GetMovieByID(db, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://store/1080p.mp4", got.Renditions["1080p"])
	assert.True(t, got.Terminal())
}

func TestReplaceScreenplay(t *testing.T) {
	db := openTestDB(t)
	movieID := uuid.NewString()
	scene := func(ord int) Scene {
		return Scene{ID: uuid.NewString(), MovieID: movieID, Ordinal: ord, Status: SceneStatusPending}
	}

	require.NoError(t, ReplaceScreenplay(db, movieID,
		[]Character{{ID: uuid.NewString(), MovieID: movieID, Name: "Mara"}},
		[]Scene{scene(2), scene(1), scene(3)}))
	require.NoError(t, ReplaceScreenplay(db, movieID,
		[]Character{{ID: uuid.NewString(), MovieID: movieID, Name: "Ilse"}},
		[]Scene{scene(2), scene(1)}))

	scenes, err := GetScenesByMovieID(db, movieID)
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, 1, scenes[0].Ordinal)
	assert.Equal(t, 2, scenes[1].Ordinal)

	characters, err := GetCharactersByMovieID(db, movieID)
	require.NoError(t, err)
	require.Len(t, characters, 1)
	assert.Equal(t, "Ilse", characters[0].Name)
}

func TestReplaceLocations(t *testing.T) {
	db := openTestDB(t)
	movieID := uuid.NewString()
	require.NoError(t, ReplaceLocations(db, movieID, []Location{{ID: uuid.NewString(), MovieID: movieID, Name: "Harbor"}}))
	require.NoError(t, ReplaceLocations(db, movieID, []Location{
		{ID: uuid.NewString(), MovieID: movieID, Name: "Lighthouse"},
		{ID: uuid.NewString(), MovieID: movieID, Name: "Cliffs"},
	}))
	locations, err := GetLocationsByMovieID(db, movieID)
	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, "Cliffs", locations[0].Name)
}

func TestProgressLedgerUpsert(t *testing.T) {
	db := openTestDB(t)
	rec := &ProgressLedger{RunID: "run-1", Document: LedgerDocument{
		OverallStatus: RunStatusProcessing,
		StageOrder:    []string{"validate_providers"},
		Stages:        map[string]*StageRecord{"validate_providers": {Status: StageStatusRunning}},
	}}
	require.NoError(t, SaveProgressLedger(db, rec))

	rec.Document.OverallProgress = 40
	rec.Document.Stages["validate_providers"].Status = StageStatusCompleted
	require.NoError(t, SaveProgressLedger(db, rec))

	got, err := GetProgressLedger(db, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Document.OverallProgress)
	assert.Equal(t, StageStatusCompleted, got.Document.Stages["validate_providers"].Status)
}

func TestProviderBindingUpsert(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, UpsertProviderBinding(db, &ProviderBinding{Capability: "video", PrimaryProviderID: "kling"}))
	require.NoError(t, UpsertProviderBinding(db, &ProviderBinding{Capability: "video", PrimaryProviderID: "runway", SimulationMode: true}))
	require.NoError(t, UpsertProviderBinding(db, &ProviderBinding{Capability: "script", PrimaryProviderID: "writer"}))

	bindings, err := ListProviderBindings(db)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, "script", bindings[0].Capability)
	assert.Equal(t, "runway", bindings[1].PrimaryProviderID)
	assert.True(t, bindings[1].SimulationMode)
}
