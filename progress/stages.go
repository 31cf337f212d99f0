package progress

import "PromptToMovie-server/models"

// Stage names one step of the generation pipeline.
type Stage string

const (
	StageValidateProviders  Stage = "validate_providers"
	StageResearchLocations  Stage = "research_locations"
	StageGenerateScreenplay Stage = "generate_screenplay"
	StageAssignCharacters   Stage = "assign_characters"
	StageGenerateVideos     Stage = "generate_videos"
	StageGenerateAudio      Stage = "generate_audio"
	StageApplyLipSync       Stage = "apply_lip_sync"
	StageGenerateMusic      Stage = "generate_music"
	StageAssembleMovie      Stage = "assemble_movie"
	StageGenerateCover      Stage = "generate_cover"
	StageFinalize           Stage = "finalize"
)

// Stages is the fixed execution order.
var Stages = []Stage{
	StageValidateProviders,
	StageResearchLocations,
	StageGenerateScreenplay,
	StageAssignCharacters,
	StageGenerateVideos,
	StageGenerateAudio,
	StageApplyLipSync,
	StageGenerateMusic,
	StageAssembleMovie,
	StageGenerateCover,
	StageFinalize,
}

// stageWeights approximate each stage's share of a run's wall-clock time, in percent.
// They sum to 100.
var stageWeights = map[Stage]int{
	StageValidateProviders:  2,
	StageResearchLocations:  5,
	StageGenerateScreenplay: 8,
	StageAssignCharacters:   5,
	StageGenerateVideos:     40,
	StageGenerateAudio:      10,
	StageApplyLipSync:       10,
	StageGenerateMusic:      5,
	StageAssembleMovie:      10,
	StageGenerateCover:      3,
	StageFinalize:           2,
}

var movieStatuses = map[Stage]string{
	StageValidateProviders:  models.MovieStatusValidating,
	StageResearchLocations:  models.MovieStatusResearching,
	StageGenerateScreenplay: models.MovieStatusScriptGenerating,
	StageAssignCharacters:   models.MovieStatusCasting,
	StageGenerateVideos:     models.MovieStatusVideoGenerating,
	StageGenerateAudio:      models.MovieStatusAudioGenerating,
	StageApplyLipSync:       models.MovieStatusLipSyncing,
	StageGenerateMusic:      models.MovieStatusMusicGenerating,
	StageAssembleMovie:      models.MovieStatusAssembling,
	StageGenerateCover:      models.MovieStatusCoverGenerating,
	StageFinalize:           models.MovieStatusFinalizing,
}

var descriptions = map[Stage]string{
	StageValidateProviders:  "Checking providers",
	StageResearchLocations:  "Researching locations",
	StageGenerateScreenplay: "Writing screenplay",
	StageAssignCharacters:   "Casting characters",
	StageGenerateVideos:     "Generating scene videos",
	StageGenerateAudio:      "Generating voices",
	StageApplyLipSync:       "Applying lip sync",
	StageGenerateMusic:      "Composing music",
	StageAssembleMovie:      "Assembling movie",
	StageGenerateCover:      "Creating cover",
	StageFinalize:           "Finalizing",
}

// statusAliases covers coarse statuses written by older producers of the movie row.
var statusAliases = map[string]Stage{
	"generating_script": StageGenerateScreenplay,
	"script_generated":  StageAssignCharacters,
	"generating_video":  StageGenerateVideos,
	"generating_videos": StageGenerateVideos,
	"generating_audio":  StageGenerateAudio,
	"rendering":         StageAssembleMovie,
}

// Weight returns the stage's share of overall progress, 0 for unknown stages.
func Weight(s Stage) int {
	return stageWeights[s]
}

// MovieStatus is the coarse status written onto the movie row while s runs.
func (s Stage) MovieStatus() string {
	return movieStatuses[s]
}

// Description is the human readable detail shown when s begins.
func (s Stage) Description() string {
	return descriptions[s]
}

func (s Stage) Valid() bool {
	_, ok := stageWeights[s]
	return ok
}

// StageForMovieStatus maps a coarse movie status back to the stage that writes it.
func StageForMovieStatus(status string) (Stage, bool) {
	for st, ms := range movieStatuses {
		if ms == status {
			return st, true
		}
	}
	st, ok := statusAliases[status]
	return st, ok
}

func indexOf(stages []string, s string) int {
	for i, name := range stages {
		if name == s {
			return i
		}
	}
	return -1
}

func stageNames(stages []Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}
