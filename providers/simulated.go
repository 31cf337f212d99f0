package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SimScheme prefixes every asset a simulated provider returns. Nothing behind it
// can be downloaded.
const SimScheme = "sim://"

func IsSimulated(asset string) bool {
	return strings.HasPrefix(asset, SimScheme)
}

// SimulatedAdapter completes every job on its first status query. Text jobs carry
// a synthetic document inline, media jobs a sim:// asset.
type SimulatedAdapter struct {
	capability Capability
	jobs       sync.Map // job id -> Job
}

func NewSimulatedAdapter(c Capability) *SimulatedAdapter {
	return &SimulatedAdapter{capability: c}
}

func (a *SimulatedAdapter) Submit(ctx context.Context, job Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "sim-" + uuid.NewString()
	a.jobs.Store(id, job)
	return id, nil
}

func (a *SimulatedAdapter) Status(ctx context.Context, jobID string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	v, ok := a.jobs.Load(jobID)
	if !ok {
		return Status{State: StateFailed, Error: "unknown simulated job " + jobID}, nil
	}
	job := v.(Job)
	st := Status{State: StateSucceeded}
	switch job.Kind {
	case KindResearch:
		st.Payload = mustJSON(simulatedResearch(job))
	case KindScreenplay:
		st.Payload = mustJSON(simulatedScreenplay(job))
	default:
		st.Asset = fmt.Sprintf("%s%s/%s%s", SimScheme, a.capability, jobID, simulatedExt(job.Kind))
	}
	return st, nil
}

func simulatedExt(kind string) string {
	switch kind {
	case KindSpeech, KindMusic:
		return ".mp3"
	case KindPortrait, KindCover:
		return ".png"
	default:
		return ".mp4"
	}
}

func simulatedResearch(job Job) ResearchDocument {
	return ResearchDocument{Locations: []LocationDoc{
		{Name: "Opening", Description: "Where the story begins: " + job.Prompt},
		{Name: "Turning point", Description: "Where the story changes course"},
	}}
}

func simulatedScreenplay(job Job) Screenplay {
	count := IntParam(job.Params, "scene_count", 3)
	dialogue, _ := job.Params["with_dialogue"].(bool)
	sp := Screenplay{
		Title:   "Untitled",
		Logline: job.Prompt,
		Characters: []CharacterDoc{
			{Name: "Lead", Description: "The protagonist"},
		},
	}
	for i := 1; i <= count; i++ {
		s := SceneDoc{
			Title:        fmt.Sprintf("Scene %d", i),
			Description:  fmt.Sprintf("Scene %d of %s", i, job.Prompt),
			VisualPrompt: fmt.Sprintf("%s, shot %d", job.Prompt, i),
			Location:     "Opening",
			Duration:     5,
		}
		if dialogue {
			s.Speaker = "Lead"
			s.Dialogue = fmt.Sprintf("Line %d.", i)
		}
		sp.Scenes = append(sp.Scenes, s)
	}
	return sp
}

// IntParam reads an integer job parameter that may have been decoded from JSON.
func IntParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
