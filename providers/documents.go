package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// LocationDoc is one place produced by a research job.
type LocationDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ResearchDocument struct {
	Locations []LocationDoc `json:"locations"`
}

type CharacterDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type SceneDoc struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	VisualPrompt string  `json:"visual_prompt"`
	Dialogue     string  `json:"dialogue"`
	Speaker      string  `json:"speaker"`
	Location     string  `json:"location"`
	Duration     float64 `json:"duration"`
}

// Screenplay is the document produced by a screenplay job. Scenes are in story order.
type Screenplay struct {
	Title      string         `json:"title"`
	Logline    string         `json:"logline"`
	Characters []CharacterDoc `json:"characters"`
	Scenes     []SceneDoc     `json:"scenes"`
}

func ParseResearch(data []byte) (*ResearchDocument, error) {
	var doc ResearchDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode research document: %w", err)
	}
	kept := doc.Locations[:0]
	for _, l := range doc.Locations {
		if strings.TrimSpace(l.Name) != "" {
			kept = append(kept, l)
		}
	}
	doc.Locations = kept
	return &doc, nil
}

// ParseScreenplay decodes a screenplay and rejects one without usable scenes.
// Scenes missing a visual prompt fall back to their description.
func ParseScreenplay(data []byte) (*Screenplay, error) {
	var sp Screenplay
	if err := json.Unmarshal(data, &sp); err != nil {
		return nil, fmt.Errorf("decode screenplay: %w", err)
	}
	kept := sp.Scenes[:0]
	for _, s := range sp.Scenes {
		if s.VisualPrompt == "" {
			s.VisualPrompt = s.Description
		}
		if strings.TrimSpace(s.VisualPrompt) == "" {
			continue
		}
		kept = append(kept, s)
	}
	sp.Scenes = kept
	if len(sp.Scenes) == 0 {
		return nil, errors.New("screenplay has no scenes")
	}
	return &sp, nil
}
