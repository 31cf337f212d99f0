// Package providers resolves which external provider serves each generation
// capability and talks to those providers through a normalized adapter.
package providers

import (
	"sort"
	"strings"
)

// Capability is a category of external generation service.
type Capability string

const (
	CapabilityScript  Capability = "script"
	CapabilityVideo   Capability = "video"
	CapabilityVoice   Capability = "voice"
	CapabilityLipSync Capability = "lip_sync"
	CapabilityMusic   Capability = "music"
	CapabilityImage   Capability = "image"
	CapabilityStorage Capability = "storage"
)

// Capabilities is the fixed set checked by Validate, in report order.
var Capabilities = []Capability{
	CapabilityScript,
	CapabilityVideo,
	CapabilityVoice,
	CapabilityLipSync,
	CapabilityMusic,
	CapabilityImage,
	CapabilityStorage,
}

func ParseCapability(s string) (Capability, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "lip-sync" || s == "lipsync" {
		s = string(CapabilityLipSync)
	}
	for _, c := range Capabilities {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Requirements describes the features a run asks for, which decides which
// capabilities must resolve before it may start.
type Requirements struct {
	Dialogue bool
	Music    bool
}

// Required returns the capabilities without which the run cannot produce output.
// Script and video are always needed, as is storage for the assembled movie.
func (r Requirements) Required() map[Capability]bool {
	req := map[Capability]bool{
		CapabilityScript:  true,
		CapabilityVideo:   true,
		CapabilityStorage: true,
	}
	if r.Dialogue {
		req[CapabilityVoice] = true
		req[CapabilityLipSync] = true
	}
	if r.Music {
		req[CapabilityMusic] = true
	}
	return req
}

// Report is the outcome of Validate.
type Report struct {
	OK         bool         `json:"ok"`
	Configured []Capability `json:"configured"`

	// Missing lists every capability that did not resolve; Blocking is the subset
	// the requested run cannot do without.
	Missing   []Capability          `json:"missing"`
	Blocking  []Capability          `json:"blocking"`
	Warnings  []string              `json:"warnings"`
	Simulated []Capability          `json:"simulated"`
	Providers map[Capability]string `json:"providers"`
	Reasons   map[Capability]string `json:"reasons,omitempty"`
}

// Has reports whether c resolved.
func (r Report) Has(c Capability) bool {
	for _, x := range r.Configured {
		if x == c {
			return true
		}
	}
	return false
}

// IsSimulated reports whether c resolved to simulation mode.
func (r Report) IsSimulated(c Capability) bool {
	for _, x := range r.Simulated {
		if x == c {
			return true
		}
	}
	return false
}

// MissingMessage names the blocking capabilities in one line for the error log.
func (r Report) MissingMessage() string {
	names := make([]string, 0, len(r.Blocking))
	for _, c := range r.Blocking {
		name := string(c)
		if reason := r.Reasons[c]; reason != "" {
			name += " (" + reason + ")"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return "missing provider capabilities: " + strings.Join(names, ", ")
}
