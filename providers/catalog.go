package providers

import "strings"

// VideoModel lists the clip durations (seconds) and aspect ratios a video model accepts.
type VideoModel struct {
	Durations    []int
	AspectRatios []string
}

var videoModels = map[string]VideoModel{
	"veo-3":          {Durations: []int{8}, AspectRatios: []string{"16:9", "9:16"}},
	"veo-2":          {Durations: []int{5, 6, 7, 8}, AspectRatios: []string{"16:9", "9:16"}},
	"kling-v2":       {Durations: []int{5, 10}, AspectRatios: []string{"16:9", "9:16", "1:1"}},
	"kling-v1.6":     {Durations: []int{5, 10}, AspectRatios: []string{"16:9", "9:16", "1:1"}},
	"runway-gen4":    {Durations: []int{5, 10}, AspectRatios: []string{"16:9", "9:16", "1:1", "4:3", "3:4", "21:9"}},
	"runway-gen3":    {Durations: []int{5, 10}, AspectRatios: []string{"16:9", "9:16"}},
	"luma-ray2":      {Durations: []int{5, 9}, AspectRatios: []string{"16:9", "9:16", "1:1", "4:3", "3:4", "21:9", "9:21"}},
	"minimax-video":  {Durations: []int{6}, AspectRatios: []string{"16:9"}},
	"hailuo-02":      {Durations: []int{6, 10}, AspectRatios: []string{"16:9", "9:16", "1:1"}},
	"wan-2.1":        {Durations: []int{5}, AspectRatios: []string{"16:9", "9:16"}},
	"pika-2.2":       {Durations: []int{5, 10}, AspectRatios: []string{"16:9", "9:16", "1:1", "4:5", "5:4", "3:2", "2:3"}},
	"seedance-1-pro": {Durations: []int{5, 10}, AspectRatios: []string{"16:9", "9:16", "1:1", "4:3", "3:4", "21:9"}},
}

// LookupVideoModel matches model names case-insensitively, also by prefix so that
// dated variants such as "veo-3-preview" pick up their family's limits.
func LookupVideoModel(model string) (VideoModel, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	if v, ok := videoModels[m]; ok {
		return v, true
	}
	best := ""
	for name := range videoModels {
		if strings.HasPrefix(m, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return VideoModel{}, false
	}
	return videoModels[best], true
}

// SelectDuration picks the supported duration closest to want, preferring the longer
// one on a tie. Unknown models get want back unchanged.
func SelectDuration(model string, want int) int {
	vm, ok := LookupVideoModel(model)
	if !ok || len(vm.Durations) == 0 {
		return want
	}
	best := vm.Durations[0]
	for _, d := range vm.Durations[1:] {
		if abs(d-want) < abs(best-want) || (abs(d-want) == abs(best-want) && d > best) {
			best = d
		}
	}
	return best
}

// SelectAspectRatio returns want when the model supports it, otherwise the model's
// first (default) ratio.
func SelectAspectRatio(model, want string) string {
	vm, ok := LookupVideoModel(model)
	if !ok || len(vm.AspectRatios) == 0 {
		return want
	}
	for _, r := range vm.AspectRatios {
		if r == want {
			return want
		}
	}
	return vm.AspectRatios[0]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
