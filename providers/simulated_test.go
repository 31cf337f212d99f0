package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedAdapter(t *testing.T) {
	ctx := context.Background()
	a := NewSimulatedAdapter(CapabilityScript)

	id, err := a.Submit(ctx, Job{Kind: KindScreenplay, Prompt: "a fox", Params: map[string]interface{}{
		"scene_count":   4,
		"with_dialogue": true,
	}})
	require.NoError(t, err)

	st, err := a.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, st.State)

	sp, err := ParseScreenplay(st.Payload)
	require.NoError(t, err)
	assert.Len(t, sp.Scenes, 4)
	assert.Equal(t, "Lead", sp.Scenes[0].Speaker)

	video := NewSimulatedAdapter(CapabilityVideo)
	id, err = video.Submit(ctx, Job{Kind: KindSceneVideo})
	require.NoError(t, err)
	st, err = video.Status(ctx, id)
	require.NoError(t, err)
	assert.True(t, IsSimulated(st.Asset))
	assert.Equal(t, "sim://video/"+id+".mp4", st.Asset)

	st, err = video.Status(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
}

func TestParseScreenplay(t *testing.T) {
	_, err := ParseScreenplay([]byte(`{"scenes":[]}`))
	assert.Error(t, err)

	sp, err := ParseScreenplay([]byte(`{"scenes":[{"description":"rain on glass"},{"title":"empty"}]}`))
	require.NoError(t, err)
	require.Len(t, sp.Scenes, 1)
	assert.Equal(t, "rain on glass", sp.Scenes[0].VisualPrompt)
}

func TestVideoCatalog(t *testing.T) {
	assert.Equal(t, 8, SelectDuration("veo-3", 5))
	assert.Equal(t, 10, SelectDuration("kling-v2", 8))
	assert.Equal(t, 5, SelectDuration("kling-v2", 6))
	assert.Equal(t, 9, SelectDuration("luma-ray2", 7))
	assert.Equal(t, 7, SelectDuration("unknown-model", 7))
	assert.Equal(t, 8, SelectDuration("veo-3-fast-preview", 4))

	assert.Equal(t, "16:9", SelectAspectRatio("minimax-video", "9:16"))
	assert.Equal(t, "1:1", SelectAspectRatio("kling-v2", "1:1"))
	assert.Equal(t, "4:5", SelectAspectRatio("", "4:5"))
}

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, StateSucceeded, NormalizeState("Completed"))
	assert.Equal(t, StateFailed, NormalizeState("timed-out"))
	assert.Equal(t, StateRunning, NormalizeState("IN_PROGRESS"))
	assert.Equal(t, StateRunning, NormalizeState(""))
}
