package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PromptToMovie-server/providers"
)

// scriptedAdapter answers status queries from a fixed script, repeating the last entry.
type scriptedAdapter struct {
	mu        sync.Mutex
	submitErr error
	script    []scripted
	queries   int
	submitted []providers.Job
}

type scripted struct {
	status providers.Status
	err    error
}

func (a *scriptedAdapter) Submit(ctx context.Context, job providers.Job) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.submitErr != nil {
		return "", a.submitErr
	}
	a.submitted = append(a.submitted, job)
	return "job-1", nil
}

func (a *scriptedAdapter) Status(ctx context.Context, jobID string) (providers.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.queries
	if i >= len(a.script) {
		i = len(a.script) - 1
	}
	a.queries++
	return a.script[i].status, a.script[i].err
}

func running() scripted { return scripted{status: providers.Status{State: providers.StateRunning}} }

func TestAwaitCompletion(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after running", func(t *testing.T) {
		a := &scriptedAdapter{script: []scripted{running(), running(), {status: providers.Status{State: providers.StateSucceeded, Asset: "https://x/v.mp4"}}}}
		res, err := New(a, zerolog.Nop()).AwaitCompletion(ctx, "job-1", time.Millisecond, 5)
		require.NoError(t, err)
		assert.Equal(t, Succeeded, res.Outcome)
		assert.Equal(t, "https://x/v.mp4", res.Asset)
		assert.Equal(t, 3, a.queries)
	})

	t.Run("failure keeps provider text", func(t *testing.T) {
		a := &scriptedAdapter{script: []scripted{{status: providers.Status{State: providers.StateFailed, Error: "content policy violation: weapon"}}}}
		res, err := New(a, zerolog.Nop()).AwaitCompletion(ctx, "job-1", time.Millisecond, 5)
		require.NoError(t, err)
		assert.Equal(t, Failed, res.Outcome)
		assert.Equal(t, "content policy violation: weapon", res.Error)
	})

	t.Run("exhausted budget is timedOut not error", func(t *testing.T) {
		a := &scriptedAdapter{script: []scripted{running()}}
		res, err := New(a, zerolog.Nop()).AwaitCompletion(ctx, "job-1", time.Millisecond, 4)
		require.NoError(t, err)
		assert.Equal(t, TimedOut, res.Outcome)
		assert.Empty(t, res.Error)
		assert.Equal(t, 4, a.queries)
	})

	t.Run("transient query errors use attempts", func(t *testing.T) {
		a := &scriptedAdapter{script: []scripted{{err: errors.New("connection reset")}, {status: providers.Status{State: providers.StateSucceeded, Asset: "a"}}}}
		res, err := New(a, zerolog.Nop()).AwaitCompletion(ctx, "job-1", time.Millisecond, 2)
		require.NoError(t, err)
		assert.Equal(t, Succeeded, res.Outcome)
	})

	t.Run("success without asset is failure", func(t *testing.T) {
		a := &scriptedAdapter{script: []scripted{{status: providers.Status{State: providers.StateSucceeded}}}}
		res, err := New(a, zerolog.Nop()).AwaitCompletion(ctx, "job-1", time.Millisecond, 1)
		require.NoError(t, err)
		assert.Equal(t, Failed, res.Outcome)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		a := &scriptedAdapter{script: []scripted{running()}}
		_, err := New(a, zerolog.Nop()).AwaitCompletion(cctx, "job-1", time.Hour, 3)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, a.queries)
	})
}

func TestRunKeepsPollingAfterTimeout(t *testing.T) {
	script := make([]scripted, 0, 8)
	for i := 0; i < 7; i++ {
		script = append(script, running())
	}
	script = append(script, scripted{status: providers.Status{State: providers.StateSucceeded, Asset: "https://x/late.mp4"}})
	a := &scriptedAdapter{script: script}

	id, res, err := New(a, zerolog.Nop()).Run(context.Background(), providers.Job{Kind: providers.KindSceneVideo}, time.Millisecond, 3)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.Equal(t, "https://x/late.mp4", res.Asset)
	assert.Len(t, a.submitted, 1)
}

func TestSubmitError(t *testing.T) {
	a := &scriptedAdapter{submitErr: errors.New("401 invalid api key")}
	_, err := New(a, zerolog.Nop()).Submit(context.Background(), providers.Job{Kind: providers.KindMusic})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 invalid api key")
}
