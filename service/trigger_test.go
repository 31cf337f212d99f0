package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PromptToMovie-server/config"
)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	release chan struct{}
	err     error
	// blocking executions end only when their context does
	blocking bool
	ended    []error
}

func (f *fakeExecutor) Execute(ctx context.Context, runID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, runID)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.blocking {
		<-ctx.Done()
		f.mu.Lock()
		f.ended = append(f.ended, ctx.Err())
		f.mu.Unlock()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeExecutor) Ended() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.ended...)
}

func (f *fakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type starterFunc func(ctx context.Context, runID string) error

func (f starterFunc) Start(ctx context.Context, runID string) error { return f(ctx, runID) }

func TestHTTPStarter(t *testing.T) {
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get(TriggerTokenHeader)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"started":true}`))
	}))
	defer srv.Close()

	s := NewHTTPStarter(srv.URL+"/", "s3cret", time.Second)
	require.NoError(t, s.Start(context.Background(), "run-1"))
	assert.Equal(t, "/internal/runs/run-1/execute", gotPath)
	assert.Equal(t, "s3cret", gotToken)
}

func TestHTTPStarterNotStarted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"started":false}`))
	}))
	defer srv.Close()

	err := NewHTTPStarter(srv.URL, "s", time.Second).Start(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestHTTPStarterUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewHTTPStarter(srv.URL, "wrong", time.Second).Start(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Contains(t, err.Error(), "401")
}

func TestDirectStarterRunsOncePerRun(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{})}
	s := NewDirectStarter(exec, zerolog.Nop())

	require.NoError(t, s.Start(context.Background(), "run-1"))
	require.Eventually(t, func() bool { return len(exec.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	// still in flight: a second start is absorbed
	require.NoError(t, s.Start(context.Background(), "run-1"))
	close(exec.release)
	s.Wait()
	assert.Equal(t, []string{"run-1"}, exec.Calls())
}

func TestDirectStarterOutlivesRequestContext(t *testing.T) {
	exec := &fakeExecutor{}
	s := NewDirectStarter(exec, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, "run-1"))
	cancel()
	s.Wait()
	assert.Equal(t, []string{"run-1"}, exec.Calls())
}

func TestDirectStarterShutdownCancelsRuns(t *testing.T) {
	exec := &fakeExecutor{blocking: true}
	s := NewDirectStarter(exec, zerolog.Nop())
	require.NoError(t, s.Start(context.Background(), "run-1"))
	require.NoError(t, s.Start(context.Background(), "run-2"))
	require.Eventually(t, func() bool { return len(exec.Calls()) == 2 }, time.Second, 5*time.Millisecond)

	assert.True(t, s.Shutdown(time.Second))
	ended := exec.Ended()
	require.Len(t, ended, 2)
	for _, err := range ended {
		assert.ErrorIs(t, err, context.Canceled)
	}

	err := s.Start(context.Background(), "run-3")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Len(t, exec.Calls(), 2)
}

func TestDirectStarterShutdownTimeout(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{})}
	s := NewDirectStarter(exec, zerolog.Nop())
	require.NoError(t, s.Start(context.Background(), "run-1"))
	require.Eventually(t, func() bool { return len(exec.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, s.Shutdown(20*time.Millisecond))
	close(exec.release)
	s.Wait()
}

func TestFallbackStarter(t *testing.T) {
	var fallbackCalls int32
	fallback := starterFunc(func(ctx context.Context, runID string) error {
		atomic.AddInt32(&fallbackCalls, 1)
		return nil
	})

	ok := &FallbackStarter{
		Primary:  starterFunc(func(ctx context.Context, runID string) error { return nil }),
		Fallback: fallback,
		Log:      zerolog.Nop(),
	}
	require.NoError(t, ok.Start(context.Background(), "run-1"))
	assert.Equal(t, int32(0), atomic.LoadInt32(&fallbackCalls))

	slow := &FallbackStarter{
		Primary: starterFunc(func(ctx context.Context, runID string) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		Fallback: fallback,
		Timeout:  20 * time.Millisecond,
		Log:      zerolog.Nop(),
	}
	require.NoError(t, slow.Start(context.Background(), "run-2"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fallbackCalls))
}

func TestFallbackStarterBothFail(t *testing.T) {
	s := &FallbackStarter{
		Primary:  starterFunc(func(ctx context.Context, runID string) error { return errors.New("queue down") }),
		Fallback: starterFunc(func(ctx context.Context, runID string) error { return errors.New("shutting down") }),
		Log:      zerolog.Nop(),
	}
	err := s.Start(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue down")
	assert.Contains(t, err.Error(), "shutting down")
}

func TestNewTrigger(t *testing.T) {
	direct := NewDirectStarter(&fakeExecutor{}, zerolog.Nop())
	queue := starterFunc(func(ctx context.Context, runID string) error { return nil })

	assert.Same(t, direct, NewTrigger(config.TriggerConfig{Mode: "direct"}, nil, direct, zerolog.Nop()))

	q, ok := NewTrigger(config.TriggerConfig{Mode: "queue"}, queue, direct, zerolog.Nop()).(*FallbackStarter)
	require.True(t, ok)
	assert.Same(t, direct, q.Fallback)

	h, ok := NewTrigger(config.TriggerConfig{Mode: "http", ExecuteURL: "http://x"}, queue, direct, zerolog.Nop()).(*FallbackStarter)
	require.True(t, ok)
	assert.IsType(t, &HTTPStarter{}, h.Primary)

	assert.Same(t, direct, Runner(config.TriggerConfig{}, nil, direct, zerolog.Nop()))
}
