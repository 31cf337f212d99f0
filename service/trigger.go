package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"PromptToMovie-server/config"
)

// TriggerTokenHeader carries the shared secret on execute requests.
const TriggerTokenHeader = "X-Trigger-Token"

var ErrNotStarted = errors.New("run was not started")

// Starter begins asynchronous execution of a queued run and returns without waiting
// for it.
type Starter interface {
	Start(ctx context.Context, runID string) error
}

// HTTPStarter posts to the execute endpoint of a (possibly remote) server.
type HTTPStarter struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewHTTPStarter(baseURL, secret string, timeout time.Duration) *HTTPStarter {
	return &HTTPStarter{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

// ExecutePath is the route of the execute endpoint for a run.
func ExecutePath(runID string) string {
	return "/internal/runs/" + url.PathEscape(runID) + "/execute"
}

func (s *HTTPStarter) Start(ctx context.Context, runID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+ExecutePath(runID), nil)
	if err != nil {
		return fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set(TriggerTokenHeader, s.secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("execute endpoint returned %d: %w", resp.StatusCode, ErrNotStarted)
	}

	var body struct {
		Started bool `json:"started"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode execute response: %w", err)
	}
	if !body.Started {
		return ErrNotStarted
	}
	return nil
}

// DirectStarter executes runs on a goroutine of this process. A run already executing
// here is not started twice. Runs are detached from the request that started them and
// bound to the starter instead; Shutdown cancels them so they are recorded as failed.
type DirectStarter struct {
	exec     Executor
	log      zerolog.Logger
	base     context.Context
	cancel   context.CancelFunc
	inflight sync.Map
	wg       sync.WaitGroup
}

func NewDirectStarter(exec Executor, log zerolog.Logger) *DirectStarter {
	base, cancel := context.WithCancel(context.Background())
	return &DirectStarter{
		exec:   exec,
		log:    log.With().Str("component", "direct_starter").Logger(),
		base:   base,
		cancel: cancel,
	}
}

func (s *DirectStarter) Start(ctx context.Context, runID string) error {
	if s.base.Err() != nil {
		return fmt.Errorf("direct starter is shut down: %w", ErrNotStarted)
	}
	if _, loaded := s.inflight.LoadOrStore(runID, struct{}{}); loaded {
		return nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Delete(runID)
		if err := s.exec.Execute(s.base, runID); err != nil {
			s.log.Error().Err(err).Str("run_id", runID).Msg("direct execution ended with error")
		}
	}()
	return nil
}

// Wait blocks until every run started here has finished.
func (s *DirectStarter) Wait() {
	s.wg.Wait()
}

// Shutdown cancels the runs executing here and waits up to timeout for them to record
// their failure. It reports whether they all finished in time.
func (s *DirectStarter) Shutdown(timeout time.Duration) bool {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.log.Warn().Dur("timeout", timeout).Msg("runs still executing after shutdown timeout")
		return false
	}
}

// FallbackStarter tries Primary within Timeout and falls back to Fallback when the
// primary could not start the run, so a run is never left queued.
type FallbackStarter struct {
	Primary  Starter
	Fallback Starter
	Timeout  time.Duration
	Log      zerolog.Logger
}

func (s *FallbackStarter) Start(ctx context.Context, runID string) error {
	pctx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	err := s.Primary.Start(pctx, runID)
	if err == nil {
		return nil
	}
	s.Log.Warn().Err(err).Str("run_id", runID).Msg("trigger failed, falling back to local execution")
	if ferr := s.Fallback.Start(ctx, runID); ferr != nil {
		return errors.Join(err, ferr)
	}
	return nil
}

// NewTrigger builds the starter used when a run is created. queue may be nil in direct
// mode.
func NewTrigger(cfg config.TriggerConfig, queue Starter, direct Starter, log zerolog.Logger) Starter {
	switch cfg.Mode {
	case "http":
		return &FallbackStarter{
			Primary:  NewHTTPStarter(cfg.ExecuteURL, cfg.Secret, cfg.Timeout),
			Fallback: direct,
			Timeout:  cfg.Timeout,
			Log:      log,
		}
	case "queue":
		return Runner(cfg, queue, direct, log)
	default:
		return direct
	}
}

// Runner builds the starter behind the execute endpoint: the queue when there is one,
// with local execution as fallback.
func Runner(cfg config.TriggerConfig, queue Starter, direct Starter, log zerolog.Logger) Starter {
	if queue == nil {
		return direct
	}
	return &FallbackStarter{
		Primary:  queue,
		Fallback: direct,
		Timeout:  cfg.Timeout,
		Log:      log,
	}
}
