// Package poller submits provider jobs and waits for them to reach a terminal state.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PromptToMovie-server/providers"
)

// Outcome of one AwaitCompletion call.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	TimedOut  Outcome = "timedOut"
)

// Result of waiting on a job. A TimedOut result means the job was still running
// when the attempt budget ran out; it is not a failure and the job may be awaited again.
type Result struct {
	Outcome Outcome
	Asset   string
	Payload json.RawMessage
	Error   string
}

type Poller struct {
	adapter providers.Adapter
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(adapter providers.Adapter, log zerolog.Logger) *Poller {
	return &Poller{adapter: adapter, log: log, sleep: sleepCtx}
}

// Submit hands the job to the provider and returns its job id. Jobs are never
// resubmitted by the poller.
func (p *Poller) Submit(ctx context.Context, job providers.Job) (string, error) {
	id, err := p.adapter.Submit(ctx, job)
	if err != nil {
		return "", fmt.Errorf("submit %s job: %w", job.Kind, err)
	}
	if id == "" {
		return "", fmt.Errorf("submit %s job: provider returned empty job id", job.Kind)
	}
	return id, nil
}

// AwaitCompletion sleeps interval, then queries the job, up to maxAttempts times.
// Provider failure is reported in the Result with the provider's own message.
// An error is returned only when ctx ends first.
func (p *Poller) AwaitCompletion(ctx context.Context, jobID string, interval time.Duration, maxAttempts int) (Result, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := p.sleep(ctx, interval); err != nil {
			return Result{}, fmt.Errorf("await job %s: %w", jobID, err)
		}
		st, err := p.adapter.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, fmt.Errorf("await job %s: %w", jobID, ctx.Err())
			}
			p.log.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("status query failed, retrying")
			continue
		}
		switch st.State {
		case providers.StateSucceeded:
			if st.Asset == "" && len(st.Payload) == 0 {
				return Result{Outcome: Failed, Error: "provider reported success without an asset"}, nil
			}
			return Result{Outcome: Succeeded, Asset: st.Asset, Payload: st.Payload}, nil
		case providers.StateFailed:
			return Result{Outcome: Failed, Error: st.Error}, nil
		}
	}
	return Result{Outcome: TimedOut}, nil
}

// Run submits the job and waits on it, awaiting again after each TimedOut result
// until the job finishes or ctx ends. It returns the job id alongside the result.
func (p *Poller) Run(ctx context.Context, job providers.Job, interval time.Duration, maxAttempts int) (string, Result, error) {
	id, err := p.Submit(ctx, job)
	if err != nil {
		return "", Result{}, err
	}
	for {
		res, err := p.AwaitCompletion(ctx, id, interval, maxAttempts)
		if err != nil {
			return id, Result{}, err
		}
		if res.Outcome != TimedOut {
			return id, res, nil
		}
		p.log.Info().Str("job_id", id).Str("kind", job.Kind).Msg("job still running after attempt budget, polling again")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
