package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"PromptToMovie-server/pipeline"
	"PromptToMovie-server/progress"
)

// Executor runs one queued run to a terminal state.
type Executor interface {
	Execute(ctx context.Context, runID string) error
}

type Processor struct {
	exec   Executor
	server *asynq.Server
	log    zerolog.Logger
}

func NewProcessor(exec Executor, log zerolog.Logger) *Processor {
	return &Processor{
		exec: exec,
		log:  log.With().Str("component", "processor").Logger(),
	}
}

// Start launches the asynq server in the background. Concurrency bounds how many runs
// execute at once in this process.
func (p *Processor) Start(opt asynq.RedisConnOpt, concurrency int) error {
	p.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
		Logger:   asynqLogger{p.log},
		LogLevel: asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeExecuteRun, p.HandleExecuteRun)

	if err := p.server.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	p.log.Info().Int("concurrency", concurrency).Msg("processor started")
	return nil
}

func (p *Processor) Shutdown() {
	if p.server != nil {
		p.server.Shutdown()
	}
}

// HandleExecuteRun never asks asynq to retry: a failed run is terminal and a run that
// is no longer queued was already picked up elsewhere.
func (p *Processor) HandleExecuteRun(ctx context.Context, t *asynq.Task) error {
	var payload RunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RunID == "" {
		return fmt.Errorf("payload without run id: %w", asynq.SkipRetry)
	}

	log := p.log.With().Str("run_id", payload.RunID).Logger()
	err := p.exec.Execute(ctx, payload.RunID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrRunNotQueued), errors.Is(err, progress.ErrLedgerExists):
		log.Info().Err(err).Msg("run already started, skipping")
		return nil
	case errors.Is(err, progress.ErrRunNotFound):
		log.Warn().Err(err).Msg("run vanished before execution")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		log.Error().Err(err).Msg("run failed")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
