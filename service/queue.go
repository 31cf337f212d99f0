package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"PromptToMovie-server/config"
)

const (
	TypeExecuteRun = "run:execute"
)

type RunPayload struct {
	RunID string `json:"run_id"`
}

// Queue enqueues run executions for the processor.
type Queue struct {
	client    *asynq.Client
	timeout   time.Duration
	retention time.Duration
	log       zerolog.Logger
}

func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	}
}

func NewQueue(opt asynq.RedisConnOpt, cfg config.PipelineConfig, log zerolog.Logger) *Queue {
	return &Queue{
		client: asynq.NewClient(opt),
		// leave the orchestrator room to record the failure before asynq gives up
		timeout:   cfg.RunTimeout + time.Minute,
		retention: 24 * time.Hour,
		log:       log.With().Str("component", "queue").Logger(),
	}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Start enqueues the run. The task id is the run id, so a second trigger for the same
// run is absorbed by the queue and reported as already started.
func (q *Queue) Start(ctx context.Context, runID string) error {
	payload, err := json.Marshal(RunPayload{RunID: runID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeExecuteRun, payload,
		asynq.TaskID(runID),
		asynq.MaxRetry(0),
		asynq.Timeout(q.timeout),
		asynq.Retention(q.retention),
	)

	info, err := q.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		q.log.Info().Str("run_id", runID).Msg("run already enqueued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue run %s: %w", runID, err)
	}

	q.log.Info().Str("run_id", runID).Str("queue", info.Queue).Msg("run enqueued")
	return nil
}
