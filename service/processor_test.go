package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"PromptToMovie-server/pipeline"
	"PromptToMovie-server/progress"
)

func TestHandleExecuteRun(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		execErr   error
		wantErr   bool
		wantCalls int
	}{
		{name: "completed", payload: `{"run_id":"run-1"}`, wantCalls: 1},
		{name: "already picked up", payload: `{"run_id":"run-1"}`, execErr: fmt.Errorf("%w: run-1 is video_generating", pipeline.ErrRunNotQueued), wantCalls: 1},
		{name: "concurrent init", payload: `{"run_id":"run-1"}`, execErr: progress.ErrLedgerExists, wantCalls: 1},
		{name: "run failed", payload: `{"run_id":"run-1"}`, execErr: errors.New("scene 2: rejected"), wantErr: true, wantCalls: 1},
		{name: "missing run", payload: `{"run_id":"run-1"}`, execErr: progress.ErrRunNotFound, wantErr: true, wantCalls: 1},
		{name: "bad payload", payload: `{`, wantErr: true},
		{name: "empty run id", payload: `{}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{err: tt.execErr}
			p := NewProcessor(exec, zerolog.Nop())
			err := p.HandleExecuteRun(context.Background(), asynq.NewTask(TypeExecuteRun, []byte(tt.payload)))
			if tt.wantErr {
				assert.ErrorIs(t, err, asynq.SkipRetry)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, exec.Calls(), tt.wantCalls)
		})
	}
}
