package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"PromptToMovie-server/config"
	"PromptToMovie-server/progress"
	"PromptToMovie-server/providers"
	"PromptToMovie-server/service"
)

// Validator reports which provider capabilities resolve.
type Validator interface {
	Validate(ctx context.Context, req providers.Requirements) (providers.Report, error)
}

// Handler holds what the HTTP endpoints share.
type Handler struct {
	DB       *gorm.DB
	Ledger   *progress.Ledger
	Registry Validator
	// Trigger starts a freshly created run; Runner serves the execute endpoint and
	// must not loop back over HTTP.
	Trigger service.Starter
	Runner  service.Starter
	Secret  string
	Config  config.PipelineConfig
	Log     zerolog.Logger
	// WSInterval is how often the progress socket re-reads the ledger.
	WSInterval time.Duration
}
