// Package pipeline runs generation runs: it validates the providers a run needs, then
// executes the fixed stage list in order, reporting every transition to the progress
// ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"PromptToMovie-server/config"
	"PromptToMovie-server/models"
	"PromptToMovie-server/poller"
	"PromptToMovie-server/progress"
	"PromptToMovie-server/providers"
)

// Registry is the part of the provider registry the orchestrator uses.
type Registry interface {
	Validate(ctx context.Context, req providers.Requirements) (providers.Report, error)
	Adapter(ctx context.Context, c providers.Capability) (providers.Adapter, providers.Resolution, error)
}

type Orchestrator struct {
	db        *gorm.DB
	ledger    *progress.Ledger
	registry  Registry
	storage   Storage
	assembler Assembler
	cfg       config.PipelineConfig
	client    *http.Client
	log       zerolog.Logger
}

type Option func(*Orchestrator)

// WithStorage sets the object storage used when the storage capability is not simulated.
func WithStorage(s Storage) Option {
	return func(o *Orchestrator) { o.storage = s }
}

func WithAssembler(a Assembler) Option {
	return func(o *Orchestrator) { o.assembler = a }
}

func New(db *gorm.DB, ledger *progress.Ledger, registry Registry, cfg config.PipelineConfig, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:       db,
		ledger:   ledger,
		registry: registry,
		cfg:      cfg,
		client:   &http.Client{Timeout: time.Minute},
		log:      log.With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.assembler == nil {
		o.assembler = NewFFmpegAssembler(cfg, log)
	}
	return o
}

// run is the state carried from one stage to the next during a single execution.
type run struct {
	movie      *models.Movie
	report     providers.Report
	storage    Storage
	stage      progress.Stage
	log        zerolog.Logger
	locations  []models.Location
	characters []models.Character
	scenes     []models.Scene
	renditions models.Renditions
	duration   float64
}

type stageFunc func(ctx context.Context, r *run) error

func (o *Orchestrator) handler(stage progress.Stage) stageFunc {
	switch stage {
	case progress.StageValidateProviders:
		return o.recordValidation
	case progress.StageResearchLocations:
		return o.researchLocations
	case progress.StageGenerateScreenplay:
		return o.generateScreenplay
	case progress.StageAssignCharacters:
		return o.assignCharacters
	case progress.StageGenerateVideos:
		return o.generateVideos
	case progress.StageGenerateAudio:
		return o.generateAudio
	case progress.StageApplyLipSync:
		return o.applyLipSync
	case progress.StageGenerateMusic:
		return o.generateMusic
	case progress.StageAssembleMovie:
		return o.assembleMovie
	case progress.StageGenerateCover:
		return o.generateCover
	case progress.StageFinalize:
		return o.finalize
	}
	return nil
}

// Execute runs the whole pipeline for a queued run. It returns once the run reached a
// terminal state; the returned error is the one recorded on the run. Runs that are not
// queued are left untouched and ErrRunNotQueued is returned.
func (o *Orchestrator) Execute(ctx context.Context, runID string) error {
	log := o.log.With().Str("run_id", runID).Logger()
	movie, err := models.GetMovieByID(o.db.WithContext(ctx), runID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", progress.ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("load movie %s: %w", runID, err)
	}
	if movie.Status != models.MovieStatusQueued {
		return fmt.Errorf("%w: %s is %s", ErrRunNotQueued, runID, movie.Status)
	}

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	r := &run{movie: movie, log: log}
	if err := o.validate(ctx, r); err != nil {
		log.Error().Err(err).Msg("run rejected")
		if rerr := o.ledger.Reject(context.WithoutCancel(ctx), runID, progress.Stages, progress.StageValidateProviders, FailureMessage(err)); rerr != nil {
			return errors.Join(err, fmt.Errorf("record rejection: %w", rerr))
		}
		return err
	}
	if err := o.ledger.Init(ctx, runID, progress.Stages); err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	log.Info().Str("prompt", movie.Prompt).Int("scene_count", movie.SceneCount).Msg("run started")
	started := time.Now()

	for i, stage := range progress.Stages {
		r.stage = stage
		r.log = log.With().Str("stage", string(stage)).Logger()
		if i > 0 {
			if err := o.ledger.BeginStage(ctx, runID, stage, stage.Description()); err != nil {
				return o.fail(ctx, r, err)
			}
		}
		stageStart := time.Now()
		if err := o.runStage(ctx, r); err != nil {
			return o.fail(ctx, r, err)
		}
		if err := o.ledger.CompleteStage(ctx, runID, stage); err != nil {
			return o.fail(ctx, r, err)
		}
		r.log.Info().Dur("took", time.Since(stageStart)).Msg("stage completed")
	}

	if err := o.ledger.CompleteRun(ctx, runID); err != nil {
		return o.fail(ctx, r, err)
	}
	log.Info().Dur("took", time.Since(started)).Msg("run completed")
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Msg("stage panicked")
			err = wrap(ErrUnexpected, string(r.stage), "", fmt.Errorf("panic: %v", p))
		}
	}()
	h := o.handler(r.stage)
	if h == nil {
		return wrap(ErrUnexpected, string(r.stage), "", errors.New("no handler for stage"))
	}
	return h(ctx, r)
}

// fail records the run as failed at the current stage. The write must happen even when
// ctx is already done, so it runs detached from cancellation.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) error {
	msg := FailureMessage(err)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		msg = fmt.Sprintf("run exceeded timeout of %s during %s", o.cfg.RunTimeout, r.stage)
	case errors.Is(ctx.Err(), context.Canceled):
		msg = fmt.Sprintf("run interrupted during %s", r.stage)
	}
	event := r.log.Error().Err(err).Str("message", msg)
	var pe *ProviderError
	if errors.As(err, &pe) {
		event = event.Str("provider", pe.ProviderID).Str("subject", pe.Subject)
	}
	event.Msg("stage failed")
	if ferr := o.ledger.FailRun(context.WithoutCancel(ctx), r.movie.ID, r.stage, msg); ferr != nil {
		r.log.Error().Err(ferr).Msg("failed to record run failure")
		return errors.Join(err, ferr)
	}
	return err
}

// validate checks that every capability the run needs resolves. Nothing is written.
func (o *Orchestrator) validate(ctx context.Context, r *run) error {
	stage := string(progress.StageValidateProviders)
	report, err := o.registry.Validate(ctx, providers.Requirements{
		Dialogue: r.movie.WithDialogue,
		Music:    r.movie.WithMusic,
	})
	if err != nil {
		return wrap(ErrConfiguration, stage, "read provider bindings", err)
	}
	if report.Has(providers.CapabilityStorage) && !report.IsSimulated(providers.CapabilityStorage) && o.storage == nil {
		report.OK = false
		if report.Reasons == nil {
			report.Reasons = map[providers.Capability]string{}
		}
		report.Blocking = append(report.Blocking, providers.CapabilityStorage)
		report.Reasons[providers.CapabilityStorage] = "object storage is not configured"
	}
	if !report.OK {
		return wrap(ErrConfiguration, stage, "", errors.New(report.MissingMessage()))
	}
	r.report = report
	r.storage = o.storage
	if report.IsSimulated(providers.CapabilityStorage) {
		r.storage = SimulatedStorage{}
	}
	return nil
}

// await submits job to the provider serving c and waits until it finishes, polling
// again after every timedOut round.
func (o *Orchestrator) await(ctx context.Context, r *run, c providers.Capability, job providers.Job, subject string) (poller.Result, error) {
	adapter, res, err := o.registry.Adapter(ctx, c)
	if err != nil {
		return poller.Result{}, wrap(ErrConfiguration, string(r.stage), string(c), err)
	}
	interval, attempts := o.cfg.PollInterval, o.cfg.MaxAttempts
	if c == providers.CapabilityVideo || c == providers.CapabilityLipSync {
		interval, attempts = o.cfg.VideoPollInterval, o.cfg.VideoMaxAttempts
	}
	jobID, result, err := poller.New(adapter, r.log).Run(ctx, job, interval, attempts)
	if err != nil {
		return poller.Result{}, wrap(ErrProvider, string(r.stage), subject, err)
	}
	r.log.Debug().Str("job_id", jobID).Str("provider", res.ProviderID).Str("outcome", string(result.Outcome)).Msg(subject)
	if result.Outcome == poller.Failed {
		return result, wrap(ErrProvider, string(r.stage), subject, &ProviderError{
			ProviderID: res.ProviderID,
			Subject:    subject,
			Message:    result.Error,
		})
	}
	return result, nil
}

// persistAsset copies a provider asset into storage, since provider URLs expire.
// Simulated assets are kept as they are.
func (o *Orchestrator) persistAsset(ctx context.Context, r *run, url, key string) (string, error) {
	if providers.IsSimulated(url) {
		return url, nil
	}
	stored, err := r.storage.Mirror(ctx, url, key)
	if err != nil {
		return "", wrap(ErrStorage, string(r.stage), "store "+key, err)
	}
	return stored, nil
}

func (o *Orchestrator) progress(ctx context.Context, r *run, done, total int, detail string) error {
	if total <= 0 {
		return nil
	}
	return o.ledger.UpdateStageProgress(ctx, r.movie.ID, r.stage, done*100/total, detail)
}

func (o *Orchestrator) updateMovie(ctx context.Context, r *run, updates map[string]interface{}) error {
	if err := models.UpdateMovie(o.db.WithContext(ctx), r.movie.ID, updates); err != nil {
		return wrap(ErrUnexpected, string(r.stage), "update movie", err)
	}
	return nil
}
