package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"PromptToMovie-server/config"
	"PromptToMovie-server/logger"
	"PromptToMovie-server/models"
	"PromptToMovie-server/pipeline"
	"PromptToMovie-server/progress"
	"PromptToMovie-server/providers"
	"PromptToMovie-server/routers"
	"PromptToMovie-server/routers/api"
	"PromptToMovie-server/service"
)

func main() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.AppConfig
	log := logger.New(cfg.Log)
	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := models.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("database initialized")

	keyring, err := providers.NewKeyring(cfg.Providers.SecretKey)
	if err != nil {
		log.Fatal().Err(err).Msg("provider keyring init failed")
	}
	registry := providers.NewRegistry(db, keyring, log)
	if err := registry.Seed(ctx, cfg.Providers, os.Getenv); err != nil {
		log.Fatal().Err(err).Msg("provider seeding failed")
	}

	var opts []pipeline.Option
	if cfg.MinIO.Endpoint != "" {
		storage, err := service.NewMinIOStorage(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("minio init failed")
		}
		opts = append(opts, pipeline.WithStorage(storage))
		log.Info().Str("endpoint", cfg.MinIO.Endpoint).Str("bucket", cfg.MinIO.Bucket).Msg("minio initialized")
	}
	ledger := progress.New(db, log)
	orchestrator := pipeline.New(db, ledger, registry, cfg.Pipeline, log, opts...)
	direct := service.NewDirectStarter(orchestrator, log)

	var (
		queue     service.Starter
		processor *service.Processor
	)
	if cfg.Trigger.Mode != "direct" {
		redis := service.RedisOpt(cfg)
		q := service.NewQueue(redis, cfg.Pipeline, log)
		defer q.Close()
		queue = q

		processor = service.NewProcessor(orchestrator, log)
		if err := processor.Start(redis, cfg.Pipeline.Workers); err != nil {
			log.Fatal().Err(err).Msg("processor start failed")
		}
	}

	h := &api.Handler{
		DB:       db,
		Ledger:   ledger,
		Registry: registry,
		Trigger:  service.NewTrigger(cfg.Trigger, queue, direct, log),
		Runner:   service.Runner(cfg.Trigger, queue, direct, log),
		Secret:   cfg.Trigger.Secret,
		Config:   cfg.Pipeline,
		Log:      log,
	}
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           routers.InitRouter(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Port).Str("trigger", cfg.Trigger.Mode).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if processor != nil {
		processor.Shutdown()
	}
	if !direct.Shutdown(30 * time.Second) {
		log.Warn().Msg("some local runs did not record their failure before exit")
	}
}
