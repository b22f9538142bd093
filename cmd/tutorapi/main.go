package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"metalearn/api/internal/config"
	"metalearn/api/internal/llm"
	"metalearn/api/internal/logging"
	"metalearn/api/internal/platform"
	"metalearn/api/internal/tutor"
)

const defaultPort = 4001

func main() {
	cfg, err := config.Load(defaultPort)
	if err != nil {
		logging.Fatal().Err(err).Msg("config")
	}
	if err := cfg.RequireLLM(); err != nil {
		logging.Fatal().Err(err).Msg("config")
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Timestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		logging.Error().Err(err).Msg("tutor api")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	p, err := platform.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer p.Close()

	svc := tutor.NewService(tutor.Deps{
		Store:    p.Store,
		Sessions: p.Sessions,
		Copilot: llm.New(llm.Config{
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			Model:             cfg.LLM.Model,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		}),
		Mail: p.Mail,
	})
	handler := tutor.NewHTTPServer(svc, tutor.RouterConfig{
		AllowedOrigins: cfg.FrontendURLs,
		AuthRequests:   cfg.Limits.AuthRequests,
		AuthWindow:     cfg.Limits.AuthWindow,
	}).Handler()

	return platform.Serve(ctx, platform.NewServer(cfg.Addr(), handler), "tutor api")
}
