package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"metalearn/api/internal/app"
	"metalearn/api/internal/config"
	"metalearn/api/internal/contentrepo"
	"metalearn/api/internal/llm"
	"metalearn/api/internal/logging"
	"metalearn/api/internal/media"
	"metalearn/api/internal/platform"
	"metalearn/api/internal/search"
	"metalearn/api/internal/store"
)

const defaultPort = 4000

func main() {
	rollback := flag.Int("rollback", 0, "roll back the newest N migrations and exit")
	flag.Parse()

	cfg, err := config.Load(defaultPort)
	if err != nil {
		logging.Fatal().Err(err).Msg("config")
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Timestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, *rollback)
	stop()
	if err != nil {
		logging.Error().Err(err).Msg("course platform api")
		os.Exit(1)
	}
}

// run owns every resource it opens so deferred cleanup finishes before the
// process exits.
func run(ctx context.Context, cfg config.Config, rollback int) error {
	if rollback > 0 {
		return rollbackMigrations(ctx, cfg, rollback)
	}

	p, err := platform.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer p.Close()
	go p.PurgeSessions(ctx)

	if err := os.MkdirAll(cfg.Content.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create content repos dir: %w", err)
	}

	pgfts := search.NewPgFTS(p.DB)
	var meili *search.Meili
	if strings.TrimSpace(cfg.Meili.URL) != "" {
		meili = search.NewMeili(cfg.Meili.URL, cfg.Meili.MasterKey)
		defer meili.Close()
	}
	searchService := search.NewService(meili, pgfts, pgfts)
	go searchService.ReindexFromPG(ctx)

	var mediaService *media.Service
	mediaCfg := media.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		UseSSL:    cfg.S3.UseSSL,
	}
	if mediaCfg.Enabled() {
		if mediaService, err = media.New(mediaCfg); err != nil {
			return fmt.Errorf("media storage: %w", err)
		}
	}

	deps := app.Deps{
		Store:    p.Store,
		Sessions: p.Sessions,
		Search:   searchService,
		Content:  contentrepo.New(cfg.Content.ReposDir),
		Media:    mediaService,
		Mail:     p.Mail,
	}
	if cfg.LLM.APIKey != "" {
		deps.Assistant = llm.New(llm.Config{
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			Model:             cfg.LLM.Model,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		})
	} else {
		logging.Warn().Msg("OPENAI_API_KEY not set, course assistant disabled")
	}

	handler := app.NewHTTPServer(app.NewService(deps), app.RouterConfig{
		AllowedOrigins: cfg.FrontendURLs,
		AuthRequests:   cfg.Limits.AuthRequests,
		AuthWindow:     cfg.Limits.AuthWindow,
	}).Handler()

	return platform.Serve(ctx, platform.NewServer(cfg.Addr(), handler), "course platform api")
}

func rollbackMigrations(ctx context.Context, cfg config.Config, n int) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	reverted, err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir, n)
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	logging.Info().Strs("migrations", reverted).Msg("migrations rolled back")
	return nil
}
