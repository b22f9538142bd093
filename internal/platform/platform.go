// Package platform wires the infrastructure both API binaries share: the
// database, the session store and the mailer.
package platform

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"metalearn/api/internal/auth"
	"metalearn/api/internal/config"
	"metalearn/api/internal/email"
	"metalearn/api/internal/logging"
	"metalearn/api/internal/session"
	"metalearn/api/internal/store"
)

const sessionPurgeInterval = time.Hour

type Platform struct {
	DB       *sql.DB
	Store    *store.PostgresStore
	Sessions *session.Manager
	Mail     *email.Service

	closers []func() error
}

// Open connects to PostgreSQL, applies pending migrations and picks the
// session backend: Redis when REDIS_URL is set, PostgreSQL otherwise.
func Open(ctx context.Context, cfg config.Config) (*Platform, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	p := &Platform{DB: db, Store: store.NewPostgresStore(db)}
	p.closers = append(p.closers, db.Close)

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logging.Info().Strs("migrations", applied).Msg("migrations applied")
	}

	var sessions session.Store = p.Store
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		redisStore, err := session.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		p.closers = append(p.closers, redisStore.Close)
		sessions = redisStore
		logging.Info().Msg("using redis for session storage")
	} else {
		logging.Info().Msg("using postgres for session storage")
	}

	issuer := auth.NewIssuer(cfg.JWT.Secret, cfg.JWT.RefreshSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	p.Sessions = session.NewManager(issuer, sessions)

	p.Mail = email.NewService(email.Config{
		SendGridAPIKey: cfg.Email.SendGridAPIKey,
		From:           cfg.Email.From,
		FromName:       cfg.Email.FromName,
	})
	if !p.Mail.IsConfigured() {
		logging.Warn().Msg("SENDGRID_API_KEY not set, emails go to stdout")
	}
	return p, nil
}

// PurgeSessions deletes expired PostgreSQL sessions until ctx is done.
// Redis expires its keys on its own.
func (p *Platform) PurgeSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := p.Store.PurgeExpiredSessions(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("purge expired sessions")
				continue
			}
			if purged > 0 {
				logging.Debug().Int64("sessions", purged).Msg("expired sessions purged")
			}
		}
	}
}

func (p *Platform) Close() error {
	var first error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewServer returns an http.Server with the timeouts both APIs use.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs server until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msgf("%s listening", name)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logging.Info().Msgf("%s stopped", name)
	return nil
}
