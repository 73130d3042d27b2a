// Package app wires configuration into a running bot: store, directory,
// interpreter, writer, engine and HTTP handler.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"statusline/internal/config"
	"statusline/internal/db"
	"statusline/internal/dedupe"
	"statusline/internal/directory"
	"statusline/internal/engine"
	"statusline/internal/interpret"
	"statusline/internal/migrate"
	"statusline/internal/repo"
	"statusline/internal/server"
	"statusline/internal/writer"
)

type App struct {
	Config  *config.Config
	DB      *sql.DB
	Repo    repo.Repo
	Engine  engine.Engine
	Deduper *dedupe.Deduper
	Logger  *zap.Logger
}

// Open opens and migrates the workspace store and builds the engine.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	scorer, err := NewScorer(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: cfg.Store.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	if applied > 0 {
		logger.Info("applied migrations", zap.Int("count", applied), zap.String("path", db.Path(cfg.Store.Workspace)))
	}

	r := repo.Repo{DB: conn}
	in := interpret.New(scorer, logger.Named("interpret"))
	in.Now = func() time.Time { return time.Now().In(loc) }
	e := engine.New(directory.New(r), in, writer.New(r), logger.Named("engine"))
	e.Location = loc

	a := &App{Config: cfg, DB: conn, Repo: r, Engine: e, Logger: logger}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.Deduper = dedupe.New(rdb, cfg.DedupeTTL(), logger.Named("dedupe"))
	}
	return a, nil
}

// NewScorer picks the interpretation backend.
func NewScorer(cfg *config.Config) (interpret.Scorer, error) {
	switch cfg.Model.Provider {
	case config.ProviderOpenAI:
		return interpret.NewOpenAIScorer(interpret.OpenAIConfig{
			APIKey:  cfg.Model.APIKey,
			BaseURL: cfg.Model.BaseURL,
			Model:   cfg.Model.Name,
			Timeout: cfg.ModelTimeout(),
		}), nil
	case config.ProviderRules:
		return interpret.RuleScorer{}, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

// Handler builds the HTTP API for this app.
func (a *App) Handler() (http.Handler, error) {
	cfg := server.Config{
		Engine:        a.Engine,
		BasePath:      a.Config.Server.BasePath,
		PublicURL:     a.Config.Server.PublicURL,
		TriggerSecret: a.Config.Trigger.Secret,
		Twilio: server.TwilioAuth{
			AuthToken:     a.Config.Twilio.AuthToken,
			AllowUnsigned: a.Config.Twilio.AllowUnsigned,
		},
		Logger: a.Logger.Named("http"),
	}
	if a.Deduper != nil {
		cfg.Deduper = a.Deduper
	}
	return server.New(cfg)
}

func (a *App) Close() error {
	if a.Deduper != nil {
		if err := a.Deduper.Close(); err != nil {
			a.Logger.Warn("close redis", zap.Error(err))
		}
	}
	return a.DB.Close()
}
