package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"pganon/internal/catalog"
	"pganon/internal/config"
	"pganon/internal/db"
	"pganon/internal/engine"
	"pganon/internal/fixture"
	"pganon/internal/label"
	"pganon/internal/metrics"
	"pganon/internal/rule"
)

const (
	dotEnvFile  = ".env"
	policiesEnv = "ANON_MASKING_POLICIES"
)

type rootFlags struct {
	databaseURL string
	fixture     string
	logLevel    string
	policy      string
	policies    string
	output      outputFormat
}

// app builds the configuration, the pool and the engine on first use so
// that commands like version or completion never touch the database.
type app struct {
	flags rootFlags

	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	eng    *engine.Engine
	// metrics is set by serve before the engine is built.
	metrics *metrics.Metrics
}

func (a *app) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	if err := config.LoadDotEnv(dotEnvFile); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if a.flags.databaseURL != "" {
		cfg.DatabaseURL = a.flags.databaseURL
	}
	if a.flags.logLevel != "" {
		cfg.LogLevel = a.flags.logLevel
	}
	if err := rule.SetCacheSize(cfg.RuleCacheSize); err != nil {
		return nil, err
	}

	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	a.cfg = cfg
	return cfg, nil
}

func (a *app) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database: set DATABASE_URL or --database-url")
	}
	pool, err := db.OpenPool(ctx, cfg.DatabaseURL, int32(cfg.StaticParallelism)+2) //nolint:gosec // bounded by config validation
	if err != nil {
		return nil, err
	}
	a.pool = pool
	return pool, nil
}

func (a *app) engine(ctx context.Context) (*engine.Engine, error) {
	if a.eng != nil {
		return a.eng, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	opts := engine.Options{
		Metrics:           a.metrics,
		Logger:            a.logger,
		StaticParallelism: cfg.StaticParallelism,
		Policies:          a.flags.policies,
	}

	if a.flags.fixture != "" {
		loaded, err := fixture.LoadFile(a.flags.fixture)
		if err != nil {
			return nil, err
		}
		a.eng = engine.New(cfg.Settings(), loaded.Catalog, loaded.Labels, opts)
		return a.eng, nil
	}

	pool, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	opts.DB = pool
	a.eng = engine.New(cfg.Settings(), catalog.NewPGReader(pool), label.NewPGStore(pool), opts)
	return a.eng, nil
}

// policySetting re-reads the extra masking policies: the --masking-policies
// flag, else the .env file, else the environment.
func (a *app) policySetting(dotEnv string) (string, error) {
	if a.flags.policies != "" {
		return a.flags.policies, nil
	}
	vars, err := config.ReadDotEnv(dotEnv)
	if err != nil {
		return "", err
	}
	for _, kv := range vars {
		if kv[0] == policiesEnv {
			return kv[1], nil
		}
	}
	return os.Getenv(policiesEnv), nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
