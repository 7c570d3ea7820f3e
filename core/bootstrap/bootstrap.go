// Package bootstrap brings up the infrastructure shared by every bot
// process: logging, the record store and the wizard session store.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	coreconfig "github.com/m3rciful/botmaker/core/config"
	coredatabase "github.com/m3rciful/botmaker/core/database"
	"github.com/m3rciful/botmaker/core/logger"
	"github.com/m3rciful/botmaker/core/telegram/state"
	"github.com/m3rciful/botmaker/internal/records"
)

// Options control the bootstrap pipeline. Nil hooks use the real
// implementations.
type Options struct {
	Config *coreconfig.Config
	// Kinds teach the Redis session codec the drafts the app stores.
	Kinds []func(*state.Codec)

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(context.Context, coreconfig.DatabaseConfig) error
	OpenFile   func(path string) (*records.FileStore, error)
	Redis      func(coreconfig.RedisConfig) *goredis.Client
}

// Result exposes the infrastructure initialized by Run.
type Result struct {
	Records  records.Store
	Sessions state.Store

	memory      *state.MemoryStore
	redis       *goredis.Client
	idle, sweep time.Duration
}

// Run initializes the logger, opens the record store and the session store.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	recs, err := openRecords(ctx, cfg.Storage, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Records: recs,
		idle:    time.Duration(cfg.Session.IdleTimeoutSeconds) * time.Second,
		sweep:   time.Duration(cfg.Session.SweepIntervalSeconds) * time.Second,
	}
	switch cfg.Session.Backend {
	case coreconfig.SessionRedis:
		dial := opts.Redis
		if dial == nil {
			dial = NewRedisClient
		}
		res.redis = dial(cfg.Session.Redis)
		if err := res.redis.Ping(ctx).Err(); err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("bootstrap: redis ping failed: %w", err)
		}
		codec := state.NewCodec()
		for _, register := range opts.Kinds {
			register(codec)
		}
		res.Sessions = state.NewRedisStore(res.redis, cfg.Session.Redis.Prefix, res.idle, codec)
	default:
		res.memory = state.NewMemoryStore(res.idle)
		res.Sessions = res.memory
	}

	logger.Info(ctx, "bootstrap", "ready",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("sessions", cfg.Session.Backend),
	)
	return res, nil
}

func openRecords(ctx context.Context, st coreconfig.StorageConfig, opts Options) (records.Store, error) {
	if st.Driver != coreconfig.StoragePostgres {
		open := opts.OpenFile
		if open == nil {
			open = records.OpenFile
		}
		fs, err := open(st.Path)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: open %s: %w", st.Path, err)
		}
		return fs, nil
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, st.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}
	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(ctx, st.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}
	return records.NewPostgres(db), nil
}

// NewRedisClient dials the session checkpoint server.
func NewRedisClient(cfg coreconfig.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// StartSweeper expires idle in-memory sessions until ctx is done. Redis
// sessions expire by TTL and need no sweeper.
func (r *Result) StartSweeper(ctx context.Context) {
	if r.memory == nil {
		return
	}
	go state.RunSweeper(ctx, r.memory, r.sweep, r.idle)
}

// Close releases the stores.
func (r *Result) Close() error {
	var errs []error
	if r.Records != nil {
		errs = append(errs, r.Records.Close())
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	return errors.Join(errs...)
}
