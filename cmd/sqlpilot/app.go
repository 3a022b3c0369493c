package main

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/sqlpilot/sqlpilot/pkg/connections"
	"github.com/sqlpilot/sqlpilot/pkg/db"
	"github.com/sqlpilot/sqlpilot/pkg/db/migrations"
	"github.com/sqlpilot/sqlpilot/pkg/executor"
	"github.com/sqlpilot/sqlpilot/pkg/llm"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/memory"
	"github.com/sqlpilot/sqlpilot/pkg/prompts"
	"github.com/sqlpilot/sqlpilot/pkg/querylog"
	"github.com/sqlpilot/sqlpilot/pkg/server"
	"github.com/sqlpilot/sqlpilot/pkg/session"
	"github.com/sqlpilot/sqlpilot/pkg/websearch"
)

// cliUser is the user id CLI sessions are keyed under, so that `ask` and
// `history` see the same conversation for a connection
const cliUser = "cli"

// StoreConfig locates the local store
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig enables the shared snapshot store when Addr is set
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PromptsConfig points at a directory of prompt template overrides
type PromptsConfig struct {
	Dir string `mapstructure:"dir"`
}

// AppConfig is everything outside the completion client that commands need
type AppConfig struct {
	Store       StoreConfig      `mapstructure:"store"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Search      websearch.Config `mapstructure:"search"`
	Prompts     PromptsConfig    `mapstructure:"prompts"`
	Memory      memory.Config    `mapstructure:"memory"`
	Executor    executor.Config  `mapstructure:"executor"`
	Server      server.Config    `mapstructure:"server"`
	KnownTables []string         `mapstructure:"known_tables"`
}

// getAppConfigFromViper decodes AppConfig from the merged configuration
func getAppConfigFromViper() (*AppConfig, error) {
	var config AppConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}
	if config.Memory.MaxExchanges <= 0 {
		config.Memory.MaxExchanges = memory.DefaultMaxExchanges
	}
	if config.Memory.MaxTokensPerMessage <= 0 {
		config.Memory.MaxTokensPerMessage = memory.DefaultMaxTokensPerMessage
	}
	return &config, nil
}

// app holds the local store and the stores built on it
type app struct {
	config      *AppConfig
	db          *sqlx.DB
	connections *connections.Store
	logs        *querylog.Store
	snapshots   session.SnapshotStore
	redis       *redis.Client
}

// openApp opens and migrates the local store and picks the snapshot store
func openApp(ctx context.Context, config *AppConfig) (*app, error) {
	path, err := db.ResolvePath(config.Store.Path)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := db.NewMigrationRunner(sqlDB).Run(ctx, migrations.All()); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "failed to migrate local store")
	}

	a := &app{
		config:      config,
		db:          sqlDB,
		connections: connections.NewStore(sqlDB),
		logs:        querylog.NewStore(sqlDB),
		snapshots:   session.NewSQLiteSnapshotStore(sqlDB),
	}

	if config.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			sqlDB.Close()
			return nil, errors.Wrapf(err, "failed to reach redis at %s", config.Redis.Addr)
		}
		a.redis = client
		a.snapshots = session.NewRedisSnapshotStore(client, session.DefaultRedisPrefix, config.Redis.TTL)
		logger.G(ctx).WithField("addr", config.Redis.Addr).Debug("using redis snapshot store")
	}

	return a, nil
}

// factory builds the session factory with the configured completion client
func (a *app) factory(ctx context.Context) (*session.Factory, error) {
	llmConfig, err := llm.GetConfigFromViper()
	if err != nil {
		return nil, err
	}
	completer, err := llm.NewCompleter(ctx, llmConfig)
	if err != nil {
		return nil, err
	}

	renderer := prompts.Default()
	if a.config.Prompts.Dir != "" {
		overrides, err := prompts.LoadOverrides(a.config.Prompts.Dir)
		if err != nil {
			return nil, err
		}
		renderer = prompts.NewRendererWithTemplateOverride(prompts.TemplateFS, overrides)
	}

	f := &session.Factory{
		Completer:   completer,
		Renderer:    renderer,
		KnownTables: a.config.KnownTables,
		Memory:      a.config.Memory,
		Executor:    a.config.Executor,
		Snapshots:   a.snapshots,
		Logs:        a.logs,
	}
	if a.config.Search.Enabled {
		f.Searcher = websearch.New(a.config.Search, nil)
	}
	return f, nil
}

// Close releases the local store and the redis client
func (a *app) Close() error {
	var result *multierror.Error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "failed to close redis client"))
		}
	}
	if err := a.db.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "failed to close local store"))
	}
	return result.ErrorOrNil()
}

// mustOpenApp loads the configuration and opens the app, exiting on failure
func mustOpenApp(ctx context.Context) *app {
	config, err := getAppConfigFromViper()
	if err != nil {
		exitWithError(err, "invalid configuration")
	}
	a, err := openApp(ctx, config)
	if err != nil {
		exitWithError(err, "failed to open local store")
	}
	return a
}

// closeApp closes a, logging failures
func closeApp(ctx context.Context, a *app) {
	if err := a.Close(); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to close app")
	}
}
