package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/connections"
	"github.com/sqlpilot/sqlpilot/pkg/engine"
	"github.com/sqlpilot/sqlpilot/pkg/executor"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/memory"
	"github.com/sqlpilot/sqlpilot/pkg/prompts"
	"github.com/sqlpilot/sqlpilot/pkg/querylog"
	"github.com/sqlpilot/sqlpilot/pkg/spatial"
	"github.com/sqlpilot/sqlpilot/pkg/sqldb"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
	"github.com/sqlpilot/sqlpilot/pkg/websearch"
)

// Factory opens sessions with shared model, prompt and storage settings
type Factory struct {
	Completer   llmtypes.Completer
	Searcher    websearch.Searcher
	Renderer    *prompts.Renderer
	KnownTables []string
	Memory      memory.Config
	Executor    executor.Config
	Snapshots   SnapshotStore
	Logs        querylog.Recorder

	now func() time.Time
}

// Open connects to the record's database and restores any saved
// conversation for key
func (f *Factory) Open(ctx context.Context, key string, record connections.Record) (*Session, error) {
	if f.Completer == nil {
		return nil, errors.New("no completion provider configured")
	}
	ctx = logger.WithSession(ctx, key, record.ID)

	db, err := sqldb.Open(ctx, record.Config())
	if err != nil {
		return nil, err
	}

	catalog, err := record.Catalog(db, f.KnownTables)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "invalid selected tables")
	}

	engineOpts := []engine.Option{engine.WithRenderer(f.Renderer)}
	if f.Searcher != nil {
		engineOpts = append(engineOpts, engine.WithSearcher(f.Searcher))
	}
	eng := engine.New(f.Completer, catalog, engineOpts...)

	now := time.Now
	if f.now != nil {
		now = f.now
	}

	s := &Session{
		key:         key,
		conn:        record,
		connectedAt: now(),
		engine:      eng,
		memory:      memory.New(key, memory.WithConfig(f.Memory), memory.WithClock(now)),
		db:          db,
		executor: executor.New(db, eng.Synthesizer(),
			executor.WithSchema(catalog),
			executor.WithMaxAttempts(f.Executor.MaxAttempts),
			executor.WithColumnLowering(record.Provider == sqldb.Postgres),
		),
		snapshots: f.Snapshots,
		logs:      f.Logs,
	}
	if record.Provider == sqldb.Postgres {
		s.resolver = spatial.NewGeometryResolver(db.Sqlx())
	}
	s.restore(ctx)

	logger.G(ctx).WithField("connection", record.Config().String()).Info("session connected")
	return s, nil
}
