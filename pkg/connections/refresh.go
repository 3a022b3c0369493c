package connections

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/schema"
)

const refreshConcurrency = 4

// Refresh introspects the allow-listed tables of record and stores the
// result as its cached schema. Private columns are left out. Tables that
// fail to introspect are reported together and nothing is stored.
func Refresh(ctx context.Context, store *Store, record Record, introspector schema.Introspector) (schema.Descriptor, error) {
	allow, err := schema.NewAllowList(record.SelectedTables)
	if err != nil {
		return nil, err
	}

	live, err := introspector.Tables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tables")
	}
	tables := allow.Filter(live)

	var (
		mu       sync.Mutex
		snapshot = make(schema.Descriptor, len(tables))
		failures *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, table := range tables {
		g.Go(func() error {
			columns, err := introspector.Columns(gctx, table)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = multierror.Append(failures, errors.Wrapf(err, "table %s", table))
				return nil
			}
			snapshot[table] = columns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := failures.ErrorOrNil(); err != nil {
		return nil, errors.Wrap(err, "schema refresh failed")
	}

	snapshot = record.stripPrivate(snapshot)
	if err := store.UpdateSchema(ctx, record.ID, snapshot); err != nil {
		return nil, err
	}

	logger.G(ctx).WithField("connection_id", record.ID).
		WithField("tables", len(snapshot)).
		Info("refreshed schema snapshot")
	return snapshot, nil
}
