package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/mirajehossain/graphmigrate/internal/catalog"
	"github.com/mirajehossain/graphmigrate/internal/config"
	"github.com/mirajehossain/graphmigrate/internal/db"
	"github.com/mirajehossain/graphmigrate/internal/dialect"
	"github.com/mirajehossain/graphmigrate/internal/fsutil"
	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/ledger"
	"github.com/mirajehossain/graphmigrate/internal/lock"
	"github.com/mirajehossain/graphmigrate/internal/logger"
	"github.com/mirajehossain/graphmigrate/internal/migrator"
	"github.com/mirajehossain/graphmigrate/internal/nodefile"
)

// session is one environment opened for a command.
type session struct {
	env    config.Environment
	db     *sql.DB
	runner *migrator.Runner
	log    *logger.Logger
}

// registry collects the built-in nodes and the node files under cfg.Dir.
// A missing directory only means there are no node files.
func (a *app) registry() (*graph.Registry, error) {
	reg := graph.NewRegistry()
	if a.catalog {
		if err := catalog.Register(reg); err != nil {
			return nil, err
		}
	}
	fsys, files, err := a.scan()
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		nodes, err := nodefile.Load(fsys, files, catalog.Steps())
		if err != nil {
			return nil, &planError{err: err}
		}
		if err := reg.Register(nodes...); err != nil {
			return nil, err
		}
	}
	if err := reg.Check(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (a *app) scan() (fs.FS, []fsutil.File, error) {
	fsys, files, err := fsutil.ScanDir(a.cfg.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return fsys, nil, nil
	}
	if err != nil {
		return nil, nil, &planError{err: err}
	}
	return fsys, files, nil
}

// each opens every selected environment and calls fn with it. Environments
// run in parallel when locked is set; read-only commands go one at a time so
// their output stays in order.
func (a *app) each(ctx context.Context, locked bool, fn func(context.Context, *session) error) error {
	envs, err := a.cfg.Targets(a.env)
	if err != nil {
		return &planError{err: err}
	}
	limit := 1
	if locked {
		limit = a.parallel
	}
	return migrator.RunEnvironments(ctx, envs, limit, func(ctx context.Context, env config.Environment) error {
		return a.open(ctx, env, locked, fn)
	})
}

func (a *app) open(ctx context.Context, env config.Environment, locked bool, fn func(context.Context, *session) error) error {
	log := a.log.With(map[string]any{"env": env.Name})
	if strings.TrimSpace(env.DSN) == "" {
		return &planError{err: errors.New("dsn is required (set --dsn or DB_DSN)")}
	}
	reg, err := a.registry()
	if err != nil {
		return err
	}
	d, err := dialect.For(env.Dialect)
	if err != nil {
		return &planError{err: err}
	}
	database, err := db.Open(env.Dialect, env.DSN)
	if err != nil {
		log.Error("db open failed", map[string]any{"error": err.Error()})
		return err
	}
	defer database.Close()

	r := migrator.NewRunner(database, d, ledger.New(database, d, env.LedgerTable), reg, migrator.Options{
		Env:           env.Name,
		AppliedBy:     a.cfg.AppliedBy,
		AllowDataLoss: a.cfg.AllowDataLoss,
		DryRun:        a.cfg.DryRun,
		BatchSize:     a.cfg.BatchSize,
		Log:           log,
		Metrics:       a.metrics,
	})
	if err := r.Ensure(ctx); err != nil {
		log.Error("ensure table failed", map[string]any{"error": err.Error()})
		return err
	}

	if locked {
		key := lock.KeyFor(extractDBName(env.DSN), env.LedgerTable)
		l := lock.For(env.Dialect, database, key)
		if err := l.Acquire(ctx, a.cfg.LockTimeout()); err != nil {
			log.Error("failed to acquire lock", map[string]any{"error": err.Error(), "key": key})
			return err
		}
		defer func() {
			if err := l.Release(context.Background()); err != nil {
				log.Warn("lock release failed", map[string]any{"error": err.Error(), "key": key})
			}
		}()
	}
	return fn(ctx, &session{env: env, db: database, runner: r, log: log})
}

// extractDBName pulls the database name out of a DSN for the lock key:
// user:pass@tcp(127.0.0.1:3306)/dbname?params, postgres://host/dbname or a
// sqlite file path.
func extractDBName(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	i := strings.LastIndex(dsn, "/")
	rest := dsn[i+1:]
	if j := strings.Index(rest, "?"); j != -1 {
		rest = rest[:j]
	}
	if rest == "" {
		return "db"
	}
	return rest
}

// progress logs node events under the given prefix, e.g. migrate or
// migrate.down.
func progress(log *logger.Logger, prefix string, dryRun bool) migrator.Progress {
	return func(stage string, id graph.NodeID, rec *ledger.Record, err error) {
		fields := map[string]any{
			"module":  id.Module,
			"node":    id.Name,
			"dry_run": dryRun,
		}
		if rec != nil {
			fields["checksum"] = rec.Checksum
			if stage == "success" {
				fields["duration_ms"] = rec.DurationMS
			}
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		name := fmt.Sprintf("%s.%s", prefix, stage)
		switch stage {
		case "error":
			log.Error(name, fields)
		default:
			log.Info(name, fields)
		}
	}
}
