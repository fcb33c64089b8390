package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirajehossain/graphmigrate/internal/config"
	"github.com/mirajehossain/graphmigrate/internal/db"
	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/logger"
	"github.com/mirajehossain/graphmigrate/internal/metrics"
	"github.com/mirajehossain/graphmigrate/internal/migrator"
)

const (
	exitOK        = 0
	exitDrift     = 2
	exitLocked    = 3
	exitFail      = 4
	exitPlanError = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// flags mirrors the persistent flags; zero values leave config and env alone.
type flags struct {
	conf          string
	env           string
	dialect       string
	dsn           string
	dir           string
	json          bool
	dryRun        bool
	lockTimeout   int
	table         string
	appliedBy     string
	allowDataLoss bool
	verbose       bool
	metricsFile   string
	batchSize     int
	parallel      int
	catalog       bool
}

// app is what every command works with once flags are parsed.
type app struct {
	cfg      *config.Config
	env      string
	parallel int
	catalog  bool
	log      *logger.Logger
	metrics  *metrics.Collector
}

func run(args []string) int {
	var (
		f flags
		a app
	)
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "graphmigrate - dependency-graph schema migration and backfill runner",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadYAML(f.conf)
			if err != nil {
				return &planError{err: fmt.Errorf("config: %w", err)}
			}
			cfg = config.MergeEnv(cfg)
			override(cmd, cfg, f)
			a = app{cfg: cfg, env: f.env, parallel: f.parallel, catalog: f.catalog, metrics: metrics.New()}
			if cfg.Verbose {
				a.log = logger.NewVerbose(cfg.JSON)
			} else {
				a.log = logger.New(cfg.JSON)
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.conf, "config", "", "Optional YAML config path")
	pf.StringVar(&f.env, "env", "", "Environment from the config file, or 'all'")
	pf.StringVar(&f.dialect, "dialect", "", "mysql, postgres or sqlite (or DB_DIALECT)")
	pf.StringVar(&f.dsn, "dsn", "", "Database DSN (or DB_DSN)")
	pf.StringVar(&f.dir, "dir", "", "Node file directory (or MIGRATIONS_DIR, default ./migrations)")
	pf.BoolVar(&f.json, "json", false, "JSON logs")
	pf.BoolVar(&f.dryRun, "dry-run", false, "Plan only; do not execute")
	pf.IntVar(&f.lockTimeout, "lock-timeout", 0, "Lock timeout seconds (or LOCK_TIMEOUT_SEC, default 30)")
	pf.StringVar(&f.table, "table", "", "Ledger table name (default schema_nodes)")
	pf.StringVar(&f.appliedBy, "applied-by", "", "Override applied_by value")
	pf.BoolVar(&f.allowDataLoss, "allow-data-loss", false, "Allow field changes that truncate or drop stored values")
	pf.BoolVar(&f.verbose, "verbose", false, "Verbose per-node logs")
	pf.StringVar(&f.metricsFile, "metrics-textfile", "", "Write Prometheus metrics to this file after the run")
	pf.IntVar(&f.batchSize, "batch-size", 0, "Rows per backfill batch (default 500)")
	pf.IntVar(&f.parallel, "parallel", 4, "Environments migrated at once with --env all (0 means no limit)")
	pf.BoolVar(&f.catalog, "catalog", true, "Include the built-in node chains")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &planError{err: err}
	})

	root.AddCommand(
		upCmd(&a),
		downCmd(&a),
		statusCmd(&a),
		historyCmd(&a),
		planCmd(&a),
		fakeCmd(&a),
		repairCmd(&a),
		createCmd(&a),
	)
	root.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := root.ExecuteContext(ctx)
	if a.log != nil {
		if werr := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); werr != nil {
			a.log.Warn("metrics.textfile", map[string]any{"error": werr.Error(), "path": a.cfg.MetricsTextfile})
		}
		defer a.log.Sync()
	}
	return report(err)
}

func override(cmd *cobra.Command, cfg *config.Config, f flags) {
	changed := cmd.Flags().Changed
	if f.dialect != "" {
		cfg.Dialect = f.dialect
	}
	if f.dsn != "" {
		cfg.DSN = f.dsn
	}
	if f.dir != "" {
		cfg.Dir = f.dir
	}
	if changed("json") {
		cfg.JSON = f.json
	}
	if changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if f.lockTimeout > 0 {
		cfg.LockTimeoutSec = f.lockTimeout
	}
	if f.table != "" {
		cfg.LedgerTable = f.table
	}
	if f.appliedBy != "" {
		cfg.AppliedBy = f.appliedBy
	}
	if changed("allow-data-loss") {
		cfg.AllowDataLoss = f.allowDataLoss
	}
	if changed("verbose") {
		cfg.Verbose = f.verbose
	}
	if f.metricsFile != "" {
		cfg.MetricsTextfile = f.metricsFile
	}
	if f.batchSize > 0 {
		cfg.BatchSize = f.batchSize
	}
}

// planError marks failures that happen before any node runs: bad flags,
// config, unknown targets.
type planError struct{ err error }

func (e *planError) Error() string { return e.err.Error() }
func (e *planError) Unwrap() error { return e.err }

// report prints err and maps it to an exit code. The failing node id goes to
// stderr on its own line so deploy tooling can pick it up.
func report(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	code := exitCode(err)
	if code == exitFail {
		if id, ok := migrator.FailedNode(err); ok {
			fmt.Fprintln(os.Stderr, "failed node:", id)
		}
	}
	return code
}

func exitCode(err error) int {
	var (
		pe  *planError
		cfg *graph.ConfigurationError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, migrator.ErrDrift):
		return exitDrift
	case errors.Is(err, db.ErrLockTimeout):
		return exitLocked
	case errors.As(err, &cfg), errors.Is(err, migrator.ErrUnknownTarget), errors.As(err, &pe):
		return exitPlanError
	}
	return exitFail
}
