package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirajehossain/graphmigrate/internal/fsutil"
	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/migrator"
	"github.com/mirajehossain/graphmigrate/internal/nodefile"
)

// args wraps a cobra validator so bad arguments exit like other plan errors.
func args(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, a []string) error {
		if err := v(cmd, a); err != nil {
			return &planError{err: err}
		}
		return nil
	}
}

func upCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "up [module] [node]",
		Short: "Apply pending nodes, or only those needed to reach module's node",
		Long: `Apply pending nodes in dependency order.

With a module, only the nodes needed to reach that module's leaf are applied;
with a node name too, the nodes needed to reach that node.`,
		Args: args(cobra.MaximumNArgs(2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			var t graph.Target
			if len(argv) > 0 {
				t.Module = argv[0]
			}
			if len(argv) > 1 {
				t.Name = argv[1]
			}
			return a.each(cmd.Context(), true, func(ctx context.Context, s *session) error {
				return up(ctx, s, t, a.cfg.DryRun)
			})
		},
	}
}

func up(ctx context.Context, s *session, t graph.Target, dryRun bool) error {
	plan, err := s.runner.Plan(ctx, t)
	if err != nil {
		if errors.Is(err, migrator.ErrDrift) {
			s.log.Error("drift detected", map[string]any{"error": err.Error()})
		} else {
			s.log.Error("plan failed", map[string]any{"error": err.Error()})
		}
		return err
	}
	if len(plan.Pending) == 0 {
		s.log.Info("no pending nodes", map[string]any{"target": t.String()})
		return nil
	}
	if dryRun {
		for _, id := range plan.Pending {
			s.log.Info("plan.apply", map[string]any{"module": id.Module, "node": id.Name})
		}
	}
	recs, err := s.runner.ApplyUp(ctx, plan, progress(s.log, "migrate", dryRun))
	if err != nil {
		s.log.Error("up failed", map[string]any{"error": err.Error(), "applied": len(recs)})
		return err
	}
	s.log.Info("up complete", map[string]any{"applied": len(recs), "dry_run": dryRun, "run_id": s.runner.RunID})
	return nil
}

func downCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "down <n|all|module:node|module:zero>",
		Short: "Revert applied nodes, dependents first",
		Long: `Revert applied nodes. The target is one of:

  n             the n most recently applied nodes
  all           every applied node
  module:node   every node of module after node (node stays applied)
  module:zero   every node of module

Applied nodes of other modules that depend on a reverted node are reverted
first. Nothing runs unless every selected node is reversible.`,
		Args: args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			t, err := migrator.ParseDownTarget(argv[0])
			if err != nil {
				return err
			}
			return a.each(cmd.Context(), true, func(ctx context.Context, s *session) error {
				ids, err := s.runner.PlanDown(ctx, t)
				if err != nil {
					s.log.Error("down plan failed", map[string]any{"error": err.Error()})
					return err
				}
				if len(ids) == 0 {
					s.log.Info("nothing to roll back", nil)
					return nil
				}
				if a.cfg.DryRun {
					for _, id := range ids {
						s.log.Info("plan.rollback", map[string]any{"module": id.Module, "node": id.Name})
					}
				}
				recs, err := s.runner.ApplyDown(ctx, ids, progress(s.log, "migrate.down", a.cfg.DryRun))
				if err != nil {
					s.log.Error("down failed", map[string]any{"error": err.Error(), "reverted": len(recs)})
					return err
				}
				s.log.Info("down complete", map[string]any{"reverted": len(recs), "dry_run": a.cfg.DryRun})
				return nil
			})
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied, pending and drifted nodes",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.each(cmd.Context(), false, func(ctx context.Context, s *session) error {
				rows, err := s.runner.Status(ctx)
				if err != nil {
					return err
				}
				drift := printStatus(os.Stdout, s.env.Name, rows, a.cfg.JSON)
				s.log.Info("status.summary", map[string]any{
					"total":   len(rows),
					"applied": countApplied(rows),
					"pending": len(rows) - countApplied(rows),
					"drift":   drift,
				})
				if drift > 0 {
					return fmt.Errorf("%w: %d node(s), run repair to accept", migrator.ErrDrift, drift)
				}
				return nil
			})
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	var run int64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs, or one run's ledger rows and the schema it left behind",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.each(cmd.Context(), false, func(ctx context.Context, s *session) error {
				if run <= 0 {
					runs, err := s.runner.Ledger.Runs(ctx)
					if err != nil {
						return err
					}
					printRuns(os.Stdout, runs, a.cfg.JSON)
					return nil
				}
				recs, err := s.runner.Ledger.History(ctx)
				if err != nil {
					return err
				}
				printRecords(os.Stdout, recs, run, a.cfg.JSON)
				st, ids, err := s.runner.SchemaAt(ctx, run)
				if err != nil {
					return err
				}
				printSchema(os.Stdout, st, ids, a.cfg.JSON)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&run, "run", 0, "Run number to show")
	return cmd
}

func planCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "plan [module] [node]",
		Short: "Print the SQL up would run, without running it",
		Args:  args(cobra.MaximumNArgs(2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			var t graph.Target
			if len(argv) > 0 {
				t.Module = argv[0]
			}
			if len(argv) > 1 {
				t.Name = argv[1]
			}
			a.cfg.DryRun = true
			once := func(ctx context.Context) error {
				return a.each(ctx, false, func(ctx context.Context, s *session) error {
					return up(ctx, s, t, true)
				})
			}
			ctx := cmd.Context()
			if err := once(ctx); err != nil && !watch {
				return err
			}
			if !watch {
				return nil
			}
			a.log.Info("plan.watch", map[string]any{"dir": a.cfg.Dir})
			return fsutil.Watch(ctx, a.cfg.Dir, 300*time.Millisecond,
				func() {
					if err := once(ctx); err != nil {
						a.log.Error("plan failed", map[string]any{"error": err.Error()})
					}
				},
				func(err error) {
					a.log.Warn("plan.watch_error", map[string]any{"error": err.Error()})
				})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-plan whenever node files change")
	return cmd
}

func fakeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fake <module[:node]>",
		Short: "Record nodes as applied without running them",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			t := graph.Target{Module: argv[0]}
			if strings.Contains(argv[0], ":") {
				id, err := graph.ParseNodeID(argv[0])
				if err != nil {
					return fmt.Errorf("%w: %w", migrator.ErrUnknownTarget, err)
				}
				t = graph.Target{Module: id.Module, Name: id.Name}
			}
			return a.each(cmd.Context(), true, func(ctx context.Context, s *session) error {
				recs, err := s.runner.Fake(ctx, t)
				if err != nil {
					s.log.Error("fake failed", map[string]any{"error": err.Error()})
					return err
				}
				for _, rec := range recs {
					s.log.Info("fake.applied", map[string]any{"module": rec.Module, "node": rec.Node})
				}
				s.log.Info("fake complete", map[string]any{"count": len(recs), "dry_run": a.cfg.DryRun})
				return nil
			})
		},
	}
}

func repairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Accept the current definition of drifted nodes",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.each(cmd.Context(), true, func(ctx context.Context, s *session) error {
				recs, err := s.runner.Repair(ctx)
				if err != nil {
					s.log.Error("repair failed", map[string]any{"error": err.Error()})
					return err
				}
				for _, rec := range recs {
					s.log.Info("repair.node", map[string]any{"module": rec.Module, "node": rec.Node, "checksum": rec.Checksum})
				}
				s.log.Info("repair complete", map[string]any{"updated": len(recs), "dry_run": a.cfg.DryRun})
				return nil
			})
		},
	}
}

func createCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <module> <name...>",
		Short: "Write an empty node file that depends on the module's latest node",
		Args:  args(cobra.MinimumNArgs(2)),
		RunE: func(_ *cobra.Command, argv []string) error {
			_, files, err := a.scan()
			if err != nil {
				return err
			}
			path, err := nodefile.Scaffold(a.cfg.Dir, files, argv[0], strings.Join(argv[1:], " "))
			if err != nil {
				a.log.Error("create failed", map[string]any{"error": err.Error()})
				return err
			}
			a.log.Info("created node file", map[string]any{"path": path})
			return nil
		},
	}
}
