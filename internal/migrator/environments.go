package migrator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mirajehossain/graphmigrate/internal/config"
)

// EnvironmentError is the failure of one environment in a fan-out.
type EnvironmentError struct {
	Env string
	Err error
}

func (e *EnvironmentError) Error() string { return fmt.Sprintf("env %s: %v", e.Env, e.Err) }
func (e *EnvironmentError) Unwrap() error { return e.Err }

// RunEnvironments calls fn once per environment, in parallel, with at most
// limit running at a time (0 means no limit). Environments are independent:
// a failure in one does not cancel the others mid-node. The returned error
// joins every failure in envs order.
func RunEnvironments(ctx context.Context, envs []config.Environment, limit int, fn func(context.Context, config.Environment) error) error {
	if len(envs) == 1 {
		if err := fn(ctx, envs[0]); err != nil {
			return &EnvironmentError{Env: envs[0].Name, Err: err}
		}
		return nil
	}
	var g errgroup.Group
	// indexed like envs
	errs := make([]error, len(envs))
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, env := range envs {
		i, env := i, env
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = fn(ctx, env)
			}
			if err != nil {
				errs[i] = &EnvironmentError{Env: env.Name, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
