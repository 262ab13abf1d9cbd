// Package migrate manages the per-tenant transfers schema.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimburion/transfers/pkg/observability/logger"
)

const (
	defaultSubcommand = "up"
	defaultSteps      = 1
	defaultTimeout    = 60 * time.Second
)

// PendingMigration is an unapplied migration.
type PendingMigration struct {
	Version int64  `json:"version" yaml:"version"`
	Name    string `json:"name" yaml:"name"`
}

// Status lists applied and pending migrations of one schema.
type Status struct {
	Schema          string             `json:"schema" yaml:"schema"`
	AppliedVersions []int64            `json:"applied" yaml:"applied"`
	Pending         []PendingMigration `json:"pending" yaml:"pending"`
}

// Operations are the hooks a migrate command drives.
type Operations struct {
	Up     func(ctx context.Context) (int, error)
	Down   func(ctx context.Context, steps int) (int, error)
	Status func(ctx context.Context) (*Status, error)
}

// Options configures a migrate command.
type Options struct {
	Schema  string
	Timeout time.Duration
	Logger  logger.Logger
}

// Run parses [up|down|status] [steps] and executes the command.
func Run(ctx context.Context, args []string, opts Options, ops Operations) (*Status, error) {
	subcommand, steps, err := ParseArgs(args)
	if err != nil {
		return nil, err
	}
	return RunParsed(ctx, subcommand, steps, opts, ops)
}

// RunParsed executes a parsed migrate command under opts.Timeout. The status
// subcommand returns the schema status; up and down return nil.
func RunParsed(ctx context.Context, subcommand string, steps int, opts Options, ops Operations) (*Status, error) {
	if opts.Logger == nil {
		return nil, errors.New("migration logger is required")
	}
	if ops.Up == nil || ops.Down == nil || ops.Status == nil {
		return nil, errors.New("migration operations are incomplete")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := opts.Logger.With("schema", opts.Schema)
	switch subcommand {
	case "up":
		applied, err := ops.Up(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("migrations applied", "count", applied)
		return nil, nil
	case "down":
		if steps <= 0 {
			return nil, errors.New("steps must be greater than zero")
		}
		reverted, err := ops.Down(ctx, steps)
		if err != nil {
			return nil, err
		}
		log.Info("migrations reverted", "count", reverted, "steps", steps)
		return nil, nil
	case "status":
		status, err := ops.Status(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("migration status", "applied", len(status.AppliedVersions), "pending", len(status.Pending))
		return status, nil
	default:
		return nil, fmt.Errorf("usage: migrate [up|down|status] [steps], got %q", subcommand)
	}
}

// ParseArgs parses [up|down|status] [steps], defaulting to "up" and one step.
func ParseArgs(args []string) (string, int, error) {
	subcommand := defaultSubcommand
	if len(args) > 0 {
		subcommand = args[0]
	}
	steps := defaultSteps
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid down steps %q", args[1])
		}
		steps = parsed
	}
	return subcommand, steps, nil
}
