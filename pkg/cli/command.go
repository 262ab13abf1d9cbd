// Package cli builds the transfers command line: schema migrations, query
// compilation and record operations against a tenant's transfers table.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nimburion/transfers/pkg/config"
	"github.com/nimburion/transfers/pkg/failure"
	"github.com/nimburion/transfers/pkg/observability/logger"
	pgstore "github.com/nimburion/transfers/pkg/store/postgres"
)

// StoreOpener connects to the database. Tests replace it with an adapter
// over sqlmock.
type StoreOpener func(ctx context.Context, cfg pgstore.Config, log logger.Logger) (*pgstore.PostgreSQLAdapter, error)

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// OpenStore defaults to pgstore.NewPostgreSQLAdapter.
	OpenStore StoreOpener
}

type app struct {
	opts       Options
	configFile string
	secretFile string
	tenant     string
	output     string
	metrics    bool
}

// NewCommand returns the root command with every subcommand attached.
func NewCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "transfers"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.OpenStore == nil {
		opts.OpenStore = func(_ context.Context, cfg pgstore.Config, log logger.Logger) (*pgstore.PostgreSQLAdapter, error) {
			return pgstore.NewPostgreSQLAdapter(cfg, log)
		}
	}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.output != outputJSON && a.output != outputYAML {
				return fmt.Errorf("unsupported output %q (json, yaml)", a.output)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configFile, "config-file", "c", opts.ConfigPath, "config file path")
	pf.StringVar(&a.secretFile, "secret-file", "", "path to secrets file (sets "+opts.EnvPrefix+"_SECRETS_FILE)")
	pf.StringVarP(&a.tenant, "tenant", "t", "", "tenant id (defaults to transfers.default_tenant)")
	pf.StringVarP(&a.output, "output", "o", outputJSON, "output format (json, yaml)")
	pf.BoolVar(&a.metrics, "metrics", false, "write gateway metrics to stderr on exit")
	config.RegisterFlags(pf)

	root.AddCommand(
		a.versionCommand(),
		a.configCommand(),
		a.migrateCommand(),
		a.healthcheckCommand(),
		a.compileCommand(),
		a.listCommand(),
		a.getCommand(),
		a.createCommand(),
		a.updateCommand(),
		a.deleteCommand(),
	)
	return root
}

// Execute runs cmd until completion or SIGINT/SIGTERM and exits non-zero on
// failure. Failed record operations have already printed their result.
func Execute(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err, cmd.ErrOrStderr()))
}

// exitTempFail is sysexits EX_TEMPFAIL: the store was unreachable and the
// command may be retried.
const exitTempFail = 75

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var rerr *resultError
	if errors.As(err, &rerr) {
		if failure.KindOf(rerr.result.Cause).Retryable() {
			return exitTempFail
		}
		if rerr.result.HTTPStatus() >= 500 {
			return 2
		}
		return 1
	}
	fmt.Fprintln(stderr, err)
	return 1
}
