package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/nimburion/transfers/pkg/configschema"
	"github.com/nimburion/transfers/pkg/health"
	"github.com/nimburion/transfers/pkg/migrate"
	"github.com/nimburion/transfers/pkg/version"
)

// errUnhealthy is returned after an unhealthy report was printed.
var errUnhealthy = errors.New("transfers store is unhealthy")

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			latest, err := migrate.LatestVersion()
			if err != nil {
				return err
			}
			return a.write(cmd.OutOrStdout(), version.Current(a.opts.Name, latest))
		},
	}
}

func (a *app) configCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.load(cmd); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.load(cmd)
			if err != nil {
				return err
			}
			cfg := rt.cfg
			if !showSecrets {
				cfg = cfg.Redacted(rt.secrets)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)

	configCmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := configschema.Build()
			if err != nil {
				return err
			}
			return a.write(cmd.OutOrStdout(), schema)
		},
	})
	return configCmd
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down|status] [steps]",
		Short: "Manage the tenant's transfers schema",
		Long: "Applies, reverts or lists the embedded schema migrations for the tenant\n" +
			"selected with --tenant. down reverts one migration unless steps is given.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd, rt)

			manager, err := rt.migrations(a.tenant)
			if err != nil {
				return err
			}
			status, err := migrate.Run(cmd.Context(), args, migrate.Options{
				Schema:  manager.Schema(),
				Timeout: rt.cfg.Database.MigrateTimeout,
				Logger:  rt.log,
			}, manager.Operations())
			if err != nil {
				return err
			}
			if status == nil {
				if status, err = manager.Status(cmd.Context()); err != nil {
					return err
				}
			}
			return a.write(cmd.OutOrStdout(), status)
		},
	}
}

func (a *app) healthcheckCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the database and the tenant's schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd, rt)

			manager, err := rt.migrations(a.tenant)
			if err != nil {
				return err
			}
			reg := health.NewRegistry()
			reg.Register(health.NewStoreChecker(rt.store, timeout))
			reg.Register(health.NewSchemaChecker(manager.Schema(), manager.Status, timeout))

			report := reg.Check(cmd.Context())
			if err := a.write(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Status == health.StatusUnhealthy {
				rt.log.Error("healthcheck failed", "status", report.Status)
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "timeout per check")
	return cmd
}
