package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"panelcal/internal/config"
	appLog "panelcal/internal/log"
	"panelcal/internal/series"
	"panelcal/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the panelcal CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "panelcal",
		Short: "panelcal - recurring event series",
		Long: `Stores recurring event series and resolves which of them occur on a
given calendar date.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "./panelcal.yaml", "path to YAML config (created on first run)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "optional .env file with PANELCAL_* overrides")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewOnCommand(opts))
	cmd.AddCommand(NewBetweenCommand(opts))
	cmd.AddCommand(NewNextCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewSkipCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// app is the wiring shared by every command: effective config, the open
// store and the series service on top of it.
type app struct {
	cfg *config.Config
	kv  store.KV
	svc *series.Service
}

// openApp loads config (YAML, then .env and PANELCAL_* overrides),
// configures logging and opens the store.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	if opts.EnvFile != "" {
		if err := config.LoadDotEnv(opts.EnvFile); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load env file", err)
		}
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid environment override", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	lvl := appLog.ParseLevel(cfg.LogLevel)
	if opts.Verbose {
		lvl = appLog.LevelDebug
	}
	if err := appLog.Configure(lvl, cfg.LogFormat); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid timezone", err)
	}

	kv, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open store", err)
	}

	svc := series.NewService(store.NewRecordStore(kv),
		series.WithLocation(loc),
		series.WithMaxRangeDays(cfg.MaxRangeDays),
	)
	return &app{cfg: cfg, kv: kv, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.kv.Close(); err != nil {
		appLog.Error("store close failed", err)
	}
	appLog.Sync()
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app, out *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, NewOutputFormatter(opts.Format, cmd.OutOrStdout()))
}
