package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"panelcal/internal/agenda"
	appLog "panelcal/internal/log"
	"panelcal/internal/web"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the agenda job",
		Long: `Serve the JSON API until SIGINT/SIGTERM.

When agenda_cron is set (default "0 7 * * *", "-" disables it) the day's
occurrences are also logged on that schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides config if set)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Listen != "" {
		a.cfg.Listen = opts.Listen
	}

	appLog.Info("effective config",
		"listen", a.cfg.Listen,
		"timezone", a.svc.Location().String(),
		"store", a.cfg.Store.Backend,
		"max_range_days", a.cfg.MaxRangeDays,
		"agenda_cron", a.cfg.AgendaCron,
		"basic_auth", a.cfg.BasicAuth != nil,
	)

	if a.cfg.AgendaEnabled() {
		sched, err := agenda.NewScheduler(a.svc.Location(), a.cfg.AgendaCron, agenda.NewJob(a.svc))
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid agenda schedule", err)
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	srv := web.NewServer(a.cfg, a.svc, web.NewMetrics())
	if err := web.Run(ctx, a.cfg.Listen, srv.Handler(), shutdownTimeout); err != nil {
		return WrapExitError(ExitFailure, "http server failed", err)
	}
	appLog.Info("panelcal exiting")
	return nil
}
