package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"panelcal/internal/model"
	"panelcal/internal/series"
)

// NewOnCommand creates the on command.
func NewOnCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "on [date]",
		Short: "List occurrences on a date (default today)",
		Long: `List every series that occurs on the given calendar date.

Example:
  panelcal on
  panelcal on 2025-01-03 --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				day, err := dateArg(a.svc, args, 0)
				if err != nil {
					return err
				}
				instances, err := a.svc.OccurrencesOn(ctx, day)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to resolve occurrences", err)
				}
				return out.Instances(instances)
			})
		},
	}
}

// NewBetweenCommand creates the between command.
func NewBetweenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "between <from> <to>",
		Short: "List occurrences in an inclusive date range",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				from, err := dateArg(a.svc, args, 0)
				if err != nil {
					return err
				}
				to, err := dateArg(a.svc, args, 1)
				if err != nil {
					return err
				}
				instances, err := a.svc.OccurrencesBetween(ctx, from, to)
				if err != nil {
					if errors.Is(err, series.ErrInvalidRange) || errors.Is(err, series.ErrRangeTooLarge) {
						return WrapExitError(ExitCommandError, "invalid range", err)
					}
					return WrapExitError(ExitFailure, "failed to resolve occurrences", err)
				}
				return out.Instances(instances)
			})
		},
	}
}

// NextOptions holds flags for the next command.
type NextOptions struct {
	*RootOptions
	After string
}

// NewNextCommand creates the next command.
func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "next <id>",
		Short: "Show the next occurrence of a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				after, err := parseDateFlag(a.svc, opts.After)
				if err != nil {
					return err
				}
				next, found, err := a.svc.NextOccurrence(ctx, args[0], after)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to load series", err)
				}
				if !found {
					return out.Message("no upcoming occurrence", "id", args[0])
				}
				return out.Message("next occurrence", "id", args[0], "date", next)
			})
		},
	}

	cmd.Flags().StringVar(&opts.After, "after", "", "reference date, exclusive (default today)")

	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				recs, err := a.svc.List(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to load series", err)
				}
				return out.Records(recs)
			})
		},
	}
}

// dateArg parses args[i] as a date in the service zone, or today when the
// argument is absent.
func dateArg(svc *series.Service, args []string, i int) (time.Time, error) {
	if i >= len(args) {
		return parseDateFlag(svc, "")
	}
	return parseDateFlag(svc, args[i])
}

func parseDateFlag(svc *series.Service, v string) (time.Time, error) {
	if v == "" {
		return model.Midnight(time.Now().In(svc.Location())), nil
	}
	d, err := svc.ParseDate(v)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "invalid date", err)
	}
	return d, nil
}
