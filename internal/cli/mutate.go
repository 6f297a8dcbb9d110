package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"panelcal/internal/model"
	"panelcal/internal/series"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	ID          string
	Title       string
	Type        string
	Start       string
	End         string
	Interval    int
	Days        []int
	StartTime   string
	EndTime     string
	Description string
	Location    string
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a recurring series",
		Long: `Create a recurring series.

Example:
  panelcal add --title "Gym" --type WEEKLY --start 2025-01-06 --days 1,3
  panelcal add --title "Rent" --type MONTHLY --start 2025-01-31
  panelcal add --title "Standup" --type WEEKDAYS --start 2025-01-01 --start-time 09:30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				rec := opts.record(cmd.Flags().Changed("interval"))
				created, err := a.svc.Create(ctx, rec)
				if err != nil {
					if errors.Is(err, series.ErrInvalidRecord) || errors.Is(err, series.ErrDuplicateID) {
						return WrapExitError(ExitCommandError, "series rejected", err)
					}
					return WrapExitError(ExitFailure, "failed to save series", err)
				}
				if out.Format == "json" {
					return out.JSON(created)
				}
				return out.Message("series created", "id", created.ID)
			})
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "series id (default: generated uuid)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "series title (required)")
	cmd.Flags().StringVar(&opts.Type, "type", string(model.RuleDaily), "DAILY|WEEKLY|MONTHLY|WEEKDAYS")
	cmd.Flags().StringVar(&opts.Start, "start", "", "first date YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&opts.End, "end", "", "last date YYYY-MM-DD, inclusive")
	cmd.Flags().IntVar(&opts.Interval, "interval", 1, "step in days, weeks or months")
	cmd.Flags().IntSliceVar(&opts.Days, "days", nil, "weekdays for WEEKLY, 0=Sunday..6=Saturday")
	cmd.Flags().StringVar(&opts.StartTime, "start-time", "", "start time HH:MM")
	cmd.Flags().StringVar(&opts.EndTime, "end-time", "", "end time HH:MM")
	cmd.Flags().StringVar(&opts.Description, "description", "", "free-form description")
	cmd.Flags().StringVar(&opts.Location, "location", "", "free-form location")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")

	return cmd
}

func (o *AddOptions) record(intervalSet bool) model.RecurringEventRecord {
	rule := &model.RecurrenceRule{
		Type:       model.RuleType(strings.ToUpper(o.Type)),
		StartDate:  o.Start,
		EndDate:    o.End,
		DaysOfWeek: o.Days,
	}
	if intervalSet {
		interval := o.Interval
		rule.Interval = &interval
	}
	return model.RecurringEventRecord{
		ID:          o.ID,
		Title:       o.Title,
		StartTime:   o.StartTime,
		EndTime:     o.EndTime,
		Description: o.Description,
		Location:    o.Location,
		Recurrence:  rule,
	}
}

// NewSkipCommand creates the skip command.
func NewSkipCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <id> <date>",
		Short: "Suppress one occurrence of a series",
		Long: `Add an exception so the series no longer occurs on the given date.
Skipping an unknown series or an already skipped date changes nothing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				if err := a.svc.AddException(ctx, args[0], args[1]); err != nil {
					if errors.Is(err, model.ErrInvalidDate) {
						return WrapExitError(ExitCommandError, "invalid date", err)
					}
					return WrapExitError(ExitFailure, "failed to add exception", err)
				}
				return out.Message("exception recorded", "id", args[0], "date", args[1])
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				if err := a.svc.DeleteSeries(ctx, args[0]); err != nil {
					return WrapExitError(ExitFailure, "failed to delete series", err)
				}
				return out.Message("series deleted", "id", args[0])
			})
		},
	}
}
