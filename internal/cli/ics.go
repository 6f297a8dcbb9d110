package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"panelcal/internal/ics"
	appLog "panelcal/internal/log"
	"panelcal/internal/model"
	"panelcal/internal/series"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored series as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				recs, err := a.svc.List(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to load series", err)
				}

				if opts.Output == "" || opts.Output == "-" {
					n, err := ics.Export(cmd.OutOrStdout(), recs, time.Now())
					if err != nil {
						return WrapExitError(ExitFailure, "failed to write calendar", err)
					}
					appLog.Info("calendar exported", "events", n, "output", "-")
					return nil
				}

				n, err := exportFile(opts.Output, recs)
				if err != nil {
					return err
				}
				appLog.Info("calendar exported", "events", n, "output", opts.Output)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "-", "output file (- for stdout)")

	return cmd
}

// exportFile writes the calendar to path.
func exportFile(path string, recs []model.RecurringEventRecord) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "failed to create output", err)
	}
	return writeAndClose(f, recs)
}

// writeAndClose exports recs to wc and closes it. A failed close means the
// output may be truncated and is reported like a failed write.
func writeAndClose(wc io.WriteCloser, recs []model.RecurringEventRecord) (int, error) {
	n, err := ics.Export(wc, recs, time.Now())
	if err != nil {
		wc.Close()
		return 0, WrapExitError(ExitFailure, "failed to write calendar", err)
	}
	if err := wc.Close(); err != nil {
		return 0, WrapExitError(ExitFailure, "failed to close output", err)
	}
	return n, nil
}

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	DryRun bool
}

type importSummary struct {
	Imported   []string      `json:"imported"`
	Duplicates []string      `json:"duplicates"`
	Skipped    []ics.Skipped `json:"skipped"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file|url>",
		Short: "Import recurring events from an iCalendar file or URL",
		Long: `Import every VEVENT whose RRULE maps onto a series.

URLs are revalidated with ETag / Last-Modified; the last good body is kept
in the configured store and reused when the server answers 304 or fails.

Example:
  panelcal import ./holidays.ics
  panelcal import https://calendar.example.com/team.ics --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				body, err := readSource(ctx, a, args[0])
				if err != nil {
					return err
				}

				res, err := ics.Parse(body, a.svc.Location())
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to parse calendar", err)
				}

				sum := importSummary{Imported: []string{}, Duplicates: []string{}, Skipped: res.Skipped}
				if sum.Skipped == nil {
					sum.Skipped = []ics.Skipped{}
				}
				for _, rec := range res.Records {
					if opts.DryRun {
						sum.Imported = append(sum.Imported, rec.ID)
						continue
					}
					_, err := a.svc.Create(ctx, rec)
					switch {
					case err == nil:
						sum.Imported = append(sum.Imported, rec.ID)
					case errors.Is(err, series.ErrDuplicateID):
						sum.Duplicates = append(sum.Duplicates, rec.ID)
					case errors.Is(err, series.ErrInvalidRecord):
						sum.Skipped = append(sum.Skipped, ics.Skipped{UID: rec.ID, Reason: err.Error()})
					default:
						return WrapExitError(ExitFailure, "failed to save series", err)
					}
				}

				if out.Format == "json" {
					return out.JSON(sum)
				}
				verb := "imported"
				if opts.DryRun {
					verb = "would import"
				}
				return out.Message(verb, "series", len(sum.Imported), "duplicates", len(sum.Duplicates), "skipped", len(sum.Skipped))
			})
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "parse and report without saving")

	return cmd
}

func readSource(ctx context.Context, a *app, src string) ([]byte, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		res, err := ics.NewFetcher(nil, a.kv).Fetch(ctx, src)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "failed to fetch calendar", err)
		}
		return res.Body, nil
	}
	body, err := os.ReadFile(src)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read calendar", err)
	}
	return body, nil
}
