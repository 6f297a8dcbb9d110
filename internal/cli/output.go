package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"panelcal/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Storage or runtime failure
	ExitCommandError = 2 // Bad arguments, config or input
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

func NewOutputFormatter(format string, w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: format, Writer: w}
}

// JSON writes v as indented JSON.
func (f *OutputFormatter) JSON(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Instances prints resolved occurrences, one per line in text mode.
func (f *OutputFormatter) Instances(instances []model.Instance) error {
	if f.Format == "json" {
		if instances == nil {
			instances = []model.Instance{}
		}
		return f.JSON(instances)
	}
	if len(instances) == 0 {
		_, err := fmt.Fprintln(f.Writer, "no occurrences")
		return err
	}
	for _, inst := range instances {
		if _, err := fmt.Fprintf(f.Writer, "%s  %-12s %s%s\n",
			inst.InstanceDate, inst.OriginalID, inst.Title, clockSuffix(inst.StartTime, inst.EndTime)); err != nil {
			return err
		}
	}
	return nil
}

// Records prints stored series.
func (f *OutputFormatter) Records(recs []model.RecurringEventRecord) error {
	if f.Format == "json" {
		if recs == nil {
			recs = []model.RecurringEventRecord{}
		}
		return f.JSON(recs)
	}
	if len(recs) == 0 {
		_, err := fmt.Fprintln(f.Writer, "no series")
		return err
	}
	for _, rec := range recs {
		if _, err := fmt.Fprintf(f.Writer, "%-12s %-28s %s\n", rec.ID, rec.Title, describeRule(rec.Recurrence)); err != nil {
			return err
		}
	}
	return nil
}

// Message prints a short status line, or {"status": msg} in JSON mode.
func (f *OutputFormatter) Message(msg string, kv ...any) error {
	if f.Format == "json" {
		out := map[string]any{"status": msg}
		for i := 0; i+1 < len(kv); i += 2 {
			out[fmt.Sprint(kv[i])] = kv[i+1]
		}
		return f.JSON(out)
	}
	line := msg
	for i := 0; i+1 < len(kv); i += 2 {
		line += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	_, err := fmt.Fprintln(f.Writer, line)
	return err
}

func clockSuffix(start, end string) string {
	switch {
	case start != "" && end != "":
		return "  " + start + "-" + end
	case start != "":
		return "  " + start
	default:
		return ""
	}
}

func describeRule(rule *model.RecurrenceRule) string {
	if rule == nil || rule.Type == model.RuleNone {
		return "-"
	}
	s := fmt.Sprintf("%s from %s", rule.Type, rule.StartDate)
	if n := rule.EffectiveInterval(); n != 1 {
		s += fmt.Sprintf(" every %d", n)
	}
	if len(rule.DaysOfWeek) > 0 {
		s += fmt.Sprintf(" on %v", rule.DaysOfWeek)
	}
	if rule.EndDate != "" {
		s += " until " + rule.EndDate
	}
	if n := len(rule.Exceptions); n > 0 {
		s += fmt.Sprintf(" (%d skipped)", n)
	}
	return s
}
