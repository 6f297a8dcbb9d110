package recurrence

import (
	"errors"
	"fmt"
	"time"

	"panelcal/internal/model"
)

var (
	// ErrUnsupportedType is returned for NONE and unrecognized rule types.
	ErrUnsupportedType = errors.New("recurrence: unsupported rule type")
	// ErrInvalidInterval is returned when a stepped rule has interval <= 0.
	ErrInvalidInterval = errors.New("recurrence: interval must be positive")
	// ErrMissingStart is returned when a rule has no usable startDate.
	ErrMissingStart = errors.New("recurrence: rule has no start date")
)

// Pattern decides whether a target date is an occurrence of a series that
// starts on start. Implementations compare calendar dates only.
type Pattern interface {
	Type() model.RuleType
	Matches(start, target time.Time) bool
}

// Daily matches every Interval-th day from the start date.
type Daily struct {
	Interval int
}

// Weekly matches selected weekdays in every Interval-th week, with weeks
// starting on Sunday and counted from the start date's week.
type Weekly struct {
	Interval int
	// Days is empty when the series repeats on the start date's weekday.
	Days []time.Weekday
}

// Monthly matches the start date's day-of-month in every Interval-th
// month, clamped to the last day of shorter months.
type Monthly struct {
	Interval int
}

// Weekdays matches Monday through Friday.
type Weekdays struct{}

// NewPattern builds the variant for t. interval and daysOfWeek are only
// consulted by the variants that use them.
func NewPattern(t model.RuleType, interval int, daysOfWeek []int) (Pattern, error) {
	switch t {
	case model.RuleDaily:
		if interval <= 0 {
			return nil, ErrInvalidInterval
		}
		return Daily{Interval: interval}, nil
	case model.RuleWeekly:
		if interval <= 0 {
			return nil, ErrInvalidInterval
		}
		days := make([]time.Weekday, 0, len(daysOfWeek))
		for _, d := range daysOfWeek {
			days = append(days, time.Weekday(d))
		}
		return Weekly{Interval: interval, Days: days}, nil
	case model.RuleMonthly:
		if interval <= 0 {
			return nil, ErrInvalidInterval
		}
		return Monthly{Interval: interval}, nil
	case model.RuleWeekdays:
		return Weekdays{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
}

// Compile parses the start date of rule and builds its pattern.
func Compile(rule model.RecurrenceRule, loc *time.Location) (Pattern, time.Time, error) {
	if rule.StartDate == "" {
		return nil, time.Time{}, ErrMissingStart
	}
	start, err := model.ParseDate(rule.StartDate, loc)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrMissingStart, err)
	}
	p, err := NewPattern(rule.Type, rule.EffectiveInterval(), rule.DaysOfWeek)
	if err != nil {
		return nil, time.Time{}, err
	}
	return p, start, nil
}

// Matches reports whether target is an occurrence of the described
// pattern. Malformed input (zero start, bad interval, unknown type) never
// matches.
func Matches(t model.RuleType, start, target time.Time, interval int, daysOfWeek []int) bool {
	if start.IsZero() {
		return false
	}
	p, err := NewPattern(t, interval, daysOfWeek)
	if err != nil {
		return false
	}
	return p.Matches(start, target)
}

func (Daily) Type() model.RuleType { return model.RuleDaily }

func (p Daily) Matches(start, target time.Time) bool {
	days := model.DaysBetween(start, target)
	return days >= 0 && days%p.Interval == 0
}

func (Weekly) Type() model.RuleType { return model.RuleWeekly }

func (p Weekly) Matches(start, target time.Time) bool {
	start, target = model.Midnight(start), model.Midnight(target)

	if len(p.Days) > 0 {
		if !containsWeekday(p.Days, target.Weekday()) {
			return false
		}
	} else if target.Weekday() != start.Weekday() {
		return false
	}

	startWeek := start.AddDate(0, 0, -int(start.Weekday()))
	targetWeek := target.AddDate(0, 0, -int(target.Weekday()))
	// Both anchors are Sundays, so the day count is an exact multiple of 7.
	weeks := model.DaysBetween(startWeek, targetWeek) / 7
	return weeks >= 0 && weeks%p.Interval == 0
}

func (Monthly) Type() model.RuleType { return model.RuleMonthly }

func (p Monthly) Matches(start, target time.Time) bool {
	ty, tm, td := target.Date()
	sy, sm, sd := start.Date()

	want := sd
	if last := model.DaysInMonth(ty, tm); want > last {
		want = last
	}
	if td != want {
		return false
	}

	months := (ty-sy)*12 + int(tm-sm)
	return months >= 0 && months%p.Interval == 0
}

func (Weekdays) Type() model.RuleType { return model.RuleWeekdays }

func (Weekdays) Matches(_, target time.Time) bool {
	wd := target.Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

func containsWeekday(days []time.Weekday, wd time.Weekday) bool {
	for _, d := range days {
		if d == wd {
			return true
		}
	}
	return false
}
