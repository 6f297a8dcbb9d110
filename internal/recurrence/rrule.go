package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"panelcal/internal/model"
)

// ErrNoWeekdays is returned when a weekly rule lists only out-of-range
// weekday numbers, which can never match.
var ErrNoWeekdays = errors.New("recurrence: weekly rule has no valid weekdays")

// clampFloor is the largest day-of-month every month has.
const clampFloor = 28

var weekdayToRRule = [7]rrule.Weekday{
	rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA,
}

// ToROption projects rule onto RFC 5545 recurrence options. DTSTART and
// UNTIL are UTC midnights of the stored calendar dates, and weeks start on
// Sunday to agree with the matcher's week alignment.
//
// Monthly rules anchored after the 28th become BYMONTHDAY=28..d with
// BYSETPOS=-1, which picks the anchor day when the month has it and the
// last day otherwise.
func ToROption(rule model.RecurrenceRule) (rrule.ROption, error) {
	p, start, err := Compile(rule, time.UTC)
	if err != nil {
		return rrule.ROption{}, err
	}

	opt := rrule.ROption{
		Dtstart:  start,
		Interval: 1,
		Wkst:     rrule.SU,
	}

	if rule.EndDate != "" {
		until, err := model.ParseDate(rule.EndDate, time.UTC)
		if err != nil {
			return rrule.ROption{}, err
		}
		opt.Until = until
	}

	switch v := p.(type) {
	case Daily:
		opt.Freq = rrule.DAILY
		opt.Interval = v.Interval
	case Weekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = v.Interval
		if len(v.Days) == 0 {
			opt.Byweekday = []rrule.Weekday{weekdayToRRule[start.Weekday()]}
			break
		}
		for _, d := range v.Days {
			if d < time.Sunday || d > time.Saturday {
				continue
			}
			opt.Byweekday = append(opt.Byweekday, weekdayToRRule[d])
		}
		if len(opt.Byweekday) == 0 {
			return rrule.ROption{}, ErrNoWeekdays
		}
	case Monthly:
		opt.Freq = rrule.MONTHLY
		opt.Interval = v.Interval
		day := start.Day()
		if day <= clampFloor {
			opt.Bymonthday = []int{day}
			break
		}
		for d := clampFloor; d <= day; d++ {
			opt.Bymonthday = append(opt.Bymonthday, d)
		}
		opt.Bysetpos = []int{-1}
	case Weekdays:
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}
	default:
		return rrule.ROption{}, fmt.Errorf("%w: %q", ErrUnsupportedType, rule.Type)
	}

	return opt, nil
}

// ToRRule builds the rrule-go recurrence for rule.
func ToRRule(rule model.RecurrenceRule) (*rrule.RRule, error) {
	opt, err := ToROption(rule)
	if err != nil {
		return nil, err
	}
	return rrule.NewRRule(opt)
}

// RuleSet is ToRRule plus one EXDATE per exception.
func RuleSet(rule model.RecurrenceRule) (*rrule.Set, error) {
	r, err := ToRRule(rule)
	if err != nil {
		return nil, err
	}

	set := &rrule.Set{}
	set.RRule(r)
	for _, ex := range rule.Exceptions.Sorted() {
		t, err := model.ParseDate(ex, time.UTC)
		if err != nil {
			// Unparseable exceptions can never equal a target date.
			continue
		}
		set.ExDate(t)
	}
	return set, nil
}

// NextAfter returns the first occurrence date strictly after the calendar
// date of after.
func NextAfter(rule model.RecurrenceRule, after time.Time) (string, bool, error) {
	set, err := RuleSet(rule)
	if err != nil {
		return "", false, err
	}
	y, m, d := after.Date()
	next := set.After(time.Date(y, m, d, 0, 0, 0, 0, time.UTC), false)
	if next.IsZero() {
		return "", false, nil
	}
	return model.FormatDate(next), true, nil
}
