package ics

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "panelcal/internal/log"
	"panelcal/internal/model"
)

var (
	// ErrEmptyCalendar is returned for an empty payload.
	ErrEmptyCalendar = errors.New("ics: empty calendar body")
	// ErrUnsupportedRule marks an RRULE with no record equivalent.
	ErrUnsupportedRule = errors.New("ics: unsupported recurrence rule")
)

// Skipped describes a VEVENT that could not become a record.
type Skipped struct {
	UID    string
	Reason string
}

// ImportResult holds the records recovered from a calendar in document
// order.
type ImportResult struct {
	Records []model.RecurringEventRecord
	Skipped []Skipped
}

// Parse maps every recurring VEVENT in body to a record. Dates are read in
// loc; nil means time.Local.
func Parse(body []byte, loc *time.Location) (ImportResult, error) {
	var res ImportResult
	if len(bytes.TrimSpace(body)) == 0 {
		return res, ErrEmptyCalendar
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("ics: parse: %w", err)
	}

	for _, ve := range cal.Events() {
		rec, err := parseVEvent(ve, loc)
		if err != nil {
			uid := propValue(ve, ical.ComponentPropertyUniqueId)
			appLog.Debug("ics vevent skipped", "uid", uid, "reason", err.Error())
			res.Skipped = append(res.Skipped, Skipped{UID: uid, Reason: err.Error()})
			continue
		}
		res.Records = append(res.Records, rec)
	}

	appLog.Info("ics parse completed", "record_count", len(res.Records), "skipped", len(res.Skipped))
	return res, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.RecurringEventRecord, error) {
	var rec model.RecurringEventRecord

	if ve.GetProperty("RECURRENCE-ID") != nil {
		return rec, errors.New("recurrence override")
	}
	rawRule := propValue(ve, ical.ComponentPropertyRrule)
	if rawRule == "" {
		return rec, errors.New("not recurring")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return rec, errors.New("missing DTSTART")
	}
	allDay := isAllDay(dtStart)

	var start time.Time
	var shift int
	var err error
	if allDay {
		start, err = time.ParseInLocation(icsDate, strings.TrimSpace(dtStart.Value), loc)
	} else {
		start, shift, err = parseWhen(dtStart, loc, func() (time.Time, error) { return ve.GetStartAt() })
	}
	if err != nil {
		return rec, err
	}

	rec.ID = propValue(ve, ical.ComponentPropertyUniqueId)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Title = propValue(ve, ical.ComponentPropertySummary)
	rec.Description = propValue(ve, ical.ComponentPropertyDescription)
	rec.Location = propValue(ve, ical.ComponentPropertyLocation)

	if !allDay {
		rec.StartTime = formatClock(start)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, _, err := parseWhen(dtEnd, loc, func() (time.Time, error) { return ve.GetEndAt() }); err == nil {
				rec.EndTime = formatClock(end)
			}
		}
	}

	rule, err := mapRule(rawRule, start, shift)
	if err != nil {
		return rec, err
	}
	rule.Exceptions = parseExDates(ve, loc)
	rec.Recurrence = &rule
	return rec, nil
}

// parseWhen reads a DATE-TIME property. Floating values are wall-clock
// times in loc; UTC and TZID values go through the library and are then
// moved into loc. shift is the number of calendar days that move added,
// which BYDAY and BYMONTHDAY must follow.
func parseWhen(prop *ical.IANAProperty, loc *time.Location, zoned func() (time.Time, error)) (time.Time, int, error) {
	v := strings.TrimSpace(prop.Value)
	if !strings.HasSuffix(v, "Z") && len(prop.ICalParameters["TZID"]) == 0 {
		t, err := time.ParseInLocation(icsDateTime, v, loc)
		return t, 0, err
	}
	t, err := zoned()
	if err != nil {
		return time.Time{}, 0, err
	}
	local := t.In(loc)
	return local, model.DaysBetween(t, local), nil
}

// mapRule converts an RRULE value to a record rule anchored at start.
// shift is the day offset between DTSTART in its own zone and start.
func mapRule(raw string, start time.Time, shift int) (model.RecurrenceRule, error) {
	var rule model.RecurrenceRule

	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return rule, fmt.Errorf("%w: %v", ErrUnsupportedRule, err)
	}
	if opt.Count != 0 {
		return rule, fmt.Errorf("%w: COUNT", ErrUnsupportedRule)
	}
	if len(opt.Bymonth)+len(opt.Byyearday)+len(opt.Byweekno)+len(opt.Byhour)+
		len(opt.Byminute)+len(opt.Bysecond)+len(opt.Byeaster) > 0 {
		return rule, fmt.Errorf("%w: unsupported BY* part", ErrUnsupportedRule)
	}

	interval := opt.Interval
	if interval <= 0 {
		interval = 1
	}

	rule.StartDate = model.FormatDate(start)
	if !opt.Until.IsZero() {
		rule.EndDate = model.FormatDate(opt.Until)
	}

	switch opt.Freq {
	case rrule.DAILY:
		if len(opt.Byweekday)+len(opt.Bymonthday)+len(opt.Bysetpos) > 0 {
			return rule, fmt.Errorf("%w: DAILY with BY* parts", ErrUnsupportedRule)
		}
		rule.Type = model.RuleDaily
	case rrule.WEEKLY:
		if len(opt.Bymonthday)+len(opt.Bysetpos) > 0 {
			return rule, fmt.Errorf("%w: WEEKLY with BYMONTHDAY/BYSETPOS", ErrUnsupportedRule)
		}
		days, err := weekdays(opt.Byweekday, shift)
		if err != nil {
			return rule, err
		}
		if interval == 1 && isMonToFri(days) {
			rule.Type = model.RuleWeekdays
			return rule, nil
		}
		rule.Type = model.RuleWeekly
		rule.DaysOfWeek = days
	case rrule.MONTHLY:
		if len(opt.Byweekday) > 0 || !isAnchorMonthDay(opt.Bymonthday, opt.Bysetpos, start.AddDate(0, 0, -shift).Day()) {
			return rule, fmt.Errorf("%w: MONTHLY not anchored on DTSTART", ErrUnsupportedRule)
		}
		// Moving the anchor across midnight only keeps the same day every
		// month when neither side reaches the month-end clamp.
		if shift != 0 && (start.Day() > 28 || start.AddDate(0, 0, -shift).Day() > 28) {
			return rule, fmt.Errorf("%w: MONTHLY anchor changes day in target zone", ErrUnsupportedRule)
		}
		rule.Type = model.RuleMonthly
	default:
		return rule, fmt.Errorf("%w: FREQ=%v", ErrUnsupportedRule, opt.Freq)
	}

	if interval != 1 {
		rule.Interval = &interval
	}
	return rule, nil
}

// weekdays converts BYDAY to 0=Sunday..6=Saturday, moved by shift days
// and sorted.
func weekdays(in []rrule.Weekday, shift int) ([]int, error) {
	if len(in) == 0 {
		return nil, nil
	}
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, wd := range in {
		if wd.N() != 0 {
			return nil, fmt.Errorf("%w: ordinal BYDAY", ErrUnsupportedRule)
		}
		// rrule-go numbers Monday as 0.
		d := ((wd.Day()+1+shift)%7 + 7) % 7
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out, nil
}

func isMonToFri(days []int) bool {
	if len(days) != 5 {
		return false
	}
	for i, d := range days {
		if d != i+1 {
			return false
		}
	}
	return true
}

// isAnchorMonthDay accepts a plain monthly rule, BYMONTHDAY equal to the
// start day, or the 28..d / BYSETPOS=-1 clamp encoding produced by Export.
func isAnchorMonthDay(monthDays, setPos []int, anchor int) bool {
	if len(setPos) == 0 {
		return len(monthDays) == 0 || (len(monthDays) == 1 && monthDays[0] == anchor)
	}
	if len(setPos) != 1 || setPos[0] != -1 || anchor <= 28 {
		return false
	}
	if len(monthDays) != anchor-27 {
		return false
	}
	sorted := append([]int(nil), monthDays...)
	sort.Ints(sorted)
	for i, d := range sorted {
		if d != 28+i {
			return false
		}
	}
	return true
}

// parseExDates collects EXDATE values as calendar dates in loc. EXDATE may
// repeat and may carry comma-separated lists.
func parseExDates(ve *ical.VEvent, loc *time.Location) model.DateSet {
	var out model.DateSet
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			t, err := parseICSTime(strings.TrimSpace(part), loc)
			if err != nil {
				continue
			}
			out.Add(model.FormatDate(t))
		}
	}
	return out
}

// parseICSTime handles the DATE, floating DATE-TIME and UTC forms.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(icsDateTime+"Z", v)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation(icsDateTime, v, loc)
	}
	return time.ParseInLocation(icsDate, v, loc)
}

func isAllDay(prop *ical.IANAProperty) bool {
	if vs := prop.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(prop.Value, "T")
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}
