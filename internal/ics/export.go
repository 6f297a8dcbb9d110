package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "panelcal/internal/log"
	"panelcal/internal/model"
	"panelcal/internal/recurrence"
)

const (
	productID = "-//panelcal//recurring series//EN"

	icsDate     = "20060102"
	icsDateTime = "20060102T150405"
	clockLayout = "15:04"
)

// Export writes one VEVENT per recurring record in recs. Records without a
// recurrence, or whose rule cannot be expressed as an RRULE, are skipped
// and logged. It returns the number of events written.
func Export(w io.Writer, recs []model.RecurringEventRecord, stamp time.Time) (int, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	n := 0
	for _, rec := range recs {
		if !rec.IsRecurring() {
			continue
		}
		if err := addEvent(cal, rec, stamp); err != nil {
			appLog.Warn("ics export skipped record", "id", rec.ID, "reason", err.Error())
			continue
		}
		n++
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return 0, err
	}
	appLog.Debug("ics export completed", "event_count", n)
	return n, nil
}

func addEvent(cal *ical.Calendar, rec model.RecurringEventRecord, stamp time.Time) error {
	rule := *rec.Recurrence

	opt, err := recurrence.ToROption(rule)
	if err != nil {
		return err
	}
	// UNTIL is written by hand so its value type follows DTSTART.
	opt.Until = time.Time{}

	startClock, timed := parseClock(rec.StartTime)

	ev := cal.AddEvent(rec.ID)
	ev.SetDtStampTime(stamp.UTC())
	ev.SetSummary(rec.Title)
	if rec.Description != "" {
		ev.SetDescription(rec.Description)
	}
	if rec.Location != "" {
		ev.SetLocation(rec.Location)
	}

	start := opt.Dtstart
	if timed {
		ev.SetProperty(ical.ComponentPropertyDtStart, formatDateTime(start, startClock))
		if endClock, ok := parseClock(rec.EndTime); ok {
			ev.SetProperty(ical.ComponentPropertyDtEnd, formatDateTime(start, endClock))
		}
	} else {
		ev.SetProperty(ical.ComponentPropertyDtStart, start.Format(icsDate), ical.WithValue(string(ical.ValueDataTypeDate)))
	}

	rrule := opt.RRuleString()
	if rule.EndDate != "" {
		until, err := model.ParseDate(rule.EndDate, time.UTC)
		if err != nil {
			return err
		}
		if timed {
			rrule += ";UNTIL=" + formatDateTime(until, 23*time.Hour+59*time.Minute+59*time.Second)
		} else {
			rrule += ";UNTIL=" + until.Format(icsDate)
		}
	}
	ev.AddProperty(ical.ComponentPropertyRrule, rrule)

	for _, ex := range rule.Exceptions.Sorted() {
		d, err := model.ParseDate(ex, time.UTC)
		if err != nil {
			continue
		}
		if timed {
			ev.AddProperty(ical.ComponentPropertyExdate, formatDateTime(d, startClock))
		} else {
			ev.AddProperty(ical.ComponentPropertyExdate, d.Format(icsDate), ical.WithValue(string(ical.ValueDataTypeDate)))
		}
	}
	return nil
}

// parseClock reads an HH:MM wall-clock time as an offset from midnight.
func parseClock(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	t, err := time.Parse(clockLayout, v)
	if err != nil {
		return 0, false
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, true
}

// formatDateTime renders a floating local date-time.
func formatDateTime(day time.Time, clock time.Duration) string {
	return day.Add(clock).Format(icsDateTime)
}

func formatClock(t time.Time) string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}
