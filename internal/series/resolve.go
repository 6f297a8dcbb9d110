package series

import (
	"time"

	appLog "panelcal/internal/log"
	"panelcal/internal/model"
	"panelcal/internal/recurrence"
)

// resolve materializes the instances of recs on day, which must already be
// a midnight in the service zone.
func (s *Service) resolve(recs []model.RecurringEventRecord, day time.Time) []model.Instance {
	dateStr := model.FormatDate(day)
	out := make([]model.Instance, 0)

	for _, rec := range recs {
		if rec.Recurrence == nil {
			continue
		}
		if s.occursOn(rec, day, dateStr) {
			out = append(out, model.NewInstance(rec, dateStr))
		}
	}
	return out
}

// occursOn applies the range pre-filter and the exception check before
// evaluating the pattern. Malformed rules never occur.
func (s *Service) occursOn(rec model.RecurringEventRecord, day time.Time, dateStr string) bool {
	rule := rec.Recurrence

	var start time.Time
	if rule.StartDate != "" {
		d, err := model.ParseDate(rule.StartDate, s.loc)
		if err != nil {
			appLog.Debug("series: skipping record", "id", rec.ID, "reason", err.Error())
			return false
		}
		if day.Before(d) {
			return false
		}
		start = d
	}

	if rule.EndDate != "" {
		end, err := model.ParseDate(rule.EndDate, s.loc)
		if err != nil {
			appLog.Debug("series: skipping record", "id", rec.ID, "reason", err.Error())
			return false
		}
		if day.After(end) {
			return false
		}
	}

	if rule.Exceptions.Has(dateStr) {
		return false
	}

	return recurrence.Matches(rule.Type, start, day, rule.EffectiveInterval(), rule.DaysOfWeek)
}
