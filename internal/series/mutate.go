package series

import (
	"context"
	"fmt"

	appLog "panelcal/internal/log"
	"panelcal/internal/model"
	"panelcal/internal/recurrence"
)

// AddException stops series id from producing an occurrence on date.
// Unknown ids and records without a recurrence are a silent no-op, and
// adding a date twice leaves the exceptions unchanged.
func (s *Service) AddException(ctx context.Context, id, date string) error {
	d, err := s.ParseDate(date)
	if err != nil {
		return err
	}
	date = model.FormatDate(d)

	recs, err := s.load(ctx)
	if err != nil {
		return err
	}

	idx := indexOf(recs, id)
	if idx < 0 || recs[idx].Recurrence == nil {
		appLog.Debug("series: exception target not found", "id", id, "date", date)
		return nil
	}

	if !recs[idx].Recurrence.Exceptions.Add(date) {
		return nil
	}

	if err := s.save(ctx, recs); err != nil {
		return err
	}
	appLog.Info("series: exception added", "id", id, "date", date)
	return nil
}

// DeleteSeries removes every record with id. Deleting an unknown id
// writes nothing.
func (s *Service) DeleteSeries(ctx context.Context, id string) error {
	recs, err := s.load(ctx)
	if err != nil {
		return err
	}

	kept := make([]model.RecurringEventRecord, 0, len(recs))
	for _, r := range recs {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(recs) {
		appLog.Debug("series: delete target not found", "id", id)
		return nil
	}

	if err := s.save(ctx, kept); err != nil {
		return err
	}
	appLog.Info("series: deleted", "id", id, "removed", len(recs)-len(kept))
	return nil
}

// Create appends rec to the collection, assigning an id when it has none.
// Recurring records must carry a start date and a known rule type.
func (s *Service) Create(ctx context.Context, rec model.RecurringEventRecord) (model.RecurringEventRecord, error) {
	if err := s.validate(rec); err != nil {
		return model.RecurringEventRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = s.newID()
	}

	recs, err := s.load(ctx)
	if err != nil {
		return model.RecurringEventRecord{}, err
	}
	if indexOf(recs, rec.ID) >= 0 {
		return model.RecurringEventRecord{}, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}

	recs = append(recs, rec)
	if err := s.save(ctx, recs); err != nil {
		return model.RecurringEventRecord{}, err
	}
	appLog.Info("series: created", "id", rec.ID, "title", rec.Title)
	return rec, nil
}

func (s *Service) validate(rec model.RecurringEventRecord) error {
	rule := rec.Recurrence
	if rule == nil || rule.Type == model.RuleNone {
		return nil
	}
	if !rule.Type.Known() {
		return fmt.Errorf("%w: unknown recurrence type %q", ErrInvalidRecord, rule.Type)
	}
	if _, _, err := recurrence.Compile(*rule, s.loc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rule.EndDate != "" {
		if _, err := s.ParseDate(rule.EndDate); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
	}
	return nil
}

func (s *Service) save(ctx context.Context, recs []model.RecurringEventRecord) error {
	if err := s.repo.SaveAll(ctx, recs); err != nil {
		appLog.Error("series: save failed", err)
		return err
	}
	return nil
}

func indexOf(recs []model.RecurringEventRecord, id string) int {
	for i, r := range recs {
		if r.ID == id {
			return i
		}
	}
	return -1
}
