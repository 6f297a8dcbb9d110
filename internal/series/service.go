package series

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appLog "panelcal/internal/log"
	"panelcal/internal/model"
	"panelcal/internal/recurrence"
)

const defaultMaxRangeDays = 366

var (
	// ErrInvalidRange is returned when a range ends before it starts.
	ErrInvalidRange = errors.New("series: range end is before range start")
	// ErrRangeTooLarge is returned when a range spans more days than allowed.
	ErrRangeTooLarge = errors.New("series: range too large")
	// ErrInvalidRecord is returned by Create for records that cannot recur.
	ErrInvalidRecord = errors.New("series: invalid record")
	// ErrDuplicateID is returned by Create when the id is already stored.
	ErrDuplicateID = errors.New("series: duplicate id")
)

// Repository is the whole-collection storage the service reads and writes.
type Repository interface {
	LoadAll(ctx context.Context) ([]model.RecurringEventRecord, error)
	SaveAll(ctx context.Context, recs []model.RecurringEventRecord) error
}

// Service resolves recurring series onto dates and mutates them.
//
// Nothing is cached: every call reloads the collection. Mutations are a
// read-modify-write of the whole collection with no version check, so two
// overlapping mutations can lose one of the updates.
type Service struct {
	repo         Repository
	loc          *time.Location
	maxRangeDays int
	newID        func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithLocation sets the zone whose midnights define calendar dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithMaxRangeDays caps OccurrencesBetween.
func WithMaxRangeDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.maxRangeDays = days
		}
	}
}

// WithIDGenerator replaces uuid generation in Create.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		loc:          time.Local,
		maxRangeDays: defaultMaxRangeDays,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the zone used for calendar dates.
func (s *Service) Location() *time.Location {
	return s.loc
}

// ParseDate parses a YYYY-MM-DD string in the service's zone.
func (s *Service) ParseDate(v string) (time.Time, error) {
	return model.ParseDate(v, s.loc)
}

// OccurrencesOn returns one instance for every stored series that has an
// occurrence on the calendar date of target, in storage order.
func (s *Service) OccurrencesOn(ctx context.Context, target time.Time) ([]model.Instance, error) {
	recs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.resolve(recs, s.day(target)), nil
}

// OccurrencesBetween resolves every date in [from, to] against one load of
// the collection. Instances are ordered by date, then storage order.
func (s *Service) OccurrencesBetween(ctx context.Context, from, to time.Time) ([]model.Instance, error) {
	from, to = s.day(from), s.day(to)
	span := model.DaysBetween(from, to)
	if span < 0 {
		return nil, ErrInvalidRange
	}
	if span+1 > s.maxRangeDays {
		return nil, fmt.Errorf("%w: %d days (max %d)", ErrRangeTooLarge, span+1, s.maxRangeDays)
	}

	recs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.Instance, 0)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		out = append(out, s.resolve(recs, day)...)
	}
	return out, nil
}

// NextOccurrence returns the first occurrence date of series id strictly
// after the calendar date of after. found is false for unknown ids,
// non-recurring or malformed records, and exhausted series.
func (s *Service) NextOccurrence(ctx context.Context, id string, after time.Time) (string, bool, error) {
	rec, found, err := s.Get(ctx, id)
	if err != nil || !found || rec.Recurrence == nil {
		return "", false, err
	}

	next, ok, err := recurrence.NextAfter(*rec.Recurrence, s.day(after))
	if err != nil {
		appLog.Debug("series: next occurrence unavailable", "id", id, "reason", err.Error())
		return "", false, nil
	}
	return next, ok, nil
}

// List returns every stored record in storage order.
func (s *Service) List(ctx context.Context) ([]model.RecurringEventRecord, error) {
	return s.load(ctx)
}

// Get returns the record with id.
func (s *Service) Get(ctx context.Context, id string) (model.RecurringEventRecord, bool, error) {
	recs, err := s.load(ctx)
	if err != nil {
		return model.RecurringEventRecord{}, false, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, true, nil
		}
	}
	return model.RecurringEventRecord{}, false, nil
}

func (s *Service) load(ctx context.Context) ([]model.RecurringEventRecord, error) {
	recs, err := s.repo.LoadAll(ctx)
	if err != nil {
		appLog.Error("series: load failed", err)
		return nil, err
	}
	return recs, nil
}

// day normalizes t to midnight of its calendar date in the service zone.
func (s *Service) day(t time.Time) time.Time {
	return model.Midnight(t.In(s.loc))
}
