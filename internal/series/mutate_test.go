package series

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelcal/internal/model"
	"panelcal/internal/store"
)

func dailyRecord(id, start string) model.RecurringEventRecord {
	return model.RecurringEventRecord{ID: id, Title: id, Recurrence: &model.RecurrenceRule{
		Type: model.RuleDaily, StartDate: start,
	}}
}

func TestAddExceptionThenDeleteSeries(t *testing.T) {
	svc, _ := newTestService(t, dailyRecord("ev1", "2025-01-01"), dailyRecord("ev2", "2025-01-01"))
	ctx := context.Background()

	require.NoError(t, svc.AddException(ctx, "ev1", "2025-01-05"))

	got, err := svc.OccurrencesOn(ctx, day(t, "2025-01-05"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ev2"}, ids(got))

	got, err = svc.OccurrencesOn(ctx, day(t, "2025-01-06"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ev1", "ev2"}, ids(got))

	require.NoError(t, svc.DeleteSeries(ctx, "ev1"))

	got, err = svc.OccurrencesOn(ctx, day(t, "2025-01-06"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ev2"}, ids(got))

	_, found, err := svc.Get(ctx, "ev1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAddExceptionIsIdempotent(t *testing.T) {
	svc, repo := newTestService(t, dailyRecord("ev1", "2025-01-01"))
	ctx := context.Background()

	require.NoError(t, svc.AddException(ctx, "ev1", "2025-01-05"))
	require.NoError(t, svc.AddException(ctx, "ev1", "2025-01-05"))
	assert.Equal(t, 1, repo.saves)

	rec, found, err := svc.Get(ctx, "ev1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"2025-01-05"}, rec.Recurrence.Exceptions.Sorted())
}

func TestAddExceptionLeavesOtherRecordsAlone(t *testing.T) {
	svc, _ := newTestService(t, dailyRecord("ev1", "2025-01-01"), dailyRecord("ev2", "2025-01-01"))
	ctx := context.Background()

	require.NoError(t, svc.AddException(ctx, "ev1", "2025-01-05"))

	recs, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Recurrence.Exceptions.Has("2025-01-05"))
	assert.Empty(t, recs[1].Recurrence.Exceptions)
}

func TestAddExceptionNoOps(t *testing.T) {
	svc, repo := newTestService(t, dailyRecord("ev1", "2025-01-01"), model.RecurringEventRecord{ID: "plain"})
	ctx := context.Background()

	require.NoError(t, svc.AddException(ctx, "missing", "2025-01-05"))
	require.NoError(t, svc.AddException(ctx, "plain", "2025-01-05"))
	assert.Zero(t, repo.saves)

	rec, _, err := svc.Get(ctx, "plain")
	require.NoError(t, err)
	assert.Nil(t, rec.Recurrence)
}

func TestAddExceptionRejectsBadDate(t *testing.T) {
	svc, repo := newTestService(t, dailyRecord("ev1", "2025-01-01"))

	err := svc.AddException(context.Background(), "ev1", "Jan 5")
	assert.ErrorIs(t, err, model.ErrInvalidDate)
	assert.Zero(t, repo.saves)
}

func TestDeleteSeriesUnknownIDWritesNothing(t *testing.T) {
	svc, repo := newTestService(t, dailyRecord("ev1", "2025-01-01"))
	ctx := context.Background()

	require.NoError(t, svc.DeleteSeries(ctx, "nope"))
	assert.Zero(t, repo.saves)

	recs, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDeleteSeriesRemovesDuplicates(t *testing.T) {
	svc, _ := newTestService(t,
		dailyRecord("dup", "2025-01-01"),
		dailyRecord("keep", "2025-01-01"),
		dailyRecord("dup", "2025-02-01"),
	)
	ctx := context.Background()

	require.NoError(t, svc.DeleteSeries(ctx, "dup"))

	recs, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "keep", recs[0].ID)
}

func TestMutationsPropagateStorageErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")

	svc, repo := newTestService(t, dailyRecord("ev1", "2025-01-01"))
	repo.saveErr = boom
	assert.ErrorIs(t, svc.AddException(ctx, "ev1", "2025-01-05"), boom)
	assert.ErrorIs(t, svc.DeleteSeries(ctx, "ev1"), boom)
	_, err := svc.Create(ctx, dailyRecord("ev2", "2025-01-01"))
	assert.ErrorIs(t, err, boom)

	repo.saveErr = nil
	repo.loadErr = boom
	assert.ErrorIs(t, svc.AddException(ctx, "ev1", "2025-01-05"), boom)
	assert.ErrorIs(t, svc.DeleteSeries(ctx, "ev1"), boom)
}

func TestCreateAssignsID(t *testing.T) {
	repo := &countingRepo{RecordStore: store.NewRecordStore(store.NewMemoryKV())}
	svc := NewService(repo, WithLocation(time.UTC), WithIDGenerator(func() string { return "fixed-id" }))
	ctx := context.Background()

	rec := dailyRecord("", "2025-01-01")
	created, err := svc.Create(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", created.ID)

	_, err = svc.Create(ctx, rec)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, repo.saves)
}

func TestCreateDefaultIDIsUUID(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.Create(context.Background(), dailyRecord("", "2025-01-01"))
	require.NoError(t, err)
	assert.Len(t, created.ID, 36)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		rule  *model.RecurrenceRule
		valid bool
	}{
		{"no recurrence", nil, true},
		{"none type", &model.RecurrenceRule{Type: model.RuleNone}, true},
		{"weekly", &model.RecurrenceRule{Type: model.RuleWeekly, StartDate: "2025-01-06", DaysOfWeek: []int{1}}, true},
		{"weekdays ignores interval", &model.RecurrenceRule{Type: model.RuleWeekdays, StartDate: "2025-01-06", Interval: intPtr(0)}, true},
		{"unknown type", &model.RecurrenceRule{Type: "YEARLY", StartDate: "2025-01-01"}, false},
		{"missing start", &model.RecurrenceRule{Type: model.RuleDaily}, false},
		{"bad start", &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "2025-13-01"}, false},
		{"zero interval", &model.RecurrenceRule{Type: model.RuleMonthly, StartDate: "2025-01-01", Interval: intPtr(0)}, false},
		{"bad end", &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "2025-01-01", EndDate: "soon"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			_, err := svc.Create(context.Background(), model.RecurringEventRecord{Title: tt.name, Recurrence: tt.rule})
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRecord)
			}
		})
	}
}

func TestNextOccurrence(t *testing.T) {
	svc, _ := newTestService(t,
		model.RecurringEventRecord{ID: "m", Recurrence: &model.RecurrenceRule{
			Type: model.RuleMonthly, StartDate: "2025-01-31", Exceptions: model.NewDateSet("2025-02-28"),
		}},
		model.RecurringEventRecord{ID: "short", Recurrence: &model.RecurrenceRule{
			Type: model.RuleDaily, StartDate: "2025-01-01", EndDate: "2025-01-03",
		}},
		model.RecurringEventRecord{ID: "plain"},
		model.RecurringEventRecord{ID: "broken", Recurrence: &model.RecurrenceRule{Type: model.RuleDaily}},
	)
	ctx := context.Background()

	next, ok, err := svc.NextOccurrence(ctx, "m", day(t, "2025-01-31"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2025-03-31", next)

	next, ok, err = svc.NextOccurrence(ctx, "short", day(t, "2025-01-02"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2025-01-03", next)

	_, ok, err = svc.NextOccurrence(ctx, "short", day(t, "2025-01-03"))
	require.NoError(t, err)
	assert.False(t, ok)

	for _, id := range []string{"plain", "broken", "missing"} {
		_, ok, err = svc.NextOccurrence(ctx, id, day(t, "2025-01-01"))
		require.NoError(t, err)
		assert.False(t, ok, id)
	}
}
