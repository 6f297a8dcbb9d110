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

// countingRepo wraps a RecordStore and counts writes.
type countingRepo struct {
	*store.RecordStore
	saves   int
	loadErr error
	saveErr error
}

func (r *countingRepo) LoadAll(ctx context.Context) ([]model.RecurringEventRecord, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.RecordStore.LoadAll(ctx)
}

func (r *countingRepo) SaveAll(ctx context.Context, recs []model.RecurringEventRecord) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	return r.RecordStore.SaveAll(ctx, recs)
}

func newTestService(t *testing.T, recs ...model.RecurringEventRecord) (*Service, *countingRepo) {
	t.Helper()
	repo := &countingRepo{RecordStore: store.NewRecordStore(store.NewMemoryKV())}
	if len(recs) > 0 {
		require.NoError(t, repo.RecordStore.SaveAll(context.Background(), recs))
	}
	return NewService(repo, WithLocation(time.UTC)), repo
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseDate(s, time.UTC)
	require.NoError(t, err)
	return d
}

func intPtr(v int) *int { return &v }

func ids(instances []model.Instance) []string {
	out := make([]string, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.OriginalID)
	}
	return out
}

func TestOccurrencesOnScenarios(t *testing.T) {
	svc, _ := newTestService(t,
		model.RecurringEventRecord{ID: "daily2", Title: "Every other day", Recurrence: &model.RecurrenceRule{
			Type: model.RuleDaily, StartDate: "2025-01-01", Interval: intPtr(2),
		}},
		model.RecurringEventRecord{ID: "monwed", Title: "Mon/Wed", Recurrence: &model.RecurrenceRule{
			Type: model.RuleWeekly, StartDate: "2025-01-06", DaysOfWeek: []int{1, 3}, Interval: intPtr(1),
		}},
		model.RecurringEventRecord{ID: "month31", Title: "Month end", Recurrence: &model.RecurrenceRule{
			Type: model.RuleMonthly, StartDate: "2025-01-31", Interval: intPtr(1),
		}},
		model.RecurringEventRecord{ID: "weekdays", Title: "Workday", Recurrence: &model.RecurrenceRule{
			Type: model.RuleWeekdays, StartDate: "2025-01-01",
		}},
	)
	ctx := context.Background()

	tests := []struct {
		date    string
		present []string
		absent  []string
	}{
		{"2025-01-03", []string{"daily2"}, nil},
		{"2025-01-02", nil, []string{"daily2"}},
		{"2025-01-08", []string{"monwed"}, nil},
		{"2025-01-09", nil, []string{"monwed"}},
		{"2025-02-28", []string{"month31"}, nil},
		{"2025-03-31", []string{"month31"}, nil},
		{"2025-01-04", nil, []string{"weekdays"}},
		{"2025-01-06", []string{"weekdays", "monwed"}, nil},
	}

	for _, tt := range tests {
		got, err := svc.OccurrencesOn(ctx, day(t, tt.date))
		require.NoError(t, err)
		for _, id := range tt.present {
			assert.Contains(t, ids(got), id, "date %s", tt.date)
		}
		for _, id := range tt.absent {
			assert.NotContains(t, ids(got), id, "date %s", tt.date)
		}
	}
}

func TestOccurrencesOnInstanceShape(t *testing.T) {
	svc, _ := newTestService(t, model.RecurringEventRecord{
		ID: "ev1", Title: "Yoga", StartTime: "07:00", EndTime: "08:00",
		Recurrence: &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "2025-01-01"},
	})

	got, err := svc.OccurrencesOn(context.Background(), time.Date(2025, time.January, 5, 21, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.Instance{
		ID: "ev1", Title: "Yoga", StartTime: "07:00", EndTime: "08:00",
		IsRecurringInstance: true, InstanceDate: "2025-01-05", OriginalID: "ev1",
	}, got[0])
}

func TestOccurrencesOnPreservesStorageOrder(t *testing.T) {
	rule := &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "2025-01-01"}
	svc, _ := newTestService(t,
		model.RecurringEventRecord{ID: "z", Recurrence: rule},
		model.RecurringEventRecord{ID: "a", Recurrence: rule},
		model.RecurringEventRecord{ID: "m", Recurrence: rule},
	)

	got, err := svc.OccurrencesOn(context.Background(), day(t, "2025-01-02"))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, ids(got))
}

func TestNoMatchBeforeStart(t *testing.T) {
	// Wednesday start; Monday of the same week passes the weekly pattern
	// but precedes the series.
	svc, _ := newTestService(t,
		model.RecurringEventRecord{ID: "w", Recurrence: &model.RecurrenceRule{
			Type: model.RuleWeekly, StartDate: "2025-01-08", DaysOfWeek: []int{1, 3},
		}},
		model.RecurringEventRecord{ID: "wd", Recurrence: &model.RecurrenceRule{
			Type: model.RuleWeekdays, StartDate: "2025-01-08",
		}},
	)

	got, err := svc.OccurrencesOn(context.Background(), day(t, "2025-01-06"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNoMatchAfterEnd(t *testing.T) {
	svc, _ := newTestService(t, model.RecurringEventRecord{ID: "d", Recurrence: &model.RecurrenceRule{
		Type: model.RuleDaily, StartDate: "2025-01-01", EndDate: "2025-01-10",
	}})
	ctx := context.Background()

	got, err := svc.OccurrencesOn(ctx, day(t, "2025-01-10"))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = svc.OccurrencesOn(ctx, day(t, "2025-01-11"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInvertedRangeNeverMatches(t *testing.T) {
	svc, _ := newTestService(t, model.RecurringEventRecord{ID: "d", Recurrence: &model.RecurrenceRule{
		Type: model.RuleDaily, StartDate: "2025-02-01", EndDate: "2025-01-01",
	}})

	got, err := svc.OccurrencesBetween(context.Background(), day(t, "2024-12-01"), day(t, "2025-03-01"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExceptionSuppressesSingleDate(t *testing.T) {
	svc, _ := newTestService(t, model.RecurringEventRecord{ID: "d", Recurrence: &model.RecurrenceRule{
		Type: model.RuleDaily, StartDate: "2025-01-01", Exceptions: model.NewDateSet("2025-01-03"),
	}})
	ctx := context.Background()

	got, err := svc.OccurrencesOn(ctx, day(t, "2025-01-03"))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = svc.OccurrencesOn(ctx, day(t, "2025-01-04"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDailyPeriodicity(t *testing.T) {
	svc, _ := newTestService(t, model.RecurringEventRecord{ID: "d", Recurrence: &model.RecurrenceRule{
		Type: model.RuleDaily, StartDate: "2025-01-10", Interval: intPtr(5),
	}})

	start := day(t, "2025-01-10")
	from := day(t, "2024-12-25")
	to := day(t, "2025-04-30")
	got, err := svc.OccurrencesBetween(context.Background(), from, to)
	require.NoError(t, err)

	want := make([]string, 0)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		delta := model.DaysBetween(start, d)
		if delta >= 0 && delta%5 == 0 {
			want = append(want, model.FormatDate(d))
		}
	}

	dates := make([]string, 0, len(got))
	for _, inst := range got {
		dates = append(dates, inst.InstanceDate)
	}
	assert.Equal(t, want, dates)
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	svc, _ := newTestService(t,
		model.RecurringEventRecord{ID: "no-start", Recurrence: &model.RecurrenceRule{Type: model.RuleDaily}},
		model.RecurringEventRecord{ID: "bad-start", Recurrence: &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "01/01/2025"}},
		model.RecurringEventRecord{ID: "bad-end", Recurrence: &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "2025-01-01", EndDate: "never"}},
		model.RecurringEventRecord{ID: "zero", Recurrence: &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "2025-01-01", Interval: intPtr(0)}},
		model.RecurringEventRecord{ID: "unknown", Recurrence: &model.RecurrenceRule{Type: "HOURLY", StartDate: "2025-01-01"}},
		model.RecurringEventRecord{ID: "none", Recurrence: &model.RecurrenceRule{Type: model.RuleNone, StartDate: "2025-01-01"}},
		model.RecurringEventRecord{ID: "plain", Title: "one-off"},
		model.RecurringEventRecord{ID: "ok", Recurrence: &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "2025-01-01"}},
	)

	got, err := svc.OccurrencesOn(context.Background(), day(t, "2025-01-02"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, ids(got))
}

func TestOccurrencesOnEmptyStore(t *testing.T) {
	svc, _ := newTestService(t)

	got, err := svc.OccurrencesOn(context.Background(), day(t, "2025-01-02"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestOccurrencesPropagatesStorageErrors(t *testing.T) {
	svc, repo := newTestService(t)
	repo.loadErr = errors.New("read failed")

	_, err := svc.OccurrencesOn(context.Background(), day(t, "2025-01-02"))
	assert.ErrorIs(t, err, repo.loadErr)

	_, err = svc.OccurrencesBetween(context.Background(), day(t, "2025-01-02"), day(t, "2025-01-03"))
	assert.ErrorIs(t, err, repo.loadErr)
}

func TestOccurrencesBetweenOrdersByDateThenStorage(t *testing.T) {
	svc, _ := newTestService(t,
		model.RecurringEventRecord{ID: "b", Recurrence: &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "2025-01-01"}},
		model.RecurringEventRecord{ID: "a", Recurrence: &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "2025-01-02"}},
	)

	got, err := svc.OccurrencesBetween(context.Background(), day(t, "2025-01-01"), day(t, "2025-01-02"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2025-01-01", got[0].InstanceDate)
	assert.Equal(t, "b", got[0].OriginalID)
	assert.Equal(t, "b", got[1].OriginalID)
	assert.Equal(t, "a", got[2].OriginalID)
	assert.Equal(t, "2025-01-02", got[2].InstanceDate)
}

func TestOccurrencesBetweenRangeChecks(t *testing.T) {
	repo := &countingRepo{RecordStore: store.NewRecordStore(store.NewMemoryKV())}
	svc := NewService(repo, WithLocation(time.UTC), WithMaxRangeDays(7))
	ctx := context.Background()

	_, err := svc.OccurrencesBetween(ctx, day(t, "2025-01-05"), day(t, "2025-01-01"))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = svc.OccurrencesBetween(ctx, day(t, "2025-01-01"), day(t, "2025-01-08"))
	assert.ErrorIs(t, err, ErrRangeTooLarge)

	_, err = svc.OccurrencesBetween(ctx, day(t, "2025-01-01"), day(t, "2025-01-07"))
	assert.NoError(t, err)
}

func TestServiceUsesConfiguredZone(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	repo := &countingRepo{RecordStore: store.NewRecordStore(store.NewMemoryKV())}
	require.NoError(t, repo.RecordStore.SaveAll(context.Background(), []model.RecurringEventRecord{
		{ID: "d", Recurrence: &model.RecurrenceRule{Type: model.RuleDaily, StartDate: "2025-01-02", Interval: intPtr(2)}},
	}))
	svc := NewService(repo, WithLocation(kst))

	// 2025-01-01 20:00 UTC is 2025-01-02 05:00 in Seoul.
	got, err := svc.OccurrencesOn(context.Background(), time.Date(2025, time.January, 1, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2025-01-02", got[0].InstanceDate)
	assert.Equal(t, kst, svc.Location())
}

func newServiceWithStoredJSON(t *testing.T, doc string) (*Service, *countingRepo, store.KV) {
	t.Helper()
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(context.Background(), map[string][]byte{store.RecurringEventsKey: []byte(doc)}))
	repo := &countingRepo{RecordStore: store.NewRecordStore(kv)}
	return NewService(repo, WithLocation(time.UTC)), repo, kv
}

func TestUndecodableRecordDoesNotBlockTheRest(t *testing.T) {
	svc, repo, kv := newServiceWithStoredJSON(t, `[
		{"id":"good","title":"Good","recurrence":{"type":"DAILY","startDate":"2025-01-01"}},
		{"id":"bad","title":"Bad","recurrence":{"type":"DAILY","startDate":"2025-01-01","interval":"2"}}
	]`)
	ctx := context.Background()

	got, err := svc.OccurrencesOn(ctx, day(t, "2025-01-03"))
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, ids(got))

	between, err := svc.OccurrencesBetween(ctx, day(t, "2025-01-01"), day(t, "2025-01-02"))
	require.NoError(t, err)
	assert.Equal(t, []string{"good", "good"}, ids(between))

	require.NoError(t, svc.AddException(ctx, "good", "2025-01-03"))
	require.NoError(t, svc.AddException(ctx, "bad", "2025-01-03"))
	assert.Equal(t, 1, repo.saves)

	raw, _, err := kv.Get(ctx, store.RecurringEventsKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"interval":"2"`)

	got, err = svc.OccurrencesOn(ctx, day(t, "2025-01-03"))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = svc.Create(ctx, model.RecurringEventRecord{ID: "bad", Title: "Clash", Recurrence: &model.RecurrenceRule{
		Type: model.RuleDaily, StartDate: "2025-01-01",
	}})
	assert.ErrorIs(t, err, ErrDuplicateID)

	require.NoError(t, svc.DeleteSeries(ctx, "bad"))
	recs, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "good", recs[0].ID)

	raw, _, err = kv.Get(ctx, store.RecurringEventsKey)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"bad"`)
}
