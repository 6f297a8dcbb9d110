package agenda

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	appLog "panelcal/internal/log"
	"panelcal/internal/model"
)

const runTimeout = 30 * time.Second

// Resolver is the part of the series service the job needs.
type Resolver interface {
	Location() *time.Location
	OccurrencesOn(ctx context.Context, target time.Time) ([]model.Instance, error)
}

// Job logs the day's occurrences. It implements cron.Job.
type Job struct {
	svc Resolver
	now func() time.Time
}

func NewJob(svc Resolver) *Job {
	return &Job{svc: svc, now: time.Now}
}

// Run resolves today's occurrences in the resolver's zone and logs one
// line per instance.
func (j *Job) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if _, err := j.RunOnce(ctx); err != nil {
		appLog.Error("agenda run failed", err)
	}
}

// RunOnce is Run with a caller context; it returns the logged instances.
func (j *Job) RunOnce(ctx context.Context) ([]model.Instance, error) {
	today := model.Midnight(j.now().In(j.svc.Location()))
	instances, err := j.svc.OccurrencesOn(ctx, today)
	if err != nil {
		return nil, err
	}

	appLog.Info("agenda", "date", model.FormatDate(today), "count", len(instances))
	for _, inst := range instances {
		appLog.Info("agenda item",
			"date", inst.InstanceDate,
			"id", inst.OriginalID,
			"title", inst.Title,
			"start_time", inst.StartTime,
		)
	}
	return instances, nil
}

// NewScheduler returns a cron scheduler in loc with j registered on spec
// (standard five-field syntax). Skipped runs are logged if a run overlaps
// the next tick.
func NewScheduler(loc *time.Location, spec string, j *Job) (*cron.Cron, error) {
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddJob(spec, j); err != nil {
		return nil, err
	}
	return c, nil
}

// cronLogger adapts the app logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
