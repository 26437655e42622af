package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tambak-ops/tambak/internal/audit"
	jobmetrics "github.com/tambak-ops/tambak/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// WarmupSource lists tenants and computes the aggregates to cache.
type WarmupSource interface {
	ActionTypeStats(ctx context.Context, companyID int64, days int) ([]audit.ActionCount, error)
	ChangesTimeline(ctx context.Context, companyID int64, days int) ([]audit.TimelinePoint, error)
}

// CompanyLister discovers tenants with recent trail activity.
type CompanyLister interface {
	CompanyIDsSince(ctx context.Context, since time.Time) ([]int64, error)
}

// DashboardWarmupJob pre-populates the dashboard cache for active tenants so
// chart requests skip the aggregation queries.
type DashboardWarmupJob struct {
	Source    WarmupSource
	Companies CompanyLister
	Cache     *audit.DashboardCache
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewDashboardWarmupJob wires dependencies for the warmup handler.
func NewDashboardWarmupJob(source WarmupSource, companies CompanyLister, cache *audit.DashboardCache, logger *slog.Logger, metrics *jobmetrics.Metrics) *DashboardWarmupJob {
	return &DashboardWarmupJob{
		Source:    source,
		Companies: companies,
		Cache:     cache,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes dashboard warmup tasks.
func (j *DashboardWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil || j.Companies == nil {
		return errors.New("dashboard warmup: handler not configured")
	}
	var payload DashboardWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowDays <= 0 {
		payload.WindowDays = 7
	}

	tracker := j.metrics().Track(TaskDashboardWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("window_days", payload.WindowDays))
	logger.Info("starting dashboard warmup")

	now := j.clock()
	companies, err := j.Companies.CompanyIDsSince(ctx, now.AddDate(0, 0, -payload.WindowDays))
	if err != nil {
		resultErr = err
		logger.Error("list active tenants", slog.Any("error", err))
		return resultErr
	}
	if len(companies) == 0 {
		logger.Info("no active tenants, nothing to warm")
		return nil
	}

	warmed := 0
	for _, companyID := range companies {
		if err := j.warmCompany(ctx, companyID, payload.WindowDays, now); err != nil {
			resultErr = err
			logger.Error("warm tenant", slog.Int64("company_id", companyID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}
	logger.Info("dashboard warmup finished", slog.Int("tenants", warmed))
	return nil
}

func (j *DashboardWarmupJob) warmCompany(ctx context.Context, companyID int64, days int, now time.Time) error {
	stats, err := j.Source.ActionTypeStats(ctx, companyID, days)
	if err != nil {
		return err
	}
	timeline, err := j.Source.ChangesTimeline(ctx, companyID, days)
	if err != nil {
		return err
	}
	return j.Cache.Put(ctx, companyID, days, audit.Dashboard{
		ActionStats: stats,
		Timeline:    timeline,
		GeneratedAt: now,
	})
}

func (j *DashboardWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DashboardWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
