package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tambak-ops/tambak/internal/platform/httpx"
	"github.com/tambak-ops/tambak/internal/shared"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// RepositoryPort defines the persistence contract the service depends on.
type RepositoryPort interface {
	Insert(ctx context.Context, e Entry) (Entry, error)
	Query(ctx context.Context, f Filter) ([]Entry, error)
	ActionCounts(ctx context.Context, companyID int64, since time.Time) ([]ActionCount, error)
	DailyCounts(ctx context.Context, companyID int64, from, to time.Time) ([]DayCount, error)
	UserCounts(ctx context.Context, companyID int64, limit int) ([]UserActivity, error)
}

// FailureSink receives notice of failed audit writes. The triggering
// business operation is never rolled back on account of the trail.
type FailureSink interface {
	AuditWriteFailure()
}

// Service coordinates the append-only writer and the query/aggregation
// engine over the trail.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	sink   FailureSink
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, logger *slog.Logger, sink FailureSink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		sink:   sink,
	}
}

// Record appends one entry. A missing user id is resolved from the caller's
// verified session and a missing timestamp is stamped with the current time.
// A malformed entry returns a validation error; a store failure is reported
// to the observability sink and swallowed, so the triggering operation's
// outcome stands.
func (s *Service) Record(ctx context.Context, e Entry) (Entry, error) {
	if err := validateEntry(e); err != nil {
		return Entry{}, err
	}
	if e.UserID == 0 {
		if id := shared.IdentityFromContext(ctx); id != nil {
			e.UserID = id.UserID
		}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}

	stored, err := s.repo.Insert(ctx, e)
	if err != nil {
		s.logger.Error("audit write failed",
			slog.String("table", e.TableName),
			slog.Int64("record_id", e.RecordID),
			slog.Any("error", err))
		if s.sink != nil {
			s.sink.AuditWriteFailure()
		}
		return e, nil
	}
	return stored, nil
}

// QueryLogs returns entries matching the filter, newest first. No filter
// means everything, bounded only by pagination.
func (s *Service) QueryLogs(ctx context.Context, f Filter) ([]Entry, error) {
	page := shared.ClampPage(f.Limit, f.Offset, defaultQueryLimit, maxQueryLimit)
	f.Limit = page.Limit
	f.Offset = page.Offset
	entries, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// RecordHistory returns the full change trail for one logical row, newest
// first. The trail is unbounded, so the store is paged until exhausted.
func (s *Service) RecordHistory(ctx context.Context, tableName string, recordID int64) ([]Entry, error) {
	if tableName == "" || recordID == 0 {
		return nil, fmt.Errorf("%w: table name and record id required", httpx.ErrValidation)
	}
	f := Filter{TableName: tableName, RecordID: recordID, Limit: maxQueryLimit}
	entries := []Entry{}
	for {
		page, err := s.repo.Query(ctx, f)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page...)
		if len(page) < maxQueryLimit {
			return entries, nil
		}
		f.Offset += maxQueryLimit
	}
}

// RecentActivity returns the most recent entries for one tenant.
func (s *Service) RecentActivity(ctx context.Context, companyID int64, limit int) ([]Entry, error) {
	if companyID == 0 {
		return nil, fmt.Errorf("%w: company id required", httpx.ErrValidation)
	}
	return s.QueryLogs(ctx, Filter{CompanyID: companyID, Limit: limit})
}

// ActionTypeStats counts entries per action type within the trailing window,
// label-cased for display.
func (s *Service) ActionTypeStats(ctx context.Context, companyID int64, days int) ([]ActionCount, error) {
	if companyID == 0 {
		return nil, fmt.Errorf("%w: company id required", httpx.ErrValidation)
	}
	since := s.now().AddDate(0, 0, -days)
	counts, err := s.repo.ActionCounts(ctx, companyID, since)
	if err != nil {
		return nil, err
	}
	caser := cases.Title(language.English)
	out := make([]ActionCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, ActionCount{Action: caser.String(c.Action), Count: c.Count})
	}
	return out, nil
}

// ChangesTimeline returns one point per calendar day over the trailing
// window, today inclusive. Days without entries appear with a zero count:
// the full window is filled, not just days that had activity.
func (s *Service) ChangesTimeline(ctx context.Context, companyID int64, days int) ([]TimelinePoint, error) {
	if companyID == 0 {
		return nil, fmt.Errorf("%w: company id required", httpx.ErrValidation)
	}
	if days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative", httpx.ErrValidation)
	}
	today := startOfDay(s.now())
	from := today.AddDate(0, 0, -days)
	to := today.AddDate(0, 0, 1)

	counts, err := s.repo.DailyCounts(ctx, companyID, from, to)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]int64, len(counts))
	for _, c := range counts {
		byDay[c.Day.Format("2006-01-02")] = c.Count
	}

	points := make([]TimelinePoint, 0, days+1)
	for d := from; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		points = append(points, TimelinePoint{Date: key, Changes: byDay[key]})
	}
	return points, nil
}

// UserActivityDistribution returns the top users by entry count in one
// tenant.
func (s *Service) UserActivityDistribution(ctx context.Context, companyID int64, limit int) ([]UserActivity, error) {
	if companyID == 0 {
		return nil, fmt.Errorf("%w: company id required", httpx.ErrValidation)
	}
	page := shared.ClampPage(limit, 0, 10, 100)
	activities, err := s.repo.UserCounts(ctx, companyID, page.Limit)
	if err != nil {
		return nil, err
	}
	if activities == nil {
		activities = []UserActivity{}
	}
	return activities, nil
}

func validateEntry(e Entry) error {
	if !ValidActionType(e.ActionType) {
		return fmt.Errorf("%w: invalid action type %q", httpx.ErrValidation, e.ActionType)
	}
	if e.CompanyID == 0 || e.TableName == "" || e.RecordID == 0 {
		return fmt.Errorf("%w: company id, table name and record id required", httpx.ErrValidation)
	}
	switch e.ActionType {
	case ActionCreate:
		if len(e.PreviousValues) != 0 {
			return fmt.Errorf("%w: create entries carry no previous values", httpx.ErrValidation)
		}
	case ActionDelete:
		if len(e.NewValues) != 0 {
			return fmt.Errorf("%w: delete entries carry no new values", httpx.ErrValidation)
		}
	case ActionUpdate:
		if len(e.PreviousValues) == 0 || len(e.NewValues) == 0 {
			return fmt.Errorf("%w: update entries carry both snapshots", httpx.ErrValidation)
		}
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
