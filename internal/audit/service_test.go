package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tambak-ops/tambak/internal/platform/httpx"
	"github.com/tambak-ops/tambak/internal/shared"
)

type stubRepo struct {
	entries    []Entry
	insertErr  error
	daily      []DayCount
	actions    []ActionCount
	users      []UserActivity
	lastFilter Filter
	lastSince  time.Time
	nextID     int64
}

func (r *stubRepo) Insert(ctx context.Context, e Entry) (Entry, error) {
	if r.insertErr != nil {
		return Entry{}, r.insertErr
	}
	r.nextID++
	e.ID = r.nextID
	r.entries = append(r.entries, e)
	return e, nil
}

func (r *stubRepo) Query(ctx context.Context, f Filter) ([]Entry, error) {
	r.lastFilter = f
	var out []Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if f.TableName != "" && e.TableName != f.TableName {
			continue
		}
		if f.RecordID != 0 && e.RecordID != f.RecordID {
			continue
		}
		if f.CompanyID != 0 && e.CompanyID != f.CompanyID {
			continue
		}
		out = append(out, e)
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *stubRepo) ActionCounts(ctx context.Context, companyID int64, since time.Time) ([]ActionCount, error) {
	r.lastSince = since
	return r.actions, nil
}

func (r *stubRepo) DailyCounts(ctx context.Context, companyID int64, from, to time.Time) ([]DayCount, error) {
	return r.daily, nil
}

func (r *stubRepo) UserCounts(ctx context.Context, companyID int64, limit int) ([]UserActivity, error) {
	return r.users, nil
}

type countingSink struct{ failures int }

func (s *countingSink) AuditWriteFailure() { s.failures++ }

func newTestService(repo *stubRepo, sink FailureSink) *Service {
	svc := NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), sink)
	svc.now = func() time.Time {
		return time.Date(2026, time.March, 10, 15, 4, 5, 0, time.UTC)
	}
	return svc
}

func TestRecordStampsTimestampAndUser(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, nil)

	ctx := shared.ContextWithIdentity(context.Background(), &shared.Identity{UserID: 7, CompanyID: 1})
	stored, err := svc.Record(ctx, Entry{
		CompanyID:  1,
		ActionType: ActionCreate,
		TableName:  "cages",
		RecordID:   12,
		NewValues:  Values{"name": String("Kolam A")},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if stored.UserID != 7 {
		t.Fatalf("user id not taken from session: got %d", stored.UserID)
	}
	if stored.Timestamp.IsZero() {
		t.Fatal("timestamp not stamped")
	}
	if stored.ID == 0 {
		t.Fatal("stored entry has no id")
	}
}

func TestRecordValidatesSnapshotShape(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil)
	ctx := context.Background()
	snapshot := Values{"name": String("x")}

	cases := []struct {
		name  string
		entry Entry
	}{
		{"bad action", Entry{CompanyID: 1, ActionType: "drop", TableName: "cages", RecordID: 1}},
		{"missing company", Entry{ActionType: ActionCreate, TableName: "cages", RecordID: 1, NewValues: snapshot}},
		{"create with previous", Entry{CompanyID: 1, ActionType: ActionCreate, TableName: "cages", RecordID: 1, PreviousValues: snapshot, NewValues: snapshot}},
		{"delete with new", Entry{CompanyID: 1, ActionType: ActionDelete, TableName: "cages", RecordID: 1, PreviousValues: snapshot, NewValues: snapshot}},
		{"update one-sided", Entry{CompanyID: 1, ActionType: ActionUpdate, TableName: "cages", RecordID: 1, NewValues: snapshot}},
	}
	for _, tc := range cases {
		if _, err := svc.Record(ctx, tc.entry); !errors.Is(err, httpx.ErrValidation) {
			t.Fatalf("%s: want validation error, got %v", tc.name, err)
		}
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	repo := &stubRepo{insertErr: errors.New("connection reset")}
	sink := &countingSink{}
	svc := newTestService(repo, sink)

	entry := Entry{
		CompanyID:  1,
		ActionType: ActionDelete,
		TableName:  "cages",
		RecordID:   3,
		PreviousValues: Values{
			"name": String("Kolam B"),
		},
	}
	got, err := svc.Record(context.Background(), entry)
	if err != nil {
		t.Fatalf("store failure must not surface: %v", err)
	}
	if got.TableName != "cages" {
		t.Fatalf("unexpected entry returned: %#v", got)
	}
	if sink.failures != 1 {
		t.Fatalf("failure sink not notified: %d", sink.failures)
	}
}

func TestRecordHistoryRoundTrip(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, nil)
	ctx := context.Background()

	prev := Values{"status": String("active"), "depth": Number("1.50")}
	next := Values{"status": String("drained"), "depth": Number("1.50")}
	_, err := svc.Record(ctx, Entry{
		UserID:         7,
		CompanyID:      1,
		ActionType:     ActionUpdate,
		TableName:      "ponds",
		RecordID:       21,
		PreviousValues: prev,
		NewValues:      next,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	history, err := svc.RecordHistory(ctx, "ponds", 21)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("want 1 entry, got %d", len(history))
	}
	if !history[0].PreviousValues.Equal(prev) || !history[0].NewValues.Equal(next) {
		t.Fatalf("snapshots did not round trip: %#v", history[0])
	}

	if _, err := svc.RecordHistory(ctx, "", 21); !errors.Is(err, httpx.ErrValidation) {
		t.Fatalf("want validation error for empty table, got %v", err)
	}
}

func TestRecordHistoryReturnsFullTrail(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, nil)

	for i := 0; i < 250; i++ {
		repo.nextID++
		repo.entries = append(repo.entries, Entry{
			ID:         repo.nextID,
			CompanyID:  1,
			ActionType: ActionUpdate,
			TableName:  "cages",
			RecordID:   42,
		})
	}

	history, err := svc.RecordHistory(context.Background(), "cages", 42)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 250 {
		t.Fatalf("trail truncated: got %d of 250", len(history))
	}
	if history[0].ID != 250 || history[249].ID != 1 {
		t.Fatalf("ordering lost across pages: first %d last %d", history[0].ID, history[249].ID)
	}
}

func TestChangesTimelineZeroFillsWindow(t *testing.T) {
	repo := &stubRepo{
		daily: []DayCount{
			{Day: time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC), Count: 4},
		},
	}
	svc := newTestService(repo, nil)

	points, err := svc.ChangesTimeline(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(points) != 8 {
		t.Fatalf("want 8 points for a 7 day window, got %d", len(points))
	}
	if points[0].Date != "2026-03-03" || points[7].Date != "2026-03-10" {
		t.Fatalf("window bounds wrong: %s .. %s", points[0].Date, points[7].Date)
	}
	var total int64
	for _, p := range points {
		if p.Date == "2026-03-07" && p.Changes != 4 {
			t.Fatalf("active day lost its count: %d", p.Changes)
		}
		total += p.Changes
	}
	if total != 4 {
		t.Fatalf("zero fill invented entries: total %d", total)
	}

	if _, err := svc.ChangesTimeline(context.Background(), 1, -1); !errors.Is(err, httpx.ErrValidation) {
		t.Fatalf("want validation error for negative window, got %v", err)
	}
}

func TestActionTypeStatsCasing(t *testing.T) {
	repo := &stubRepo{actions: []ActionCount{{Action: "create", Count: 3}, {Action: "update", Count: 1}}}
	svc := newTestService(repo, nil)

	stats, err := svc.ActionTypeStats(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[0].Action != "Create" || stats[1].Action != "Update" {
		t.Fatalf("labels not title cased: %#v", stats)
	}
	wantSince := time.Date(2026, time.March, 3, 15, 4, 5, 0, time.UTC)
	if !repo.lastSince.Equal(wantSince) {
		t.Fatalf("window start wrong: got %s want %s", repo.lastSince, wantSince)
	}
}

func TestQueryLogsClampsPagination(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, nil)

	if _, err := svc.QueryLogs(context.Background(), Filter{Limit: 10_000, Offset: -5}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if repo.lastFilter.Limit != maxQueryLimit {
		t.Fatalf("limit not clamped: %d", repo.lastFilter.Limit)
	}
	if repo.lastFilter.Offset != 0 {
		t.Fatalf("offset not clamped: %d", repo.lastFilter.Offset)
	}
}
