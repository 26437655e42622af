package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the audit trail.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one entry. The trail is append-only; there is no update or
// delete path.
func (r *Repository) Insert(ctx context.Context, e Entry) (Entry, error) {
	prev, err := marshalValues(e.PreviousValues)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode previous values: %w", err)
	}
	next, err := marshalValues(e.NewValues)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode new values: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO audit_logs (occurred_at, user_id, company_id, action_type, table_name, record_id, previous_values, new_values)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		e.Timestamp, e.UserID, e.CompanyID, e.ActionType, e.TableName, e.RecordID, prev, next).Scan(&e.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: insert entry: %w", err)
	}
	return e, nil
}

// Query returns entries matching the filter conjunction, newest first.
func (r *Repository) Query(ctx context.Context, f Filter) ([]Entry, error) {
	query := `
		SELECT id, occurred_at, user_id, company_id, action_type, table_name, record_id, previous_values, new_values
		FROM audit_logs WHERE 1=1`
	args := []any{}
	argCount := 0

	add := func(clause string, value any) {
		argCount++
		query += ` AND ` + clause + `$` + strconv.Itoa(argCount)
		args = append(args, value)
	}

	if f.UserID != 0 {
		add(`user_id = `, f.UserID)
	}
	if f.CompanyID != 0 {
		add(`company_id = `, f.CompanyID)
	}
	if f.ActionType != "" {
		add(`action_type = `, f.ActionType)
	}
	if f.TableName != "" {
		add(`table_name = `, f.TableName)
	}
	if f.RecordID != 0 {
		add(`record_id = `, f.RecordID)
	}
	if !f.From.IsZero() {
		add(`occurred_at >= `, f.From)
	}
	if !f.To.IsZero() {
		add(`occurred_at <= `, f.To)
	}

	query += ` ORDER BY occurred_at DESC, id DESC`
	if f.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, f.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			prev, next []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.CompanyID, &e.ActionType, &e.TableName, &e.RecordID, &prev, &next); err != nil {
			return nil, err
		}
		if err := unmarshalValues(prev, &e.PreviousValues); err != nil {
			return nil, fmt.Errorf("audit: decode previous values: %w", err)
		}
		if err := unmarshalValues(next, &e.NewValues); err != nil {
			return nil, fmt.Errorf("audit: decode new values: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ActionCounts aggregates entries per action type for one tenant since the
// given instant.
func (r *Repository) ActionCounts(ctx context.Context, companyID int64, since time.Time) ([]ActionCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT action_type, COUNT(*)
		FROM audit_logs
		WHERE company_id = $1 AND occurred_at >= $2
		GROUP BY action_type
		ORDER BY action_type`, companyID, since)
	if err != nil {
		return nil, fmt.Errorf("audit: action counts: %w", err)
	}
	defer rows.Close()
	var counts []ActionCount
	for rows.Next() {
		var c ActionCount
		if err := rows.Scan(&c.Action, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DailyCounts aggregates entries per calendar day within [from, to]. Days
// with no entries are absent here; the service zero-fills.
func (r *Repository) DailyCounts(ctx context.Context, companyID int64, from, to time.Time) ([]DayCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DATE(occurred_at), COUNT(*)
		FROM audit_logs
		WHERE company_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY DATE(occurred_at)
		ORDER BY DATE(occurred_at)`, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("audit: daily counts: %w", err)
	}
	defer rows.Close()
	var counts []DayCount
	for rows.Next() {
		var c DayCount
		if err := rows.Scan(&c.Day, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// UserCounts returns the top users by entry count within one tenant, labeled
// by display name with the identifier as fallback.
func (r *Repository) UserCounts(ctx context.Context, companyID int64, limit int) ([]UserActivity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(NULLIF(u.name, ''), a.user_id::text), COUNT(*)
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.company_id = $1
		GROUP BY a.user_id, u.name
		ORDER BY COUNT(*) DESC
		LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: user counts: %w", err)
	}
	defer rows.Close()
	var activities []UserActivity
	for rows.Next() {
		var a UserActivity
		if err := rows.Scan(&a.User, &a.Activities); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// CompanyIDsSince lists tenants with any activity since the given instant.
// Used by the dashboard warmup job.
func (r *Repository) CompanyIDsSince(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT company_id FROM audit_logs WHERE occurred_at >= $1 ORDER BY company_id`, since)
	if err != nil {
		return nil, fmt.Errorf("audit: companies since: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func marshalValues(v Values) ([]byte, error) {
	if len(v) == 0 {
		return []byte(`{}`), nil
	}
	return json.Marshal(v)
}

func unmarshalValues(data []byte, target *Values) error {
	if len(data) == 0 {
		return nil
	}
	var v Values
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v) > 0 {
		*target = v
	}
	return nil
}
