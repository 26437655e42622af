package audit

import "time"

// Action types recognised by the trail.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Entry is one immutable audit record. Entries are never updated or deleted
// after creation; the trail is the system of record for what happened.
type Entry struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	UserID         int64     `json:"user_id"`
	CompanyID      int64     `json:"company_id"`
	ActionType     string    `json:"action_type"`
	TableName      string    `json:"table_name"`
	RecordID       int64     `json:"record_id"`
	PreviousValues Values    `json:"previous_values,omitempty"`
	NewValues      Values    `json:"new_values,omitempty"`
}

// Filter is a conjunction over optional criteria plus pagination. Zero
// values mean "not filtered".
type Filter struct {
	UserID     int64
	CompanyID  int64
	ActionType string
	TableName  string
	RecordID   int64
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// ActionCount is one aggregated row of ActionTypeStats.
type ActionCount struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

// TimelinePoint is one calendar day in the zero-filled changes timeline.
type TimelinePoint struct {
	Date    string `json:"date"`
	Changes int64  `json:"changes"`
}

// UserActivity labels one user's entry count for the distribution chart.
type UserActivity struct {
	User       string `json:"user"`
	Activities int64  `json:"activities"`
}

// DayCount is a raw per-day aggregate as produced by the store, before
// zero-filling.
type DayCount struct {
	Day   time.Time
	Count int64
}

// ValidActionType reports whether s is a recognised action type.
func ValidActionType(s string) bool {
	switch s {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}
