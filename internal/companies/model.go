package companies

import "time"

// Company is the tenant scoping entity. Role assignments and audit entries
// are always scoped to one company.
type Company struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
