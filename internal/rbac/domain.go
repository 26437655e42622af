package rbac

import (
	"fmt"
	"strings"
	"time"

	"github.com/tambak-ops/tambak/internal/platform/httpx"
)

// Permission represents an atomic capability identified by a
// "<category>.<action>" code, e.g. "cages.delete".
type Permission struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Role represents a named bundle of permissions.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleWithPermissions joins a role with its full permission set,
// ordered by permission code.
type RoleWithPermissions struct {
	Role
	Permissions []Permission `json:"permissions"`
}

// UserRole binds a user to a role within one company. At most one row exists
// per (user, role, company) triple.
type UserRole struct {
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	CompanyID  int64     `json:"company_id"`
	AssignedBy int64     `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}

// SplitCode splits a permission code into category and action. The
// "<category>.<action>" shape is a structural invariant of every code.
func SplitCode(code string) (category, action string, err error) {
	category, action, ok := strings.Cut(code, ".")
	if !ok || category == "" || action == "" {
		return "", "", fmt.Errorf("%w: malformed permission code %q", httpx.ErrValidation, code)
	}
	return category, action, nil
}
