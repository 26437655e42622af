package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tambak-ops/tambak/internal/platform/db"
	"github.com/tambak-ops/tambak/internal/platform/httpx"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository provides PostgreSQL backed persistence for roles, permissions
// and tenant-scoped assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListPermissions returns the full permission catalog ordered by code.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, description FROM permissions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// EnsurePermission upserts a catalog entry keyed by code.
func (r *Repository) EnsurePermission(ctx context.Context, code, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (code, description)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, code, description`, code, description).Scan(&p.ID, &p.Code, &p.Description)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: ensure permission: %w", err)
	}
	return p, nil
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
		}
		return Role{}, fmt.Errorf("rbac: get role: %w", err)
	}
	return role, nil
}

// ListRolePermissions returns a role's permission set ordered by code.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.code, p.description
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.code`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list role permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// CreateRole inserts a role and attaches its initial permission set in one
// transaction. A duplicate name maps to ErrDuplicate.
func (r *Repository) CreateRole(ctx context.Context, name, description string, permissionIDs []int64) (Role, error) {
	var role Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO roles (name, description, created_at, updated_at)
			VALUES ($1, $2, NOW(), NOW())
			RETURNING id, name, description, created_at, updated_at`, name, description).
			Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
		if err != nil {
			if isPgErr(err, pgUniqueViolation) {
				return fmt.Errorf("%w: role name %q already exists", httpx.ErrDuplicate, name)
			}
			return fmt.Errorf("rbac: insert role: %w", err)
		}
		return replacePermissionsTx(ctx, tx, role.ID, permissionIDs)
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// UpdateRole updates name/description of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, description, created_at, updated_at`, id, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
		}
		if isPgErr(err, pgUniqueViolation) {
			return Role{}, fmt.Errorf("%w: role name %q already exists", httpx.ErrDuplicate, name)
		}
		return Role{}, fmt.Errorf("rbac: update role: %w", err)
	}
	return role, nil
}

// DeleteRole removes a role; assignments and permission links cascade at the
// store. Returns ErrNotFound when nothing was deleted.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rbac: delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
	}
	return nil
}

// ReplaceRolePermissions swaps the role's permission set in one transaction.
// A reader sees the old set or the new set, never an empty in-between.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
			return fmt.Errorf("rbac: check role: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: role %d", httpx.ErrNotFound, roleID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("rbac: clear role permissions: %w", err)
		}
		return replacePermissionsTx(ctx, tx, roleID, permissionIDs)
	})
}

// InsertUserRole inserts one tenant-scoped assignment. A duplicate triple
// maps to ErrDuplicate so the service can treat it as an idempotent success;
// a dangling reference maps to ErrNotFound.
func (r *Repository) InsertUserRole(ctx context.Context, ur UserRole) (UserRole, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO user_roles (user_id, role_id, company_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING assigned_at`, ur.UserID, ur.RoleID, ur.CompanyID, ur.AssignedBy).Scan(&ur.AssignedAt)
	if err != nil {
		if isPgErr(err, pgUniqueViolation) {
			return UserRole{}, fmt.Errorf("%w: assignment", httpx.ErrDuplicate)
		}
		if isPgErr(err, pgForeignKeyViolation) {
			return UserRole{}, fmt.Errorf("%w: user, role or company", httpx.ErrNotFound)
		}
		return UserRole{}, fmt.Errorf("rbac: insert user role: %w", err)
	}
	return ur, nil
}

// GetUserRole fetches one assignment triple.
func (r *Repository) GetUserRole(ctx context.Context, userID, roleID, companyID int64) (UserRole, error) {
	ur := UserRole{UserID: userID, RoleID: roleID, CompanyID: companyID}
	err := r.pool.QueryRow(ctx, `
		SELECT assigned_by, assigned_at FROM user_roles
		WHERE user_id = $1 AND role_id = $2 AND company_id = $3`, userID, roleID, companyID).
		Scan(&ur.AssignedBy, &ur.AssignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRole{}, fmt.Errorf("%w: assignment", httpx.ErrNotFound)
		}
		return UserRole{}, fmt.Errorf("rbac: get user role: %w", err)
	}
	return ur, nil
}

// ReplaceUserRoles drops every assignment for (user, company) and installs
// the given role, all-or-nothing.
func (r *Repository) ReplaceUserRoles(ctx context.Context, userID, companyID int64, ur UserRole) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND company_id = $2`, userID, companyID); err != nil {
			return fmt.Errorf("rbac: clear user roles: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id, company_id, assigned_by, assigned_at)
			VALUES ($1, $2, $3, $4, NOW())`, ur.UserID, ur.RoleID, ur.CompanyID, ur.AssignedBy)
		if err != nil {
			if isPgErr(err, pgForeignKeyViolation) {
				return fmt.Errorf("%w: user, role or company", httpx.ErrNotFound)
			}
			return fmt.Errorf("rbac: insert user role: %w", err)
		}
		return nil
	})
}

// DeleteUserRole removes one assignment. Reports whether a row matched.
func (r *Repository) DeleteUserRole(ctx context.Context, userID, roleID, companyID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2 AND company_id = $3`,
		userID, roleID, companyID)
	if err != nil {
		return false, fmt.Errorf("rbac: delete user role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UserExists reports whether a user row exists.
func (r *Repository) UserExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id)
}

// RoleExists reports whether a role row exists.
func (r *Repository) RoleExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, id)
}

// CompanyExists reports whether a company row exists.
func (r *Repository) CompanyExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM companies WHERE id = $1)`, id)
}

// EffectivePermissionCodes returns the distinct permission codes a user holds
// through all roles, optionally scoped to one company, ordered by code.
func (r *Repository) EffectivePermissionCodes(ctx context.Context, userID int64, companyID *int64) ([]string, error) {
	query := `
		SELECT DISTINCT p.code
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1`
	args := []any{userID}
	if companyID != nil {
		query += ` AND ur.company_id = $2`
		args = append(args, *companyID)
	}
	query += ` ORDER BY p.code`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rbac: effective permissions: %w", err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (r *Repository) exists(ctx context.Context, query string, id int64) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("rbac: existence check: %w", err)
	}
	return ok, nil
}

// replacePermissionsTx inserts the deduplicated permission set for a role
// after verifying every id is a known catalog entry.
func replacePermissionsTx(ctx context.Context, tx pgx.Tx, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	var known int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE id = ANY($1)`, permissionIDs).Scan(&known); err != nil {
		return fmt.Errorf("rbac: verify permissions: %w", err)
	}
	if known != len(permissionIDs) {
		return fmt.Errorf("%w: unknown permission id in set", httpx.ErrValidation)
	}
	for _, id := range permissionIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, id); err != nil {
			return fmt.Errorf("rbac: attach permission: %w", err)
		}
	}
	return nil
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func isPgErr(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
