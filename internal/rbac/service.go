package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tambak-ops/tambak/internal/platform/httpx"
)

// RepositoryPort defines the persistence contract the service depends on.
type RepositoryPort interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermission(ctx context.Context, code, description string) (Permission, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	CreateRole(ctx context.Context, name, description string, permissionIDs []int64) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	InsertUserRole(ctx context.Context, ur UserRole) (UserRole, error)
	GetUserRole(ctx context.Context, userID, roleID, companyID int64) (UserRole, error)
	ReplaceUserRoles(ctx context.Context, userID, companyID int64, ur UserRole) error
	DeleteUserRole(ctx context.Context, userID, roleID, companyID int64) (bool, error)
	UserExists(ctx context.Context, id int64) (bool, error)
	RoleExists(ctx context.Context, id int64) (bool, error)
	CompanyExists(ctx context.Context, id int64) (bool, error)
	EffectivePermissionCodes(ctx context.Context, userID int64, companyID *int64) ([]string, error)
}

// Service orchestrates the permission catalog, role store, role-permission
// linking and tenant-scoped assignments.
type Service struct {
	repo RepositoryPort
}

// NewService constructs a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListPermissions returns the catalog ordered by code.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// EnsurePermission upserts a catalog entry after validating the code shape.
func (s *Service) EnsurePermission(ctx context.Context, code, description string) (Permission, error) {
	code = strings.TrimSpace(strings.ToLower(code))
	if _, _, err := SplitCode(code); err != nil {
		return Permission{}, err
	}
	return s.repo.EnsurePermission(ctx, code, strings.TrimSpace(description))
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// GetRoleWithPermissions returns the role joined with its permission set,
// ordered by permission code.
func (s *Service) GetRoleWithPermissions(ctx context.Context, id int64) (RoleWithPermissions, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	perms, err := s.repo.ListRolePermissions(ctx, id)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	if perms == nil {
		perms = []Permission{}
	}
	return RoleWithPermissions{Role: role, Permissions: perms}, nil
}

// CreateRole inserts a role with an optional initial permission set. The
// permission attach happens inside the same transaction as the insert.
func (s *Service) CreateRole(ctx context.Context, name, description string, permissionIDs []int64) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", httpx.ErrValidation)
	}
	return s.repo.CreateRole(ctx, name, strings.TrimSpace(description), dedupeIDs(permissionIDs))
}

// UpdateRole updates name/description of an existing role.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", httpx.ErrValidation)
	}
	return s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description))
}

// DeleteRole removes a role and, via the store, its links and assignments.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.repo.DeleteRole(ctx, id)
}

// ReplaceRolePermissions swaps a role's permission set atomically. An empty
// set is valid and leaves the role with no permissions.
func (s *Service) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return s.repo.ReplaceRolePermissions(ctx, roleID, dedupeIDs(permissionIDs))
}

// AssignRole binds a user to a role within one company. Re-assigning an
// existing triple is an idempotent success, not a duplicate-key error.
func (s *Service) AssignRole(ctx context.Context, userID, roleID, companyID, assignedBy int64) (UserRole, error) {
	if err := s.checkReferences(ctx, userID, roleID, companyID); err != nil {
		return UserRole{}, err
	}
	ur, err := s.repo.InsertUserRole(ctx, UserRole{
		UserID:     userID,
		RoleID:     roleID,
		CompanyID:  companyID,
		AssignedBy: assignedBy,
	})
	if err == nil {
		return ur, nil
	}
	if isDuplicate(err) {
		return s.repo.GetUserRole(ctx, userID, roleID, companyID)
	}
	return UserRole{}, err
}

// ReplaceRole removes every assignment the user holds in the company and
// installs the new role, all-or-nothing.
func (s *Service) ReplaceRole(ctx context.Context, userID, roleID, companyID, assignedBy int64) error {
	if err := s.checkReferences(ctx, userID, roleID, companyID); err != nil {
		return err
	}
	return s.repo.ReplaceUserRoles(ctx, userID, companyID, UserRole{
		UserID:     userID,
		RoleID:     roleID,
		CompanyID:  companyID,
		AssignedBy: assignedBy,
	})
}

// RemoveRole deletes the matching assignment. A missing row is a no-op
// success; a missing user/role/company is still NotFound.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID, companyID int64) error {
	if err := s.checkReferences(ctx, userID, roleID, companyID); err != nil {
		return err
	}
	_, err := s.repo.DeleteUserRole(ctx, userID, roleID, companyID)
	return err
}

// EffectivePermissions computes the union of permission codes the user holds,
// optionally scoped to one company. The result is sorted and never nil.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64, companyID *int64) ([]string, error) {
	codes, err := s.repo.EffectivePermissionCodes(ctx, userID, companyID)
	if err != nil {
		return nil, err
	}
	if codes == nil {
		codes = []string{}
	}
	sort.Strings(codes)
	return codes, nil
}

// HasPermission reports whether required is among the granted codes.
// It is fail-closed: empty input always denies, it never errors.
func HasPermission(granted []string, required string) bool {
	if required == "" {
		return false
	}
	for _, code := range granted {
		if code == required {
			return true
		}
	}
	return false
}

// GroupByCategory partitions permissions by the part of the code before the
// first dot. A code without a dot violates the catalog invariant.
func GroupByCategory(perms []Permission) (map[string][]Permission, error) {
	grouped := make(map[string][]Permission, len(perms))
	for _, p := range perms {
		category, _, err := SplitCode(p.Code)
		if err != nil {
			return nil, err
		}
		grouped[category] = append(grouped[category], p)
	}
	return grouped, nil
}

func (s *Service) checkReferences(ctx context.Context, userID, roleID, companyID int64) error {
	checks := []struct {
		name   string
		id     int64
		exists func(context.Context, int64) (bool, error)
	}{
		{"user", userID, s.repo.UserExists},
		{"role", roleID, s.repo.RoleExists},
		{"company", companyID, s.repo.CompanyExists},
	}
	for _, c := range checks {
		ok, err := c.exists(ctx, c.id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %d", httpx.ErrNotFound, c.name, c.id)
		}
	}
	return nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func isDuplicate(err error) bool {
	return errors.Is(err, httpx.ErrDuplicate)
}
