package rbac

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tambak-ops/tambak/internal/platform/httpx"
)

type memoryRepo struct {
	permissions map[int64]Permission
	roles       map[int64]Role
	rolePerms   map[int64][]int64
	userRoles   map[string]UserRole
	users       map[int64]struct{}
	companies   map[int64]struct{}
	nextID      int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		permissions: make(map[int64]Permission),
		roles:       make(map[int64]Role),
		rolePerms:   make(map[int64][]int64),
		userRoles:   make(map[string]UserRole),
		users:       make(map[int64]struct{}),
		companies:   make(map[int64]struct{}),
	}
}

func tripleKey(userID, roleID, companyID int64) string {
	return fmt.Sprintf("%d:%d:%d", userID, roleID, companyID)
}

func (r *memoryRepo) addPermission(code string) Permission {
	r.nextID++
	p := Permission{ID: r.nextID, Code: code}
	r.permissions[p.ID] = p
	return p
}

func (r *memoryRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms := make([]Permission, 0, len(r.permissions))
	for _, p := range r.permissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

func (r *memoryRepo) EnsurePermission(ctx context.Context, code, description string) (Permission, error) {
	for _, p := range r.permissions {
		if p.Code == code {
			p.Description = description
			r.permissions[p.ID] = p
			return p, nil
		}
	}
	r.nextID++
	p := Permission{ID: r.nextID, Code: code, Description: description}
	r.permissions[p.ID] = p
	return p, nil
}

func (r *memoryRepo) ListRoles(ctx context.Context) ([]Role, error) {
	roles := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *memoryRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
	}
	return role, nil
}

func (r *memoryRepo) ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	var perms []Permission
	for _, id := range r.rolePerms[roleID] {
		perms = append(perms, r.permissions[id])
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

func (r *memoryRepo) CreateRole(ctx context.Context, name, description string, permissionIDs []int64) (Role, error) {
	for _, role := range r.roles {
		if role.Name == name {
			return Role{}, fmt.Errorf("%w: role name %q already exists", httpx.ErrDuplicate, name)
		}
	}
	for _, id := range permissionIDs {
		if _, ok := r.permissions[id]; !ok {
			return Role{}, fmt.Errorf("%w: unknown permission id in set", httpx.ErrValidation)
		}
	}
	r.nextID++
	role := Role{ID: r.nextID, Name: name, Description: description, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.roles[role.ID] = role
	r.rolePerms[role.ID] = append([]int64(nil), permissionIDs...)
	return role, nil
}

func (r *memoryRepo) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
	}
	role.Name = name
	role.Description = description
	r.roles[id] = role
	return role, nil
}

func (r *memoryRepo) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := r.roles[id]; !ok {
		return fmt.Errorf("%w: role %d", httpx.ErrNotFound, id)
	}
	delete(r.roles, id)
	delete(r.rolePerms, id)
	for key, ur := range r.userRoles {
		if ur.RoleID == id {
			delete(r.userRoles, key)
		}
	}
	return nil
}

func (r *memoryRepo) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, ok := r.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %d", httpx.ErrNotFound, roleID)
	}
	for _, id := range permissionIDs {
		if _, ok := r.permissions[id]; !ok {
			return fmt.Errorf("%w: unknown permission id in set", httpx.ErrValidation)
		}
	}
	r.rolePerms[roleID] = append([]int64(nil), permissionIDs...)
	return nil
}

func (r *memoryRepo) InsertUserRole(ctx context.Context, ur UserRole) (UserRole, error) {
	key := tripleKey(ur.UserID, ur.RoleID, ur.CompanyID)
	if _, ok := r.userRoles[key]; ok {
		return UserRole{}, fmt.Errorf("%w: assignment", httpx.ErrDuplicate)
	}
	ur.AssignedAt = time.Now()
	r.userRoles[key] = ur
	return ur, nil
}

func (r *memoryRepo) GetUserRole(ctx context.Context, userID, roleID, companyID int64) (UserRole, error) {
	ur, ok := r.userRoles[tripleKey(userID, roleID, companyID)]
	if !ok {
		return UserRole{}, fmt.Errorf("%w: assignment", httpx.ErrNotFound)
	}
	return ur, nil
}

func (r *memoryRepo) ReplaceUserRoles(ctx context.Context, userID, companyID int64, ur UserRole) error {
	for key, existing := range r.userRoles {
		if existing.UserID == userID && existing.CompanyID == companyID {
			delete(r.userRoles, key)
		}
	}
	ur.AssignedAt = time.Now()
	r.userRoles[tripleKey(ur.UserID, ur.RoleID, ur.CompanyID)] = ur
	return nil
}

func (r *memoryRepo) DeleteUserRole(ctx context.Context, userID, roleID, companyID int64) (bool, error) {
	key := tripleKey(userID, roleID, companyID)
	if _, ok := r.userRoles[key]; !ok {
		return false, nil
	}
	delete(r.userRoles, key)
	return true, nil
}

func (r *memoryRepo) UserExists(ctx context.Context, id int64) (bool, error) {
	_, ok := r.users[id]
	return ok, nil
}

func (r *memoryRepo) RoleExists(ctx context.Context, id int64) (bool, error) {
	_, ok := r.roles[id]
	return ok, nil
}

func (r *memoryRepo) CompanyExists(ctx context.Context, id int64) (bool, error) {
	_, ok := r.companies[id]
	return ok, nil
}

func (r *memoryRepo) EffectivePermissionCodes(ctx context.Context, userID int64, companyID *int64) ([]string, error) {
	seen := make(map[string]struct{})
	for _, ur := range r.userRoles {
		if ur.UserID != userID {
			continue
		}
		if companyID != nil && ur.CompanyID != *companyID {
			continue
		}
		for _, pid := range r.rolePerms[ur.RoleID] {
			seen[r.permissions[pid].Code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func TestReplaceRolePermissionsDeduplicates(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	read := repo.addPermission("cages.read")
	update := repo.addPermission("cages.update")

	role, err := svc.CreateRole(ctx, "Operator", "day to day operations", nil)
	require.NoError(t, err)

	err = svc.ReplaceRolePermissions(ctx, role.ID, []int64{read.ID, update.ID, read.ID})
	require.NoError(t, err)

	got, err := svc.GetRoleWithPermissions(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, got.Permissions, 2)
	require.Equal(t, []string{"cages.read", "cages.update"}, []string{got.Permissions[0].Code, got.Permissions[1].Code})
}

func TestReplaceRolePermissionsEmptySetIsValid(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	read := repo.addPermission("cages.read")
	role, err := svc.CreateRole(ctx, "Viewer", "", []int64{read.ID})
	require.NoError(t, err)

	require.NoError(t, svc.ReplaceRolePermissions(ctx, role.ID, nil))

	got, err := svc.GetRoleWithPermissions(ctx, role.ID)
	require.NoError(t, err)
	require.Empty(t, got.Permissions)
}

func TestReplaceRolePermissionsUnknownRole(t *testing.T) {
	svc := NewService(newMemoryRepo())
	err := svc.ReplaceRolePermissions(context.Background(), 42, nil)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestCreateRoleDuplicateName(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, "Admin", "", nil)
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, "Admin", "second", nil)
	require.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestCreateRoleRequiresName(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.CreateRole(context.Background(), "   ", "", nil)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestAssignRoleIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	repo.users[1] = struct{}{}
	repo.companies[10] = struct{}{}
	role, err := svc.CreateRole(ctx, "Operator", "", nil)
	require.NoError(t, err)

	first, err := svc.AssignRole(ctx, 1, role.ID, 10, 99)
	require.NoError(t, err)
	second, err := svc.AssignRole(ctx, 1, role.ID, 10, 99)
	require.NoError(t, err)

	require.Equal(t, first.UserID, second.UserID)
	require.Len(t, repo.userRoles, 1)
}

func TestAssignRoleChecksReferences(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "Operator", "", nil)
	require.NoError(t, err)
	repo.companies[10] = struct{}{}

	_, err = svc.AssignRole(ctx, 1, role.ID, 10, 99)
	require.ErrorIs(t, err, httpx.ErrNotFound)

	repo.users[1] = struct{}{}
	_, err = svc.AssignRole(ctx, 1, role.ID, 77, 99)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestReplaceRoleSwapsAssignment(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	repo.users[1] = struct{}{}
	repo.companies[10] = struct{}{}
	old, err := svc.CreateRole(ctx, "Viewer", "", nil)
	require.NoError(t, err)
	next, err := svc.CreateRole(ctx, "Operator", "", nil)
	require.NoError(t, err)

	_, err = svc.AssignRole(ctx, 1, old.ID, 10, 99)
	require.NoError(t, err)
	require.NoError(t, svc.ReplaceRole(ctx, 1, next.ID, 10, 99))

	require.Len(t, repo.userRoles, 1)
	_, ok := repo.userRoles[tripleKey(1, next.ID, 10)]
	require.True(t, ok)
}

func TestRemoveRoleMissingAssignmentIsNoop(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	repo.users[1] = struct{}{}
	repo.companies[10] = struct{}{}
	role, err := svc.CreateRole(ctx, "Operator", "", nil)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveRole(ctx, 1, role.ID, 10))
}

func TestEffectivePermissionsIsUnion(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	read := repo.addPermission("x.read")
	write := repo.addPermission("x.write")
	repo.users[1] = struct{}{}
	repo.companies[10] = struct{}{}

	roleA, err := svc.CreateRole(ctx, "Reader", "", []int64{read.ID})
	require.NoError(t, err)
	roleB, err := svc.CreateRole(ctx, "Writer", "", []int64{write.ID})
	require.NoError(t, err)

	_, err = svc.AssignRole(ctx, 1, roleA.ID, 10, 99)
	require.NoError(t, err)
	_, err = svc.AssignRole(ctx, 1, roleB.ID, 10, 99)
	require.NoError(t, err)

	company := int64(10)
	codes, err := svc.EffectivePermissions(ctx, 1, &company)
	require.NoError(t, err)
	require.Equal(t, []string{"x.read", "x.write"}, codes)
}

func TestOperatorScenario(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	read := repo.addPermission("cages.read")
	update := repo.addPermission("cages.update")
	repo.users[1] = struct{}{}
	repo.companies[1] = struct{}{}

	role, err := svc.CreateRole(ctx, "Operator", "", []int64{read.ID, update.ID})
	require.NoError(t, err)

	_, err = svc.AssignRole(ctx, 1, role.ID, 1, 2)
	require.NoError(t, err)

	company := int64(1)
	codes, err := svc.EffectivePermissions(ctx, 1, &company)
	require.NoError(t, err)
	require.Equal(t, []string{"cages.read", "cages.update"}, codes)

	require.NoError(t, svc.RemoveRole(ctx, 1, role.ID, 1))

	codes, err = svc.EffectivePermissions(ctx, 1, &company)
	require.NoError(t, err)
	require.Empty(t, codes)
}

func TestHasPermission(t *testing.T) {
	require.False(t, HasPermission(nil, "cages.delete"))
	require.False(t, HasPermission([]string{}, "cages.delete"))
	require.False(t, HasPermission([]string{"cages.read"}, ""))
	require.True(t, HasPermission([]string{"cages.delete"}, "cages.delete"))
}

func TestGroupByCategory(t *testing.T) {
	grouped, err := GroupByCategory([]Permission{
		{Code: "cages.read"},
		{Code: "cages.update"},
		{Code: "harvest.create"},
	})
	require.NoError(t, err)
	require.Len(t, grouped["cages"], 2)
	require.Len(t, grouped["harvest"], 1)

	_, err = GroupByCategory([]Permission{{Code: "malformed"}})
	require.ErrorIs(t, err, httpx.ErrValidation)
}
