package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tambak-ops/tambak/internal/audit"
	"github.com/tambak-ops/tambak/internal/platform/httpx"
	"github.com/tambak-ops/tambak/internal/shared"
)

// Recorder receives audit entries for administrative mutations. Recording is
// fire-and-forget; store failures never roll back the mutation itself.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// Handler exposes the admin JSON API for roles, permissions and assignments.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	recorder  Recorder
	validator *validator.Validate
	rbac      Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, recorder Recorder, mw Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		recorder:  recorder,
		validator: validator.New(),
		rbac:      mw,
	}
}

// MountRoutes registers admin routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("roles.view"))
		r.Get("/permissions", h.listPermissions)
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{id}", h.getRole)
		r.Get("/users/{id}/permissions", h.effectivePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("roles.edit"))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{id}", h.updateRole)
		r.Delete("/roles/{id}", h.deleteRole)
		r.Put("/roles/{id}/permissions", h.replaceRolePermissions)
		r.Post("/assignments", h.assignRole)
		r.Put("/assignments", h.replaceRole)
		r.Delete("/assignments", h.removeRole)
	})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if r.URL.Query().Get("grouped") == "1" {
		grouped, err := GroupByCategory(perms)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, grouped)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRoleWithPermissions(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

type roleForm struct {
	Name          string  `json:"name" validate:"required,max=120"`
	Description   string  `json:"description" validate:"max=500"`
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var form roleForm
	if !h.decode(w, r, &form) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), form.Name, form.Description, form.PermissionIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.audit(r, "create", "roles", role.ID, nil, audit.ValuesFrom(map[string]any{
		"name":        role.Name,
		"description": role.Description,
	}))
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form roleForm
	if !h.decode(w, r, &form) {
		return
	}
	before, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, form.Name, form.Description)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.audit(r, "update", "roles", role.ID,
		audit.ValuesFrom(map[string]any{"name": before.Name, "description": before.Description}),
		audit.ValuesFrom(map[string]any{"name": role.Name, "description": role.Description}))
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	before, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.audit(r, "delete", "roles", id,
		audit.ValuesFrom(map[string]any{"name": before.Name, "description": before.Description}), nil)
	w.WriteHeader(http.StatusNoContent)
}

type replacePermissionsForm struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

func (h *Handler) replaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form replacePermissionsForm
	if !h.decode(w, r, &form) {
		return
	}
	before, err := h.service.GetRoleWithPermissions(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ReplaceRolePermissions(r.Context(), id, form.PermissionIDs); err != nil {
		httpx.RespondError(w, err)
		return
	}
	after, err := h.service.GetRoleWithPermissions(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.audit(r, "update", "roles", id,
		audit.ValuesFrom(map[string]any{"permissions": permissionCodes(before.Permissions)}),
		audit.ValuesFrom(map[string]any{"permissions": permissionCodes(after.Permissions)}))
	w.WriteHeader(http.StatusNoContent)
}

type assignmentForm struct {
	UserID    int64 `json:"user_id" validate:"required,gt=0"`
	RoleID    int64 `json:"role_id" validate:"required,gt=0"`
	CompanyID int64 `json:"company_id" validate:"required,gt=0"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var form assignmentForm
	if !h.decode(w, r, &form) {
		return
	}
	ur, err := h.service.AssignRole(r.Context(), form.UserID, form.RoleID, form.CompanyID, callerID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.auditScoped(r, form.CompanyID, "create", "user_roles", form.UserID, nil, audit.ValuesFrom(map[string]any{
		"role_id": ur.RoleID,
	}))
	httpx.JSON(w, http.StatusCreated, ur)
}

func (h *Handler) replaceRole(w http.ResponseWriter, r *http.Request) {
	var form assignmentForm
	if !h.decode(w, r, &form) {
		return
	}
	if err := h.service.ReplaceRole(r.Context(), form.UserID, form.RoleID, form.CompanyID, callerID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.auditScoped(r, form.CompanyID, "update", "user_roles", form.UserID,
		audit.ValuesFrom(map[string]any{"user_id": form.UserID}),
		audit.ValuesFrom(map[string]any{"role_id": form.RoleID}))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	var form assignmentForm
	if !h.decode(w, r, &form) {
		return
	}
	if err := h.service.RemoveRole(r.Context(), form.UserID, form.RoleID, form.CompanyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.auditScoped(r, form.CompanyID, "delete", "user_roles", form.UserID,
		audit.ValuesFrom(map[string]any{"role_id": form.RoleID}), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var companyID *int64
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid company_id")
			return
		}
		companyID = &parsed
	}
	codes, err := h.service.EffectivePermissions(r.Context(), id, companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": codes})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) audit(r *http.Request, action, table string, recordID int64, prev, next audit.Values) {
	companyID := int64(0)
	if id := shared.IdentityFromContext(r.Context()); id != nil {
		companyID = id.CompanyID
	}
	h.auditScoped(r, companyID, action, table, recordID, prev, next)
}

func (h *Handler) auditScoped(r *http.Request, companyID int64, action, table string, recordID int64, prev, next audit.Values) {
	if h.recorder == nil {
		return
	}
	if _, err := h.recorder.Record(r.Context(), audit.Entry{
		CompanyID:      companyID,
		ActionType:     action,
		TableName:      table,
		RecordID:       recordID,
		PreviousValues: prev,
		NewValues:      next,
	}); err != nil && h.logger != nil {
		h.logger.Warn("record admin audit entry", slog.Any("error", err))
	}
}

func callerID(r *http.Request) int64 {
	if id := shared.IdentityFromContext(r.Context()); id != nil {
		return id.UserID
	}
	return 0
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

// permissionCodes flattens a permission set into one comma separated value so
// it fits the scalar audit snapshot format.
func permissionCodes(perms []Permission) string {
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		codes = append(codes, p.Code)
	}
	return strings.Join(codes, ",")
}
