package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/tambak-ops/tambak/internal/platform/httpx"
	"github.com/tambak-ops/tambak/internal/shared"
)

const (
	defaultWindowDays = 7
	maxWindowDays     = 90
)

// PermissionGate guards audit routes; satisfied by rbac.Middleware.
type PermissionGate interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
}

// Handler exposes the dashboard JSON API over the trail.
type Handler struct {
	logger  *slog.Logger
	service *Service
	cache   *DashboardCache
	gate    PermissionGate
	group   singleflight.Group
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, cache *DashboardCache, gate PermissionGate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, cache: cache, gate: gate}
}

// MountRoutes registers audit routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.gate != nil {
			r.Use(h.gate.RequireAny("audit.view"))
		}
		r.Get("/logs", h.queryLogs)
		r.Get("/logs/export", h.exportLogs)
		r.Get("/history/{table}/{record}", h.recordHistory)
		r.Get("/recent", h.recentActivity)
		r.Get("/stats/actions", h.actionTypeStats)
		r.Get("/stats/timeline", h.changesTimeline)
		r.Get("/stats/users", h.userActivity)
	})
}

func (h *Handler) queryLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.QueryLogs(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) exportLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit = maxQueryLimit
	entries, err := h.service.QueryLogs(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	data, err := WriteCSV(entries)
	if err != nil {
		h.logger.Error("export audit csv", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_logs.csv"`)
	_, _ = w.Write(data)
}

func (h *Handler) recordHistory(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	record, err := strconv.ParseInt(chi.URLParam(r, "record"), 10, 64)
	if err != nil || record <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return
	}
	entries, err := h.service.RecordHistory(r.Context(), table, record)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) recentActivity(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.RecentActivity(r.Context(), companyID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) actionTypeStats(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}
	days := windowDays(r)
	if dash, ok := h.cachedDashboard(r, companyID, days); ok {
		httpx.JSON(w, http.StatusOK, dash.ActionStats)
		return
	}
	key := fmt.Sprintf("actions:%d:%d", companyID, days)
	stats, err, _ := h.group.Do(key, func() (any, error) {
		return h.service.ActionTypeStats(r.Context(), companyID, days)
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) changesTimeline(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}
	days := windowDays(r)
	if dash, ok := h.cachedDashboard(r, companyID, days); ok {
		httpx.JSON(w, http.StatusOK, dash.Timeline)
		return
	}
	key := fmt.Sprintf("timeline:%d:%d", companyID, days)
	points, err, _ := h.group.Do(key, func() (any, error) {
		return h.service.ChangesTimeline(r.Context(), companyID, days)
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, points)
}

func (h *Handler) userActivity(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	activities, err := h.service.UserActivityDistribution(r.Context(), companyID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, activities)
}

// companyID resolves the tenant scope for dashboard queries: an explicit
// company_id parameter when present, the session's company otherwise.
func (h *Handler) companyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid company_id")
			return 0, false
		}
		return id, true
	}
	if id := shared.IdentityFromContext(r.Context()); id != nil && id.CompanyID > 0 {
		return id.CompanyID, true
	}
	httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
	return 0, false
}

func (h *Handler) cachedDashboard(r *http.Request, companyID int64, days int) (Dashboard, bool) {
	dash, ok, err := h.cache.Get(r.Context(), companyID, days)
	if err != nil {
		h.logger.Warn("dashboard cache read", slog.Any("error", err))
		return Dashboard{}, false
	}
	return dash, ok
}

func windowDays(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		return defaultWindowDays
	}
	if days > maxWindowDays {
		return maxWindowDays
	}
	return days
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter
	var err error
	if f.UserID, err = optionalID(q.Get("user_id")); err != nil {
		return Filter{}, fmt.Errorf("%w: invalid user_id", httpx.ErrValidation)
	}
	if f.CompanyID, err = optionalID(q.Get("company_id")); err != nil {
		return Filter{}, fmt.Errorf("%w: invalid company_id", httpx.ErrValidation)
	}
	if f.RecordID, err = optionalID(q.Get("record_id")); err != nil {
		return Filter{}, fmt.Errorf("%w: invalid record_id", httpx.ErrValidation)
	}
	f.TableName = q.Get("table_name")
	if action := q.Get("action_type"); action != "" {
		if !ValidActionType(action) {
			return Filter{}, fmt.Errorf("%w: invalid action_type %q", httpx.ErrValidation, action)
		}
		f.ActionType = action
	}
	if raw := q.Get("from"); raw != "" {
		if f.From, err = time.Parse(time.RFC3339, raw); err != nil {
			return Filter{}, fmt.Errorf("%w: invalid from date", httpx.ErrValidation)
		}
	}
	if raw := q.Get("to"); raw != "" {
		if f.To, err = time.Parse(time.RFC3339, raw); err != nil {
			return Filter{}, fmt.Errorf("%w: invalid to date", httpx.ErrValidation)
		}
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f, nil
}

func optionalID(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, strconv.ErrSyntax
	}
	return id, nil
}
