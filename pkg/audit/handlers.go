package audit

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/httputil"
	"github.com/platinummonkey/carebridge/pkg/observability"
)

const maxExportEvents = 10000

// Handlers serves the audit admin API
type Handlers struct {
	service       *Service
	retention     *Retention
	recorder      Recorder
	retentionDays int
}

// NewHandlers builds the handlers. retention may be nil, which disables the
// manual sweep route.
func NewHandlers(service *Service, retention *Retention, recorder Recorder, retentionDays int) *Handlers {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Handlers{
		service:       service,
		retention:     retention,
		recorder:      recorder,
		retentionDays: retentionDays,
	}
}

// RegisterRoutes mounts the routes under router, which is expected to be the
// already-guarded admin subrouter
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/logs", h.listLogs).Methods(http.MethodGet)
	router.HandleFunc("/audit/stats", h.getStats).Methods(http.MethodGet)
	router.HandleFunc("/audit/export", h.exportLogs).Methods(http.MethodGet)
	if h.retention != nil {
		router.HandleFunc("/audit/retention", h.runRetention).Methods(http.MethodPost)
	}
}

// GET /audit/logs
func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	page, err := parsePagination(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	result, err := h.service.GetAuditLogs(r.Context(), filter, page)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit log search failed")
		httputil.WriteInternalError(w, "Failed to retrieve audit logs")
		return
	}
	httputil.WriteSuccess(w, result)
}

// GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	stats, err := h.service.GetAuditStats(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit stats failed")
		httputil.WriteInternalError(w, "Failed to retrieve audit stats")
		return
	}
	httputil.WriteSuccess(w, stats)
}

// GET /audit/export?format=json|csv|ndjson
func (h *Handlers) exportLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteAppError(w, apperrors.Validation(err.Error()))
		return
	}

	var events []*Event
	for p := (Pagination{Page: 1, PageSize: MaxPageSize}); len(events) < maxExportEvents; p.Page++ {
		page, err := h.service.GetAuditLogs(r.Context(), filter, p)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("audit export failed")
			httputil.WriteInternalError(w, "Failed to export audit logs")
			return
		}
		events = append(events, page.Events...)
		if p.Page >= page.TotalPages {
			break
		}
	}
	if len(events) > maxExportEvents {
		events = events[:maxExportEvents]
	}

	data, err := Export(events, format)
	if err != nil {
		httputil.WriteInternalError(w, "Failed to export audit logs")
		return
	}

	h.recorder.Record(r.Context(), NewEvent(ActionAuditExported, RiskMedium).
		On(ResourceAuditLog, "").
		WithMeta(MetaFromRequest(r)).
		With("format", string(format)).
		With("count", len(events)))

	contentType, ext := format.ContentType()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-logs.%s", ext))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// POST /audit/retention?days=N
func (h *Handlers) runRetention(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.ParseQueryInt(r, "days", h.retentionDays)
	if err != nil || days <= 0 {
		httputil.WriteAppError(w, apperrors.Validation("days must be a positive integer"))
		return
	}

	deleted, err := h.retention.Sweep(r.Context(), days)
	if err != nil {
		httputil.WriteInternalError(w, "Retention sweep failed")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"deleted":      deleted,
		"horizon_days": days,
	})
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		UserID:       q.Get("user_id"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
	}

	if actions := q.Get("actions"); actions != "" {
		for _, a := range strings.Split(actions, ",") {
			if a = strings.TrimSpace(a); a != "" {
				f.Actions = append(f.Actions, Action(strings.ToUpper(a)))
			}
		}
	}
	if risk := q.Get("risk_level"); risk != "" {
		f.RiskLevel = RiskLevel(strings.ToLower(risk))
		if !f.RiskLevel.Valid() {
			return f, apperrors.Validation("invalid risk_level")
		}
	}

	var err error
	if f.Success, err = httputil.ParseQueryBool(r, "success"); err != nil {
		return f, apperrors.Validation("invalid success flag")
	}
	if f.StartTime, err = httputil.ParseQueryTime(r, "start_time"); err != nil {
		return f, apperrors.Validation("start_time must be RFC3339")
	}
	if f.EndTime, err = httputil.ParseQueryTime(r, "end_time"); err != nil {
		return f, apperrors.Validation("end_time must be RFC3339")
	}
	return f, nil
}

func parsePagination(r *http.Request) (Pagination, error) {
	page, err := httputil.ParseQueryInt(r, "page", 1)
	if err != nil {
		return Pagination{}, apperrors.Validation("page must be an integer")
	}
	size, err := httputil.ParseQueryInt(r, "page_size", DefaultPageSize)
	if err != nil {
		return Pagination{}, apperrors.Validation("page_size must be an integer")
	}
	return Pagination{Page: page, PageSize: size}.Normalize(), nil
}
