// internal/infra/httpapi/handler.go
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"callcenter_crm/internal/app"
	"callcenter_crm/internal/domain/followup"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// ActorHeader carries the id of the CRM user performing a change.
const ActorHeader = "X-Actor-ID"

// FollowUpService is the follow-up engine as seen by the HTTP layer.
type FollowUpService interface {
	EvaluateRequest(ctx context.Context, requestID int64, now time.Time) (*followup.Request, followup.Eligibility, error)
	ProcessFollowUp(ctx context.Context, requestID, actorID int64, now time.Time) error
	ProcessBulk(ctx context.Context, requestIDs []int64, actorID int64, now time.Time) map[int64]bool
	RecordFollowUp(ctx context.Context, in app.RecordInput, actorID int64, now time.Time) (*followup.LogEntry, error)
	EditLastEntry(ctx context.Context, entryID int64, fields followup.EntryFields, actorID int64, now time.Time) (*followup.LogEntry, error)
	ListLogEntries(ctx context.Context, requestID int64) ([]*followup.LogEntry, error)
	RunAutoClosure(ctx context.Context, now time.Time) (int, error)
}

// NotificationQuery lists due requests and dashboard counters.
type NotificationQuery interface {
	ListDue(ctx context.Context, filters app.DueFilters, now time.Time) ([]app.NotificationItem, error)
	Summary(ctx context.Context, now time.Time) (*app.Summary, error)
}

// Handler serves the follow-up endpoints.
type Handler struct {
	FollowUps     FollowUpService
	Notifications NotificationQuery
	Logger        *logrus.Entry
	Now           func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

type eligibilityResponse struct {
	RequestID        int64      `json:"request_id"`
	StatusName       string     `json:"status_name,omitempty"`
	FollowUpCount    int        `json:"follow_up_count"`
	RequiresFollowUp bool       `json:"requires_follow_up"`
	CanFollowUp      bool       `json:"can_follow_up"`
	IsOverdue        bool       `json:"is_overdue"`
	MaxReached       bool       `json:"max_reached"`
	IsManualMode     bool       `json:"is_manual_mode"`
	Mode             string     `json:"mode"`
	NextDueDate      *time.Time `json:"next_due_date"`
	StatusText       string     `json:"status_text"`
	DaysSince        int        `json:"days_since"`
	DaysOverdue      int        `json:"days_overdue"`
	Priority         string     `json:"priority"`
}

type logEntryResponse struct {
	ID             int64     `json:"id"`
	RequestID      int64     `json:"request_id"`
	StatusID       int64     `json:"status_id"`
	FollowUpTypeID *int64    `json:"follow_up_type_id"`
	ChangeReason   *string   `json:"change_reason"`
	Comment        *string   `json:"comment"`
	IsCurrent      bool      `json:"is_current"`
	UpdatedAt      time.Time `json:"updated_at"`
	UpdatedBy      *int64    `json:"updated_by"`
}

type dueItemResponse struct {
	RequestID        int64      `json:"request_id"`
	FullName         string     `json:"full_name"`
	Email            string     `json:"email,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	StatusName       string     `json:"status_name"`
	FollowUpCount    int        `json:"follow_up_count"`
	LastFollowUpDate *time.Time `json:"last_follow_up_date"`
	StatusText       string     `json:"status_text"`
	Mode             string     `json:"mode"`
	IsOverdue        bool       `json:"is_overdue"`
	Priority         string     `json:"priority"`
}

type entryPayload struct {
	StatusID       int64   `json:"status_id"`
	FollowUpTypeID *int64  `json:"follow_up_type_id"`
	ChangeReason   *string `json:"change_reason"`
	Comment        *string `json:"comment"`
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func newLogEntryResponse(e *followup.LogEntry) logEntryResponse {
	return logEntryResponse{
		ID:             e.ID,
		RequestID:      e.RequestID,
		StatusID:       e.StatusID,
		FollowUpTypeID: int64Ptr(e.FollowUpTypeID),
		ChangeReason:   stringPtr(e.ChangeReason),
		Comment:        stringPtr(e.Comment),
		IsCurrent:      e.IsCurrent,
		UpdatedAt:      e.UpdatedAt,
		UpdatedBy:      int64Ptr(e.UpdatedBy),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a follow-up error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, followup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, followup.ErrNotRequired),
		errors.Is(err, followup.ErrNoStatus),
		errors.Is(err, followup.ErrLimitReached),
		errors.Is(err, followup.ErrAlreadyClosed),
		errors.Is(err, followup.ErrNotMostRecent):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := h.Logger.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "status": status})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Info("Request rejected")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func actorID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(ActorHeader), 10, 64)
	return id, err == nil && id > 0
}

// GetEligibility handles GET /requests/{id}/eligibility.
func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request id"})
		return
	}

	req, res, err := h.FollowUps.EvaluateRequest(r.Context(), id, h.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := eligibilityResponse{
		RequestID:        req.ID,
		FollowUpCount:    req.FollowUpCount,
		RequiresFollowUp: res.RequiresFollowUp,
		CanFollowUp:      res.CanFollowUp(),
		IsOverdue:        res.IsOverdue,
		MaxReached:       res.MaxReached,
		IsManualMode:     res.IsManualMode,
		Mode:             string(res.Mode),
		NextDueDate:      res.NextDueDate,
		StatusText:       res.StatusText,
		DaysSince:        res.DaysSince,
		DaysOverdue:      res.DaysOverdue,
		Priority:         followup.PriorityLabel(res.Priority),
	}
	if req.Status != nil {
		resp.StatusName = req.Status.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

// ProcessFollowUp handles POST /requests/{id}/follow-ups.
func (h *Handler) ProcessFollowUp(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request id"})
		return
	}
	actor, ok := actorID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid " + ActorHeader})
		return
	}

	if err := h.FollowUps.ProcessFollowUp(r.Context(), id, actor, h.Now()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProcessBulk handles POST /follow-ups/bulk with body {"request_ids": [...]}.
func (h *Handler) ProcessBulk(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid " + ActorHeader})
		return
	}

	var payload struct {
		RequestIDs []int64 `json:"request_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.RequestIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request_ids must be a non-empty list"})
		return
	}

	results := h.FollowUps.ProcessBulk(r.Context(), payload.RequestIDs, actor, h.Now())
	succeeded := 0
	byID := make(map[string]bool, len(results))
	for id, okID := range results {
		byID[strconv.FormatInt(id, 10)] = okID
		if okID {
			succeeded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":   byID,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

// RecordFollowUp handles POST /requests/{id}/follow-up-log.
func (h *Handler) RecordFollowUp(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request id"})
		return
	}
	actor, ok := actorID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid " + ActorHeader})
		return
	}

	var payload entryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.StatusID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status_id is required"})
		return
	}

	entry, err := h.FollowUps.RecordFollowUp(r.Context(), app.RecordInput{
		RequestID:      id,
		StatusID:       payload.StatusID,
		FollowUpTypeID: nullInt64(payload.FollowUpTypeID),
		ChangeReason:   nullString(payload.ChangeReason),
		Comment:        nullString(payload.Comment),
	}, actor, h.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLogEntryResponse(entry))
}

// ListLogEntries handles GET /requests/{id}/follow-up-log.
func (h *Handler) ListLogEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request id"})
		return
	}

	entries, err := h.FollowUps.ListLogEntries(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]logEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, newLogEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// EditLastEntry handles PUT /follow-up-log/{entryID}.
func (h *Handler) EditLastEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := idParam(r, "entryID")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid entry id"})
		return
	}
	actor, ok := actorID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid " + ActorHeader})
		return
	}

	var payload entryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.StatusID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status_id is required"})
		return
	}

	entry, err := h.FollowUps.EditLastEntry(r.Context(), entryID, followup.EntryFields{
		StatusID:       payload.StatusID,
		FollowUpTypeID: nullInt64(payload.FollowUpTypeID),
		ChangeReason:   nullString(payload.ChangeReason),
		Comment:        nullString(payload.Comment),
	}, actor, h.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLogEntryResponse(entry))
}

// ListDue handles GET /follow-ups/due?type=&status=&priority=&search=&sort=&order=.
func (h *Handler) ListDue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := app.DueFilters{
		FollowUpType: q.Get("type"),
		StatusName:   q.Get("status"),
		Priority:     q.Get("priority"),
		Search:       q.Get("search"),
		SortBy:       q.Get("sort"),
		SortOrder:    q.Get("order"),
	}

	items, err := h.Notifications.ListDue(r.Context(), filters, h.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]dueItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, dueItemResponse{
			RequestID:        item.RequestID,
			FullName:         item.FullName,
			Email:            item.Email,
			Phone:            item.Phone,
			StatusName:       item.StatusName,
			FollowUpCount:    item.FollowUpCount,
			LastFollowUpDate: item.LastFollowUpDate,
			StatusText:       item.Eligibility.StatusText,
			Mode:             string(item.Eligibility.Mode),
			IsOverdue:        item.Eligibility.IsOverdue,
			Priority:         followup.PriorityLabel(item.Eligibility.Priority),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": resp, "total": len(resp)})
}

// Summary handles GET /follow-ups/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Notifications.Summary(r.Context(), h.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"due":             sum.Due,
		"overdue":         sum.Overdue,
		"near_auto_close": sum.NearAutoClose,
		"by_priority":     sum.ByPriority,
	})
}

// RunAutoClosure handles POST /follow-ups/auto-closure.
func (h *Handler) RunAutoClosure(w http.ResponseWriter, r *http.Request) {
	closed, err := h.FollowUps.RunAutoClosure(r.Context(), h.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": closed})
}
