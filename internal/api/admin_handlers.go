package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/gorilla/mux"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BlockRequest is the body of the block endpoints.
type BlockRequest struct {
	Reason string `json:"reason"`
}

// EnabledRequest is the body of PUT .../enabled.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// OpenDayResponse reports whether openDay created the grid.
type OpenDayResponse struct {
	Date    string           `json:"date"`
	Created bool             `json:"created"`
	Slots   []model.SlotView `json:"slots"`
}

// PurgeResponse is the body of DELETE /admin/audit.
type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) handleBlockSlot(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, index, err := s.pathSlot(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var req BlockRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	if err := s.admin.BlockSlot(r.Context(), actor, date, index, req.Reason); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnblockSlot(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, index, err := s.pathSlot(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	if err := s.admin.UnblockSlot(r.Context(), actor, date, index); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlockDay(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, err := s.pathDate(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var req BlockRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	report, err := s.admin.BlockEntireDay(r.Context(), actor, date, req.Reason)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleOpenDay(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, err := s.pathDate(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	day, created, err := s.admin.OpenDay(r.Context(), actor, date)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	resp := OpenDayResponse{Date: day.Date, Created: created, Slots: make([]model.SlotView, len(day.Slots))}
	for i, slot := range day.Slots {
		resp.Slots[i] = slot.View()
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, index, err := s.pathSlot(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var req EnabledRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if req.Enabled == nil {
		s.writeEngineError(w, r, fmt.Errorf("%w: enabled is required", model.ErrInvalidInput))
		return
	}

	if err := s.admin.SetSlotEnabled(r.Context(), actor, date, index, *req.Enabled); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveReservation(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, index, err := s.pathSlot(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	removed, err := s.admin.RemoveClientReservation(r.Context(), actor, date, index)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (s *Server) handleResetUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	st, err := s.admin.ResetUser(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleBanUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	st, err := s.admin.BanUser(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// The audit endpoints check the role here because the log itself has no
// notion of callers.

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	f, err := s.auditFilter(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	page, err := queryInt(r, "page")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	size, err := queryInt(r, "pageSize")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	result, err := s.audit.Query(r.Context(), f, page, size)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	summary, err := s.audit.Summarize(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAuditPurge(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	actor, _ := ActorFrom(r.Context())
	f, err := s.auditFilter(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	deleted, err := s.audit.Purge(r.Context(), actor, f)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PurgeResponse{Deleted: deleted})
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	actor, _ := ActorFrom(r.Context())
	f, err := s.auditFilter(r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	// Buffer the workbook so a failure can still produce an error status.
	var buf bytes.Buffer
	if _, err := s.audit.ExportXLSX(r.Context(), actor, f, &buf); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	name := fmt.Sprintf("audit_%s.xlsx", time.Now().In(s.days.Location()).Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor, _ := ActorFrom(r.Context())
	if !actor.Admin {
		s.writeEngineError(w, r, model.ErrAdminRequired)
		return false
	}
	return true
}

// auditFilter reads userId, action, importance, from and to. Bounds accept
// RFC 3339 timestamps or calendar dates in the shop's time zone; a date
// used as "to" covers that whole day.
func (s *Server) auditFilter(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	f := model.AuditFilter{
		UserID:     q.Get("userId"),
		Action:     model.ActionType(q.Get("action")),
		Importance: model.Importance(q.Get("importance")),
	}

	var err error
	if f.From, err = s.parseBound(q.Get("from"), false); err != nil {
		return model.AuditFilter{}, err
	}
	if f.To, err = s.parseBound(q.Get("to"), true); err != nil {
		return model.AuditFilter{}, err
	}
	return f, nil
}

func (s *Server) parseBound(v string, end bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	day, err := model.ParseDate(v, s.days.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is neither RFC 3339 nor YYYY-MM-DD", model.ErrInvalidInput, v)
	}
	if end {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", model.ErrInvalidInput, name)
	}
	return n, nil
}
