// Package api exposes the reservation engine over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/admin"
	"github.com/DanielSantin/site-barbearia-sub000/internal/audit"
	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/DanielSantin/site-barbearia-sub000/internal/ratelimit"
	"github.com/DanielSantin/site-barbearia-sub000/internal/reservation"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Days serves annotated day grids.
type Days interface {
	ListDay(ctx context.Context, date string) ([]model.SlotView, error)
	Location() *time.Location
}

// Reservations is the client-facing booking surface.
type Reservations interface {
	Reserve(ctx context.Context, actor model.Actor, date string, index int, service string) (model.Reservation, error)
	ReserveCombo(ctx context.Context, actor model.Actor, date string, startIndex int) (model.Reservation, model.Reservation, error)
	Cancel(ctx context.Context, actor model.Actor, date string, index int, acceptFee bool) (reservation.CancellationOutcome, error)
	ListUserReservations(ctx context.Context, userID string) (reservation.UserReservations, error)
}

// Admin is the shop-owner surface.
type Admin interface {
	BlockSlot(ctx context.Context, actor model.Actor, date string, index int, reason string) error
	UnblockSlot(ctx context.Context, actor model.Actor, date string, index int) error
	BlockEntireDay(ctx context.Context, actor model.Actor, date, reason string) (admin.DayBlockReport, error)
	RemoveClientReservation(ctx context.Context, actor model.Actor, date string, index int) (model.Reservation, error)
	SetSlotEnabled(ctx context.Context, actor model.Actor, date string, index int, enabled bool) error
	OpenDay(ctx context.Context, actor model.Actor, date string) (*model.DaySchedule, bool, error)
	ResetUser(ctx context.Context, actor model.Actor, userID string) (model.UserPolicyState, error)
	BanUser(ctx context.Context, actor model.Actor, userID string) (model.UserPolicyState, error)
}

// AuditLog is the read and maintenance side of the audit log.
type AuditLog interface {
	Query(ctx context.Context, f model.AuditFilter, page, pageSize int) (audit.Page, error)
	Summarize(ctx context.Context) (model.AuditSummary, error)
	Purge(ctx context.Context, actor model.Actor, f model.AuditFilter) (int64, error)
	ExportXLSX(ctx context.Context, actor model.Actor, f model.AuditFilter, w io.Writer) (int, error)
}

// Deps wires the server to the engine.
type Deps struct {
	Days         Days
	Reservations Reservations
	Admin        Admin
	Audit        AuditLog
	Auth         *Authenticator
	// Limiter defaults to no limiting.
	Limiter     ratelimit.Limiter
	CORSOrigins []string
}

type Server struct {
	days         Days
	reservations Reservations
	admin        Admin
	audit        AuditLog
	auth         *Authenticator
	limiter      ratelimit.Limiter
	corsOrigins  []string
	logger       zerolog.Logger

	handler http.Handler
}

func NewServer(deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		days:         deps.Days,
		reservations: deps.Reservations,
		admin:        deps.Admin,
		audit:        deps.Audit,
		auth:         deps.Auth,
		limiter:      deps.Limiter,
		corsOrigins:  deps.CORSOrigins,
		logger:       logger.With().Str("component", "api").Logger(),
	}
	if s.limiter == nil {
		s.limiter = ratelimit.Nop{}
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler with recovery and CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route_not_found", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "validation", "method_not_allowed", "method not allowed")
	})
	r.Use(s.requestID, s.observe)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authenticate, s.rateLimit)

	v1.HandleFunc("/days/{date}", s.handleGetDay).Methods(http.MethodGet)
	v1.HandleFunc("/days/{date}/slots/{index}/reservation", s.handleReserve).Methods(http.MethodPost)
	v1.HandleFunc("/days/{date}/slots/{index}/reservation", s.handleCancel).Methods(http.MethodDelete)
	v1.HandleFunc("/days/{date}/slots/{index}/combo", s.handleReserveCombo).Methods(http.MethodPost)
	v1.HandleFunc("/me/reservations", s.handleMyReservations).Methods(http.MethodGet)

	adm := v1.PathPrefix("/admin").Subrouter()
	adm.HandleFunc("/days/{date}/slots/{index}/block", s.handleBlockSlot).Methods(http.MethodPut)
	adm.HandleFunc("/days/{date}/slots/{index}/block", s.handleUnblockSlot).Methods(http.MethodDelete)
	adm.HandleFunc("/days/{date}/slots/{index}/enabled", s.handleSetEnabled).Methods(http.MethodPut)
	adm.HandleFunc("/days/{date}/slots/{index}/reservation", s.handleRemoveReservation).Methods(http.MethodDelete)
	adm.HandleFunc("/days/{date}/block", s.handleBlockDay).Methods(http.MethodPost)
	adm.HandleFunc("/days/{date}/open", s.handleOpenDay).Methods(http.MethodPost)
	adm.HandleFunc("/users/{id}/reset", s.handleResetUser).Methods(http.MethodPost)
	adm.HandleFunc("/users/{id}/ban", s.handleBanUser).Methods(http.MethodPost)
	adm.HandleFunc("/audit", s.handleAuditQuery).Methods(http.MethodGet)
	adm.HandleFunc("/audit", s.handleAuditPurge).Methods(http.MethodDelete)
	adm.HandleFunc("/audit/summary", s.handleAuditSummary).Methods(http.MethodGet)
	adm.HandleFunc("/audit/export", s.handleAuditExport).Methods(http.MethodGet)

	var h http.Handler = r
	if len(s.corsOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.corsOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type", requestIDHeader}),
			handlers.ExposedHeaders([]string{"Retry-After", requestIDHeader}),
		)(h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// recoveryLogger adapts zerolog to gorilla's recovery handler.
type recoveryLogger struct {
	l zerolog.Logger
}

func (r recoveryLogger) Println(v ...interface{}) {
	r.l.Error().Interface("panic", v).Msg("Recovered from panic in HTTP handler")
}
