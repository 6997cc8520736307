package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/admin"
	"github.com/DanielSantin/site-barbearia-sub000/internal/audit"
	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/DanielSantin/site-barbearia-sub000/internal/policy"
	"github.com/DanielSantin/site-barbearia-sub000/internal/ratelimit"
	"github.com/DanielSantin/site-barbearia-sub000/internal/reservation"
	"github.com/DanielSantin/site-barbearia-sub000/internal/slots"
	"github.com/DanielSantin/site-barbearia-sub000/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var brt = time.FixedZone("BRT", -3*60*60)

const (
	today  = "2026-10-14" // Wednesday
	sunday = "2026-10-18"
)

var (
	owner = model.Actor{ID: "admin-1", Name: "Dono", Admin: true}
	alice = model.Actor{ID: "u-alice", Name: "Alice"}
	bob   = model.Actor{ID: "u-bob", Name: "Bob"}
)

const (
	secret = "test-secret"
	issuer = "barbearia"
)

type testAPI struct {
	handler http.Handler
	auth    *Authenticator
	store   *memory.Store
}

func newTestAPI(t *testing.T, limiter ratelimit.Limiter) *testAPI {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store := memory.NewStore(brt)
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, brt)
	clock := model.ClockFunc(func() time.Time { return now })

	auditLog := audit.NewLogger(store, nil, audit.DefaultConfig(), clock, logger)
	inv := slots.NewInventory(store, slots.DefaultRules(), brt, clock, logger)
	engine := policy.NewEngine(store, policy.DefaultConfig(), logger)
	limiterPolicy := policy.NewBookingLimiter(store, 2)
	coord := reservation.NewCoordinator(inv, limiterPolicy, engine, nil, auditLog, store, reservation.DefaultConfig(), logger)
	adminSvc := admin.NewService(inv, engine, auditLog, logger)
	auth := NewAuthenticator(secret, issuer)

	srv := NewServer(Deps{
		Days:         inv,
		Reservations: coord,
		Admin:        adminSvc,
		Audit:        auditLog,
		Auth:         auth,
		Limiter:      limiter,
	}, logger)
	return &testAPI{handler: srv.Handler(), auth: auth, store: store}
}

func (a *testAPI) do(t *testing.T, actor *model.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := a.auth.Issue(*actor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error
}

func slotPath(date string, index int, suffix string) string {
	return "/api/v1/days/" + date + "/slots/" + strconv.Itoa(index) + "/" + suffix
}

func TestAuthentication(t *testing.T) {
	a := newTestAPI(t, nil)

	w := a.do(t, nil, http.MethodGet, "/api/v1/days/"+today, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, w).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/days/"+today, nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_token", decodeError(t, w).Code)

	other := NewAuthenticator("another-secret", issuer)
	token, err := other.Issue(alice, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/days/"+today, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticator_RoundTrip(t *testing.T) {
	auth := NewAuthenticator(secret, issuer)
	token, err := auth.Issue(model.Actor{ID: "u1", Name: "Ana", Admin: true, Banned: true}, time.Hour)
	require.NoError(t, err)

	actor, err := auth.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, model.Actor{ID: "u1", Name: "Ana", Admin: true, Banned: true}, actor)

	expired, err := auth.Issue(model.Actor{ID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = auth.Parse(expired)
	assert.Error(t, err)

	_, err = NewAuthenticator(secret, "someone-else").Parse(token)
	assert.Error(t, err, "issuer mismatch")
}

func TestGetDay(t *testing.T) {
	a := newTestAPI(t, nil)

	w := a.do(t, &alice, http.MethodGet, "/api/v1/days/"+today, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var resp struct {
		Date  string           `json:"date"`
		Slots []map[string]any `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, today, resp.Date)
	require.Len(t, resp.Slots, model.SlotsPerDay)

	s := resp.Slots[20]
	assert.Equal(t, "10:00", s["time"])
	assert.Equal(t, true, s["enabled"])
	assert.Equal(t, "free", s["status"])
	assert.Nil(t, s["ownerId"])
	assert.Contains(t, s, "blockReason")
	assert.Equal(t, false, resp.Slots[24]["enabled"], "lunch")
	assert.Equal(t, true, resp.Slots[10]["isPast"])

	w = a.do(t, &alice, http.MethodGet, "/api/v1/days/"+sunday, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "closed_day", decodeError(t, w).Code)
}

func TestPathValidation(t *testing.T) {
	a := newTestAPI(t, nil)

	tests := []struct {
		name     string
		path     string
		wantCode string
	}{
		{"bad date", "/api/v1/days/14-10-2026/slots/20/reservation", "invalid_date"},
		{"impossible date", "/api/v1/days/2026-02-30/slots/20/reservation", "invalid_date"},
		{"index too high", "/api/v1/days/" + today + "/slots/48/reservation", "invalid_index"},
		{"negative index", "/api/v1/days/" + today + "/slots/-1/reservation", "invalid_index"},
		{"index not a number", "/api/v1/days/" + today + "/slots/ten/reservation", "invalid_index"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, &alice, http.MethodPost, tt.path, ReserveRequest{Service: "Cabelo"})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			e := decodeError(t, w)
			assert.Equal(t, "validation", e.Kind)
			assert.Equal(t, tt.wantCode, e.Code)
		})
	}
}

func TestDatesAreCanonicalized(t *testing.T) {
	a := newTestAPI(t, nil)

	w := a.do(t, &alice, http.MethodPost, slotPath(today+"%20", 20, "reservation"), ReserveRequest{Service: "Cabelo"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	day, err := a.store.GetDay(context.Background(), today)
	require.NoError(t, err)
	slot, err := day.Slot(20)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReserved, slot.Status)
	assert.Equal(t, alice.ID, slot.OwnerID)

	w = a.do(t, &alice, http.MethodGet, "/api/v1/days/"+today+"%20", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp DayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, today, resp.Date)
}

func TestReserveAndCancel(t *testing.T) {
	a := newTestAPI(t, nil)
	path := slotPath(today, 20, "reservation")

	w := a.do(t, &alice, http.MethodPost, path, ReserveRequest{Service: "Corte"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_service", decodeError(t, w).Code)

	w = a.do(t, &alice, http.MethodPost, path, ReserveRequest{Service: "Cabelo"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res model.Reservation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, alice.ID, res.OwnerID)
	assert.Equal(t, "10:00", res.Time)

	w = a.do(t, &bob, http.MethodPost, path, ReserveRequest{Service: "Barba"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "slot_unavailable", decodeError(t, w).Code)

	w = a.do(t, &alice, http.MethodPost, slotPath(today, 8, "reservation"), ReserveRequest{Service: "Cabelo"})
	assert.Equal(t, http.StatusConflict, w.Code, "disabled slot before opening")

	w = a.do(t, &bob, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_owner", decodeError(t, w).Code)

	w = a.do(t, &alice, http.MethodDelete, path+"?acceptFee=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, &alice, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out reservation.CancellationOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.False(t, out.Late)
	assert.False(t, out.StrikeApplied)
	assert.Equal(t, policy.LeadNormal, out.LeadTime)

	w = a.do(t, &alice, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_reserved", decodeError(t, w).Code)
}

func TestBookingLimitAndMyReservations(t *testing.T) {
	a := newTestAPI(t, nil)

	w := a.do(t, &alice, http.MethodPost, slotPath(today, 30, "combo"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var combo ComboResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &combo))
	require.Len(t, combo.Reservations, 2)
	assert.Equal(t, "Cabelo", combo.Reservations[0].Service)
	assert.Equal(t, "Barba", combo.Reservations[1].Service)
	assert.Equal(t, 31, combo.Reservations[1].Index)

	w = a.do(t, &alice, http.MethodPost, slotPath(today, 34, "reservation"), ReserveRequest{Service: "Cabelo"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "booking_limit_exceeded", decodeError(t, w).Code)

	w = a.do(t, &alice, http.MethodGet, "/api/v1/me/reservations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine reservation.UserReservations
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mine))
	assert.Len(t, mine.Reservations, 2)
	assert.Equal(t, 2, mine.Limit)
	assert.Zero(t, mine.Policy.StrikeCount)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	a := newTestAPI(t, nil)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPut, "/api/v1/admin/days/" + today + "/slots/20/block"},
		{http.MethodPost, "/api/v1/admin/days/" + today + "/block"},
		{http.MethodPost, "/api/v1/admin/users/u-bob/ban"},
		{http.MethodGet, "/api/v1/admin/audit"},
		{http.MethodGet, "/api/v1/admin/audit/summary"},
		{http.MethodDelete, "/api/v1/admin/audit?userId=u-bob"},
		{http.MethodGet, "/api/v1/admin/audit/export"},
	}
	for _, p := range paths {
		w := a.do(t, &alice, p.method, p.path, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, p.path)
		assert.Equal(t, "admin_required", decodeError(t, w).Code, p.path)
	}
}

func TestAdminSlotManagement(t *testing.T) {
	a := newTestAPI(t, nil)
	block := "/api/v1/admin/days/" + today + "/slots/20/block"

	w := a.do(t, &owner, http.MethodPut, block, BlockRequest{Reason: "dentista"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	day, err := a.store.GetDay(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, day.Slots[20].Status)
	assert.Equal(t, "dentista", day.Slots[20].BlockReason)

	w = a.do(t, &owner, http.MethodDelete, block, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(t, &owner, http.MethodDelete, block, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_blocked", decodeError(t, w).Code)

	w = a.do(t, &alice, http.MethodPost, slotPath(today, 22, "reservation"), ReserveRequest{Service: "Cabelo"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = a.do(t, &owner, http.MethodPut, "/api/v1/admin/days/"+today+"/slots/22/block", BlockRequest{})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "slot_reserved", decodeError(t, w).Code)

	w = a.do(t, &owner, http.MethodDelete, "/api/v1/admin/days/"+today+"/slots/22/reservation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var removed model.Reservation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &removed))
	assert.Equal(t, alice.ID, removed.OwnerID)

	enabled := "/api/v1/admin/days/" + today + "/slots/24/enabled"
	w = a.do(t, &owner, http.MethodPut, enabled, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do(t, &owner, http.MethodPut, enabled, map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, &owner, http.MethodPost, "/api/v1/admin/days/"+today+"/block", BlockRequest{Reason: "feriado"})
	require.Equal(t, http.StatusOK, w.Code)
	var report admin.DayBlockReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, today, report.Date)
	assert.Positive(t, report.Blocked)
	assert.Len(t, report.Slots, model.SlotsPerDay)
}

func TestAdminOpenDayAndUsers(t *testing.T) {
	a := newTestAPI(t, nil)

	w := a.do(t, &owner, http.MethodPost, "/api/v1/admin/days/"+sunday+"/open", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var opened OpenDayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opened))
	assert.True(t, opened.Created)
	assert.Len(t, opened.Slots, model.SlotsPerDay)

	w = a.do(t, &owner, http.MethodPost, "/api/v1/admin/days/"+sunday+"/open", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, &owner, http.MethodPost, "/api/v1/admin/users/u-bob/ban", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st model.UserPolicyState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Banned)

	w = a.do(t, &bob, http.MethodPost, slotPath(today, 20, "reservation"), ReserveRequest{Service: "Cabelo"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "user_banned", decodeError(t, w).Code)

	w = a.do(t, &owner, http.MethodPost, "/api/v1/admin/users/u-bob/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.False(t, st.Banned)

	w = a.do(t, &bob, http.MethodPost, slotPath(today, 20, "reservation"), ReserveRequest{Service: "Cabelo"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAuditEndpoints(t *testing.T) {
	a := newTestAPI(t, nil)

	w := a.do(t, &alice, http.MethodPost, slotPath(today, 20, "reservation"), ReserveRequest{Service: "Cabelo"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = a.do(t, &bob, http.MethodPost, slotPath(today, 21, "reservation"), ReserveRequest{Service: "Barba"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = a.do(t, &owner, http.MethodGet, "/api/v1/admin/audit?userId=u-alice&pageSize=5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page audit.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, model.ActionReservation, page.Entries[0].Action)

	w = a.do(t, &owner, http.MethodGet, "/api/v1/admin/audit?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do(t, &owner, http.MethodGet, "/api/v1/admin/audit?page=-2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, &owner, http.MethodGet, "/api/v1/admin/audit/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sum model.AuditSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.EqualValues(t, 2, sum.Reservations)

	w = a.do(t, &owner, http.MethodGet, "/api/v1/admin/audit/export?from="+today+"&to="+today, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = a.do(t, &owner, http.MethodDelete, "/api/v1/admin/audit", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_filter", decodeError(t, w).Code)

	w = a.do(t, &owner, http.MethodDelete, "/api/v1/admin/audit?userId=u-bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var purged PurgeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &purged))
	assert.EqualValues(t, 1, purged.Deleted)
}

type denyAfter struct {
	n int
}

func (d *denyAfter) Allow(context.Context, string) (ratelimit.Decision, error) {
	if d.n <= 0 {
		return ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil
	}
	d.n--
	return ratelimit.Decision{Allowed: true}, nil
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, &denyAfter{n: 1})

	w := a.do(t, &alice, http.MethodGet, "/api/v1/days/"+today, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, &alice, http.MethodGet, "/api/v1/days/"+today, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, w).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind model.Kind
		want int
	}{
		{model.KindValidation, http.StatusBadRequest},
		{model.KindNotFound, http.StatusNotFound},
		{model.KindConflict, http.StatusConflict},
		{model.KindPolicy, http.StatusUnprocessableEntity},
		{model.KindAuthorization, http.StatusForbidden},
		{model.KindRollbackFailed, http.StatusInternalServerError},
		{model.KindPersistence, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind), tt.kind)
	}
}

func TestUnknownRoute(t *testing.T) {
	a := newTestAPI(t, nil)
	w := a.do(t, &alice, http.MethodGet, "/api/v2/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
