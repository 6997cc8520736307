package reservation

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/DanielSantin/site-barbearia-sub000/internal/policy"
	"github.com/DanielSantin/site-barbearia-sub000/internal/slots"
	"github.com/DanielSantin/site-barbearia-sub000/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var brt = time.FixedZone("BRT", -3*60*60)

const today = "2026-10-14" // Wednesday

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(hour, minute int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(2026, 10, 14, hour, minute, 0, 0, brt)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []model.AuditLogEntry
}

func (r *recordingSink) Append(e model.AuditLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingSink) byAction(a model.ActionType) []model.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditLogEntry
	for _, e := range r.entries {
		if e.Action == a {
			out = append(out, e)
		}
	}
	return out
}

// hookedStore lets a test fail selected slot updates.
type hookedStore struct {
	*memory.Store
	fail func(u model.SlotUpdate) error
}

func (h *hookedStore) UpdateSlot(ctx context.Context, u model.SlotUpdate) (bool, error) {
	if h.fail != nil {
		if err := h.fail(u); err != nil {
			return false, err
		}
	}
	return h.Store.UpdateSlot(ctx, u)
}

type mockFeeGate struct {
	mock.Mock
}

func (m *mockFeeGate) ConfirmFee(ctx context.Context, req policy.FeeRequest) error {
	return m.Called(ctx, req).Error(0)
}

type fixture struct {
	store *memory.Store
	slots *hookedStore
	clock *fakeClock
	audit *recordingSink
	coord *Coordinator
}

func newFixture(t *testing.T, fees policy.FeeGate) *fixture {
	t.Helper()

	logger := zerolog.New(io.Discard)
	store := memory.NewStore(brt)
	hooked := &hookedStore{Store: store}
	clock := &fakeClock{}
	clock.Set(8, 0)
	sink := &recordingSink{}

	inv := slots.NewInventory(hooked, slots.DefaultRules(), brt, clock, logger)
	engine := policy.NewEngine(store, policy.DefaultConfig(), logger)
	limiter := policy.NewBookingLimiter(store, 2)
	coord := NewCoordinator(inv, limiter, engine, fees, sink, store, DefaultConfig(), logger)
	coord.sleep = func(context.Context, time.Duration) error { return nil }

	return &fixture{store: store, slots: hooked, clock: clock, audit: sink, coord: coord}
}

func (f *fixture) slot(t *testing.T, date string, index int) model.TimeSlot {
	t.Helper()
	day, err := f.store.GetDay(context.Background(), date)
	require.NoError(t, err)
	s, err := day.Slot(index)
	require.NoError(t, err)
	return s
}

var (
	alice = model.Actor{ID: "u-alice", Name: "Alice"}
	bruno = model.Actor{ID: "u-bruno", Name: "Bruno"}
)

func TestReserve_Success(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.coord.Reserve(ctx, alice, today, 20, "Cabelo")
	require.NoError(t, err)
	assert.Equal(t, "10:00", res.Time)
	assert.Equal(t, alice.ID, res.OwnerID)
	assert.Equal(t, time.Date(2026, 10, 14, 10, 0, 0, 0, brt), res.StartsAt)

	s := f.slot(t, today, 20)
	assert.Equal(t, model.StatusReserved, s.Status)
	assert.Equal(t, alice.ID, s.OwnerID)
	assert.Equal(t, "Cabelo", s.Service)
	assert.Equal(t, f.clock.Now(), s.BookedAt)

	entries := f.audit.byAction(model.ActionReservation)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ImportanceNormal, entries[0].Importance)
	assert.Equal(t, "10:00", entries[0].Time)
}

func TestReserve_Preconditions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(f *fixture)
		actor   model.Actor
		date    string
		index   int
		service string
		wantErr error
	}{
		{
			name:    "disabled slot is checked before lead time",
			actor:   alice,
			date:    today,
			index:   0,
			service: "Cabelo",
			wantErr: model.ErrSlotUnavailable,
		},
		{
			name:    "lead time too short",
			setup:   func(f *fixture) { f.clock.Set(9, 45) },
			actor:   alice,
			date:    today,
			index:   20,
			service: "Cabelo",
			wantErr: model.ErrLeadTimeTooShort,
		},
		{
			name:    "booking window exceeded",
			actor:   alice,
			date:    "2027-01-15",
			index:   20,
			service: "Barba",
			wantErr: model.ErrBookingWindowExceeded,
		},
		{
			name: "slot already reserved",
			setup: func(f *fixture) {
				_, err := f.coord.Reserve(ctx, bruno, today, 20, "Cabelo")
				require.NoError(t, err)
			},
			actor:   alice,
			date:    today,
			index:   20,
			service: "Cabelo",
			wantErr: model.ErrSlotUnavailable,
		},
		{
			name: "booking limit reached",
			setup: func(f *fixture) {
				_, err := f.coord.Reserve(ctx, alice, today, 30, "Cabelo")
				require.NoError(t, err)
				_, err = f.coord.Reserve(ctx, alice, today, 31, "Barba")
				require.NoError(t, err)
			},
			actor:   alice,
			date:    today,
			index:   20,
			service: "Cabelo",
			wantErr: model.ErrBookingLimitExceeded,
		},
		{
			name: "banned user",
			setup: func(f *fixture) {
				_, err := f.store.SetBanned(ctx, alice.ID, f.clock.Now())
				require.NoError(t, err)
			},
			actor:   alice,
			date:    today,
			index:   20,
			service: "Cabelo",
			wantErr: model.ErrUserBanned,
		},
		{
			name:    "closed weekday",
			actor:   alice,
			date:    "2026-10-18",
			index:   20,
			service: "Cabelo",
			wantErr: model.ErrClosedDay,
		},
		{
			name:    "unknown service",
			actor:   alice,
			date:    today,
			index:   20,
			service: "Manicure",
			wantErr: model.ErrInvalidService,
		},
		{
			name:    "index out of range",
			actor:   alice,
			date:    today,
			index:   48,
			service: "Cabelo",
			wantErr: model.ErrOutOfRange,
		},
		{
			name:    "malformed date",
			actor:   alice,
			date:    "14/10/2026",
			index:   20,
			service: "Cabelo",
			wantErr: model.ErrInvalidDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.coord.Reserve(ctx, tt.actor, tt.date, tt.index, tt.service)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReserve_ErrorKinds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.coord.Reserve(ctx, alice, today, 0, "Cabelo")
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	_, err = f.coord.Reserve(ctx, alice, "2027-01-15", 20, "Cabelo")
	assert.Equal(t, model.KindPolicy, model.KindOf(err))

	_, err = f.coord.Reserve(ctx, alice, today, 20, "")
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestReserve_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const callers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
		lost atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := model.Actor{ID: string(rune('a' + i))}
			_, err := f.coord.Reserve(ctx, actor, today, 22, "Cabelo")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, model.ErrSlotUnavailable):
				lost.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), lost.Load())
	assert.Len(t, f.audit.byAction(model.ActionReservation), 1)
}

func TestReserveCombo_Success(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, second, err := f.coord.ReserveCombo(ctx, alice, today, 20)
	require.NoError(t, err)
	assert.Equal(t, "Cabelo", first.Service)
	assert.Equal(t, "Barba", second.Service)
	assert.Equal(t, 21, second.Index)
	assert.Equal(t, model.SlotDuration, second.StartsAt.Sub(first.StartsAt))

	assert.Equal(t, model.StatusReserved, f.slot(t, today, 20).Status)
	assert.Equal(t, model.StatusReserved, f.slot(t, today, 21).Status)
}

func TestReserveCombo_PrecheckRejectsDisabledSecond(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// 24 is the first lunch slot.
	_, _, err := f.coord.ReserveCombo(ctx, alice, today, 23)
	require.ErrorIs(t, err, model.ErrSlotUnavailable)

	assert.Equal(t, model.StatusFree, f.slot(t, today, 23).Status)
	assert.Empty(t, f.audit.byAction(model.ActionReservation))
}

func TestReserveCombo_SecondFailureCompensatesFirst(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// One existing booking leaves room for only half of the combo.
	_, err := f.coord.Reserve(ctx, alice, today, 30, "Cabelo")
	require.NoError(t, err)

	_, _, err = f.coord.ReserveCombo(ctx, alice, today, 20)
	require.ErrorIs(t, err, model.ErrBookingLimitExceeded)
	assert.NotErrorIs(t, err, model.ErrRollbackFailed)

	s := f.slot(t, today, 20)
	assert.Equal(t, model.StatusFree, s.Status)
	assert.Empty(t, s.OwnerID)
	assert.Equal(t, model.StatusFree, f.slot(t, today, 21).Status)

	rollbacks := f.audit.byAction(model.ActionRollback)
	require.Len(t, rollbacks, 1)
	assert.Equal(t, model.ImportanceNormal, rollbacks[0].Importance)

	st, err := f.store.GetPolicyState(ctx, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, st.StrikeCount, "rollback must not strike")
}

func TestReserveCombo_SecondSlotTakenConcurrently(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Bruno wins slot 21 while Alice is claiming slot 20, after the combo
	// pre-check already saw both free.
	var once sync.Once
	f.slots.fail = func(u model.SlotUpdate) error {
		if u.Index != 20 || u.Next.OwnerID != alice.ID {
			return nil
		}
		var err error
		once.Do(func() {
			_, err = f.store.UpdateSlot(ctx, model.SlotUpdate{
				Date:         today,
				Index:        21,
				ExpectStatus: model.StatusFree,
				Next: model.SlotState{
					Status:   model.StatusReserved,
					OwnerID:  bruno.ID,
					Service:  "Barba",
					BookedAt: f.clock.Now(),
				},
			})
		})
		return err
	}

	_, _, err := f.coord.ReserveCombo(ctx, alice, today, 20)
	require.ErrorIs(t, err, model.ErrSlotUnavailable)
	assert.Equal(t, model.KindConflict, model.KindOf(err))
	assert.NotErrorIs(t, err, model.ErrRollbackFailed)

	first := f.slot(t, today, 20)
	assert.Equal(t, model.StatusFree, first.Status)
	assert.Empty(t, first.OwnerID)

	second := f.slot(t, today, 21)
	assert.Equal(t, model.StatusReserved, second.Status)
	assert.Equal(t, bruno.ID, second.OwnerID)

	require.Len(t, f.audit.byAction(model.ActionRollback), 1)
}

func TestReserveCombo_RollbackRetriesUntilRelease(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var releases atomic.Int32
	storageDown := errors.New("disk I/O error")
	f.slots.fail = func(u model.SlotUpdate) error {
		if u.Index == 21 {
			return storageDown
		}
		if u.Index == 20 && u.Next.Status == model.StatusFree && releases.Add(1) < 3 {
			return storageDown
		}
		return nil
	}

	_, _, err := f.coord.ReserveCombo(ctx, alice, today, 20)
	require.ErrorIs(t, err, model.ErrPersistence)
	assert.NotErrorIs(t, err, model.ErrRollbackFailed)
	assert.Equal(t, int32(3), releases.Load())
	assert.Equal(t, model.StatusFree, f.slot(t, today, 20).Status)
}

func TestReserveCombo_RollbackFailedIsSurfaced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var releases atomic.Int32
	storageDown := errors.New("disk I/O error")
	f.slots.fail = func(u model.SlotUpdate) error {
		if u.Index == 21 {
			return storageDown
		}
		if u.Index == 20 && u.Next.Status == model.StatusFree {
			releases.Add(1)
			return storageDown
		}
		return nil
	}

	_, _, err := f.coord.ReserveCombo(ctx, alice, today, 20)
	require.ErrorIs(t, err, model.ErrRollbackFailed)
	assert.Equal(t, model.KindRollbackFailed, model.KindOf(err))
	assert.Equal(t, int32(3), releases.Load())

	// The slot stays held for manual reconciliation.
	s := f.slot(t, today, 20)
	assert.Equal(t, model.StatusReserved, s.Status)
	assert.Equal(t, alice.ID, s.OwnerID)

	rollbacks := f.audit.byAction(model.ActionRollback)
	require.Len(t, rollbacks, 1)
	assert.Equal(t, model.ImportanceCritical, rollbacks[0].Importance)
	assert.Contains(t, rollbacks[0].Detail, "still held by u-alice")
}

func TestReserveCombo_ReleasedByAdminCountsAsCompensated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.slots.fail = func(u model.SlotUpdate) error {
		if u.Index == 21 {
			// Someone else frees slot 20 before the rollback gets to it.
			_, err := f.store.UpdateSlot(ctx, model.SlotUpdate{
				Date:         today,
				Index:        20,
				ExpectStatus: model.StatusReserved,
				Next:         model.SlotState{Status: model.StatusFree},
			})
			require.NoError(t, err)
			return errors.New("disk I/O error")
		}
		return nil
	}

	_, _, err := f.coord.ReserveCombo(ctx, alice, today, 20)
	require.ErrorIs(t, err, model.ErrPersistence)
	assert.NotErrorIs(t, err, model.ErrRollbackFailed)
}

func TestCancel_LeadTimePaths(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name           string
		hour, minute   int
		index          int
		acceptFee      bool
		wantLead       policy.LeadTime
		wantStrike     bool
		wantFee        bool
		wantImportance model.Importance
		wantDetail     string
	}{
		{"early cancellation", 8, 30, 30, false, policy.LeadNormal, false, false, model.ImportanceNormal, "cancelled"},
		{"late takes a strike", 9, 15, 20, false, policy.LeadLate, true, false, model.ImportanceImportant, "strike applied (1/5)"},
		{"inside buffer takes a strike", 9, 40, 20, false, policy.LeadTooSoon, true, false, model.ImportanceImportant, "strike applied"},
		{"late with fee", 9, 15, 20, true, policy.LeadLate, false, true, model.ImportanceImportant, "accepted the fee"},
		{"fee ignored when early", 8, 30, 30, true, policy.LeadNormal, false, false, model.ImportanceNormal, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.coord.Reserve(ctx, alice, today, tt.index, "Cabelo")
			require.NoError(t, err)

			f.clock.Set(tt.hour, tt.minute)
			out, err := f.coord.Cancel(ctx, alice, today, tt.index, tt.acceptFee)
			require.NoError(t, err)

			assert.Equal(t, tt.wantLead, out.LeadTime)
			assert.Equal(t, tt.wantStrike, out.StrikeApplied)
			assert.Equal(t, tt.wantFee, out.FeeRequired)

			s := f.slot(t, today, tt.index)
			assert.Equal(t, model.StatusFree, s.Status)
			assert.Equal(t, f.clock.Now(), s.CanceledAt)

			entries := f.audit.byAction(model.ActionCancellation)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantImportance, entries[0].Importance)
			assert.Contains(t, entries[0].Detail, tt.wantDetail)

			st, err := f.store.GetPolicyState(ctx, alice.ID)
			require.NoError(t, err)
			if tt.wantStrike {
				assert.Equal(t, 1, st.StrikeCount)
			} else {
				assert.Zero(t, st.StrikeCount)
			}
		})
	}
}

func TestCancel_Failures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.coord.Reserve(ctx, alice, today, 20, "Cabelo")
	require.NoError(t, err)

	_, err = f.coord.Cancel(ctx, alice, "2026-10-20", 20, false)
	assert.ErrorIs(t, err, model.ErrDayNotFound)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))

	_, err = f.coord.Cancel(ctx, alice, today, 21, false)
	assert.ErrorIs(t, err, model.ErrNotReserved)

	_, err = f.coord.Cancel(ctx, bruno, today, 20, false)
	assert.ErrorIs(t, err, model.ErrNotOwner)
	assert.Equal(t, model.KindAuthorization, model.KindOf(err))

	f.clock.Set(10, 5)
	_, err = f.coord.Cancel(ctx, alice, today, 20, false)
	assert.ErrorIs(t, err, model.ErrSlotInPast)

	assert.Equal(t, model.StatusReserved, f.slot(t, today, 20).Status)
	assert.Empty(t, f.audit.byAction(model.ActionCancellation))
}

func TestCancel_FifthStrikeBans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	for i := 0; i < 4; i++ {
		_, err := f.store.IncrementStrike(ctx, alice.ID, 5, f.clock.Now())
		require.NoError(t, err)
	}

	_, err := f.coord.Reserve(ctx, alice, today, 20, "Cabelo")
	require.NoError(t, err)

	f.clock.Set(9, 50)
	out, err := f.coord.Cancel(ctx, alice, today, 20, false)
	require.NoError(t, err)
	assert.True(t, out.StrikeApplied)
	assert.Equal(t, 5, out.StrikeCount)
	assert.True(t, out.Banned)

	bans := f.audit.byAction(model.ActionUserBanned)
	require.Len(t, bans, 1)
	assert.Equal(t, model.ImportanceImportant, bans[0].Importance)

	_, err = f.coord.Reserve(ctx, alice, today, 30, "Cabelo")
	assert.ErrorIs(t, err, model.ErrUserBanned)
}

func TestCancel_FeeGateRejectionKeepsReservation(t *testing.T) {
	ctx := context.Background()
	gate := new(mockFeeGate)
	f := newFixture(t, gate)

	_, err := f.coord.Reserve(ctx, alice, today, 20, "Cabelo")
	require.NoError(t, err)

	gate.On("ConfirmFee", mock.Anything, mock.MatchedBy(func(r policy.FeeRequest) bool {
		return r.UserID == alice.ID && r.Index == 20 && r.Accepted
	})).Return(model.ErrFeeNotConfirmed).Once()

	f.clock.Set(9, 15)
	_, err = f.coord.Cancel(ctx, alice, today, 20, true)
	require.ErrorIs(t, err, model.ErrFeeNotConfirmed)
	gate.AssertExpectations(t)

	assert.Equal(t, model.StatusReserved, f.slot(t, today, 20).Status)
	st, err := f.store.GetPolicyState(ctx, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, st.StrikeCount)
}

func TestListUserReservations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.coord.Reserve(ctx, alice, today, 30, "Barba")
	require.NoError(t, err)
	_, err = f.coord.Reserve(ctx, alice, today, 20, "Cabelo")
	require.NoError(t, err)
	_, err = f.coord.Reserve(ctx, bruno, today, 21, "Cabelo")
	require.NoError(t, err)

	got, err := f.coord.ListUserReservations(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, got.Reservations, 2)
	assert.Equal(t, 20, got.Reservations[0].Index)
	assert.Equal(t, 30, got.Reservations[1].Index)
	assert.Equal(t, 2, got.Limit)

	f.clock.Set(11, 0)
	got, err = f.coord.ListUserReservations(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, got.Reservations, 1)
	assert.Equal(t, 30, got.Reservations[0].Index)
}
