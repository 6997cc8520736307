package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/Masterminds/squirrel"
)

var slotColumns = []string{
	"idx", "enabled", "status", "owner_id", "service",
	"booked_at", "canceled_at", "block_reason",
}

// GetDay implements slots.Store.
func (db *DB) GetDay(ctx context.Context, date string) (*model.DaySchedule, error) {
	var createdAt int64
	err := db.QueryRowContext(ctx, "SELECT created_at FROM day_schedules WHERE date = ?", date).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrDayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get day %s: %w", date, err)
	}

	query, args, err := builder.Select(slotColumns...).
		From("slots").
		Where(squirrel.Eq{"date": date}).
		OrderBy("idx").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build slot query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query slots %s: %w", date, err)
	}
	defer rows.Close()

	day := &model.DaySchedule{
		Date:      date,
		Slots:     make([]model.TimeSlot, model.SlotsPerDay),
		CreatedAt: db.fromNanos(createdAt),
	}
	for i := range day.Slots {
		day.Slots[i].Index = i
		day.Slots[i].Status = model.StatusFree
	}

	for rows.Next() {
		var (
			s                    model.TimeSlot
			status               string
			bookedAt, canceledAt int64
		)
		if err := rows.Scan(&s.Index, &s.Enabled, &status, &s.OwnerID, &s.Service,
			&bookedAt, &canceledAt, &s.BlockReason); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		if !model.ValidIndex(s.Index) {
			continue
		}
		s.Status = model.SlotStatus(status)
		if !s.Status.Valid() {
			return nil, fmt.Errorf("slot %s/%d: unknown status %q", date, s.Index, status)
		}
		s.BookedAt = db.fromNanos(bookedAt)
		s.CanceledAt = db.fromNanos(canceledAt)
		day.Slots[s.Index] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return day, nil
}

// CreateDay implements slots.Store. An existing grid is left untouched.
func (db *DB) CreateDay(ctx context.Context, day *model.DaySchedule) error {
	if day == nil || len(day.Slots) != model.SlotsPerDay {
		return fmt.Errorf("day grid must have %d slots", model.SlotsPerDay)
	}
	dayTime, err := model.ParseDate(day.Date, db.loc)
	if err != nil {
		return err
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO day_schedules (date, created_at) VALUES (?, ?)",
			day.Date, toNanos(day.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert day %s: %w", day.Date, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		ins := builder.Insert("slots").Columns(
			"date", "idx", "starts_at", "enabled", "status", "owner_id", "service",
			"booked_at", "canceled_at", "block_reason", "updated_at",
		)
		now := toNanos(day.CreatedAt)
		for _, s := range day.Slots {
			status := s.Status
			if status == "" {
				status = model.StatusFree
			}
			ins = ins.Values(
				day.Date, s.Index, model.SlotStart(dayTime, s.Index).UnixNano(), s.Enabled,
				string(status), s.OwnerID, s.Service,
				toNanos(s.BookedAt), toNanos(s.CanceledAt), s.BlockReason, now,
			)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("build slot insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert slots %s: %w", day.Date, err)
		}
		return nil
	})
}

// SetSlotEnabled implements slots.Store.
func (db *DB) SetSlotEnabled(ctx context.Context, date string, index int, enabled bool) error {
	res, err := db.ExecContext(ctx,
		"UPDATE slots SET enabled = ?, version = version + 1, updated_at = ? WHERE date = ? AND idx = ?",
		enabled, time.Now().UnixNano(), date, index)
	if err != nil {
		return fmt.Errorf("set enabled %s/%d: %w", date, index, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, "SELECT 1 FROM day_schedules WHERE date = ?", date).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrDayNotFound
	}
	if err != nil {
		return fmt.Errorf("check day %s: %w", date, err)
	}
	return model.ErrOutOfRange
}

// UpdateSlot implements slots.Store as a single conditional UPDATE.
func (db *DB) UpdateSlot(ctx context.Context, u model.SlotUpdate) (bool, error) {
	where := squirrel.Eq{
		"date":   u.Date,
		"idx":    u.Index,
		"status": string(u.ExpectStatus),
	}
	if u.ExpectOwner != "" {
		where["owner_id"] = u.ExpectOwner
	}
	if u.RequireEnabled {
		where["enabled"] = true
	}

	query, args, err := builder.Update("slots").
		SetMap(map[string]interface{}{
			"status":       string(u.Next.Status),
			"owner_id":     u.Next.OwnerID,
			"service":      u.Next.Service,
			"booked_at":    toNanos(u.Next.BookedAt),
			"canceled_at":  toNanos(u.Next.CanceledAt),
			"block_reason": u.Next.BlockReason,
			"updated_at":   time.Now().UnixNano(),
			"version":      squirrel.Expr("version + 1"),
		}).
		Where(where).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build slot update: %w", err)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update slot %s/%d: %w", u.Date, u.Index, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// CountActiveReservations implements policy.ReservationCounter.
func (db *DB) CountActiveReservations(ctx context.Context, userID string, from time.Time) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM slots WHERE owner_id = ? AND status = ? AND starts_at >= ?",
		userID, string(model.StatusReserved), from.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reservations: %w", err)
	}
	return n, nil
}

// ListReservations returns the user's reservations starting at or after
// from, earliest first.
func (db *DB) ListReservations(ctx context.Context, userID string, from time.Time) ([]model.Reservation, error) {
	query, args, err := builder.Select("date", "idx", "service", "starts_at", "booked_at").
		From("slots").
		Where(squirrel.Eq{"owner_id": userID, "status": string(model.StatusReserved)}).
		Where(squirrel.GtOrEq{"starts_at": from.UnixNano()}).
		OrderBy("starts_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reservation query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var (
			r                  model.Reservation
			startsAt, bookedAt int64
		)
		if err := rows.Scan(&r.Date, &r.Index, &r.Service, &startsAt, &bookedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		r.OwnerID = userID
		r.Time = model.IndexTime(r.Index)
		r.StartsAt = db.fromNanos(startsAt)
		r.BookedAt = db.fromNanos(bookedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
