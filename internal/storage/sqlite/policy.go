package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
)

// incrementStrikeSQL bumps the counter and evaluates the ban threshold in
// one statement. SET expressions see the row as it was before the update.
const incrementStrikeSQL = `
INSERT INTO user_policy (user_id, strike_count, banned, banned_at, updated_at)
VALUES (?1, 1, CASE WHEN 1 >= ?2 THEN 1 ELSE 0 END, CASE WHEN 1 >= ?2 THEN ?3 ELSE 0 END, ?3)
ON CONFLICT(user_id) DO UPDATE SET
	strike_count = MIN(strike_count + 1, ?2),
	banned = CASE WHEN banned = 1 OR strike_count + 1 >= ?2 THEN 1 ELSE 0 END,
	banned_at = CASE WHEN banned = 0 AND strike_count + 1 >= ?2 THEN ?3 ELSE banned_at END,
	updated_at = ?3
RETURNING strike_count, banned, banned_at, updated_at`

// IncrementStrike implements policy.StrikeStore. The pre-image is read in
// the same immediate transaction, so only the strike that flips banned
// reports BannedNow.
func (db *DB) IncrementStrike(ctx context.Context, userID string, threshold int, now time.Time) (model.StrikeResult, error) {
	st := model.UserPolicyState{UserID: userID}
	var wasBanned bool

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT banned FROM user_policy WHERE user_id = ?", userID).Scan(&wasBanned)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var bannedAt, updatedAt int64
		if err := tx.QueryRowContext(ctx, incrementStrikeSQL, userID, threshold, toNanos(now)).
			Scan(&st.StrikeCount, &st.Banned, &bannedAt, &updatedAt); err != nil {
			return err
		}
		st.BannedAt = db.fromNanos(bannedAt)
		st.UpdatedAt = db.fromNanos(updatedAt)
		return nil
	})
	if err != nil {
		return model.StrikeResult{}, fmt.Errorf("increment strike %s: %w", userID, err)
	}

	return model.StrikeResult{
		State:     st,
		BannedNow: st.Banned && !wasBanned,
	}, nil
}

// GetPolicyState implements policy.StrikeStore. Unknown users have a zero state.
func (db *DB) GetPolicyState(ctx context.Context, userID string) (model.UserPolicyState, error) {
	st := model.UserPolicyState{UserID: userID}
	var bannedAt, updatedAt int64
	err := db.QueryRowContext(ctx,
		"SELECT strike_count, banned, banned_at, updated_at FROM user_policy WHERE user_id = ?", userID).
		Scan(&st.StrikeCount, &st.Banned, &bannedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return model.UserPolicyState{}, fmt.Errorf("get policy state %s: %w", userID, err)
	}
	st.BannedAt = db.fromNanos(bannedAt)
	st.UpdatedAt = db.fromNanos(updatedAt)
	return st, nil
}

// ResetPolicyState implements policy.StrikeStore.
func (db *DB) ResetPolicyState(ctx context.Context, userID string, now time.Time) (model.UserPolicyState, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO user_policy (user_id, strike_count, banned, banned_at, updated_at)
		VALUES (?1, 0, 0, 0, ?2)
		ON CONFLICT(user_id) DO UPDATE SET strike_count = 0, banned = 0, banned_at = 0, updated_at = ?2`,
		userID, toNanos(now))
	if err != nil {
		return model.UserPolicyState{}, fmt.Errorf("reset policy state %s: %w", userID, err)
	}
	return model.UserPolicyState{UserID: userID, UpdatedAt: now}, nil
}

// SetBanned implements policy.StrikeStore. The original ban time is kept
// for users already banned.
func (db *DB) SetBanned(ctx context.Context, userID string, now time.Time) (model.UserPolicyState, error) {
	st := model.UserPolicyState{UserID: userID}
	var bannedAt, updatedAt int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO user_policy (user_id, strike_count, banned, banned_at, updated_at)
		VALUES (?1, 0, 1, ?2, ?2)
		ON CONFLICT(user_id) DO UPDATE SET
			banned = 1,
			banned_at = CASE WHEN banned = 0 THEN ?2 ELSE banned_at END,
			updated_at = ?2
		RETURNING strike_count, banned, banned_at, updated_at`,
		userID, toNanos(now)).
		Scan(&st.StrikeCount, &st.Banned, &bannedAt, &updatedAt)
	if err != nil {
		return model.UserPolicyState{}, fmt.Errorf("ban %s: %w", userID, err)
	}
	st.BannedAt = db.fromNanos(bannedAt)
	st.UpdatedAt = db.fromNanos(updatedAt)
	return st, nil
}
