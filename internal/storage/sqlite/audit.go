package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/Masterminds/squirrel"
)

var auditColumns = []string{
	"id", "user_id", "user_name", "action", "importance", "ts",
	"date", "time", "service", "detail",
}

// Summary counters kept in audit_counters.
const (
	counterTotal                  = "total"
	counterImportant              = "important"
	counterReservations           = "reservations"
	counterCancellations          = "cancellations"
	counterImportantCancellations = "important_cancellations"
)

func auditWhere(f model.AuditFilter) squirrel.And {
	cond := squirrel.And{}
	if f.UserID != "" {
		cond = append(cond, squirrel.Eq{"user_id": f.UserID})
	}
	if f.Action != "" {
		cond = append(cond, squirrel.Eq{"action": string(f.Action)})
	}
	if f.Importance != "" {
		cond = append(cond, squirrel.Eq{"importance": string(f.Importance)})
	}
	if !f.From.IsZero() {
		cond = append(cond, squirrel.GtOrEq{"ts": f.From.UnixNano()})
	}
	if !f.To.IsZero() {
		cond = append(cond, squirrel.Lt{"ts": f.To.UnixNano()})
	}
	return cond
}

func isImportant(i model.Importance) bool {
	return i == model.ImportanceImportant || i == model.ImportanceCritical
}

// counterDeltas maps the summary counters an entry contributes to.
func counterDeltas(e model.AuditLogEntry) map[string]int64 {
	d := map[string]int64{counterTotal: 1}
	important := isImportant(e.Importance)
	if important {
		d[counterImportant] = 1
	}
	switch e.Action {
	case model.ActionReservation:
		d[counterReservations] = 1
	case model.ActionCancellation:
		d[counterCancellations] = 1
		if important {
			d[counterImportantCancellations] = 1
		}
	}
	return d
}

func addCounters(ctx context.Context, tx *sql.Tx, deltas map[string]int64, sign int64) error {
	for name, v := range deltas {
		if v == 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_counters (name, value) VALUES (?1, ?2)
			ON CONFLICT(name) DO UPDATE SET value = value + ?2`,
			name, sign*v)
		if err != nil {
			return fmt.Errorf("update counter %s: %w", name, err)
		}
	}
	return nil
}

// AppendAudit implements audit.Store. The entry and its summary counters
// are written in one transaction.
func (db *DB) AppendAudit(ctx context.Context, e model.AuditLogEntry) error {
	query, args, err := builder.Insert("audit_log").
		Columns(auditColumns...).
		Values(e.ID, e.UserID, e.UserName, string(e.Action), string(e.Importance), toNanos(e.Timestamp),
			e.Date, e.Time, e.Service, e.Detail).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return addCounters(ctx, tx, counterDeltas(e), 1)
	})
}

// QueryAudit implements audit.Store.
func (db *DB) QueryAudit(ctx context.Context, f model.AuditFilter, offset, limit int) ([]model.AuditLogEntry, int64, error) {
	where := auditWhere(f)

	countQuery, countArgs, err := builder.Select("COUNT(*)").From("audit_log").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build audit count: %w", err)
	}
	var total int64
	if err := db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	sel := builder.Select(auditColumns...).
		From("audit_log").
		Where(where).
		OrderBy("ts DESC", "seq DESC")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}
	if offset > 0 {
		if limit <= 0 {
			sel = sel.Limit(uint64(total))
		}
		sel = sel.Offset(uint64(offset))
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build audit query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []model.AuditLogEntry{}
	for rows.Next() {
		var (
			e                  model.AuditLogEntry
			action, importance string
			ts                 int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.UserName, &action, &importance, &ts,
			&e.Date, &e.Time, &e.Service, &e.Detail); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = model.ActionType(action)
		e.Importance = model.Importance(importance)
		e.Timestamp = db.fromNanos(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, total, nil
}

// SummarizeAudit implements audit.Store from the maintained counters.
func (db *DB) SummarizeAudit(ctx context.Context) (model.AuditSummary, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, value FROM audit_counters")
	if err != nil {
		return model.AuditSummary{}, fmt.Errorf("query audit counters: %w", err)
	}
	defer rows.Close()

	var sum model.AuditSummary
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return model.AuditSummary{}, fmt.Errorf("scan audit counter: %w", err)
		}
		switch name {
		case counterTotal:
			sum.TotalLogs = value
		case counterImportant:
			sum.ImportantLogs = value
		case counterReservations:
			sum.Reservations = value
		case counterCancellations:
			sum.Cancellations = value
		case counterImportantCancellations:
			sum.ImportantCancellations = value
		}
	}
	return sum, rows.Err()
}

// PurgeAudit implements audit.Store. Counters are adjusted by what the
// delete removes, inside the same transaction.
func (db *DB) PurgeAudit(ctx context.Context, f model.AuditFilter) (int64, error) {
	where := auditWhere(f)

	tallyQuery, tallyArgs, err := builder.Select(
		"COUNT(*)",
		"COALESCE(SUM(importance IN ('important', 'critical')), 0)",
		"COALESCE(SUM(action = 'reservation'), 0)",
		"COALESCE(SUM(action = 'cancellation'), 0)",
		"COALESCE(SUM(action = 'cancellation' AND importance IN ('important', 'critical')), 0)",
	).From("audit_log").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge tally: %w", err)
	}
	deleteQuery, deleteArgs, err := builder.Delete("audit_log").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge delete: %w", err)
	}

	var deleted int64
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var total, important, reservations, cancellations, importantCancellations int64
		if err := tx.QueryRowContext(ctx, tallyQuery, tallyArgs...).
			Scan(&total, &important, &reservations, &cancellations, &importantCancellations); err != nil {
			return fmt.Errorf("tally purge: %w", err)
		}

		res, err := tx.ExecContext(ctx, deleteQuery, deleteArgs...)
		if err != nil {
			return fmt.Errorf("delete audit entries: %w", err)
		}
		deleted, _ = res.RowsAffected()

		return addCounters(ctx, tx, map[string]int64{
			counterTotal:                  total,
			counterImportant:              important,
			counterReservations:           reservations,
			counterCancellations:          cancellations,
			counterImportantCancellations: importantCancellations,
		}, -1)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
