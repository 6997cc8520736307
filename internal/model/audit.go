package model

import "time"

// ActionType classifies an audit entry.
type ActionType string

const (
	ActionReservation      ActionType = "reservation"
	ActionCancellation     ActionType = "cancellation"
	ActionRollback         ActionType = "reservation-rollback"
	ActionUserBanned       ActionType = "user-banned"
	ActionAdminBlock       ActionType = "admin-block"
	ActionAdminUnblock     ActionType = "admin-unblock"
	ActionAdminBlockDay    ActionType = "admin-block-day"
	ActionAdminRemove      ActionType = "admin-remove-reservation"
	ActionAdminSetEnabled  ActionType = "admin-set-enabled"
	ActionAdminOpenDay     ActionType = "admin-open-day"
	ActionAdminResetUser   ActionType = "admin-reset-user"
	ActionAdminBanUser     ActionType = "admin-ban-user"
	ActionAdminAuditPurge  ActionType = "admin-audit-purge"
	ActionAdminAuditExport ActionType = "admin-audit-export"
	ActionRetentionCleanup ActionType = "audit-retention"
)

// Importance ranks an audit entry for operators.
type Importance string

const (
	ImportanceNormal    Importance = "normal"
	ImportanceImportant Importance = "important"
	ImportanceCritical  Importance = "critical"
)

// Valid reports whether i is a known importance.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceNormal, ImportanceImportant, ImportanceCritical:
		return true
	}
	return false
}

// AuditLogEntry is immutable once written.
type AuditLogEntry struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	UserName   string     `json:"userName"`
	Action     ActionType `json:"actionType"`
	Importance Importance `json:"importance"`
	Timestamp  time.Time  `json:"timestamp"`
	Date       string     `json:"date,omitempty"`
	Time       string     `json:"time,omitempty"`
	Service    string     `json:"service,omitempty"`
	Detail     string     `json:"detail"`
}

// AuditFilter selects entries. Zero fields do not constrain. From is
// inclusive and To is exclusive.
type AuditFilter struct {
	UserID     string
	Action     ActionType
	Importance Importance
	From       time.Time
	To         time.Time
}

// IsEmpty reports whether no criterion is set.
func (f AuditFilter) IsEmpty() bool {
	return f.UserID == "" && f.Action == "" && f.Importance == "" && f.From.IsZero() && f.To.IsZero()
}

// Matches applies the filter to a single entry.
func (f AuditFilter) Matches(e AuditLogEntry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Importance != "" && e.Importance != f.Importance {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// AuditSummary aggregates the whole log.
type AuditSummary struct {
	TotalLogs              int64 `json:"totalLogs"`
	ImportantLogs          int64 `json:"importantLogs"`
	Reservations           int64 `json:"reservations"`
	Cancellations          int64 `json:"cancellations"`
	ImportantCancellations int64 `json:"importantCancellations"`
}
