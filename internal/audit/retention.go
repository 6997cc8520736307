package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
)

// CleanupOlderThan purges entries older than retention. It is the body of
// the scheduled retention job.
func (l *Logger) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}

	cutoff := l.clock.Now().Add(-retention)
	deleted, err := l.store.PurgeAudit(ctx, model.AuditFilter{To: cutoff})
	if err != nil {
		return 0, model.Persistence(err)
	}

	l.logger.Info().
		Int64("deleted_count", deleted).
		Dur("retention", retention).
		Msg("cleaned up old audit entries")

	if deleted > 0 {
		l.Append(model.AuditLogEntry{
			UserID:   "system",
			UserName: "retention",
			Action:   model.ActionRetentionCleanup,
			Detail:   fmt.Sprintf("removed %d entries older than %s", deleted, cutoff.Format(time.RFC3339)),
		})
	}
	return deleted, nil
}
