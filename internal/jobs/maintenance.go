package jobs

import (
	"context"
	"time"
)

const (
	AuditRetentionJob = "audit-retention"
	BackupJob         = "backup"
)

// AuditCleaner purges audit entries past their retention.
type AuditCleaner interface {
	CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// BackupRunner snapshots the database and prunes old snapshots.
type BackupRunner interface {
	Run(ctx context.Context) error
}

// AuditRetention returns the retention job body. A non-positive retention
// keeps the log forever.
func AuditRetention(cleaner AuditCleaner, retention time.Duration) Func {
	return func(ctx context.Context) error {
		if retention <= 0 {
			return nil
		}
		_, err := cleaner.CleanupOlderThan(ctx, retention)
		return err
	}
}

// Backup returns the backup job body.
func Backup(runner BackupRunner) Func {
	return runner.Run
}
