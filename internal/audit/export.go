package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
)

const exportBatch = 500

// ExportXLSX writes every entry matching f to a single-sheet workbook,
// newest first, and returns the number of rows written. Important rows
// are shaded and critical rows are shaded and bold.
func (l *Logger) ExportXLSX(ctx context.Context, actor model.Actor, f model.AuditFilter, w io.Writer) (int, error) {
	return l.export(ctx, actor, f, newXLSXSheet(), w)
}

func (l *Logger) export(ctx context.Context, actor model.Actor, f model.AuditFilter, sheet entrySheet, w io.Writer) (int, error) {
	if err := validateFilter(f); err != nil {
		return 0, err
	}
	defer sheet.Close()

	if err := sheet.Begin(exportColumns); err != nil {
		return 0, err
	}

	// Bound the export to entries that existed when it started so rows
	// appended meanwhile do not shift the pages.
	if f.To.IsZero() {
		f.To = l.clock.Now().Add(time.Nanosecond)
	}

	written := 0
	for offset := 0; ; offset += exportBatch {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		entries, total, err := l.store.QueryAudit(ctx, f, offset, exportBatch)
		if err != nil {
			return written, model.Persistence(err)
		}
		for _, e := range entries {
			if err := sheet.Append(e); err != nil {
				return written, fmt.Errorf("write row %s: %w", e.ID, err)
			}
			written++
		}
		if len(entries) < exportBatch || int64(offset+len(entries)) >= total {
			break
		}
	}

	if err := sheet.Flush(w); err != nil {
		return written, fmt.Errorf("save workbook: %w", err)
	}

	l.logger.Debug().Int("rows", written).Msg("audit export written")

	l.Append(model.AuditLogEntry{
		UserID:   actor.ID,
		UserName: actor.Name,
		Action:   model.ActionAdminAuditExport,
		Detail:   fmt.Sprintf("exported %d entries (%s)", written, describeFilter(f)),
	})
	return written, nil
}
