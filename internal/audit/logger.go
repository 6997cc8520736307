// Package audit records every policy-relevant action.
package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/alert"
	"github.com/DanielSantin/site-barbearia-sub000/internal/metrics"
	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the indexed append log behind the logger.
type Store interface {
	AppendAudit(ctx context.Context, e model.AuditLogEntry) error
	// QueryAudit returns matching entries newest first and the total match count.
	QueryAudit(ctx context.Context, f model.AuditFilter, offset, limit int) ([]model.AuditLogEntry, int64, error)
	SummarizeAudit(ctx context.Context) (model.AuditSummary, error)
	PurgeAudit(ctx context.Context, f model.AuditFilter) (int64, error)
}

// Config holds configuration for the audit logger.
type Config struct {
	// QueueSize bounds entries waiting for the background writer.
	QueueSize int
	// WriteTimeout bounds a single store write.
	WriteTimeout time.Duration
	// EscalateAfter is the number of consecutive failed writes that
	// raises an operator alert.
	EscalateAfter int

	DefaultPageSize int
	MaxPageSize     int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:       1024,
		WriteTimeout:    5 * time.Second,
		EscalateAfter:   3,
		DefaultPageSize: 20,
		MaxPageSize:     100,
	}
}

// Logger appends audit entries without ever failing the caller.
type Logger struct {
	store    Store
	notifier alert.Notifier
	cfg      Config
	clock    model.Clock
	logger   zerolog.Logger

	queue   chan model.AuditLogEntry
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	failures  atomic.Int64
	escalated atomic.Bool
}

// NewLogger creates an audit logger. Until Start is called, Append writes
// inline.
func NewLogger(store Store, notifier alert.Notifier, cfg Config, clock model.Clock, logger zerolog.Logger) *Logger {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = def.EscalateAfter
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if notifier == nil {
		notifier = alert.Nop{}
	}
	if clock == nil {
		clock = model.SystemClock{}
	}
	return &Logger{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.With().Str("component", "audit").Logger(),
		queue:    make(chan model.AuditLogEntry, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background writer.
func (l *Logger) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.loop()

	l.logger.Info().Int("queue_size", l.cfg.QueueSize).Msg("audit writer started")
}

// Stop drains queued entries and stops the writer.
func (l *Logger) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()

	close(l.stopCh)
	l.wg.Wait()

	l.logger.Info().Msg("audit writer stopped")
}

func (l *Logger) loop() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.queue:
			l.write(e)
		case <-l.stopCh:
			for {
				select {
				case e := <-l.queue:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

// Append records e. It never blocks and never reports failure to the
// caller; failed writes are logged, counted and escalated instead.
func (l *Logger) Append(e model.AuditLogEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now()
	}
	if e.Importance == "" {
		e.Importance = model.ImportanceNormal
	}

	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		l.write(e)
		return
	}
	select {
	case l.queue <- e:
		l.mu.Unlock()
	default:
		l.mu.Unlock()
		l.recordFailure(e, "queue_full", fmt.Errorf("audit queue full (%d entries)", l.cfg.QueueSize))
	}
}

func (l *Logger) write(e model.AuditLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()

	if err := l.store.AppendAudit(ctx, e); err != nil {
		l.recordFailure(e, "write", err)
	} else {
		l.recordSuccess()
	}

	if e.Importance == model.ImportanceCritical {
		l.notify(ctx, alert.Alert{
			Severity: alert.SeverityCritical,
			Title:    fmt.Sprintf("critical audit entry: %s", e.Action),
			Body:     describe(e),
			At:       e.Timestamp,
		})
	}
}

func (l *Logger) recordFailure(e model.AuditLogEntry, reason string, err error) {
	metrics.IncAuditFailure(reason)

	// The full entry goes to the process log so it can be replayed.
	l.logger.Error().Err(err).
		Str("reason", reason).
		Str("entry_id", e.ID).
		Str("user_id", e.UserID).
		Str("action", string(e.Action)).
		Str("importance", string(e.Importance)).
		Time("timestamp", e.Timestamp).
		Str("date", e.Date).
		Str("time", e.Time).
		Str("detail", e.Detail).
		Msg("audit entry not persisted")

	n := l.failures.Add(1)
	if n >= int64(l.cfg.EscalateAfter) && l.escalated.CompareAndSwap(false, true) {
		metrics.IncAuditEscalation()
		a := alert.Alert{
			Severity: alert.SeverityCritical,
			Title:    "audit log writes failing",
			Body:     fmt.Sprintf("%d consecutive audit writes failed; last error: %v", n, err),
			At:       l.clock.Now(),
		}
		// Append may be on the caller's path here; deliver off it.
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
			defer cancel()
			l.notify(ctx, a)
		}()
	}
}

func (l *Logger) recordSuccess() {
	l.failures.Store(0)
	if l.escalated.Swap(false) {
		l.logger.Info().Msg("audit writes recovered")
	}
}

func (l *Logger) notify(ctx context.Context, a alert.Alert) {
	if err := l.notifier.Notify(ctx, a); err != nil {
		l.logger.Error().Err(err).Str("title", a.Title).Msg("failed to deliver alert")
	}
}

// ConsecutiveFailures reports the current failure streak.
func (l *Logger) ConsecutiveFailures() int64 { return l.failures.Load() }

// Escalated reports whether the current failure streak raised an alert.
func (l *Logger) Escalated() bool { return l.escalated.Load() }

// Page is one page of query results.
type Page struct {
	Entries  []model.AuditLogEntry `json:"entries"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"pageSize"`
}

// Query returns entries matching f, newest first. Page numbers start at 1.
func (l *Logger) Query(ctx context.Context, f model.AuditFilter, page, pageSize int) (Page, error) {
	if err := validateFilter(f); err != nil {
		return Page{}, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = l.cfg.DefaultPageSize
	}
	if pageSize > l.cfg.MaxPageSize {
		pageSize = l.cfg.MaxPageSize
	}

	entries, total, err := l.store.QueryAudit(ctx, f, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page{}, model.Persistence(err)
	}
	if entries == nil {
		entries = []model.AuditLogEntry{}
	}
	return Page{Entries: entries, Total: total, Page: page, PageSize: pageSize}, nil
}

// Summarize aggregates the full log.
func (l *Logger) Summarize(ctx context.Context) (model.AuditSummary, error) {
	s, err := l.store.SummarizeAudit(ctx)
	if err != nil {
		return model.AuditSummary{}, model.Persistence(err)
	}
	return s, nil
}

// Purge deletes entries matching f. An empty filter is rejected so the
// log can never be wiped by accident.
func (l *Logger) Purge(ctx context.Context, actor model.Actor, f model.AuditFilter) (int64, error) {
	if f.IsEmpty() {
		return 0, model.ErrEmptyFilter
	}
	if err := validateFilter(f); err != nil {
		return 0, err
	}

	deleted, err := l.store.PurgeAudit(ctx, f)
	if err != nil {
		return 0, model.Persistence(err)
	}

	l.logger.Info().
		Str("actor", actor.ID).
		Int64("deleted", deleted).
		Msg("audit entries purged")

	l.Append(model.AuditLogEntry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		Action:     model.ActionAdminAuditPurge,
		Importance: model.ImportanceImportant,
		Detail:     fmt.Sprintf("purged %d entries (%s)", deleted, describeFilter(f)),
	})
	return deleted, nil
}

func validateFilter(f model.AuditFilter) error {
	if f.Importance != "" && !f.Importance.Valid() {
		return fmt.Errorf("%w: unknown importance %q", model.ErrInvalidInput, f.Importance)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return fmt.Errorf("%w: from must be before to", model.ErrInvalidInput)
	}
	return nil
}

func describe(e model.AuditLogEntry) string {
	s := fmt.Sprintf("user=%s action=%s", e.UserID, e.Action)
	if e.Date != "" {
		s += fmt.Sprintf(" slot=%s %s", e.Date, e.Time)
	}
	if e.Detail != "" {
		s += "\n" + e.Detail
	}
	return s
}

func describeFilter(f model.AuditFilter) string {
	s := ""
	add := func(k, v string) {
		if s != "" {
			s += ", "
		}
		s += k + "=" + v
	}
	if f.UserID != "" {
		add("user", f.UserID)
	}
	if f.Action != "" {
		add("action", string(f.Action))
	}
	if f.Importance != "" {
		add("importance", string(f.Importance))
	}
	if !f.From.IsZero() {
		add("from", f.From.Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		add("to", f.To.Format(time.RFC3339))
	}
	return s
}
