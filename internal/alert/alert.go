// Package alert delivers operator alerts out of band.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a message for operators.
type Alert struct {
	Severity Severity
	Title    string
	Body     string
	At       time.Time
}

// Notifier sends alerts to operators.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier backed by logger.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	ev := n.logger.Warn()
	if a.Severity == SeverityCritical {
		ev = n.logger.Error()
	}
	ev.Str("severity", string(a.Severity)).
		Time("at", a.At).
		Str("body", a.Body).
		Msg(a.Title)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(context.Context, Alert) error { return nil }
