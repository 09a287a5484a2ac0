// Package events carries security events out of the auth core.
//
// Publishing is best effort: a broken broker is logged by the caller and never fails the
// request that produced the event. Events never contain tokens or passwords.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Type names a security event.
type Type string

const (
	Registered        Type = "auth.registered"
	LoginSucceeded    Type = "auth.login.success"
	LoginFailed       Type = "auth.login.failed"
	RefreshRotated    Type = "auth.refresh.rotated"
	ReplayDetected    Type = "auth.refresh.replay_detected"
	LoggedOut         Type = "auth.logout"
	LoggedOutAll      Type = "auth.logout_all"
	ExpiredCleanedUp  Type = "auth.cleanup"
	UserStatusChanged Type = "auth.user.updated"
)

// RevokesSessions reports whether live connections of the event's user must be dropped.
func (t Type) RevokesSessions() bool {
	return t == ReplayDetected || t == LoggedOutAll
}

// Event is one security-relevant fact.
type Event struct {
	Type       Type              `json:"type"`
	UserID     string            `json:"userId,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"userAgent,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, ev Event) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	if ev.Type == ReplayDetected || ev.Type == LoginFailed {
		level = slog.LevelWarn
	}

	attrs := []any{
		"user_id", ev.UserID,
		"ip", ev.IP,
		"user_agent", ev.UserAgent,
		"occurred_at", ev.OccurredAt,
	}
	for k, v := range ev.Meta {
		attrs = append(attrs, "meta_"+k, v)
	}
	logger.Log(ctx, level, "security."+string(ev.Type), attrs...)
	return nil
}
