package app

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry enables error reporting when dsn is set. It returns whether sentry is active.
func InitSentry(dsn, environment string) (bool, error) {
	if dsn == "" {
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// FlushSentry waits briefly for buffered events. Safe to call when sentry is disabled.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
