// Package telemetry reports caught, non-fatal errors.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	appLog "calwatch/internal/log"
)

// Reporter receives errors that were handled but should be looked at.
type Reporter interface {
	Capture(err error, kv ...any)
}

// Log writes captured errors to the log.
type Log struct{}

func (Log) Capture(err error, kv ...any) {
	appLog.Error("telemetry: captured error", err, kv...)
}

// Sentry forwards captured errors to Sentry and logs them as well.
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry initializes the SDK. The release is reported with every event.
func NewSentry(dsn, release string) (*Sentry, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	})
	if err != nil {
		return nil, err
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *Sentry) Capture(err error, kv ...any) {
	Log{}.Capture(err, kv...)

	s.hub.WithScope(func(scope *sentry.Scope) {
		for i := 0; i+1 < len(kv); i += 2 {
			if key, ok := kv[i].(string); ok {
				scope.SetExtra(key, kv[i+1])
			}
		}
		s.hub.CaptureException(err)
	})
}

// Close flushes buffered events.
func (s *Sentry) Close() {
	s.hub.Flush(2 * time.Second)
}
