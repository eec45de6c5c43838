// Package reporting is the error-tracking collaborator used by the
// dispatcher to record handler faults. The core never acts on a capture
// result; reporting is strictly fire-and-forget.
package reporting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"hitbot/pkg/logx"
)

// Reporter records unexpected faults from business logic.
type Reporter interface {
	// CaptureError records a handler error together with identifying tags.
	CaptureError(err error, tags map[string]string)
	// CapturePanic records a recovered panic value.
	CapturePanic(rec any, tags map[string]string)
	// Flush blocks until buffered captures are delivered or the timeout hits.
	Flush(timeout time.Duration)
}

// Nop returns a reporter that drops every capture.
func Nop() Reporter { return nop{} }

type nop struct{}

func (nop) CaptureError(error, map[string]string) {}
func (nop) CapturePanic(any, map[string]string)   {}
func (nop) Flush(time.Duration)                   {}

// NewSentry initializes the Sentry SDK and returns a reporter backed by it.
// An empty DSN yields the no-op reporter.
func NewSentry(dsn string, log logx.Logger) (Reporter, error) {
	if dsn == "" {
		return Nop(), nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	log.Info("sentry reporting enabled")
	return sentryReporter{}, nil
}

type sentryReporter struct{}

func (sentryReporter) CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func (sentryReporter) CapturePanic(rec any, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CurrentHub().Recover(rec)
	})
}

func (sentryReporter) Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}
