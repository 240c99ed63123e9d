package notify

import (
	"context"
	"fmt"

	"github.com/syncbridge/syncbridge/config"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// SentryNotifier reports alerts as sentry messages.
type SentryNotifier struct{}

// NewSentryNotifier initializes the sentry SDK and returns a notifier.
func NewSentryNotifier(cfg *config.Sentry, release string) (*SentryNotifier, error) {
	if cfg == nil || cfg.Dsn == "" {
		return nil, fmt.Errorf("sentry dsn is empty")
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Dsn,
		AttachStacktrace: true,
		ServerName:       "syncbridge",
		Release:          release,
		Environment:      cfg.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init sentry: %w", err)
	}
	return &SentryNotifier{}, nil
}

// Alert sends one sentry event with the fields as extra context.
func (n *SentryNotifier) Alert(ctx context.Context, message string, fields map[string]any) {
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range fields {
			scope.SetExtra(k, v)
		}
		scope.SetLevel(sentry.LevelError)
		sentry.CaptureMessage(message)
	})
}

// LogNotifier is the fallback notifier writing to the structured log.
type LogNotifier struct {
	Log *logrus.Logger
}

// Alert logs the alert at error level.
func (n *LogNotifier) Alert(ctx context.Context, message string, fields map[string]any) {
	if n.Log == nil {
		return
	}
	n.Log.WithFields(logrus.Fields(fields)).Error(message)
}
