// Package pipelog builds the process-wide structured logger and reports
// fatal construction/config errors to Sentry when a DSN is configured.
package pipelog

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lmittmann/tint"
)

// New returns a console logger: info level normally, debug when verbose.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s.%03dZ", t.Format("2006-01-02T15:04:05"), t.Nanosecond()/1_000_000)
}

// InitSentry configures the global Sentry client, a no-op when dsn is empty.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: environment})
}

// ReportFatal logs err at error level and, if Sentry is configured, reports
// it there too. Used only for ConstructionError/ConfigError raised while
// wiring a pipeline together — never for per-batch step failures, which stay
// inside transform-meta and the run's returned error.
func ReportFatal(log *slog.Logger, err error) {
	log.Error("fatal pipeline error", "error", err)
	sentry.CaptureException(err)
}
