// Package notify sends a best-effort run-completion summary to Slack,
// grounded on the slack-go Post/fallback-text/retry pattern.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
	slackmdgo "github.com/snormore/slackmd/slackgo"
)

// RunSummary is what the driver reports at the end of a run.
type RunSummary struct {
	StepsRun      int
	BatchesRun    int
	FailedBatches int
	Iterations    int
}

// Notifier posts a run summary somewhere. A failure to notify must never
// fail the run itself — callers log and move on.
type Notifier interface {
	NotifyRunComplete(ctx context.Context, summary RunSummary) error
}

// Slack posts run summaries to a single channel.
type Slack struct {
	API     *slack.Client
	Channel string
	Log     *slog.Logger
}

// NewSlack builds a Slack notifier. botToken may be empty, in which case
// NotifyRunComplete is a no-op — this lets the driver always hold a
// Notifier without requiring Slack credentials in every environment.
func NewSlack(botToken, channel string, log *slog.Logger) *Slack {
	if botToken == "" {
		return &Slack{Channel: channel, Log: log}
	}
	return &Slack{API: slack.New(botToken), Channel: channel, Log: log}
}

func (s *Slack) NotifyRunComplete(ctx context.Context, summary RunSummary) error {
	if s.API == nil || s.Channel == "" {
		return nil
	}
	text := fmt.Sprintf(
		"pipeline run complete: %d steps, %d batches, %d failed, %d changelist iterations",
		summary.StepsRun, summary.BatchesRun, summary.FailedBatches, summary.Iterations,
	)
	if summary.FailedBatches > 0 {
		text = ":warning: " + text
	} else {
		text = ":white_check_mark: " + text
	}
	_, err := slackmdgo.Post(ctx, s.API, s.Channel, text, slackmdgo.WithFallbackText(text), slackmdgo.WithRetry(nil))
	if err != nil {
		s.Log.Warn("slack notify failed", "error", err)
	}
	return err
}

// Noop never sends anything — used where no Slack channel is configured.
type Noop struct{}

func (Noop) NotifyRunComplete(ctx context.Context, summary RunSummary) error { return nil }
