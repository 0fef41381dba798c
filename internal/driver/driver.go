// Package driver implements the pipeline driver: the entry
// point that sequences steps and cascades a Change List across them to a
// fixed point.
package driver

import (
	"context"
	"log/slog"

	"github.com/malbeclabs/pipelake/internal/changelist"
	"github.com/malbeclabs/pipelake/internal/metrics"
	"github.com/malbeclabs/pipelake/internal/notify"
	"github.com/malbeclabs/pipelake/internal/step"
)

// maxChangeListIterations is the fixed-point safety cap for the cascade loop. Hitting it
// is logged, not an error — it just means the graph has not converged
// within a reasonable number of passes (e.g. a cyclic dependency).
const maxChangeListIterations = 100

// Driver runs a set of steps, either as a single strict pass or by
// cascading a Change List across them until it goes quiet.
type Driver struct {
	Log      *slog.Logger
	Notifier notify.Notifier
}

// New returns a Driver. A nil logger falls back to slog.Default(); a nil
// notifier falls back to a no-op.
func New(log *slog.Logger, notifier notify.Notifier) *Driver {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Driver{Log: log, Notifier: notifier}
}

// RunSteps runs every step's full incremental pass, strictly in the order
// given by the caller — the driver does no topological sorting of its own
// since callers are expected to supply a valid order.
func (d *Driver) RunSteps(ctx context.Context, steps []*step.Step) error {
	summary := notify.RunSummary{}
	for _, s := range steps {
		d.Log.Info("running step", "step", s.DeclaredName)
		cl, err := s.RunFull(ctx)
		if err != nil {
			d.Log.Error("step failed", "step", s.DeclaredName, "error", err)
			metrics.RunsTotal.WithLabelValues("full", "error").Inc()
			return err
		}
		summary.StepsRun++
		summary.BatchesRun += len(cl.Tables())
	}
	metrics.RunsTotal.WithLabelValues("full", "ok").Inc()
	if err := d.Notifier.NotifyRunComplete(ctx, summary); err != nil {
		d.Log.Warn("run-complete notification failed", "error", err)
	}
	return nil
}

// RunStepsChangeList cascades seed through steps repeatedly until no step
// produces any further change, or maxChangeListIterations passes have run.
// Each iteration runs every step once, in order, against the current
// Change List, and folds every step's output into the next iteration's
// input — this is how a change three steps upstream eventually reaches a
// step that only reads from the third step's output.
func (d *Driver) RunStepsChangeList(ctx context.Context, steps []*step.Step, seed *changelist.ChangeList) error {
	current := seed
	if current == nil {
		current = changelist.New()
	}

	summary := notify.RunSummary{}
	iteration := 0
	for !current.IsEmpty() {
		if iteration >= maxChangeListIterations {
			d.Log.Warn("change list did not converge within iteration cap", "iterations", iteration)
			break
		}
		iteration++
		next := changelist.New()

		for _, s := range steps {
			cl, err := s.RunChangeList(ctx, current)
			if err != nil {
				d.Log.Error("step failed during changelist run", "step", s.DeclaredName, "error", err)
				metrics.RunsTotal.WithLabelValues("changelist", "error").Inc()
				return err
			}
			next.Extend(cl)
			summary.BatchesRun += len(cl.Tables())
		}

		current = next
		summary.Iterations = iteration
		metrics.ChangeListIterations.Observe(float64(iteration))
	}

	summary.StepsRun = len(steps)
	metrics.RunsTotal.WithLabelValues("changelist", "ok").Inc()
	if err := d.Notifier.NotifyRunComplete(ctx, summary); err != nil {
		d.Log.Warn("run-complete notification failed", "error", err)
	}
	return nil
}
