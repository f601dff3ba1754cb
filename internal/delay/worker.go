// Package delay implements the persisted timer queue described in
// SPEC_FULL §4.7: wait-before, wait-after, retry, and timeout deadlines are
// rows in the delayed_calls table, polled on a cron schedule and turned back
// into timer_fired events for the dispatcher.
package delay

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"orchestra/internal/dispatch"
	"orchestra/internal/logging"
	"orchestra/internal/store"
)

// Worker polls for delayed calls whose deadline has passed and republishes
// them as timer_fired events, grounded on the teacher's SchedulerService
// (cron.New with seconds precision and verbose logging).
type Worker struct {
	cron      *cron.Cron
	store     *store.Store
	transport dispatch.Engine
	namespace string
	batchSize int
}

// New returns a Worker that polls store for ready delayed calls and
// publishes them through transport under namespace.
func New(st *store.Store, transport dispatch.Engine, namespace string) *Worker {
	c := cron.New(cron.WithSeconds(), cron.WithLogger(cron.VerbosePrintfLogger(log.New(log.Writer(), "DELAY: ", log.LstdFlags))))
	return &Worker{
		cron:      c,
		store:     st,
		transport: transport,
		namespace: namespace,
		batchSize: 100,
	}
}

// Start schedules the poll loop to run every second and starts the cron
// scheduler.
func (w *Worker) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc("* * * * * *", func() {
		if err := w.pollOnce(ctx); err != nil {
			logging.Error("delay: poll failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for an in-flight poll to finish.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
}

func (w *Worker) pollOnce(ctx context.Context) error {
	ready, err := w.store.FindReadyDelayedCalls(ctx, time.Now().UTC(), w.batchSize)
	if err != nil {
		return err
	}

	for _, call := range ready {
		if call.TaskExecID == nil {
			// A delayed call with no task (reserved for future workflow-level
			// timers) has nothing to fire against.
			if err := w.store.MarkDelayedCallFired(ctx, call.ID); err != nil {
				logging.Error("delay: failed to mark call %s fired: %v", call.ID, err)
			}
			continue
		}

		event := dispatch.Event{
			EventID:             uuid.NewString(),
			Kind:                dispatch.EventTimerFired,
			WorkflowExecutionID: call.WorkflowExecID,
			TaskExecutionID:     *call.TaskExecID,
			TimerKind:           string(call.Kind),
		}

		if w.transport != nil {
			if err := w.transport.Publish(ctx, w.namespace, event); err != nil {
				logging.Error("delay: failed to publish timer_fired for call %s: %v", call.ID, err)
				continue
			}
		}

		if err := w.store.MarkDelayedCallFired(ctx, call.ID); err != nil {
			logging.Error("delay: failed to mark call %s fired: %v", call.ID, err)
		}
	}
	return nil
}
