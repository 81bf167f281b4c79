package runtime

import (
	"context"
	"log/slog"
	"time"
)

// WallClockInterval is the real-time cadence a Worker wakes at.
const WallClockInterval = 10 * time.Millisecond

// LogicalStep is the logical-clock granularity tasks are ticked at; a
// worker may advance several logical steps per wall-clock wakeup if it
// fell behind (it never ticks fewer than one).
const LogicalStep = 1 * time.Millisecond

// Branch is one hosted task plus the session key it is sharded under.
type Branch[O any] struct {
	key  string
	task Task[O]
}

// Worker owns a shard of sessions (sticky for their lifetime, per
// spec §4.5 "single-threaded cooperative per worker") and, on each logical
// tick, drains every hosted session's output fully, one session after
// another in hosting order.
type Worker[O any] struct {
	id       int
	branches map[string]Task[O]
	order    []string
	out      chan O
	logger   *slog.Logger
}

// NewWorker creates a Worker identified by id (used in logging and in
// ClusterConnId.Worker), draining output onto out.
func NewWorker[O any](id int, out chan O, logger *slog.Logger) *Worker[O] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker[O]{id: id, branches: make(map[string]Task[O]), out: out, logger: logger}
}

// Host registers a branch under key (typically a session id). A key
// already hosted is replaced.
func (w *Worker[O]) Host(key string, task Task[O]) {
	if _, exists := w.branches[key]; !exists {
		w.order = append(w.order, key)
	}
	w.branches[key] = task
}

// Unhost removes a branch, e.g. once its IsEmpty() reports true.
func (w *Worker[O]) Unhost(key string) {
	delete(w.branches, key)
	for i, k := range w.order {
		if k == key {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of currently hosted branches.
func (w *Worker[O]) Len() int { return len(w.order) }

// tick advances every hosted branch by one logical step, drains their
// output onto w.out, and unhosts branches that report IsEmpty.
func (w *Worker[O]) tick(now time.Time) {
	var emptied []string
	for _, key := range w.order {
		task := w.branches[key]
		task.OnTick(now)
		for {
			out, ok := task.PopOutput(now)
			if !ok {
				break
			}
			select {
			case w.out <- out:
			default:
				w.logger.Warn("worker output channel full, dropping output", slog.Int("worker", w.id), slog.String("session", key))
			}
		}
		if rt, ok := task.(ResourceEmptyTask); ok && rt.IsEmpty() {
			emptied = append(emptied, key)
		}
	}
	for _, key := range emptied {
		w.Unhost(key)
		w.logger.Debug("worker session gc'd", slog.Int("worker", w.id), slog.String("session", key))
	}
}

// Run drives the worker's tick loop at WallClockInterval until ctx is
// cancelled, catching the logical clock up with LogicalStep increments
// if a wakeup was delayed. Intended to run in its own goroutine, one per
// worker, per spec §4.5.
func (w *Worker[O]) Run(ctx context.Context, clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	ticker := time.NewTicker(WallClockInterval)
	defer ticker.Stop()

	last := clock()
	for {
		select {
		case <-ctx.Done():
			return
		case wallNow := <-ticker.C:
			for t := last.Add(LogicalStep); !t.After(wallNow); t = t.Add(LogicalStep) {
				w.tick(t)
				last = t
			}
		}
	}
}
