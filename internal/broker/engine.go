// Package broker implements the optimistic-concurrency task queue API: an
// Action/Force transition endpoint, the assignOne load-balancing cursor, and
// read-only lookups by key or status.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"taskfabric.dev/internal/cache"
	"taskfabric.dev/internal/metrics"
	"taskfabric.dev/internal/store"
	"taskfabric.dev/internal/task"
)

// ErrNoTaskToAssign is returned by AssignOne when no todo task is available.
var ErrNoTaskToAssign = errors.New("broker: no task to do")

// ErrRetryBudgetExhausted is returned when Action or Force lose every race
// against concurrent writers within their retry budget.
var ErrRetryBudgetExhausted = errors.New("broker: retry budget exhausted")

// DefaultRetryBudget bounds how many times Action/Force will reload and
// retry a write after losing a compare-and-set race.
const DefaultRetryBudget = 64

// Engine is the broker's core logic, independent of any transport. It holds
// no per-request state, so a single Engine is shared by every handler goroutine.
type Engine struct {
	store       store.TaskStore
	machine     *task.Machine
	log         *logrus.Logger
	retryBudget int
	now         func() int64
	metrics     *metrics.Metrics
	emptyCache  *cache.EmptyAssignCache
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithRetryBudget overrides DefaultRetryBudget.
func WithRetryBudget(n int) Option {
	return func(e *Engine) { e.retryBudget = n }
}

// WithMetrics attaches a Metrics instance; actions and assignments are
// recorded against it when set. Nil (the default) disables recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the nanosecond clock Engine uses to stamp
// statusSince/ldt. Tests can inject a deterministic clock this way.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

// WithEmptyAssignCache attaches a best-effort cache consulted before
// AssignOne queries the store, so a burst of idle pollers against an
// empty task name doesn't each pay for a Mango query. Nil (the default)
// disables it.
func WithEmptyAssignCache(c *cache.EmptyAssignCache) Option {
	return func(e *Engine) { e.emptyCache = c }
}

// NewEngine builds an Engine over s using transitions and validStatuses
// (either may be nil to take the package defaults).
func NewEngine(s store.TaskStore, transitions task.Transitions, validStatuses task.ValidStatuses, log *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		machine:     task.NewMachine(transitions, validStatuses),
		log:         log,
		retryBudget: DefaultRetryBudget,
		now:         func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the {changed, before, after} triple callers need to see both
// sides of a transition, not just whether it happened.
type Result struct {
	Changed bool
	Before  *task.Task
	After   *task.Task
}

func (e *Engine) loadOrVirtual(ctx context.Context, taskName, key string) (*task.Task, error) {
	id := task.ID(taskName, key)
	before, err := e.store.FindOne(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return task.New(taskName, key), nil
	}
	return before, err
}

func (e *Engine) write(ctx context.Context, before, after *task.Task) error {
	switch {
	case after.Status == task.StatusNone && before.Status == task.StatusNone:
		// Nothing ever existed and nothing exists now; Equal would already
		// have caught this, but guard against being called directly.
		return nil
	case after.Status == task.StatusNone:
		return e.store.DeleteIfMatch(ctx, before.ID, before.Fence)
	case before.Fence == "":
		fence, err := e.store.InsertIfAbsent(ctx, after)
		if err == nil {
			after.Fence = fence
		}
		return err
	default:
		fence, err := e.store.ReplaceIfMatch(ctx, after, before.Fence)
		if err == nil {
			after.Fence = fence
		}
		return err
	}
}

// Action performs action on task/key, retrying against fresh reads whenever
// a concurrent writer wins the race, up to the configured retry budget.
func (e *Engine) Action(ctx context.Context, taskName, key string, action task.Action, data map[string]interface{}, priority *int) (*Result, error) {
	start := time.Now()
	result, err := e.action(ctx, taskName, key, action, data, priority)
	if e.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.metrics.RecordAction(taskName, string(action), outcome, time.Since(start))
	}
	return result, err
}

func (e *Engine) action(ctx context.Context, taskName, key string, action task.Action, data map[string]interface{}, priority *int) (*Result, error) {
	for attempt := 0; attempt < e.retryBudget; attempt++ {
		before, err := e.loadOrVirtual(ctx, taskName, key)
		if err != nil {
			return nil, err
		}

		after, err := e.machine.Apply(before, action, data, priority, e.now())
		if err != nil {
			return nil, err
		}

		if before.Equal(after) {
			return &Result{Changed: false, Before: before, After: before}, nil
		}

		if err := e.write(ctx, before, after); err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if action == task.ActionStack && e.emptyCache != nil {
			e.emptyCache.Clear(ctx, taskName)
		}
		return &Result{Changed: true, Before: before, After: after}, nil
	}
	return nil, ErrRetryBudgetExhausted
}

// Force sets task/key's status directly, bypassing the transition table,
// with the same retry-on-conflict behavior as Action.
func (e *Engine) Force(ctx context.Context, taskName, key string, status task.Status, data map[string]interface{}, priority *int) (*Result, error) {
	for attempt := 0; attempt < e.retryBudget; attempt++ {
		before, err := e.loadOrVirtual(ctx, taskName, key)
		if err != nil {
			return nil, err
		}

		after, err := e.machine.Force(before, status, data, priority, e.now())
		if err != nil {
			return nil, err
		}

		if before.Equal(after) {
			return &Result{Changed: false, Before: before, After: before}, nil
		}

		if err := e.write(ctx, before, after); err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		return &Result{Changed: true, Before: before, After: after}, nil
	}
	return nil, ErrRetryBudgetExhausted
}

// AssignOne picks the highest-priority, longest-waiting todo task for
// taskName and atomically assigns it (moves it to doing) via a true
// compare-and-set against the candidate's fence. If the whole candidate
// list is exhausted purely by losing races (not because it was empty), the
// cursor is re-read once and retried, since by the time it is exhausted the
// set of available tasks may have changed.
func (e *Engine) AssignOne(ctx context.Context, taskName string) (*task.Task, error) {
	if e.emptyCache != nil && e.emptyCache.RecentlyEmpty(ctx, taskName) {
		return nil, ErrNoTaskToAssign
	}

	start := time.Now()
	conflicts := 0
	after, err := e.assignOne(ctx, taskName, &conflicts)
	if e.metrics != nil {
		e.metrics.RecordAssign(taskName, err == nil, conflicts, time.Since(start))
	}
	if errors.Is(err, ErrNoTaskToAssign) && e.emptyCache != nil {
		e.emptyCache.MarkEmpty(ctx, taskName)
	}
	return after, err
}

func (e *Engine) assignOne(ctx context.Context, taskName string, conflicts *int) (*task.Task, error) {
	restarted := false
	for {
		candidates, err := e.store.FindMany(ctx, store.Query{
			Status:   task.StatusTodo,
			TaskName: taskName,
			Sort: []store.SortKey{
				{Field: "priority", Descending: true},
				{Field: "ldt", Descending: false},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, ErrNoTaskToAssign
		}

		sawConflict := false
		for _, candidate := range candidates {
			after, err := e.machine.Apply(candidate, task.ActionAssign, nil, nil, e.now())
			if err != nil {
				// Another actor already moved it out of todo between the
				// cursor read and now; treat like a lost race and move on.
				sawConflict = true
				*conflicts++
				continue
			}
			fence, err := e.store.ReplaceIfMatch(ctx, after, candidate.Fence)
			if err != nil {
				if errors.Is(err, store.ErrConflict) {
					sawConflict = true
					*conflicts++
					continue
				}
				return nil, err
			}
			after.Fence = fence
			return after, nil
		}

		if sawConflict && !restarted {
			restarted = true
			continue
		}
		return nil, ErrNoTaskToAssign
	}
}

// GetByKey returns the task document for taskName/key unmodified, or
// store.ErrNotFound if none exists.
func (e *Engine) GetByKey(ctx context.Context, taskName, key string) (*task.Task, error) {
	return e.store.FindOne(ctx, task.ID(taskName, key))
}

// GetByStatus returns, for each requested status, every task document of
// taskName currently in that status.
func (e *Engine) GetByStatus(ctx context.Context, taskName string, statuses []task.Status) (map[task.Status][]*task.Task, error) {
	out := make(map[task.Status][]*task.Task, len(statuses))
	for _, status := range statuses {
		tasks, err := e.store.FindMany(ctx, store.Query{Status: status, TaskName: taskName})
		if err != nil {
			return nil, fmt.Errorf("get by status %q: %w", status, err)
		}
		out[status] = tasks
	}
	return out, nil
}
