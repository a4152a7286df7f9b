package worker

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"taskfabric.dev/internal/task"
)

// lastError builds the structured error object merged into a task's data
// when a todo/do hook fails, so the failure is visible and replayable via
// force rather than only logged.
func lastError(err error) map[string]interface{} {
	return map[string]interface{}{
		"lastError": map[string]interface{}{
			"reason":    err.Error(),
			"traceback": string(debug.Stack()),
			"datetime":  time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
}

// TodoItem is one unit of downstream work the Todo loop discovers and hands
// off to the "do" task queue.
type TodoItem struct {
	Key  string
	Data map[string]interface{}
}

// TodoFunc inspects the bookkeeping task's current data and returns the set
// of items that should exist as "do" tasks. It is the only business-logic
// seam the harness exposes for the producer side.
type TodoFunc func(ctx context.Context, data map[string]interface{}) ([]TodoItem, error)

// DoFunc performs the actual work for one assigned "do" task and returns a
// result to merge back into the task's data on success.
type DoFunc func(ctx context.Context, key string, data map[string]interface{}) (map[string]interface{}, error)

// Harness drives the producer ("todo") and consumer ("do") loops against a
// broker using goroutines coordinated by a single cancellation context,
// rather than a pool of forked OS processes.
type Harness struct {
	broker   *BrokerClient
	todoTask string
	doTask   string
	todoFn   TodoFunc
	doFn     DoFunc
	log      *logrus.Logger
}

// NewHarness builds a Harness bound to a single bookkeeping task name
// (todoTask) and a single unit-of-work task name (doTask).
func NewHarness(broker *BrokerClient, todoTask, doTask string, todoFn TodoFunc, doFn DoFunc, log *logrus.Logger) *Harness {
	return &Harness{
		broker:   broker,
		todoTask: todoTask,
		doTask:   doTask,
		todoFn:   todoFn,
		doFn:     doFn,
		log:      log,
	}
}

// TodoResult summarizes one Todo pass.
type TodoResult struct {
	Created int
	Loops   int
	OK      bool
	Reason  string
}

// Todo runs the producer loop once: it stacks (or reuses) the bookkeeping
// task, repeatedly assigns itself the next available instance of it, asks
// todoFn what downstream work exists, stacks one "do" task per item, and
// marks the bookkeeping task successful - draining assignOne until the
// broker reports nothing left.
func (h *Harness) Todo(ctx context.Context) (*TodoResult, error) {
	if _, err := h.broker.Action(ctx, h.todoTask, h.todoTask, task.ActionStack, map[string]interface{}{}); err != nil {
		return nil, err
	}

	result := &TodoResult{OK: true}
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		assigned, ok, err := h.broker.AssignOne(ctx, h.todoTask)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		data := assigned.Data
		if data == nil {
			data = map[string]interface{}{}
		}

		items, err := h.todoFn(ctx, data)
		if err != nil {
			h.log.WithError(err).WithField("task", h.todoTask).Warn("worker: todo callback failed")
			if _, ferr := h.broker.Action(ctx, h.todoTask, h.todoTask, task.ActionError, lastError(err)); ferr != nil {
				return nil, ferr
			}
			result.OK = false
			result.Reason = err.Error()
			return result, nil
		}

		for _, item := range items {
			if _, err := h.broker.Action(ctx, h.doTask, item.Key, task.ActionStack, item.Data); err != nil {
				return nil, err
			}
			result.Created++
		}

		if _, err := h.broker.Action(ctx, h.todoTask, h.todoTask, task.ActionSuccess, data); err != nil {
			return nil, err
		}
		result.Loops++
	}
	return result, nil
}

// DoResult summarizes one Do pass.
type DoResult struct {
	Key string
	Ran bool
	OK  bool
}

// Do assigns itself the next available "do" task, if any, runs doFn against
// it, and reports success or failure back to the broker.
func (h *Harness) Do(ctx context.Context) (*DoResult, error) {
	assigned, ok, err := h.broker.AssignOne(ctx, h.doTask)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &DoResult{Ran: false}, nil
	}

	out, err := h.doFn(ctx, assigned.Key, assigned.Data)
	if err != nil {
		h.log.WithError(err).WithField("key", assigned.Key).Warn("worker: do callback failed")
		if _, ferr := h.broker.Action(ctx, h.doTask, assigned.Key, task.ActionError, lastError(err)); ferr != nil {
			return nil, ferr
		}
		return &DoResult{Key: assigned.Key, Ran: true, OK: false}, nil
	}

	if _, err := h.broker.Action(ctx, h.doTask, assigned.Key, task.ActionSuccess, out); err != nil {
		return nil, err
	}
	return &DoResult{Key: assigned.Key, Ran: true, OK: true}, nil
}

// RunLoop calls step repeatedly until ctx is canceled, sleeping via
// idleDelay between calls that found nothing to do - the steady-state
// shape of both the todo and do processes.
func (h *Harness) RunLoop(ctx context.Context, step func(context.Context) (bool, error), idleDelay func()) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		didWork, err := step(ctx)
		if err != nil {
			h.log.WithError(err).Warn("worker: loop step failed")
		}
		if !didWork {
			idleDelay()
		}
	}
}
