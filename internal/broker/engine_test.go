package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfabric.dev/internal/store"
	"taskfabric.dev/internal/task"
)

func testClock() func() int64 {
	var n int64
	return func() int64 {
		return atomic.AddInt64(&n, 1)
	}
}

func newTestEngine() *Engine {
	log := logrus.New()
	log.SetOutput(discardWriter{})
	return NewEngine(store.NewMemoryStore(), nil, nil, log, WithClock(testClock()))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestAction_StackCreatesTask(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	res, err := e.Action(ctx, "do", "k1", task.ActionStack, map[string]interface{}{"day": "2016-05-01"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, task.StatusNone, res.Before.Status)
	assert.Equal(t, task.StatusTodo, res.After.Status)
	assert.Equal(t, "2016-05-01", res.After.Data["day"])
}

func TestAction_NoOpWhenNothingChanges(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Action(ctx, "do", "k1", task.ActionStack, nil, nil)
	require.NoError(t, err)

	res, err := e.Action(ctx, "do", "k1", task.ActionStack, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestAction_IllegalTransitionErrors(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Action(ctx, "do", "k1", task.ActionSuccess, nil, nil)
	require.Error(t, err)
	var illegal *task.ErrIllegalTransition
	assert.ErrorAs(t, err, &illegal)
}

func TestAction_DeleteRemovesDocument(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Action(ctx, "do", "k1", task.ActionStack, nil, nil)
	require.NoError(t, err)

	res, err := e.Action(ctx, "do", "k1", task.ActionDelete, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, task.StatusNone, res.After.Status)

	_, err = e.GetByKey(ctx, "do", "k1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestForce_BypassesTable(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	res, err := e.Force(ctx, "do", "k1", task.StatusFail, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, task.StatusFail, res.After.Status)
}

func TestForce_RejectsUnknownStatus(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Force(ctx, "do", "k1", task.Status("bogus"), nil, nil)
	assert.Error(t, err)
}

func TestAssignOne_PicksHighestPriorityThenOldest(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	p5 := 5
	_, err := e.Action(ctx, "do", "low", task.ActionStack, nil, nil)
	require.NoError(t, err)
	_, err = e.Action(ctx, "do", "high1", task.ActionStack, nil, &p5)
	require.NoError(t, err)
	_, err = e.Action(ctx, "do", "high2", task.ActionStack, nil, &p5)
	require.NoError(t, err)

	picked, err := e.AssignOne(ctx, "do")
	require.NoError(t, err)
	assert.Equal(t, "high1", picked.Key, "among equal priority, the oldest ldt should win")
	assert.Equal(t, task.StatusDoing, picked.Status)
}

func TestAction_StackWhileDoingMovesToToredoNotTodo(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Action(ctx, "do", "k1", task.ActionStack, nil, nil)
	require.NoError(t, err)
	_, err = e.AssignOne(ctx, "do")
	require.NoError(t, err)

	res, err := e.Action(ctx, "do", "k1", task.ActionStack, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, task.StatusToredo, res.After.Status)

	_, err = e.AssignOne(ctx, "do")
	assert.ErrorIs(t, err, ErrNoTaskToAssign, "a task still doing must not be handed to a second worker")
}

func TestAssignOne_NoneAvailable(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.AssignOne(ctx, "do")
	assert.ErrorIs(t, err, ErrNoTaskToAssign)
}

func TestAssignOne_ConcurrentCallersNeverDoubleAssign(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := e.Action(ctx, "do", string(rune('a'+i)), task.ActionStack, nil, nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	var duplicates int32

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			picked, err := e.AssignOne(ctx, "do")
			if err != nil {
				return
			}
			mu.Lock()
			if seen[picked.Key] {
				atomic.AddInt32(&duplicates, 1)
			}
			seen[picked.Key] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), duplicates)
	assert.Len(t, seen, 10)
}

func TestGetByStatus_GroupsByRequestedStatuses(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Action(ctx, "do", "k1", task.ActionStack, nil, nil)
	require.NoError(t, err)
	_, err = e.Force(ctx, "do", "k2", task.StatusDoing, nil, nil)
	require.NoError(t, err)

	out, err := e.GetByStatus(ctx, "do", []task.Status{task.StatusTodo, task.StatusDoing})
	require.NoError(t, err)
	assert.Len(t, out[task.StatusTodo], 1)
	assert.Len(t, out[task.StatusDoing], 1)
}
