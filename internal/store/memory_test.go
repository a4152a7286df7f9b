package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfabric.dev/internal/task"
)

func TestMemoryStore_InsertThenConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tk := task.New("do", "k1")

	fence, err := s.InsertIfAbsent(ctx, tk)
	require.NoError(t, err)
	assert.NotEmpty(t, fence)

	_, err = s.InsertIfAbsent(ctx, tk)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStore_ReplaceIfMatch_StaleFenceRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tk := task.New("do", "k1")
	fence, _ := s.InsertIfAbsent(ctx, tk)

	tk.Status = task.StatusTodo
	_, err := s.ReplaceIfMatch(ctx, tk, "stale-fence")
	assert.ErrorIs(t, err, ErrConflict)

	newFence, err := s.ReplaceIfMatch(ctx, tk, fence)
	require.NoError(t, err)
	assert.NotEqual(t, fence, newFence)

	got, err := s.FindOne(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusTodo, got.Status)
}

func TestMemoryStore_DeleteIfMatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tk := task.New("do", "k1")
	fence, _ := s.InsertIfAbsent(ctx, tk)

	err := s.DeleteIfMatch(ctx, tk.ID, "wrong")
	assert.ErrorIs(t, err, ErrConflict)

	err = s.DeleteIfMatch(ctx, tk.ID, fence)
	require.NoError(t, err)

	_, err = s.FindOne(ctx, tk.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_FindMany_SortsByPriorityThenLDT(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	low := task.New("do", "low")
	low.Status = task.StatusTodo
	low.Priority = 1
	low.LDT = 100
	s.InsertIfAbsent(ctx, low)

	high := task.New("do", "high")
	high.Status = task.StatusTodo
	high.Priority = 5
	high.LDT = 200
	s.InsertIfAbsent(ctx, high)

	older := task.New("do", "older")
	older.Status = task.StatusTodo
	older.Priority = 5
	older.LDT = 50
	s.InsertIfAbsent(ctx, older)

	results, err := s.FindMany(ctx, Query{
		Status:   task.StatusTodo,
		TaskName: "do",
		Sort: []SortKey{
			{Field: "priority", Descending: true},
			{Field: "ldt", Descending: false},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "older", results[0].Key)
	assert.Equal(t, "high", results[1].Key)
	assert.Equal(t, "low", results[2].Key)
}
