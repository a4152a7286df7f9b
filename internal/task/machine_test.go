package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineApply_StackFromNone(t *testing.T) {
	m := NewMachine(nil, nil)
	before := New("do", "k1")

	after, err := m.Apply(before, ActionStack, map[string]interface{}{"day": "2016-05-01"}, nil, 100)
	require.NoError(t, err)

	assert.Equal(t, StatusTodo, after.Status)
	assert.Equal(t, "2016-05-01", after.Data["day"])
	require.NotNil(t, after.StatusSince)
	assert.Equal(t, int64(100), *after.StatusSince)
	assert.Equal(t, int64(100), after.LDT)
	assert.Equal(t, 0, after.Try)
}

func TestMachineApply_SameStatusKeepsStatusSince(t *testing.T) {
	m := NewMachine(nil, nil)
	since := int64(50)
	before := New("do", "k1")
	before.Status = StatusTodo
	before.StatusSince = &since

	after, err := m.Apply(before, ActionStack, nil, nil, 200)
	require.NoError(t, err)

	assert.Equal(t, StatusTodo, after.Status)
	require.NotNil(t, after.StatusSince)
	assert.Equal(t, since, *after.StatusSince)
	assert.Equal(t, int64(200), after.LDT, "LDT refreshes even when status is unchanged")
}

func TestMachineApply_ErrorIncrementsTry(t *testing.T) {
	m := NewMachine(nil, nil)
	before := New("do", "k1")
	before.Status = StatusDoing
	before.Try = 2

	after, err := m.Apply(before, ActionError, nil, nil, 300)
	require.NoError(t, err)

	assert.Equal(t, StatusFail, after.Status)
	assert.Equal(t, 3, after.Try)
}

func TestMachineApply_UnknownAction(t *testing.T) {
	m := NewMachine(nil, nil)
	before := New("do", "k1")

	_, err := m.Apply(before, Action("bogus"), nil, nil, 0)
	require.Error(t, err)
	var unknown *ErrUnknownAction
	assert.ErrorAs(t, err, &unknown)
}

func TestMachineApply_IllegalTransition(t *testing.T) {
	m := NewMachine(nil, nil)
	before := New("do", "k1")
	before.Status = StatusDone

	_, err := m.Apply(before, ActionAssign, nil, nil, 0)
	require.Error(t, err)
	var illegal *ErrIllegalTransition
	assert.ErrorAs(t, err, &illegal)
}

func TestMachineApply_PriorityOverride(t *testing.T) {
	m := NewMachine(nil, nil)
	before := New("do", "k1")
	before.Priority = 1
	p := 9

	after, err := m.Apply(before, ActionStack, nil, &p, 10)
	require.NoError(t, err)
	assert.Equal(t, 9, after.Priority)
}

func TestMachineForce_ValidatesStatus(t *testing.T) {
	m := NewMachine(nil, nil)
	before := New("do", "k1")

	_, err := m.Force(before, Status("bogus"), nil, nil, 0)
	assert.Error(t, err)
	var unknown *ErrUnknownStatus
	assert.ErrorAs(t, err, &unknown)

	after, err := m.Force(before, StatusDoing, nil, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusDoing, after.Status)
}

func TestMachineApply_StackFromDoingGoesToToredoNotTodo(t *testing.T) {
	m := NewMachine(nil, nil)
	before := New("do", "k1")
	before.Status = StatusDoing

	after, err := m.Apply(before, ActionStack, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusToredo, after.Status, "re-stacking a task being worked must not hand it back to the todo pool a second worker's assignOne cursor can pick up")
}

func TestMachineApply_StackFromToredoStaysToredo(t *testing.T) {
	m := NewMachine(nil, nil)
	before := New("do", "k1")
	before.Status = StatusToredo

	after, err := m.Apply(before, ActionStack, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusToredo, after.Status)
}

func TestMachineApply_AssignFromToredo(t *testing.T) {
	m := NewMachine(nil, nil)
	before := New("do", "k1")
	before.Status = StatusToredo

	after, err := m.Apply(before, ActionAssign, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusDoing, after.Status)
}

func TestMergeData_RightBiased(t *testing.T) {
	base := map[string]interface{}{"a": 1, "b": 2}
	patch := map[string]interface{}{"b": 3, "c": 4}

	out := MergeData(base, patch)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 3, "c": 4}, out)
}

func TestTaskEqual_IgnoresFence(t *testing.T) {
	a := New("do", "k1")
	b := a.Clone()
	b.Fence = "2-abc"

	assert.True(t, a.Equal(b))
}
