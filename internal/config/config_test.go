package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfabric.dev/internal/task"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	v := viper.New()
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "todo", cfg.Tasks.Todo)
	assert.Equal(t, "do", cfg.Tasks.Do)
	assert.Equal(t, task.DefaultTransitions(), cfg.Transitions())
	assert.Equal(t, task.DefaultValidStatuses(), cfg.ValidStatuses())
}

func TestLoad_OverridesFromMap(t *testing.T) {
	v := viper.New()
	v.Set("server.port", "9090")
	v.Set("actions.stack.none", "todo")
	v.Set("statuses", []string{"none", "todo"})

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)

	transitions := cfg.Transitions()
	to, ok := transitions[task.ActionStack][task.StatusNone]
	require.True(t, ok)
	assert.Equal(t, task.StatusTodo, to)

	valid := cfg.ValidStatuses()
	assert.True(t, valid[task.StatusNone])
	assert.False(t, valid[task.StatusDoing])
}
