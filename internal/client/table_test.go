package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_SubstitutesPlaceholders(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	table := Compile(map[string]map[string]map[string]string{
		"tasks": {
			"action": {"PUT": srv.URL + "/tasks/{task}/{key}/{action}"},
		},
	}, 0)

	ep, err := table.Endpoint("tasks", "action")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, ep.Method)

	resp, err := ep.Call(context.Background(), map[string]string{
		"task": "do", "key": "k1", "action": "stack",
	}, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "/tasks/do/k1/stack", gotPath)
}

func TestTable_UnknownEndpoint(t *testing.T) {
	table := Compile(nil, 0)
	_, err := table.Endpoint("tasks", "action")
	assert.Error(t, err)
}
