// Package worker implements the harness that repeatedly scans for new work
// (the "todo" producer loop) and repeatedly performs assigned work (the
// "do" consumer loop), talking to the broker exclusively through a
// compiled client.Table of named service endpoints.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"taskfabric.dev/internal/client"
	"taskfabric.dev/internal/task"
)

// BrokerClient is the worker harness's typed view of the broker's "tasks"
// service: Action and AssignOne, compiled from the services.tasks.* config
// table.
type BrokerClient struct {
	table *client.Table
}

// NewBrokerClient wraps a compiled client.Table for broker calls.
func NewBrokerClient(table *client.Table) *BrokerClient {
	return &BrokerClient{table: table}
}

type actionResponse struct {
	Changed bool       `json:"changed"`
	Before  *task.Task `json:"before"`
	After   *task.Task `json:"after"`
}

// Action calls services.tasks.action, substituting task/key/action into the
// endpoint's URL template, and returns the resulting "after" document.
func (b *BrokerClient) Action(ctx context.Context, taskName, key string, action task.Action, data map[string]interface{}) (*task.Task, error) {
	ep, err := b.table.Endpoint("tasks", "action")
	if err != nil {
		return nil, err
	}
	resp, err := ep.Call(ctx, map[string]string{"task": taskName, "key": key, "action": string(action)}, data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker: action %s/%s/%s returned status %d", taskName, key, action, resp.StatusCode)
	}
	var out actionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("worker: decode action response: %w", err)
	}
	return out.After, nil
}

// AssignOne calls services.tasks.assignOne. ok is false when the broker
// reports no available task (HTTP 204).
func (b *BrokerClient) AssignOne(ctx context.Context, taskName string) (t *task.Task, ok bool, err error) {
	ep, err := b.table.Endpoint("tasks", "assignOne")
	if err != nil {
		return nil, false, err
	}
	resp, err := ep.Call(ctx, map[string]string{"task": taskName}, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("worker: assignOne %s returned status %d", taskName, resp.StatusCode)
	}
	var picked task.Task
	if err := json.NewDecoder(resp.Body).Decode(&picked); err != nil {
		return nil, false, fmt.Errorf("worker: decode assignOne response: %w", err)
	}
	return &picked, true, nil
}
