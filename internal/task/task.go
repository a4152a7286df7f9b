// Package task models the status document that a task queue entry is built
// from, and the pure transition functions that move it from one status to
// the next. Nothing in this package talks to a store: it only describes the
// shape of a task and the rules for changing it.
package task

import "fmt"

// Status is one of the six states a task can occupy.
type Status string

const (
	StatusNone   Status = "none"
	StatusTodo   Status = "todo"
	StatusDoing  Status = "doing"
	StatusDone   Status = "done"
	StatusToredo Status = "toredo"
	StatusFail   Status = "fail"
)

// Action is a verb applied to a task to move it between statuses.
type Action string

const (
	ActionStack   Action = "stack"
	ActionAssign  Action = "assign"
	ActionSuccess Action = "success"
	ActionError   Action = "error"
	ActionDelete  Action = "delete"
)

// Task is a single document in the task queue. ID is task+"/"+key and is the
// document's natural key in the store; Fence is the store's opaque
// compare-and-set token (the CouchDB revision, when store.CouchDBStore is in
// use).
type Task struct {
	ID          string                 `json:"_id"`
	Fence       string                 `json:"_rev,omitempty"`
	TaskName    string                 `json:"task"`
	Key         string                 `json:"key"`
	Status      Status                 `json:"status"`
	Data        map[string]interface{} `json:"data"`
	StatusSince *int64                 `json:"statusSince"`
	Try         int                    `json:"try"`
	Priority    int                    `json:"priority"`

	// LDT is the last-document-touch timestamp (UnixNano, UTC), refreshed on
	// every accepted write regardless of whether Status itself changed. It is
	// the secondary sort key assignOne uses after priority, and exists
	// specifically because StatusSince does not change on a same-status
	// write and so cannot serve as a reliable tiebreaker.
	LDT int64 `json:"ldt"`
}

// ID builds the composite document id from a task name and key.
func ID(taskName, key string) string {
	return taskName + "/" + key
}

// New returns the virtual "before" document for a task/key pair that has no
// document in the store yet: status none, empty data, try 0, priority 0.
func New(taskName, key string) *Task {
	return &Task{
		ID:       ID(taskName, key),
		TaskName: taskName,
		Key:      key,
		Status:   StatusNone,
		Data:     map[string]interface{}{},
		Try:      0,
		Priority: 0,
	}
}

// Clone returns a deep-enough copy of t suitable for building an "after"
// document from a "before" one without aliasing its Data map.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Data = make(map[string]interface{}, len(t.Data))
	for k, v := range t.Data {
		cp.Data[k] = v
	}
	return &cp
}

// Equal reports whether two tasks are identical in every field that the
// broker considers part of the document. It ignores Fence, which always
// changes on a write, and LDT, which Apply and Force refresh on every call;
// comparing either would make every transition "changed".
func (t *Task) Equal(o *Task) bool {
	if t.Status != o.Status || t.Try != o.Try || t.Priority != o.Priority {
		return false
	}
	if (t.StatusSince == nil) != (o.StatusSince == nil) {
		return false
	}
	if t.StatusSince != nil && *t.StatusSince != *o.StatusSince {
		return false
	}
	if len(t.Data) != len(o.Data) {
		return false
	}
	for k, v := range t.Data {
		ov, ok := o.Data[k]
		if !ok || fmt.Sprintf("%v", v) != fmt.Sprintf("%v", ov) {
			return false
		}
	}
	return true
}

// MergeData returns the shallow, right-biased merge of base with patch: keys
// in patch override keys in base, and keys present only in base survive.
func MergeData(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
