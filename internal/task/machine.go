package task

import "fmt"

// ErrUnknownAction is returned when an action is not present in the
// configured transition table at all.
type ErrUnknownAction struct {
	Action Action
}

func (e *ErrUnknownAction) Error() string {
	return fmt.Sprintf("action %q not understood", e.Action)
}

// ErrIllegalTransition is returned when an action is known but has no
// transition defined for the task's current status.
type ErrIllegalTransition struct {
	Action Action
	From   Status
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("action %q cannot be performed on status %q", e.Action, e.From)
}

// ErrUnknownStatus is returned by Force when the requested status is not in
// the configured valid-status set.
type ErrUnknownStatus struct {
	Status Status
}

func (e *ErrUnknownStatus) Error() string {
	return fmt.Sprintf("status %q not understood", e.Status)
}

// Transitions is the action/fromStatus -> toStatus table, config-driven in
// production (see internal/config) and defaulted here to the table a fresh
// install should use.
type Transitions map[Action]map[Status]Status

// DefaultTransitions is the table this system ships with when no override is
// present in configuration.
func DefaultTransitions() Transitions {
	return Transitions{
		ActionStack: {
			StatusNone:   StatusTodo,
			StatusTodo:   StatusTodo,
			StatusDoing:  StatusToredo,
			StatusDone:   StatusTodo,
			StatusToredo: StatusToredo,
			StatusFail:   StatusTodo,
		},
		ActionAssign: {
			StatusTodo:   StatusDoing,
			StatusToredo: StatusDoing,
		},
		ActionSuccess: {
			StatusDoing: StatusDone,
		},
		ActionError: {
			StatusDoing: StatusFail,
		},
		ActionDelete: {
			StatusNone:   StatusNone,
			StatusTodo:   StatusNone,
			StatusDoing:  StatusNone,
			StatusDone:   StatusNone,
			StatusToredo: StatusNone,
			StatusFail:   StatusNone,
		},
	}
}

// ValidStatuses is the set Force is allowed to target, kept independent of
// actions["delete"]'s key set: a forced status has nothing to do with what
// "delete" can transition out of, so it gets its own set.
type ValidStatuses map[Status]bool

// DefaultValidStatuses is the six statuses described in the data model.
func DefaultValidStatuses() ValidStatuses {
	return ValidStatuses{
		StatusNone:   true,
		StatusTodo:   true,
		StatusDoing:  true,
		StatusDone:   true,
		StatusToredo: true,
		StatusFail:   true,
	}
}

// Machine applies actions and forced statuses to tasks according to a
// transition table. It holds no state of its own beyond the table and set
// injected at construction, so it is safe for concurrent use.
type Machine struct {
	transitions   Transitions
	validStatuses ValidStatuses
}

// NewMachine builds a Machine from a transition table and valid-status set.
// A nil table or set falls back to the defaults.
func NewMachine(transitions Transitions, validStatuses ValidStatuses) *Machine {
	if transitions == nil {
		transitions = DefaultTransitions()
	}
	if validStatuses == nil {
		validStatuses = DefaultValidStatuses()
	}
	return &Machine{transitions: transitions, validStatuses: validStatuses}
}

// Next returns the status that action would move from to, or an
// error if the action is unknown or not legal from that status.
func (m *Machine) Next(action Action, from Status) (Status, error) {
	table, ok := m.transitions[action]
	if !ok {
		return "", &ErrUnknownAction{Action: action}
	}
	to, ok := table[from]
	if !ok {
		return "", &ErrIllegalTransition{Action: action, From: from}
	}
	return to, nil
}

// KnownActions lists the actions the configured table understands. The
// order of the returned slice is not defined.
func (m *Machine) KnownActions() []Action {
	actions := make([]Action, 0, len(m.transitions))
	for a := range m.transitions {
		actions = append(actions, a)
	}
	return actions
}

// ValidStatus reports whether status is a legal target for Force.
func (m *Machine) ValidStatus(s Status) bool {
	return m.validStatuses[s]
}

// KnownStatuses lists the statuses Force may target.
func (m *Machine) KnownStatuses() []Status {
	statuses := make([]Status, 0, len(m.validStatuses))
	for s := range m.validStatuses {
		statuses = append(statuses, s)
	}
	return statuses
}

// Apply computes the "after" document that results from performing action on
// before, using nowNano as the clock reading for StatusSince/LDT refreshes
// and data as the caller-supplied patch to merge over before's data.
// priority, when non-nil, overrides before's priority.
//
// statusSince only moves when the status itself changes, try increments
// only on the "error" action, data merges right-biased, and LDT always
// refreshes.
func (m *Machine) Apply(before *Task, action Action, data map[string]interface{}, priority *int, nowNano int64) (*Task, error) {
	to, err := m.Next(action, before.Status)
	if err != nil {
		return nil, err
	}

	after := before.Clone()
	after.Status = to
	after.Data = MergeData(before.Data, data)
	after.LDT = nowNano

	if to == before.Status {
		after.StatusSince = before.StatusSince
	} else {
		since := nowNano
		after.StatusSince = &since
	}

	if action == ActionError {
		after.Try = before.Try + 1
	}

	if priority != nil {
		after.Priority = *priority
	}

	return after, nil
}

// Force computes the "after" document that results from setting before's
// status directly to status, bypassing the transition table. try is left
// untouched, matching Apply's non-error-action behavior; StatusSince and LDT
// follow the same refresh rules as Apply.
func (m *Machine) Force(before *Task, status Status, data map[string]interface{}, priority *int, nowNano int64) (*Task, error) {
	if !m.ValidStatus(status) {
		return nil, &ErrUnknownStatus{Status: status}
	}

	after := before.Clone()
	after.Status = status
	after.Data = MergeData(before.Data, data)
	after.LDT = nowNano

	if status == before.Status {
		after.StatusSince = before.StatusSince
	} else {
		since := nowNano
		after.StatusSince = &since
	}

	if priority != nil {
		after.Priority = *priority
	}

	return after, nil
}
