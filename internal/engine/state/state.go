// Package state provides the message lifecycle status shared by the bridge,
// the storage backends and the API. A status is kept per message identifier on
// the destination chain.
package state

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status represents the lifecycle status of a message on its destination chain.
type Status int32

const (
	// StatusNew is the implicit default: no Process attempt has committed.
	StatusNew Status = iota

	// StatusRetriable means dispatch was attempted and failed; Retry may run.
	StatusRetriable

	// StatusDone means dispatch succeeded. Terminal.
	StatusDone

	// StatusFailed means dispatch was abandoned. Terminal; unlocks Recall on the
	// source chain.
	StatusFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusRetriable:
		return "RETRIABLE"
	case StatusDone:
		return "DONE"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("STATUS(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a string to Status. Matching is case-insensitive.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NEW", "":
		return StatusNew, nil
	case "RETRIABLE", "RETRYABLE":
		return StatusRetriable, nil
	case "DONE":
		return StatusDone, nil
	case "FAILED":
		return StatusFailed, nil
	default:
		return StatusNew, fmt.Errorf("unknown message status %q", s)
	}
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	return s >= StatusNew && s <= StatusFailed
}

// IsTerminal returns true for DONE and FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanRetry returns true if Retry may run from this status.
func (s Status) CanRetry() bool {
	return s == StatusRetriable
}

// ValidTransitions defines allowed status transitions. RETRIABLE -> RETRIABLE is
// a failed non-final retry, or a repeated Process on a retriable message.
var ValidTransitions = map[Status][]Status{
	StatusNew:       {StatusRetriable, StatusDone},
	StatusRetriable: {StatusRetriable, StatusDone, StatusFailed},
	StatusDone:      {},
	StatusFailed:    {},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to Status) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError represents an invalid status transition.
type TransitionError struct {
	From Status
	To   Status
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to Status) TransitionError {
	return TransitionError{From: from, To: to}
}

// Transition validates from -> to and returns a TransitionError when it is not allowed.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return NewTransitionError(from, to)
	}
	return nil
}
