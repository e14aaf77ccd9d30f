package recorder

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the recorder's session state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, st := range []State{StateIdle, StateRecording, StateFinalizing} {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown recorder state %q", name)
}

// StatusKind names a lifecycle event.
type StatusKind string

const (
	StatusStarting  StatusKind = "starting"
	StatusProgress  StatusKind = "progress"
	StatusCompleted StatusKind = "completed"
	StatusFailed    StatusKind = "failed"
	StatusCancelled StatusKind = "cancelled"
)

// Status is one lifecycle event. Each session emits Starting once, Progress
// at a fixed cadence, and exactly one of Completed, Failed or Cancelled.
type Status struct {
	Kind StatusKind
	// Elapsed is set on Progress.
	Elapsed time.Duration
	// Path is set on Completed.
	Path string
	// Err is set on Failed.
	Err error
}

// Terminal reports whether s ends a session.
func (s Status) Terminal() bool {
	switch s.Kind {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Seconds is the whole seconds of a Progress event.
func (s Status) Seconds() int {
	return int(s.Elapsed / time.Second)
}

func (s Status) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind    StatusKind `json:"kind"`
		Elapsed *float64   `json:"elapsed_seconds,omitempty"`
		Path    string     `json:"path,omitempty"`
		Error   string     `json:"error,omitempty"`
	}{Kind: s.Kind, Path: s.Path}
	if s.Kind == StatusProgress {
		secs := s.Elapsed.Seconds()
		out.Elapsed = &secs
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}
