package domain

import "time"

// SessionState is the lifecycle state of a door session. Transitions are
// monotonic; ended and failed are terminal.
type SessionState string

const (
	StateRequested SessionState = "requested"
	StateStarting  SessionState = "starting"
	StateRunning   SessionState = "running"
	StateEnded     SessionState = "ended"
	StateFailed    SessionState = "failed"
)

// Terminal reports whether no further transition may leave the state.
func (s SessionState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// CanTransition reports whether moving from s to next respects the session
// state machine: requested -> starting -> running -> ended, with failed
// reachable from starting and running, and terminal states final.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case StateRequested:
		return next == StateStarting || next == StateFailed
	case StateStarting:
		return next == StateRunning || next == StateFailed || next == StateEnded
	case StateRunning:
		return next == StateEnded || next == StateFailed
	default:
		return false
	}
}

// DoorSession is the unit of execution: one user playing one door. Created by
// the session manager when a start request is authorized and mutated only by
// the manager; the row is retained after the state reaches a terminal value.
type DoorSession struct {
	ID        string
	DoorID    string
	UserID    string
	UserName  string
	UserLevel int
	Node      int

	State SessionState

	StartedAt    time.Time
	EndedAt      time.Time
	LastActivity time.Time

	PID      int
	ExitCode int

	DropFilePath string
	ConfigPath   string
	WorkDir      string

	FailReason string
}

// TimeLeft reports the whole minutes remaining before the door's per-session
// time limit expires, measured from the session start. Doors without a limit
// report the fallback.
func (s DoorSession) TimeLeft(d Door, now time.Time, fallback int) int {
	if d.TimeLimit <= 0 {
		return fallback
	}
	left := time.Duration(d.TimeLimit)*time.Minute - now.Sub(s.StartedAt)
	if left < 0 {
		return 0
	}
	return int(left / time.Minute)
}
