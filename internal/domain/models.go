// Package domain defines the core data types shared across the doorhost
// session manager, registry store, and FOSSIL bridge layers.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// Drop file kinds select the hand-off file format a door expects.
const (
	DropFileDoorSys = "doorsys" // DOOR.SYS, 52-line GAP format
	DropFileDorinfo = "dorinfo" // DORINFO1.DEF, 13-line RBBS format
)

// Parity values for the virtual serial line.
const (
	ParityNone  = "none"
	ParityEven  = "even"
	ParityOdd   = "odd"
	ParityMark  = "mark"
	ParitySpace = "space"
)

// Door is the static definition of a hosted door program. Doors are created
// and edited by administrative tooling; the session manager treats them as
// read-only.
type Door struct {
	ID           string
	Name         string
	Category     string
	Executable   string
	ArgsTemplate string
	WorkingDir   string

	DropFileKind string

	RequiresEmulator bool
	RequiresFossil   bool

	ComPort  int
	BaudRate int
	DataBits int
	StopBits int
	Parity   string

	Active            bool
	SchedulingEnabled bool
	ScheduleStart     string // "HH:MM", inclusive
	ScheduleEnd       string // "HH:MM", exclusive; may wrap past midnight

	MinimumLevel int
	MaximumLevel int
	DailyLimit   int // sessions per user per day, 0 = unlimited
	TimeLimit    int // minutes per session, 0 = unlimited

	MultiNode bool
	MaxNodes  int

	CreatedAt time.Time
}

// Capacity reports how many concurrent sessions the door admits. Doors
// without multi-node support always admit exactly one.
func (d Door) Capacity() int {
	if !d.MultiNode {
		return 1
	}
	if d.MaxNodes < 1 {
		return 1
	}
	return d.MaxNodes
}

// ScheduleOpen reports whether the door's schedule window admits a session
// starting at t. Doors with scheduling disabled are always open. A window
// whose end precedes its start wraps past midnight (e.g. 22:00-06:00).
func (d Door) ScheduleOpen(t time.Time) bool {
	if !d.SchedulingEnabled {
		return true
	}
	start, okStart := parseClock(d.ScheduleStart)
	end, okEnd := parseClock(d.ScheduleEnd)
	if !okStart || !okEnd || start == end {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, false
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}

// Permission actions and subject kinds for explicit door grants.
const (
	PermissionAllow = "allow"
	PermissionDeny  = "deny"

	SubjectUser  = "user"
	SubjectGroup = "group"
)

// Permission results reported by the registry's effective-permission query.
const (
	EffectiveAllow = "allow"
	EffectiveDeny  = "deny"
	EffectiveUnset = "unset"
)

// DoorPermission is an explicit allow or deny grant scoped to a user or
// group, optionally expiring. A non-expired deny always wins over any allow
// grant or level-based eligibility.
type DoorPermission struct {
	ID          string
	DoorID      string
	SubjectKind string
	Subject     string
	Action      string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// Expired reports whether the grant has lapsed at time t. Grants without an
// expiry never lapse.
func (p DoorPermission) Expired(t time.Time) bool {
	return p.ExpiresAt != nil && !t.Before(*p.ExpiresAt)
}

// Log levels for door event records.
const (
	LogDebug = "debug"
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// DoorLog is an append-only event record scoped to a door and optionally to
// one of its sessions.
type DoorLog struct {
	ID        int64
	DoorID    string
	SessionID string
	Level     string
	Message   string
	Detail    string
	CreatedAt time.Time
}

// DoorStatistics aggregates play history per (door, user). Updated as a
// single read-modify-write transaction at session end.
type DoorStatistics struct {
	DoorID        string
	UserID        string
	TotalSessions int
	TotalSeconds  int64
	LastPlayed    time.Time
	HighScore     int64
}
