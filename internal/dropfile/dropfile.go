// Package dropfile renders the legacy hand-off files (DOOR.SYS,
// DORINFO1.DEF) that describe the user and session to a door program at
// launch. Field order in both formats is a compatibility contract and must
// not change.
package dropfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
)

// File names are fixed by decades of door programs hard-coding them.
const (
	doorSysName = "DOOR.SYS"
	dorinfoName = "DORINFO1.DEF"
)

// UserSnapshot is the caller-supplied view of the connected user. The core
// has no authentication layer of its own; whoever starts the session
// provides these fields.
type UserSnapshot struct {
	ID       string
	Handle   string
	RealName string
	Location string
	Level    int
}

// HandoffFile describes a generated drop file.
type HandoffFile struct {
	Path string
	Kind string
}

// Generator renders drop files for door sessions. BBSName and SysopName fill
// the board-identity fields both formats carry.
type Generator struct {
	BBSName   string
	SysopName string
}

// doorSysLines is the 52-line GAP DOOR.SYS layout. Lines that modern doors
// ignore are still emitted with benign defaults; removing or reordering any
// of them breaks doors that index fields by line number.
var doorSysLines = []string{
	"COM{COM_PORT}:",
	"{BAUD_RATE}",
	"8",
	"{NODE_NUMBER}",
	"{BAUD_RATE}",
	"Y",
	"Y",
	"Y",
	"Y",
	"{REAL_NAME}",
	"{LOCATION}",
	"555 555-5555",
	"555 555-5555",
	"PASSWORD",
	"{SECURITY_LEVEL}",
	"{TOTAL_CALLS}",
	"{CALL_DATE}",
	"{SECONDS_LEFT}",
	"{TIME_LEFT}",
	"GR",
	"24",
	"N",
	"1",
	"1",
	"01/01/99",
	"1",
	"Z",
	"0",
	"0",
	"0",
	"999999",
	"01/01/80",
	"C:\\BBS",
	"C:\\BBS\\GEN",
	"{SYSOP_NAME}",
	"{USER_HANDLE}",
	"00:00",
	"Y",
	"N",
	"Y",
	"14",
	"0",
	"{CALL_DATE}",
	"{CALL_TIME}",
	"{CALL_TIME}",
	"99",
	"0",
	"0",
	"0",
	"None",
	"0",
	"0",
}

// dorinfoLines is the 13-line RBBS DORINFO1.DEF layout.
var dorinfoLines = []string{
	"{BBS_NAME}",
	"{SYSOP_FIRST}",
	"{SYSOP_LAST}",
	"COM{COM_PORT}",
	"{BAUD_RATE} BAUD,N,8,1",
	"0",
	"{USER_FIRST}",
	"{USER_LAST}",
	"{LOCATION}",
	"1",
	"{SECURITY_LEVEL}",
	"{TIME_LEFT}",
	"-1",
}

// Generate renders the drop file selected by door.DropFileKind into dir.
// timeLeft is the whole minutes the session may still run. Any template
// variable that cannot be resolved fails generation; a malformed hand-off
// file causes silent door misbehavior rather than a visible crash, so
// nothing is ever blanked.
func (g Generator) Generate(door domain.Door, user UserSnapshot, sess domain.DoorSession, timeLeft int, dir string, now time.Time) (HandoffFile, error) {
	vars := g.Vars(door, user, sess, timeLeft, now)

	var layout []string
	var name string
	switch door.DropFileKind {
	case domain.DropFileDoorSys:
		layout, name = doorSysLines, doorSysName
	case domain.DropFileDorinfo:
		layout, name = dorinfoLines, dorinfoName
	default:
		return HandoffFile{}, fmt.Errorf("%w: unknown drop file kind %q", domain.ErrDropFileInvalid, door.DropFileKind)
	}

	var b strings.Builder
	for i, line := range layout {
		expanded, err := Expand(line, vars)
		if err != nil {
			return HandoffFile{}, fmt.Errorf("%w: line %d: %v", domain.ErrDropFileInvalid, i+1, err)
		}
		b.WriteString(expanded)
		b.WriteString("\r\n")
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return HandoffFile{}, err
	}
	if !Validate(path, door.DropFileKind) {
		_ = os.Remove(path)
		return HandoffFile{}, fmt.Errorf("%w: generated file failed validation", domain.ErrDropFileInvalid)
	}
	return HandoffFile{Path: path, Kind: door.DropFileKind}, nil
}

// Vars builds the substitution table shared by drop files, argument
// templates, and the launcher script.
func (g Generator) Vars(door domain.Door, user UserSnapshot, sess domain.DoorSession, timeLeft int, now time.Time) map[string]string {
	sysFirst, sysLast := splitName(g.SysopName)
	userFirst, userLast := splitName(pickName(user.RealName, user.Handle))
	return map[string]string{
		"SESSION_ID":     sess.ID,
		"USER_ID":        user.ID,
		"USER_HANDLE":    pickName(user.Handle, user.RealName),
		"REAL_NAME":      pickName(user.RealName, user.Handle),
		"USER_FIRST":     userFirst,
		"USER_LAST":      userLast,
		"LOCATION":       pickName(user.Location, "Unknown"),
		"SECURITY_LEVEL": strconv.Itoa(user.Level),
		"TIME_LEFT":      strconv.Itoa(timeLeft),
		"SECONDS_LEFT":   strconv.Itoa(timeLeft * 60),
		"COM_PORT":       strconv.Itoa(door.ComPort),
		"BAUD_RATE":      strconv.Itoa(door.BaudRate),
		"NODE_NUMBER":    strconv.Itoa(sess.Node),
		"BBS_NAME":       g.BBSName,
		"SYSOP_NAME":     g.SysopName,
		"SYSOP_FIRST":    sysFirst,
		"SYSOP_LAST":     sysLast,
		"TOTAL_CALLS":    "1",
		"CALL_DATE":      now.Format("01/02/06"),
		"CALL_TIME":      now.Format("15:04"),
	}
}

// Expand substitutes {VAR} placeholders in template from vars. An
// unresolvable placeholder is an error, never silently blanked.
func Expand(template string, vars map[string]string) (string, error) {
	var b strings.Builder
	for {
		open := strings.IndexByte(template, '{')
		if open < 0 {
			b.WriteString(template)
			return b.String(), nil
		}
		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			b.WriteString(template)
			return b.String(), nil
		}
		end += open
		name := template[open+1 : end]
		if !placeholderName(name) {
			// Literal brace, not a placeholder. Emit it and move on.
			b.WriteString(template[:open+1])
			template = template[open+1:]
			continue
		}
		v, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("unresolved template variable {%s}", name)
		}
		b.WriteString(template[:open])
		b.WriteString(v)
		template = template[end+1:]
	}
}

func placeholderName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return true
}

func pickName(primary, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return strings.TrimSpace(primary)
	}
	return strings.TrimSpace(fallback)
}

func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "Sysop", ""
	}
	first, last, ok := strings.Cut(full, " ")
	if !ok {
		return full, ""
	}
	return first, strings.TrimSpace(last)
}
