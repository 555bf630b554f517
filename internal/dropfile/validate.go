package dropfile

import (
	"os"
	"strconv"
	"strings"

	"github.com/bbslab/doorhost/internal/domain"
)

// Minimum line counts per format. DOOR.SYS is the full 52-line GAP layout;
// DORINFO1.DEF is 13 lines.
const (
	doorSysMinLines = 52
	dorinfoMinLines = 13
)

// Positions (0-based) of fields that must parse as integers.
var doorSysNumeric = []int{1, 3, 14, 18}  // baud, node, security level, minutes left
var dorinfoNumeric = []int{10, 11}        // security level, minutes left

// Validate checks that the file at path has the minimum line count for its
// kind and that the numeric fields parse. Used at generation time and by
// maintenance tooling.
func Validate(path, kind string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	lines := splitLines(string(data))

	var minLines int
	var numeric []int
	switch kind {
	case domain.DropFileDoorSys:
		minLines, numeric = doorSysMinLines, doorSysNumeric
	case domain.DropFileDorinfo:
		minLines, numeric = dorinfoMinLines, dorinfoNumeric
	default:
		return false
	}
	if len(lines) < minLines {
		return false
	}
	for _, idx := range numeric {
		field := strings.TrimSpace(lines[idx])
		// DORINFO's baud line carries a suffix ("38400 BAUD,N,8,1"); numeric
		// fields here are bare integers.
		if _, err := strconv.Atoi(field); err != nil {
			return false
		}
	}
	return true
}

// Cleanup deletes the drop file at path. Idempotent: returns false when
// there was nothing to delete.
func Cleanup(path string) bool {
	if path == "" {
		return false
	}
	if err := os.Remove(path); err != nil {
		return false
	}
	return true
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
