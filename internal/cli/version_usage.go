package cli

import (
	"fmt"
	"os/exec"
	"strings"
)

func printUsage() {
	fmt.Println(`doorhost - BBS door hosting with FOSSIL serial emulation

Run classic door programs for connected users, with drop file generation,
per-door access policy, and a serial-over-pipe bridge for doors that expect
a FOSSIL driver.

Usage:
  doorhost doors list                   List registered doors
  doorhost doors add -id ID -name NAME -exec PATH -workdir DIR
                                        Register or update a door
  doorhost doors import -f doors.yml    Import door definitions from YAML
  doorhost perms set -door ID -subject NAME -action allow|deny
                                        Grant or deny door access
  doorhost validate <door-id>           Check a door's configuration
  doorhost sessions                     List active sessions
  doorhost stats <door-id>              Per-user play statistics for a door
  doorhost logs [-door ID] [-level L]   Recent door event records
  doorhost cleanup                      Reclaim orphaned sessions and files
  doorhost run <door-id> -user ID       Play a door on this terminal
  doorhost version                      Print version
  doorhost help                         Show this help

Quick Start:
  1. doorhost doors add -id lord -name "LORD" -exec LORD.EXE \
       -workdir /bbs/doors/lord -needs-emulator -needs-fossil
  2. doorhost validate lord
  3. doorhost run lord -user alice -level 30

Environment Variables:
  DOORHOST_DB_PATH        SQLite registry path (default: ./doorhost.db)
  DOORHOST_SESSIONS_DIR   Per-session runtime files (default: ./sessions)
  DOORHOST_EMULATOR       Machine emulator binary (default: dosbox)
  DOORHOST_BBS_NAME       Board name reported in drop files
  DOORHOST_SYSOP_NAME     Sysop name reported in drop files
  DOORHOST_TIME_LEFT      Minutes granted to doors without a limit
  DOORHOST_IDLE_TIMEOUT   Force-end idle sessions after this long
  DOORHOST_LOG_LEVEL      Log level: debug|info|warn|error (default: info)`)
}

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if desc, err := exec.Command("git", "describe", "--tags", "--always").Output(); err == nil {
			if v := strings.TrimSpace(string(desc)); v != "" {
				Version = v + "-dev"
			}
		}
	}
	if Version != "dev" && !strings.HasPrefix(Version, "v") {
		Version = "v" + Version
	}
}

func printVersion() {
	fmt.Println("doorhost", Version)
}
