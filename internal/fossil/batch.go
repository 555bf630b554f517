package fossil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bbslab/doorhost/internal/domain"
)

// GenerateBatchFile writes the session's launcher script. Many legacy doors
// discover their serial port through the environment rather than arguments,
// so the script exports the COM-port-to-pipe binding before exec'ing the
// door executable.
func (b *Bridge) GenerateBatchFile(sessionID, comLabel, executable string, args []string) (string, error) {
	s := b.lookup(sessionID)
	if s == nil {
		return "", &domain.SessionError{SessionID: sessionID, Op: "batch file", Err: domain.ErrSessionNotFound}
	}
	dir, err := b.SetupEnvironment(sessionID)
	if err != nil {
		return "", err
	}

	b.mu.RLock()
	srv := b.pipes[pipeName(sessionID)]
	b.mu.RUnlock()
	pipePath := ""
	if srv != nil {
		pipePath = srv.path
	}

	var w strings.Builder
	w.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&w, "# launcher for door session %s\n", sessionID)
	fmt.Fprintf(&w, "export DOOR_COM=%s\n", shellQuote(comLabel))
	fmt.Fprintf(&w, "export DOOR_PIPE=%s\n", shellQuote(pipePath))
	fmt.Fprintf(&w, "export DOOR_SESSION=%s\n", shellQuote(sessionID))
	fmt.Fprintf(&w, "exec %s", shellQuote(executable))
	for _, a := range args {
		fmt.Fprintf(&w, " %s", shellQuote(a))
	}
	w.WriteString("\n")

	path := filepath.Join(dir, "door.sh")
	if err := os.WriteFile(path, []byte(w.String()), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>(){}*?#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
