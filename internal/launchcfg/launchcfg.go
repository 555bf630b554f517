// Package launchcfg emits the emulated-machine configuration artifact for a
// door session: sectioned key/value text with the machine parameters, the
// working-directory mount, and — when the door needs serial emulation — the
// COM-port-to-pipe binding. The artifact is consumed by the spawned
// emulator's runtime and never re-parsed by the core.
package launchcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bbslab/doorhost/internal/domain"
	"github.com/bbslab/doorhost/internal/dropfile"
)

// Artifact is a written launch configuration file.
type Artifact struct {
	Path string
}

// Builder renders launch configuration artifacts. MemorySizeMB and
// MachineType cover the system section; zero values fall back to defaults a
// DOS-era door is comfortable with.
type Builder struct {
	MemorySizeMB int
	MachineType  string
}

const defaultMemorySizeMB = 16
const defaultMachineType = "svga_s3"

// Build writes the configuration for one session into dir. pipePath is the
// session's IPC endpoint and may be empty when the door does not require
// serial emulation, in which case the serial section is omitted. vars is the
// substitution table for the door's argument template; the session-scoped
// keys (DROPFILE, NODE_NUMBER, SESSION_ID, COM_PORT) are always available
// even when the caller supplies none.
func (b Builder) Build(door domain.Door, sess domain.DoorSession, pipePath, dir string, vars map[string]string) (Artifact, error) {
	mem := b.MemorySizeMB
	if mem <= 0 {
		mem = defaultMemorySizeMB
	}
	machine := b.MachineType
	if machine == "" {
		machine = defaultMachineType
	}

	var w strings.Builder
	fmt.Fprintf(&w, "# doorhost launch configuration, session %s\n", sess.ID)
	fmt.Fprintf(&w, "[system]\n")
	fmt.Fprintf(&w, "machine=%s\n", machine)
	fmt.Fprintf(&w, "memsize=%d\n", mem)
	fmt.Fprintf(&w, "\n[filesystem]\n")
	fmt.Fprintf(&w, "mount_c=%s\n", door.WorkingDir)
	if pipePath != "" {
		fmt.Fprintf(&w, "\n[serial]\n")
		fmt.Fprintf(&w, "serial%d=pipe path:%s baud:%d format:%d%s%d\n",
			door.ComPort, pipePath, door.BaudRate, door.DataBits, parityLetter(door.Parity), door.StopBits)
	}
	fmt.Fprintf(&w, "\n[autoexec]\n")
	fmt.Fprintf(&w, "c:\n")
	command, err := autoexecCommand(door, sess, vars)
	if err != nil {
		return Artifact{}, err
	}
	fmt.Fprintf(&w, "%s\n", command)
	fmt.Fprintf(&w, "exit\n")

	path := filepath.Join(dir, "launch.conf")
	if err := os.WriteFile(path, []byte(w.String()), 0o644); err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: path}, nil
}

// autoexecCommand renders the door's command line against the supplied
// substitution table plus the session-scoped keys.
func autoexecCommand(door domain.Door, sess domain.DoorSession, vars map[string]string) (string, error) {
	command := door.Executable
	if door.ArgsTemplate != "" {
		merged := make(map[string]string, len(vars)+4)
		for k, v := range vars {
			merged[k] = v
		}
		merged["DROPFILE"] = sess.DropFilePath
		merged["NODE_NUMBER"] = fmt.Sprintf("%d", sess.Node)
		merged["SESSION_ID"] = sess.ID
		merged["COM_PORT"] = fmt.Sprintf("%d", door.ComPort)
		args, err := dropfile.Expand(door.ArgsTemplate, merged)
		if err != nil {
			return "", err
		}
		// The historical lowercase {dropfile} spelling is accepted too.
		args = strings.ReplaceAll(args, "{dropfile}", sess.DropFilePath)
		command += " " + args
	}
	return command, nil
}

func parityLetter(parity string) string {
	switch parity {
	case domain.ParityEven:
		return "E"
	case domain.ParityOdd:
		return "O"
	case domain.ParityMark:
		return "M"
	case domain.ParitySpace:
		return "S"
	default:
		return "N"
	}
}
