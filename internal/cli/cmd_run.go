package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bbslab/doorhost/internal/domain"
	"github.com/bbslab/doorhost/internal/session"
)

// runDoor plays a door interactively with the current terminal as the
// network peer: the full RequestStart -> Launch -> Supervise lifecycle.
func runDoor(ctx context.Context, args []string) int {
	var (
		userID   string
		userName string
		realName string
		location string
		level    int
		groups   string
	)
	cfg, rest, err := parseCommand("run", args, func(fs *flag.FlagSet) {
		fs.StringVar(&userID, "user", "", "User id (required)")
		fs.StringVar(&userName, "handle", "", "User handle, defaults to the user id")
		fs.StringVar(&realName, "real-name", "", "User real name")
		fs.StringVar(&location, "location", "", "User location")
		fs.IntVar(&level, "level", 0, "User security level")
		fs.StringVar(&groups, "groups", "", "Comma-separated group memberships")
	})
	if err != nil {
		return fail("run", err)
	}
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: doorhost run <door-id> -user ID [-level N]")
		return 2
	}
	if userID == "" {
		return fail("run", fmt.Errorf("-user is required"))
	}
	if userName == "" {
		userName = userID
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail("run", err)
	}
	defer func() { _ = st.Close() }()

	logger := newLogger(cfg)
	m := buildManager(cfg, st, logger)

	req := session.StartRequest{
		DoorID:    rest[0],
		UserID:    userID,
		UserName:  userName,
		RealName:  realName,
		Location:  location,
		UserLevel: level,
	}
	if groups != "" {
		req.Groups = strings.Split(groups, ",")
	}

	sess, err := m.RequestStart(ctx, req)
	if err != nil {
		// A well-formed but refused request is not an operational failure;
		// callers scripting around doorhost get a distinct exit code.
		if domain.PolicyError(err) {
			fmt.Fprintf(os.Stderr, "run: refused: %v\n", err)
			return 3
		}
		return fail("run", err)
	}
	if err := m.Launch(ctx, sess.ID, stdioPeer{}); err != nil {
		return fail("run", err)
	}
	if err := m.Supervise(ctx, sess.ID); err != nil && !errors.Is(err, context.Canceled) {
		return fail("run", err)
	}
	return 0
}

// stdioPeer adapts the process terminal to the bridge's peer contract.
// Close is a no-op so a finished door does not take stdin away from the
// calling shell.
type stdioPeer struct{}

func (stdioPeer) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioPeer) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioPeer) Close() error                { return nil }

var _ io.ReadWriteCloser = stdioPeer{}
