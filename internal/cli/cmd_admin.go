package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
)

func runPerms(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] != "set" {
		fmt.Fprintln(os.Stderr, "usage: doorhost perms set -door ID -subject NAME [-kind user|group] [-action allow|deny] [-expires 24h]")
		return 2
	}
	var (
		doorID  string
		subject string
		kind    string
		action  string
		expires time.Duration
	)
	cfg, _, err := parseCommand("perms set", args[1:], func(fs *flag.FlagSet) {
		fs.StringVar(&doorID, "door", "", "Door id (required)")
		fs.StringVar(&subject, "subject", "", "User id or group name (required)")
		fs.StringVar(&kind, "kind", domain.SubjectUser, "Subject kind: user|group")
		fs.StringVar(&action, "action", domain.PermissionAllow, "Grant action: allow|deny")
		fs.DurationVar(&expires, "expires", 0, "Lifetime of the grant, 0 = never expires")
	})
	if err != nil {
		return fail("perms set", err)
	}
	if doorID == "" || subject == "" {
		return fail("perms set", fmt.Errorf("-door and -subject are required"))
	}
	if kind != domain.SubjectUser && kind != domain.SubjectGroup {
		return fail("perms set", fmt.Errorf("unknown subject kind %q", kind))
	}
	if action != domain.PermissionAllow && action != domain.PermissionDeny {
		return fail("perms set", fmt.Errorf("unknown action %q", action))
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail("perms set", err)
	}
	defer func() { _ = st.Close() }()

	if _, err := st.GetDoor(ctx, doorID); err != nil {
		return fail("perms set", err)
	}
	var expiresAt *time.Time
	if expires > 0 {
		at := time.Now().Add(expires)
		expiresAt = &at
	}
	perm, err := st.SetPermission(ctx, doorID, kind, subject, action, expiresAt)
	if err != nil {
		return fail("perms set", err)
	}
	if perm.ExpiresAt != nil {
		fmt.Printf("%s %s for %s %s until %s\n", perm.Action, doorID, kind, subject, perm.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Printf("%s %s for %s %s\n", perm.Action, doorID, kind, subject)
	}
	return 0
}

func runValidate(ctx context.Context, args []string) int {
	cfg, rest, err := parseCommand("validate", args, nil)
	if err != nil {
		return fail("validate", err)
	}
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: doorhost validate <door-id>")
		return 2
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail("validate", err)
	}
	defer func() { _ = st.Close() }()

	door, err := st.GetDoor(ctx, rest[0])
	if err != nil {
		return fail("validate", err)
	}
	m := buildManager(cfg, st, newLogger(cfg))
	problems := m.ValidateDoor(door)
	if len(problems) == 0 {
		fmt.Printf("door %s is runnable\n", door.ID)
		return 0
	}
	for _, p := range problems {
		fmt.Printf("%s: %s\n", p.Field, p.Detail)
	}
	return 1
}

func runSessions(ctx context.Context, args []string) int {
	doorID := ""
	cfg, _, err := parseCommand("sessions", args, func(fs *flag.FlagSet) {
		fs.StringVar(&doorID, "door", "", "Only sessions for this door")
	})
	if err != nil {
		return fail("sessions", err)
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail("sessions", err)
	}
	defer func() { _ = st.Close() }()

	sessions, err := st.ListActiveSessions(ctx, doorID)
	if err != nil {
		return fail("sessions", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tDOOR\tUSER\tNODE\tSTATE\tSTARTED\tPID")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%d\n",
			s.ID, s.DoorID, s.UserName, s.Node, s.State, s.StartedAt.Format(time.RFC3339), s.PID)
	}
	_ = w.Flush()
	return 0
}

func runStats(ctx context.Context, args []string) int {
	cfg, rest, err := parseCommand("stats", args, nil)
	if err != nil {
		return fail("stats", err)
	}
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: doorhost stats <door-id>")
		return 2
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail("stats", err)
	}
	defer func() { _ = st.Close() }()

	if _, err := st.GetDoor(ctx, rest[0]); err != nil {
		return fail("stats", err)
	}
	stats, err := st.ListStatisticsByDoor(ctx, rest[0])
	if err != nil {
		return fail("stats", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tSESSIONS\tPLAY TIME\tLAST PLAYED\tHIGH SCORE")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n",
			s.UserID, s.TotalSessions, (time.Duration(s.TotalSeconds) * time.Second).String(),
			s.LastPlayed.Format(time.RFC3339), s.HighScore)
	}
	_ = w.Flush()
	return 0
}

func runLogs(ctx context.Context, args []string) int {
	var (
		doorID string
		level  string
		limit  int
	)
	cfg, _, err := parseCommand("logs", args, func(fs *flag.FlagSet) {
		fs.StringVar(&doorID, "door", "", "Only records for this door")
		fs.StringVar(&level, "level", "", "Only records at this level: debug|info|warn|error")
		fs.IntVar(&limit, "n", 100, "Maximum records to print")
	})
	if err != nil {
		return fail("logs", err)
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail("logs", err)
	}
	defer func() { _ = st.Close() }()

	logs, err := st.ListLogs(ctx, doorID, level, limit)
	if err != nil {
		return fail("logs", err)
	}
	for _, l := range logs {
		fmt.Printf("%s %-5s %s %s %s %s\n",
			l.CreatedAt.Format(time.RFC3339), l.Level, l.DoorID, l.SessionID, l.Message, l.Detail)
	}
	return 0
}

func runCleanup(ctx context.Context, args []string) int {
	cfg, _, err := parseCommand("cleanup", args, nil)
	if err != nil {
		return fail("cleanup", err)
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail("cleanup", err)
	}
	defer func() { _ = st.Close() }()

	m := buildManager(cfg, st, newLogger(cfg))
	cleaned := m.CleanupExpired(ctx)
	fmt.Printf("%d items cleaned\n", cleaned)
	return 0
}
