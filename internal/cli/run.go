// Package cli is the doorhost command line: door registry administration,
// diagnostics, maintenance, and the interactive run command that plays a
// door over stdio.
package cli

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bbslab/doorhost/internal/config"
	"github.com/bbslab/doorhost/internal/fossil"
	ilog "github.com/bbslab/doorhost/internal/log"
	"github.com/bbslab/doorhost/internal/session"
	"github.com/bbslab/doorhost/internal/store/sqlite"
)

// Run is the main CLI entry point. It parses args and dispatches to the
// appropriate subcommand, returning a process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch args[0] {
	case "doors":
		return runDoors(ctx, args[1:])
	case "perms":
		return runPerms(ctx, args[1:])
	case "validate":
		return runValidate(ctx, args[1:])
	case "sessions":
		return runSessions(ctx, args[1:])
	case "stats":
		return runStats(ctx, args[1:])
	case "logs":
		return runLogs(ctx, args[1:])
	case "cleanup":
		return runCleanup(ctx, args[1:])
	case "run":
		return runDoor(ctx, args[1:])
	case "version", "--version", "-v":
		printVersion()
		return 0
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage()
		return 2
	}
}

// parseCommand parses one subcommand's flags: the shared host flags plus
// whatever extra registers. Returns the config and positional arguments.
func parseCommand(name string, args []string, extra func(fs *flag.FlagSet)) (config.Config, []string, error) {
	cfg := config.FromEnv()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	return cfg, fs.Args(), nil
}

// openStore opens the registry and applies migrations.
func openStore(ctx context.Context, cfg config.Config) (*sqlite.Store, error) {
	st, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return st, nil
}

// buildManager wires a full session manager over the store, bridge, and the
// real process launcher.
func buildManager(cfg config.Config, st *sqlite.Store, logger *slog.Logger) *session.Manager {
	bridge := fossil.NewBridge(cfg.SessionsDir, cfg.BufferSize, logger)
	launcher := &session.ExecLauncher{Log: logger}
	return session.NewManager(cfg, st, bridge, launcher, logger)
}

func newLogger(cfg config.Config) *slog.Logger {
	return ilog.New(cfg.LogLevel)
}

func fail(command string, err error) int {
	fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
	return 1
}
