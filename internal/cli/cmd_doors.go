package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bbslab/doorhost/internal/domain"
)

func runDoors(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: doorhost doors list|add|import")
		return 2
	}
	switch args[0] {
	case "list":
		return runDoorsList(ctx, args[1:])
	case "add":
		return runDoorsAdd(ctx, args[1:])
	case "import":
		return runDoorsImport(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown doors command %q\n", args[0])
		return 2
	}
}

func runDoorsList(ctx context.Context, args []string) int {
	cfg, _, err := parseCommand("doors list", args, nil)
	if err != nil {
		return fail("doors list", err)
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail("doors list", err)
	}
	defer func() { _ = st.Close() }()

	doors, err := st.ListDoors(ctx)
	if err != nil {
		return fail("doors list", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tACTIVE\tNODES\tDAILY\tTIME\tDROP")
	for _, d := range doors {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%d\t%d\t%s\n",
			d.ID, d.Name, d.Category, d.Active, d.Capacity(), d.DailyLimit, d.TimeLimit, d.DropFileKind)
	}
	_ = w.Flush()
	return 0
}

func runDoorsAdd(ctx context.Context, args []string) int {
	var d domain.Door
	cfg, _, err := parseCommand("doors add", args, func(fs *flag.FlagSet) {
		fs.StringVar(&d.ID, "id", "", "Door id (required)")
		fs.StringVar(&d.Name, "name", "", "Display name (required)")
		fs.StringVar(&d.Category, "category", "", "Category label")
		fs.StringVar(&d.Executable, "exec", "", "Door executable (required)")
		fs.StringVar(&d.ArgsTemplate, "args", "", "Argument template, {DROPFILE} etc.")
		fs.StringVar(&d.WorkingDir, "workdir", "", "Door working directory (required)")
		fs.StringVar(&d.DropFileKind, "dropfile", domain.DropFileDoorSys, "Drop file kind: doorsys|dorinfo")
		fs.BoolVar(&d.RequiresEmulator, "needs-emulator", false, "Run inside the machine emulator")
		fs.BoolVar(&d.RequiresFossil, "needs-fossil", false, "Provide FOSSIL serial emulation")
		fs.IntVar(&d.ComPort, "com", 1, "COM port number")
		fs.IntVar(&d.BaudRate, "baud", 38400, "Serial baud rate")
		fs.IntVar(&d.DataBits, "data-bits", 8, "Serial data bits")
		fs.IntVar(&d.StopBits, "stop-bits", 1, "Serial stop bits")
		fs.StringVar(&d.Parity, "parity", domain.ParityNone, "Serial parity: none|even|odd|mark|space")
		fs.BoolVar(&d.SchedulingEnabled, "scheduled", false, "Restrict to a daily window")
		fs.StringVar(&d.ScheduleStart, "open-from", "", "Window start, HH:MM")
		fs.StringVar(&d.ScheduleEnd, "open-until", "", "Window end, HH:MM")
		fs.IntVar(&d.MinimumLevel, "min-level", 0, "Minimum user level")
		fs.IntVar(&d.MaximumLevel, "max-level", 0, "Maximum user level, 0 = no cap")
		fs.IntVar(&d.DailyLimit, "daily-limit", 0, "Plays per user per day, 0 = unlimited")
		fs.IntVar(&d.TimeLimit, "time-limit", 0, "Minutes per session, 0 = unlimited")
		fs.BoolVar(&d.MultiNode, "multinode", false, "Allow concurrent sessions")
		fs.IntVar(&d.MaxNodes, "max-nodes", 1, "Concurrent session cap when multinode")
	})
	if err != nil {
		return fail("doors add", err)
	}
	if d.ID == "" || d.Name == "" || d.Executable == "" || d.WorkingDir == "" {
		return fail("doors add", fmt.Errorf("-id, -name, -exec, and -workdir are required"))
	}
	d.Active = true
	d.CreatedAt = time.Now()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail("doors add", err)
	}
	defer func() { _ = st.Close() }()

	if err := st.UpsertDoor(ctx, d); err != nil {
		return fail("doors add", err)
	}
	fmt.Printf("door %s saved\n", d.ID)
	return 0
}

// doorFile is the YAML import layout. Field defaults mirror doors add.
type doorFile struct {
	Doors []struct {
		ID            string `yaml:"id"`
		Name          string `yaml:"name"`
		Category      string `yaml:"category"`
		Executable    string `yaml:"exec"`
		Args          string `yaml:"args"`
		WorkingDir    string `yaml:"workdir"`
		DropFile      string `yaml:"dropfile"`
		NeedsEmulator bool   `yaml:"needs_emulator"`
		NeedsFossil   bool   `yaml:"needs_fossil"`
		ComPort       int    `yaml:"com"`
		BaudRate      int    `yaml:"baud"`
		DataBits      int    `yaml:"data_bits"`
		StopBits      int    `yaml:"stop_bits"`
		Parity        string `yaml:"parity"`
		Scheduled     bool   `yaml:"scheduled"`
		OpenFrom      string `yaml:"open_from"`
		OpenUntil     string `yaml:"open_until"`
		MinLevel      int    `yaml:"min_level"`
		MaxLevel      int    `yaml:"max_level"`
		DailyLimit    int    `yaml:"daily_limit"`
		TimeLimit     int    `yaml:"time_limit"`
		MultiNode     bool   `yaml:"multinode"`
		MaxNodes      int    `yaml:"max_nodes"`
		Inactive      bool   `yaml:"inactive"`
	} `yaml:"doors"`
}

func runDoorsImport(ctx context.Context, args []string) int {
	file := ""
	cfg, _, err := parseCommand("doors import", args, func(fs *flag.FlagSet) {
		fs.StringVar(&file, "f", "doors.yml", "YAML file with door definitions")
	})
	if err != nil {
		return fail("doors import", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fail("doors import", err)
	}
	var doc doorFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fail("doors import", fmt.Errorf("parse %s: %w", file, err))
	}
	if len(doc.Doors) == 0 {
		return fail("doors import", fmt.Errorf("%s defines no doors", file))
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail("doors import", err)
	}
	defer func() { _ = st.Close() }()

	now := time.Now()
	for _, y := range doc.Doors {
		if y.ID == "" || y.Name == "" || y.Executable == "" || y.WorkingDir == "" {
			return fail("doors import", fmt.Errorf("door %q: id, name, exec, and workdir are required", y.ID))
		}
		d := domain.Door{
			ID:                y.ID,
			Name:              y.Name,
			Category:          y.Category,
			Executable:        y.Executable,
			ArgsTemplate:      y.Args,
			WorkingDir:        y.WorkingDir,
			DropFileKind:      orDefault(y.DropFile, domain.DropFileDoorSys),
			RequiresEmulator:  y.NeedsEmulator,
			RequiresFossil:    y.NeedsFossil,
			ComPort:           orDefaultInt(y.ComPort, 1),
			BaudRate:          orDefaultInt(y.BaudRate, 38400),
			DataBits:          orDefaultInt(y.DataBits, 8),
			StopBits:          orDefaultInt(y.StopBits, 1),
			Parity:            orDefault(y.Parity, domain.ParityNone),
			Active:            !y.Inactive,
			SchedulingEnabled: y.Scheduled,
			ScheduleStart:     y.OpenFrom,
			ScheduleEnd:       y.OpenUntil,
			MinimumLevel:      y.MinLevel,
			MaximumLevel:      y.MaxLevel,
			DailyLimit:        y.DailyLimit,
			TimeLimit:         y.TimeLimit,
			MultiNode:         y.MultiNode,
			MaxNodes:          orDefaultInt(y.MaxNodes, 1),
			CreatedAt:         now,
		}
		if err := st.UpsertDoor(ctx, d); err != nil {
			return fail("doors import", fmt.Errorf("door %s: %w", d.ID, err))
		}
	}
	fmt.Printf("%d doors imported from %s\n", len(doc.Doors), file)
	return 0
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
