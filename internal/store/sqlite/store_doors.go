package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
)

const doorColumns = `id, name, category, executable, args_template, working_dir,
drop_file_kind, requires_emulator, requires_fossil,
com_port, baud_rate, data_bits, stop_bits, parity,
active, scheduling_enabled, schedule_start, schedule_end,
minimum_level, maximum_level, daily_limit, time_limit,
multi_node, max_nodes, created_at`

// CreateDoor inserts a door definition. The door id is chosen by the caller
// (a short slug) and must be unique.
func (s *Store) CreateDoor(ctx context.Context, d domain.Door) error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("door id required")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO doors(`+doorColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Category, d.Executable, d.ArgsTemplate, d.WorkingDir,
		d.DropFileKind, boolToInt(d.RequiresEmulator), boolToInt(d.RequiresFossil),
		d.ComPort, d.BaudRate, d.DataBits, d.StopBits, d.Parity,
		boolToInt(d.Active), boolToInt(d.SchedulingEnabled), d.ScheduleStart, d.ScheduleEnd,
		d.MinimumLevel, d.MaximumLevel, d.DailyLimit, d.TimeLimit,
		boolToInt(d.MultiNode), d.MaxNodes, d.CreatedAt.UTC())
	return err
}

// UpsertDoor inserts the door or replaces an existing definition with the
// same id. Used by the CLI's bulk import.
func (s *Store) UpsertDoor(ctx context.Context, d domain.Door) error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("door id required")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO doors(`+doorColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	category = excluded.category,
	executable = excluded.executable,
	args_template = excluded.args_template,
	working_dir = excluded.working_dir,
	drop_file_kind = excluded.drop_file_kind,
	requires_emulator = excluded.requires_emulator,
	requires_fossil = excluded.requires_fossil,
	com_port = excluded.com_port,
	baud_rate = excluded.baud_rate,
	data_bits = excluded.data_bits,
	stop_bits = excluded.stop_bits,
	parity = excluded.parity,
	active = excluded.active,
	scheduling_enabled = excluded.scheduling_enabled,
	schedule_start = excluded.schedule_start,
	schedule_end = excluded.schedule_end,
	minimum_level = excluded.minimum_level,
	maximum_level = excluded.maximum_level,
	daily_limit = excluded.daily_limit,
	time_limit = excluded.time_limit,
	multi_node = excluded.multi_node,
	max_nodes = excluded.max_nodes`,
		d.ID, d.Name, d.Category, d.Executable, d.ArgsTemplate, d.WorkingDir,
		d.DropFileKind, boolToInt(d.RequiresEmulator), boolToInt(d.RequiresFossil),
		d.ComPort, d.BaudRate, d.DataBits, d.StopBits, d.Parity,
		boolToInt(d.Active), boolToInt(d.SchedulingEnabled), d.ScheduleStart, d.ScheduleEnd,
		d.MinimumLevel, d.MaximumLevel, d.DailyLimit, d.TimeLimit,
		boolToInt(d.MultiNode), d.MaxNodes, d.CreatedAt.UTC())
	return err
}

// GetDoor loads one door definition by id.
func (s *Store) GetDoor(ctx context.Context, id string) (domain.Door, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+doorColumns+` FROM doors WHERE id = ?`, id)
	d, err := scanDoor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Door{}, domain.ErrDoorNotFound
	}
	return d, err
}

// ListDoors returns all door definitions ordered by id.
func (s *Store) ListDoors(ctx context.Context) ([]domain.Door, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+doorColumns+` FROM doors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Door
	for rows.Next() {
		d, err := scanDoor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoor(r rowScanner) (domain.Door, error) {
	var d domain.Door
	var emu, fossil, active, sched, multi int
	err := r.Scan(
		&d.ID, &d.Name, &d.Category, &d.Executable, &d.ArgsTemplate, &d.WorkingDir,
		&d.DropFileKind, &emu, &fossil,
		&d.ComPort, &d.BaudRate, &d.DataBits, &d.StopBits, &d.Parity,
		&active, &sched, &d.ScheduleStart, &d.ScheduleEnd,
		&d.MinimumLevel, &d.MaximumLevel, &d.DailyLimit, &d.TimeLimit,
		&multi, &d.MaxNodes, &d.CreatedAt)
	if err != nil {
		return domain.Door{}, err
	}
	d.RequiresEmulator = emu != 0
	d.RequiresFossil = fossil != 0
	d.Active = active != 0
	d.SchedulingEnabled = sched != 0
	d.MultiNode = multi != 0
	return d, nil
}
