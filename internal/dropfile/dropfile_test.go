package dropfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
)

var testNow = time.Date(2026, 8, 27, 20, 15, 0, 0, time.UTC)

func testGenerator() Generator {
	return Generator{BBSName: "The Outpost", SysopName: "Jane Doe"}
}

func testDoor(kind string) domain.Door {
	return domain.Door{
		ID:           "lord",
		DropFileKind: kind,
		ComPort:      1,
		BaudRate:     38400,
	}
}

func testUser() UserSnapshot {
	return UserSnapshot{
		ID:       "u-1",
		Handle:   "RedDragon",
		RealName: "Alice Example",
		Location: "Portland, OR",
		Level:    50,
	}
}

func testSession() domain.DoorSession {
	return domain.DoorSession{ID: "s-1", Node: 2}
}

func TestGenerateDoorSysRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	hf, err := testGenerator().Generate(testDoor(domain.DropFileDoorSys), testUser(), testSession(), 45, dir, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if hf.Kind != domain.DropFileDoorSys {
		t.Fatalf("kind = %q", hf.Kind)
	}
	if filepath.Base(hf.Path) != "DOOR.SYS" {
		t.Fatalf("unexpected file name %q", hf.Path)
	}
	if !Validate(hf.Path, domain.DropFileDoorSys) {
		t.Fatal("generated DOOR.SYS failed validation")
	}

	data, err := os.ReadFile(hf.Path)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(string(data))
	if len(lines) != 52 {
		t.Fatalf("DOOR.SYS has %d lines, want 52", len(lines))
	}
	// Spot-check the fixed field order.
	if lines[0] != "COM1:" {
		t.Fatalf("line 1 = %q, want COM1:", lines[0])
	}
	if lines[1] != "38400" {
		t.Fatalf("line 2 = %q, want 38400", lines[1])
	}
	if lines[3] != "2" {
		t.Fatalf("line 4 (node) = %q, want 2", lines[3])
	}
	if lines[9] != "Alice Example" {
		t.Fatalf("line 10 (real name) = %q", lines[9])
	}
	if lines[14] != "50" {
		t.Fatalf("line 15 (security) = %q, want 50", lines[14])
	}
	if lines[18] != "45" {
		t.Fatalf("line 19 (minutes) = %q, want 45", lines[18])
	}
	if lines[35] != "RedDragon" {
		t.Fatalf("line 36 (alias) = %q", lines[35])
	}
}

func TestGenerateDorinfo(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	hf, err := testGenerator().Generate(testDoor(domain.DropFileDorinfo), testUser(), testSession(), 30, dir, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(hf.Path) != "DORINFO1.DEF" {
		t.Fatalf("unexpected file name %q", hf.Path)
	}
	data, err := os.ReadFile(hf.Path)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(string(data))
	if len(lines) != 13 {
		t.Fatalf("DORINFO1.DEF has %d lines, want 13", len(lines))
	}
	if lines[0] != "The Outpost" {
		t.Fatalf("line 1 = %q", lines[0])
	}
	if lines[1] != "Jane" || lines[2] != "Doe" {
		t.Fatalf("sysop name lines = %q, %q", lines[1], lines[2])
	}
	if lines[4] != "38400 BAUD,N,8,1" {
		t.Fatalf("line 5 = %q", lines[4])
	}
	if lines[10] != "50" || lines[11] != "30" {
		t.Fatalf("security/time lines = %q, %q", lines[10], lines[11])
	}
}

func TestGenerateUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := testGenerator().Generate(testDoor("exitinfo"), testUser(), testSession(), 30, t.TempDir(), testNow)
	if !errors.Is(err, domain.ErrDropFileInvalid) {
		t.Fatalf("expected ErrDropFileInvalid, got %v", err)
	}
}

func TestValidateRejectsCorruption(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	hf, err := testGenerator().Generate(testDoor(domain.DropFileDoorSys), testUser(), testSession(), 45, dir, testNow)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(hf.Path)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(string(data))

	// Corrupt the baud field.
	corrupted := append([]string{}, lines...)
	corrupted[1] = "fast"
	if err := os.WriteFile(hf.Path, []byte(strings.Join(corrupted, "\r\n")+"\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if Validate(hf.Path, domain.DropFileDoorSys) {
		t.Fatal("validation should reject a non-numeric baud field")
	}

	// Truncate below the minimum line count.
	if err := os.WriteFile(hf.Path, []byte(strings.Join(lines[:20], "\r\n")+"\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if Validate(hf.Path, domain.DropFileDoorSys) {
		t.Fatal("validation should reject a truncated file")
	}

	if Validate(filepath.Join(dir, "absent"), domain.DropFileDoorSys) {
		t.Fatal("validation should reject a missing file")
	}
}

func TestCleanupIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	hf, err := testGenerator().Generate(testDoor(domain.DropFileDorinfo), testUser(), testSession(), 30, dir, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !Cleanup(hf.Path) {
		t.Fatal("first cleanup should report deletion")
	}
	if Cleanup(hf.Path) {
		t.Fatal("second cleanup should report nothing to delete")
	}
	if Cleanup("") {
		t.Fatal("empty path cleanup should be a no-op")
	}
}

func TestExpand(t *testing.T) {
	t.Parallel()

	vars := map[string]string{"USER_HANDLE": "RedDragon", "NODE_NUMBER": "3"}

	cases := []struct {
		name     string
		template string
		want     string
		wantErr  bool
	}{
		{"plain", "no placeholders", "no placeholders", false},
		{"single", "hello {USER_HANDLE}", "hello RedDragon", false},
		{"multiple", "{USER_HANDLE}@node{NODE_NUMBER}", "RedDragon@node3", false},
		{"unresolved", "hi {UNKNOWN_VAR}", "", true},
		{"literal_braces", "set {x} = {NODE_NUMBER}", "set {x} = 3", false},
		{"unclosed", "dangling {USER_HANDLE", "dangling {USER_HANDLE", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Expand(tc.template, vars)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
