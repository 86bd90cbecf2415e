package database

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"testing"
)

// validReminderServices must match the ENUM on users.reminder_service and
// the services the dispatcher knows how to deliver through.
var validReminderServices = map[string]bool{
	"push": true,
	"ntfy": true,
}

// migrationsDir returns the absolute path to db/migrations/ from the project root.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	projectRoot := filepath.Join(filepath.Dir(thisFile), "..", "..")
	dir := filepath.Join(projectRoot, "db", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations directory not found at %s: %v", dir, err)
	}
	return dir
}

// readAllUp concatenates every .up.sql file in version order.
func readAllUp(t *testing.T) string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(migrationsDir(t), "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing migration files: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migration files found")
	}
	sort.Strings(files)

	var b strings.Builder
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("reading %s: %v", f, err)
		}
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String()
}

// TestMigrations_UpDownPairs ensures every .up.sql has a matching .down.sql.
func TestMigrations_UpDownPairs(t *testing.T) {
	dir := migrationsDir(t)
	upFiles, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing up files: %v", err)
	}

	for _, up := range upFiles {
		down := strings.Replace(up, ".up.sql", ".down.sql", 1)
		if _, err := os.Stat(down); err != nil {
			t.Errorf("missing down migration for %s", filepath.Base(up))
		}
	}
}

// TestMigrations_SessionColumns checks the columns the session manager
// reads and writes. The token itself must never have a column.
func TestMigrations_SessionColumns(t *testing.T) {
	schema := readAllUp(t)

	block := regexp.MustCompile(`(?s)CREATE TABLE sessions \((.*?)\) ENGINE`).FindStringSubmatch(schema)
	if block == nil {
		t.Fatal("sessions table not created")
	}
	for _, col := range []string{"id", "user_id", "expires_at", "csrf_token"} {
		if !regexp.MustCompile(`(?m)^\s+` + col + `\s`).MatchString(block[1]) {
			t.Errorf("sessions is missing column %s", col)
		}
	}
	if regexp.MustCompile(`(?m)^\s+token\s`).MatchString(block[1]) {
		t.Error("sessions must not store the raw token")
	}
	if !strings.Contains(block[1], "ON DELETE CASCADE") {
		t.Error("sessions must cascade with users")
	}
}

// TestMigrations_ReminderServiceValues validates the reminder_service ENUM.
func TestMigrations_ReminderServiceValues(t *testing.T) {
	schema := readAllUp(t)

	m := regexp.MustCompile(`reminder_service\s+ENUM\(([^)]*)\)`).FindStringSubmatch(schema)
	if m == nil {
		t.Fatal("users.reminder_service ENUM not found")
	}
	values := regexp.MustCompile(`'([^']+)'`).FindAllStringSubmatch(m[1], -1)
	if len(values) != len(validReminderServices) {
		t.Errorf("reminder_service has %d values, want %d", len(values), len(validReminderServices))
	}
	for _, v := range values {
		if !validReminderServices[v[1]] {
			t.Errorf("unexpected reminder_service value %q", v[1])
		}
	}
}
