package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/machine-allocator/internal/auth"
	"github.com/nerrad567/machine-allocator/internal/machine"
)

const testSecret = "test-secret-for-development-only-0123456789"

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
store:
  backend: sqlite
  sqlite:
    path: %q
    wal_mode: true
    busy_timeout: 5
device:
  mode: simulated
security:
  jwt:
    secret: %q
`, filepath.Join(dir, "machines.db"), testSecret)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("MACHINEALLOC_CONFIG", "")
	t.Setenv("MACHINEALLOC_JWT_SECRET", testSecret)
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProvisionListReset(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "provision", "--location", "loc-1", "--id", "w-1", "--id", "w-2")
	if err != nil {
		t.Fatalf("provision error = %v", err)
	}
	if !strings.Contains(out, "provisioned w-1 at loc-1") || !strings.Contains(out, "provisioned w-2 at loc-1") {
		t.Errorf("provision output = %q", out)
	}

	if _, err := execute(t, "--config", cfg, "provision", "--location", "loc-2", "--count", "3"); err != nil {
		t.Fatalf("provision --count error = %v", err)
	}

	out, err = execute(t, "--config", cfg, "list", "--location", "loc-1", "--json")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	var machines []machine.Machine
	if err := json.Unmarshal([]byte(out), &machines); err != nil {
		t.Fatalf("list output is not JSON: %v\n%s", err, out)
	}
	if len(machines) != 2 || machines[0].ID != "w-1" || machines[0].Status != machine.StatusAvailable {
		t.Errorf("list = %+v", machines)
	}

	out, err = execute(t, "--config", cfg, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	// Header plus five machines.
	if lines := strings.Count(strings.TrimSpace(out), "\n") + 1; lines != 6 {
		t.Errorf("list table has %d lines, want 6:\n%s", lines, out)
	}

	out, err = execute(t, "--config", cfg, "reset", "w-1")
	if err != nil {
		t.Fatalf("reset error = %v", err)
	}
	if !strings.Contains(out, "w-1 is AVAILABLE") {
		t.Errorf("reset output = %q", out)
	}

	if _, err := execute(t, "--config", cfg, "reset", "missing"); err == nil {
		t.Error("reset of a missing machine should fail")
	}
}

func TestProvision_RequiresIDsOrCount(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := execute(t, "--config", cfg, "provision", "--location", "loc-1"); err == nil {
		t.Error("provision without --id or --count should fail")
	}
	if _, err := execute(t, "--config", cfg, "provision", "--id", "w-1"); err == nil {
		t.Error("provision without --location should fail")
	}
}

func TestToken(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "token", "--subject", "kiosk-3", "--role", "operator")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}
	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "kiosk-3" || claims.Role != auth.RoleOperator {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := execute(t, "--config", cfg, "token", "--subject", "x", "--role", "admin"); err == nil {
		t.Error("token with unknown role should fail")
	}
}

func TestMigrate(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("fresh database should have pending migrations:\n%s", out)
	}

	if _, err := execute(t, "--config", cfg, "migrate"); err != nil {
		t.Fatalf("migrate up error = %v", err)
	}
	out, err = execute(t, "--config", cfg, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if strings.Contains(out, "pending") || !strings.Contains(out, "applied") {
		t.Errorf("status after up:\n%s", out)
	}

	if _, err := execute(t, "--config", cfg, "migrate", "sideways"); err == nil {
		t.Error("unknown migrate action should fail")
	}
}

func TestMigrate_BadgerHasNoMigrations(t *testing.T) {
	cfg := writeConfig(t)
	t.Setenv("MACHINEALLOC_STORE_BACKEND", "badger")
	t.Setenv("MACHINEALLOC_STORE_BADGER_DIR", t.TempDir())

	out, err := execute(t, "--config", cfg, "migrate")
	if err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if !strings.Contains(out, "no schema migrations") {
		t.Errorf("output = %q", out)
	}
}
