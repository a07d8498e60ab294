//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binaryPath returns the path to the built CLI binary
func binaryPath(t *testing.T) string {
	t.Helper()
	// Look for the binary in common locations
	paths := []string{
		"../ticket-orch",
		"./ticket-orch",
		filepath.Join(os.Getenv("GOPATH"), "bin", "ticket-orch"),
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	// Try to build it
	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../ticket-orch", "../cmd/ticket-orch")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	abs, _ := filepath.Abs("../ticket-orch")
	return abs
}

// createTestConfig writes a config pointing every path at temp space
func createTestConfig(t *testing.T, projectRoot string) string {
	t.Helper()
	stateDir := t.TempDir()
	configPath := filepath.Join(stateDir, "config.toml")

	config := `[general]
project_root = "` + projectRoot + `"
tickets_dir = "tickets"
database_path = "` + filepath.Join(stateDir, "tickets.db") + `"

[queue]
database_path = "` + filepath.Join(stateDir, "queue.db") + `"
lock_path = "` + filepath.Join(stateDir, "commit.lock") + `"

[notifications]
desktop = false

[web]
port = 8080
host = "127.0.0.1"
`

	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	return configPath
}

func runCLI(t *testing.T, binary, configPath string, args ...string) string {
	t.Helper()
	args = append(args, "--config", configPath)
	out, err := exec.Command(binary, args...).CombinedOutput()
	if err != nil {
		t.Fatalf("%s failed: %v\n%s", args[0], err, out)
	}
	return string(out)
}

// TestCLI_Sync tests the sync command
func TestCLI_Sync(t *testing.T) {
	binary := binaryPath(t)
	ticketsDir := SeedTickets(t)
	configPath := createTestConfig(t, filepath.Dir(ticketsDir))

	output := runCLI(t, binary, configPath, "sync")

	if !strings.Contains(output, "Synced") {
		t.Errorf("Expected 'Synced' in output, got: %s", output)
	}
	if !strings.Contains(output, "5 tickets") {
		t.Errorf("Expected '5 tickets' in output, got: %s", output)
	}
}

// TestCLI_Status tests the status command
func TestCLI_Status(t *testing.T) {
	binary := binaryPath(t)
	ticketsDir := SeedTickets(t)
	configPath := createTestConfig(t, filepath.Dir(ticketsDir))

	runCLI(t, binary, configPath, "sync")
	output := runCLI(t, binary, configPath, "status")

	// 5 fixtures: AUTH-001 completed, the rest unprocessed
	if !strings.Contains(output, "5 total") {
		t.Errorf("Expected '5 total' in output, got: %s", output)
	}
	if !strings.Contains(output, "4 unprocessed") {
		t.Errorf("Expected '4 unprocessed' in output, got: %s", output)
	}
	if !strings.Contains(output, "1 completed") {
		t.Errorf("Expected '1 completed' in output, got: %s", output)
	}
}

// TestCLI_List tests the list command
func TestCLI_List(t *testing.T) {
	binary := binaryPath(t)
	ticketsDir := SeedTickets(t)
	configPath := createTestConfig(t, filepath.Dir(ticketsDir))

	runCLI(t, binary, configPath, "sync")
	output := runCLI(t, binary, configPath, "list")

	expected := []string{"AUTH-001", "AUTH-002", "AUTH-003", "API-001", "API-002"}
	for _, id := range expected {
		if !strings.Contains(output, id) {
			t.Errorf("Expected ticket %s in output, got: %s", id, output)
		}
	}

	if !strings.Contains(output, "ID") || !strings.Contains(output, "STATE") {
		t.Errorf("Expected table header in output, got: %s", output)
	}
}

// TestCLI_ListWithStateFilter tests the list command with a state filter
func TestCLI_ListWithStateFilter(t *testing.T) {
	binary := binaryPath(t)
	ticketsDir := SeedTickets(t)
	configPath := createTestConfig(t, filepath.Dir(ticketsDir))

	runCLI(t, binary, configPath, "sync")
	output := runCLI(t, binary, configPath, "list", "--state", "completed")

	if !strings.Contains(output, "AUTH-001") {
		t.Errorf("Expected AUTH-001 (completed) in output, got: %s", output)
	}
	if strings.Contains(output, "AUTH-002") {
		t.Errorf("Did not expect AUTH-002 (unprocessed) in output, got: %s", output)
	}
}

// TestCLI_Ready tests the ready command
func TestCLI_Ready(t *testing.T) {
	binary := binaryPath(t)
	ticketsDir := SeedTickets(t)
	configPath := createTestConfig(t, filepath.Dir(ticketsDir))

	runCLI(t, binary, configPath, "sync")
	output := runCLI(t, binary, configPath, "ready")

	if !strings.Contains(output, "Ready (3):") {
		t.Errorf("Expected 'Ready (3):' in output, got: %s", output)
	}
	for _, id := range []string{"AUTH-002", "AUTH-003", "API-002"} {
		if !strings.Contains(output, id) {
			t.Errorf("Expected %s to be ready, got: %s", id, output)
		}
	}

	// AUTH-003 is P0 and must come before P1 AUTH-002
	if strings.Index(output, "AUTH-003") > strings.Index(output, "AUTH-002") {
		t.Errorf("Expected AUTH-003 before AUTH-002, got: %s", output)
	}

	if !strings.Contains(output, "API-001 waiting on AUTH-002") {
		t.Errorf("Expected blocked report for API-001, got: %s", output)
	}
}

// TestCLI_Plan tests the plan command
func TestCLI_Plan(t *testing.T) {
	binary := binaryPath(t)
	ticketsDir := SeedTickets(t)
	configPath := createTestConfig(t, filepath.Dir(ticketsDir))

	runCLI(t, binary, configPath, "sync")
	output := runCLI(t, binary, configPath, "plan")

	// API-001 sits behind AUTH-002 behind AUTH-001
	if !strings.Contains(output, "Critical path: API-001 (depth 3)") {
		t.Errorf("Expected critical path API-001 at depth 3, got: %s", output)
	}
}

// TestCLI_Batch tests the batch command
func TestCLI_Batch(t *testing.T) {
	binary := binaryPath(t)
	ticketsDir := SeedTickets(t)
	configPath := createTestConfig(t, filepath.Dir(ticketsDir))

	runCLI(t, binary, configPath, "sync")
	output := runCLI(t, binary, configPath, "batch", "--workers", "2")

	if !strings.Contains(output, "Next batch (2 workers):") {
		t.Errorf("Expected batch header, got: %s", output)
	}
	if !strings.Contains(output, "AUTH-003") || !strings.Contains(output, "AUTH-002") {
		t.Errorf("Expected the two highest-priority ready tickets, got: %s", output)
	}
	if strings.Contains(output, "API-002") {
		t.Errorf("Did not expect API-002 in a batch of 2, got: %s", output)
	}
	if !strings.Contains(output, "3 ready tickets need 2 batches at 2 workers, final batch of 1") {
		t.Errorf("Expected batch stats, got: %s", output)
	}
}

// TestCLI_ReadyRefusesCycle tests that scheduling fails closed on a cycle
func TestCLI_ReadyRefusesCycle(t *testing.T) {
	binary := binaryPath(t)
	ticketsDir := SeedTickets(t)
	configPath := createTestConfig(t, filepath.Dir(ticketsDir))

	cyclic := map[string]string{
		"CYC-001-chicken.md": `---
state: unprocessed
priority: P1
depends_on: [CYC-002]
---

# Chicken
`,
		"CYC-002-egg.md": `---
state: unprocessed
priority: P1
depends_on: [CYC-001]
---

# Egg
`,
	}
	for name, body := range cyclic {
		if err := os.WriteFile(filepath.Join(ticketsDir, name), []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	runCLI(t, binary, configPath, "sync")

	cmd := exec.Command(binary, "ready", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("Expected ready to fail on a cyclic graph, got: %s", out)
	}
	if !strings.Contains(string(out), "dependency cycle detected") {
		t.Errorf("Expected cycle error, got: %s", out)
	}
}

// TestCLI_InvalidCommand tests error handling for invalid commands
func TestCLI_InvalidCommand(t *testing.T) {
	binary := binaryPath(t)

	cmd := exec.Command(binary, "invalidcommand")
	out, err := cmd.CombinedOutput()

	if err == nil {
		t.Error("Expected error for invalid command")
	}

	output := string(out)
	if !strings.Contains(output, "unknown command") && !strings.Contains(output, "Usage") {
		t.Errorf("Expected error message or usage info, got: %s", output)
	}
}

// TestCLI_SyncMissingTicketsDir tests the error when the tickets dir does not exist
func TestCLI_SyncMissingTicketsDir(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, t.TempDir()) // no tickets/ underneath

	cmd := exec.Command(binary, "sync", "--config", configPath)
	out, err := cmd.CombinedOutput()

	if err == nil {
		t.Error("Expected error when the tickets directory is missing")
	}
	if !strings.Contains(string(out), "tickets") {
		t.Errorf("Expected the missing path in the error, got: %s", out)
	}
}
