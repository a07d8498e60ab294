//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// ticketFixtures is a small dependency graph: AUTH-001 is done,
// AUTH-002 and AUTH-003 wait on it, API-001 waits on AUTH-002, and
// API-002 depends on nothing.
var ticketFixtures = map[string]string{
	"AUTH-001-password-hashing.md": `---
state: completed
priority: P0
---
# Password hashing
`,
	"AUTH-002-login-flow.md": `---
priority: P1
depends_on:
  - AUTH-001
artifacts:
  - internal/auth/login.go
---
# Login flow
`,
	"AUTH-003-token-refresh.md": `---
priority: P0
depends_on:
  - AUTH-001
artifacts:
  - internal/auth/token.go
---
# Token refresh
`,
	"API-001-rate-limits.md": `---
priority: P2
depends_on:
  - AUTH-002
---
# Rate limits
`,
	"API-002-api-docs.md": `---
priority: P3
---
# API docs
`,
}

// SeedTickets writes the fixture ticket files into a temp directory
func SeedTickets(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tickets")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating tickets dir: %v", err)
	}
	for name, content := range ticketFixtures {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return dir
}

// InitGitRepo creates a git repository with one seed commit and
// returns its path. Tests needing a working tree to commit into use
// this.
func InitGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	GitRun(t, dir, "init")
	GitRun(t, dir, "config", "user.email", "test@example.com")
	GitRun(t, dir, "config", "user.name", "Test")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test repo\n"), 0644); err != nil {
		t.Fatalf("writing README: %v", err)
	}
	GitRun(t, dir, "add", "-A")
	GitRun(t, dir, "commit", "-m", "initial commit")

	return dir
}

// GitRun runs a git command in dir and fails the test on error
func GitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// gitTry runs a git command in dir and returns its combined output
// and error, for steps that are expected to fail.
func gitTry(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// WriteFile writes content under the repo root, creating parents
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
}
