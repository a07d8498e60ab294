// Package gitops runs git against the shared working tree. Every
// command goes through one process-level mutex because git locks the
// index file and concurrent invocations trip over each other.
package gitops

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Repo is a git working tree rooted at a fixed directory
type Repo struct {
	root string
	mu   sync.Mutex
}

// New creates a Repo for the working tree at root
func New(root string) *Repo {
	return &Repo{root: root}
}

// Root returns the working tree directory
func (r *Repo) Root() string {
	return r.root
}

// git runs a git command in the working tree and returns its combined
// output
func (r *Repo) git(args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.root
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\n%s", args[0], err, output)
	}
	return output, nil
}

// SplitExisting partitions files into those present under root and
// those missing. Paths are interpreted relative to root.
func SplitExisting(root string, files []string) (existing, missing []string) {
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(root, file)); err != nil {
			missing = append(missing, file)
			continue
		}
		existing = append(existing, file)
	}
	return existing, missing
}

// Stage adds files to the index. Files that do not exist in the
// working tree are skipped and reported back rather than failing the
// whole staging pass.
func (r *Repo) Stage(files []string) (staged, missing []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged, missing = SplitExisting(r.root, files)
	if len(staged) == 0 {
		return nil, missing, nil
	}

	args := append([]string{"add", "--"}, staged...)
	if _, err := r.git(args...); err != nil {
		return nil, missing, err
	}
	return staged, missing, nil
}

// HasStagedChanges reports whether the index differs from HEAD
func (r *Repo) HasStagedChanges() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := exec.Command("git", "diff", "--cached", "--quiet")
	cmd.Dir = r.root
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return true, nil
		}
		return false, fmt.Errorf("git diff failed: %w", err)
	}
	return false, nil
}

// ChangedFiles lists paths that differ from HEAD, staged or not.
// Untracked files are included.
func (r *Repo) ChangedFiles() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	output, err := r.git("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(output), nil
}

// parsePorcelain extracts file paths from git status --porcelain output
func parsePorcelain(output []byte) []string {
	var files []string
	for _, line := range strings.Split(string(output), "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		// Renames show as "old -> new"; the new path is what changed.
		if idx := strings.Index(path, " -> "); idx != -1 {
			path = path[idx+4:]
		}
		files = append(files, strings.Trim(path, `"`))
	}
	return files
}

// Commit records the staged changes and returns the new short hash
func (r *Repo) Commit(message string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.git("commit", "-m", message); err != nil {
		return "", err
	}

	output, err := r.git("rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// HasConflicts reports whether the index holds unmerged entries
func (r *Repo) HasConflicts() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	output, err := r.git("ls-files", "-u")
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// ResetHard discards the index and working tree back to HEAD
func (r *Repo) ResetHard() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.git("reset", "--hard", "HEAD")
	return err
}

// Pull rebases the working tree onto the remote
func (r *Repo) Pull() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.git("pull", "--rebase")
	return err
}

// Head returns the current short commit hash
func (r *Repo) Head() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	output, err := r.git("rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// IsConflictError reports whether a git failure looks like a merge
// conflict rather than an ordinary error.
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "CONFLICT") ||
		strings.Contains(err.Error(), "needs merge") ||
		strings.Contains(err.Error(), "unmerged")
}
