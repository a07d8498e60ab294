// Package parser reads ticket definitions from markdown files. A
// ticket file is named after its id, optionally followed by a slug:
// TICKET-001-validators.md defines TICKET-001. The YAML frontmatter
// carries scheduling fields; the first heading is the title.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
)

var (
	// TICKET-001-some-slug.md -> TICKET-001. The id is everything up
	// to and including the trailing number; the slug is optional.
	ticketFileRegex = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9._]*-\d+)(?:-[a-z0-9][a-z0-9-]*)?\.md$`)

	titleRegex = regexp.MustCompile(`^#\s+(.+)$`)
)

// MatchTicketFile extracts the ticket id from a filename, reporting
// whether the name follows the ticket file convention.
func MatchTicketFile(filename string) (id string, ok bool) {
	matches := ticketFileRegex.FindStringSubmatch(filename)
	if matches == nil {
		return "", false
	}
	return matches[1], true
}

// ParseTicketFile parses a single ticket markdown file
func ParseTicketFile(path string) (*domain.Ticket, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	id, ok := MatchTicketFile(filepath.Base(path))
	if !ok {
		return nil, fmt.Errorf("invalid ticket filename: %s", filepath.Base(path))
	}

	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}

	state, err := ParseState(fm.State)
	if err != nil {
		return nil, err
	}
	priority, err := domain.ParsePriority(fm.Priority)
	if err != nil {
		return nil, err
	}

	title := extractTitle(body)
	if title == "" {
		title = id
	}

	now := time.Now()
	ticket := &domain.Ticket{
		ID:           id,
		Title:        title,
		State:        state,
		Priority:     priority,
		Dependencies: fm.DependsOn,
		Parent:       fm.Parent,
		Artifacts:    fm.Artifacts,
		FilePath:     path,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := ticket.Validate(); err != nil {
		return nil, err
	}
	return ticket, nil
}

// ParseTicketsDir walks a directory tree and parses every ticket file
// in it. Two files defining the same ticket id are an error, not a
// silent overwrite.
func ParseTicketsDir(dir string) ([]*domain.Ticket, error) {
	var tickets []*domain.Ticket
	seen := make(map[string]string) // id -> file that defined it

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		id, ok := MatchTicketFile(name)
		if !ok {
			return nil
		}
		if previous, dup := seen[id]; dup {
			return fmt.Errorf("ticket %s defined twice: %s and %s", id, previous, name)
		}
		seen[id] = name

		ticket, err := ParseTicketFile(path)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}
		tickets = append(tickets, ticket)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func extractTitle(content []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if matches := titleRegex.FindStringSubmatch(line); matches != nil {
			return strings.TrimSpace(matches[1])
		}
	}
	return ""
}
