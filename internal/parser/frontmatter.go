package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

// Frontmatter represents the YAML frontmatter in ticket files
type Frontmatter struct {
	State     string   `yaml:"state"`
	Priority  string   `yaml:"priority"`
	DependsOn []string `yaml:"depends_on"`
	Parent    string   `yaml:"parent"`
	Artifacts []string `yaml:"artifacts"`
}

// ParseFrontmatter extracts YAML frontmatter from markdown content.
// Returns the frontmatter, remaining content, and any error.
func ParseFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{}, content, nil
	}

	rest := content[4:]
	endIdx := bytes.Index(rest, []byte("\n---"))
	if endIdx == -1 {
		return &Frontmatter{}, content, nil
	}

	fmData := rest[:endIdx]
	remaining := rest[endIdx+4:] // skip \n---

	var fm Frontmatter
	if err := yaml.Unmarshal(fmData, &fm); err != nil {
		return nil, nil, err
	}

	return &fm, bytes.TrimLeft(remaining, "\n"), nil
}

// ParseState converts a frontmatter state string to a TicketState.
// The empty string means unprocessed; anything else must name a real
// state, because a typo silently becoming "unprocessed" would restart
// finished work.
func ParseState(s string) (domain.TicketState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return domain.StateUnprocessed, nil
	case string(domain.StateUnprocessed):
		return domain.StateUnprocessed, nil
	case string(domain.StateInProgress):
		return domain.StateInProgress, nil
	case string(domain.StateCompleted):
		return domain.StateCompleted, nil
	case string(domain.StateDeferred):
		return domain.StateDeferred, nil
	case string(domain.StateFailed):
		return domain.StateFailed, nil
	default:
		return "", fmt.Errorf("unknown ticket state %q", s)
	}
}
