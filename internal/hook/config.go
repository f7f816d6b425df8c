package hook

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/claimboard/claimboard/pkg/cerr"
)

// Command is one hook binding inside an agent section. Column is the
// optional bracketed qualifier; empty means the binding applies to every
// column.
type Command struct {
	Column string
	Text   string
}

// AgentConfig is the parsed section for one agent.
type AgentConfig struct {
	Name         string
	Capabilities []string
	Commands     map[Point][]Command
}

// Config is an immutable snapshot of the hook document.
type Config struct {
	Agents map[string]*AgentConfig
}

// Command resolves the command for an agent at a point. A column-qualified
// binding matching any of the given column names wins over an unqualified
// one. The second return is false when nothing is configured.
func (c *Config) Command(agent string, point Point, columns ...string) (string, bool) {
	a, ok := c.Agents[agent]
	if !ok {
		return "", false
	}
	var fallback string
	var found bool
	for _, cmd := range a.Commands[point] {
		if cmd.Column == "" {
			if !found {
				fallback = cmd.Text
				found = true
			}
			continue
		}
		for _, col := range columns {
			if strings.EqualFold(cmd.Column, col) {
				return cmd.Text, true
			}
		}
	}
	return fallback, found
}

// Capabilities returns the capability list declared for an agent.
func (c *Config) Capabilities(agent string) []string {
	if a, ok := c.Agents[agent]; ok {
		return a.Capabilities
	}
	return nil
}

// ParseConfig parses the hook document. Format:
//
//	# comment
//	[agent-name]
//	capabilities = documentation, security_analysis
//	before_claim: ./scripts/prep.sh
//	after_complete [Review]: notify done
//
// Sections are introduced by a bracketed agent name. Each entry binds a
// point, optionally qualified with a bracketed column name before the colon,
// to a literal command. Commands are checked with a shell parser so a typo
// fails here instead of at execution time.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{Agents: map[string]*AgentConfig{}}
	shParser := syntax.NewParser()

	var current *AgentConfig
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, parseErr(lineNo, "unterminated section header")
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return nil, parseErr(lineNo, "empty agent name")
			}
			if _, ok := cfg.Agents[name]; ok {
				return nil, parseErr(lineNo, fmt.Sprintf("duplicate agent section %q", name))
			}
			current = &AgentConfig{Name: name, Commands: map[Point][]Command{}}
			cfg.Agents[name] = current
			continue
		}
		if current == nil {
			return nil, parseErr(lineNo, "entry outside agent section")
		}

		if key, value, ok := strings.Cut(line, "="); ok && !strings.Contains(key, ":") {
			if strings.TrimSpace(key) != "capabilities" {
				return nil, parseErr(lineNo, fmt.Sprintf("unknown key %q", strings.TrimSpace(key)))
			}
			current.Capabilities = splitList(value)
			continue
		}

		head, command, ok := strings.Cut(line, ":")
		if !ok {
			return nil, parseErr(lineNo, "expected 'point: command'")
		}
		point, column, err := splitPoint(head, lineNo)
		if err != nil {
			return nil, err
		}
		command = strings.TrimSpace(command)
		if command == "" {
			return nil, parseErr(lineNo, fmt.Sprintf("empty command for %s", point))
		}
		if _, err := shParser.Parse(strings.NewReader(command), "hooks.conf"); err != nil {
			return nil, parseErr(lineNo, fmt.Sprintf("invalid command: %v", err))
		}
		current.Commands[point] = append(current.Commands[point], Command{Column: column, Text: command})
	}
	if err := scanner.Err(); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "failed to read hook config", err)
	}
	return cfg, nil
}

func splitPoint(head string, lineNo int) (Point, string, error) {
	head = strings.TrimSpace(head)
	var column string
	if i := strings.Index(head, "["); i >= 0 {
		if !strings.HasSuffix(head, "]") {
			return "", "", parseErr(lineNo, "unterminated column qualifier")
		}
		column = strings.TrimSpace(head[i+1 : len(head)-1])
		if column == "" {
			return "", "", parseErr(lineNo, "empty column qualifier")
		}
		head = strings.TrimSpace(head[:i])
	}
	point := Point(head)
	if !point.Valid() {
		return "", "", parseErr(lineNo, fmt.Sprintf("unknown hook point %q", head))
	}
	return point, column, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseErr(line int, msg string) error {
	return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("hook config line %d: %s", line, msg), nil)
}
