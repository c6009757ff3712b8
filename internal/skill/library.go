// Package skill loads markdown skill files that extend the agent's
// system prompt. A skill lives at <dir>/<name>/SKILL.md and may start
// with a YAML front matter block:
//
//	---
//	name: github
//	description: Work with GitHub via the gh CLI
//	always: false
//	---
//
// Skills marked always:true are inlined into every context; the rest
// are listed in a catalog so the model can read them on demand.
package skill

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is one loaded skill: front matter plus markdown body.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Always      bool   `yaml:"always"`

	Body string `yaml:"-"`
	Path string `yaml:"-"`
}

// Library holds every skill found under one directory. Loading happens
// once at startup; afterwards the library is read-only.
type Library struct {
	dir    string
	skills []Skill
	logger *slog.Logger
}

func NewLibrary(dir string, logger *slog.Logger) *Library {
	return &Library{dir: dir, logger: logger}
}

// Load scans the skills directory. A missing directory is not an error:
// the library just stays empty. Unparseable skill files are skipped with
// a warning so one broken file cannot take down startup.
func (l *Library) Load() error {
	l.skills = nil

	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		l.logger.Debug("skills directory does not exist, skipping", "dir", l.dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read skills dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, entry.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		s, err := parse(data)
		if err != nil {
			l.logger.Warn("cannot parse skill file", "path", path, "err", err)
			continue
		}
		if s.Name == "" {
			s.Name = entry.Name()
		}
		s.Path = path

		l.logger.Info("loaded skill", "name", s.Name, "always", s.Always)
		l.skills = append(l.skills, s)
	}

	sort.Slice(l.skills, func(i, j int) bool { return l.skills[i].Name < l.skills[j].Name })
	return nil
}

// All returns every loaded skill in name order.
func (l *Library) All() []Skill { return l.skills }

// AlwaysOn returns the skills inlined into every context.
func (l *Library) AlwaysOn() []Skill {
	var out []Skill
	for _, s := range l.skills {
		if s.Always {
			out = append(out, s)
		}
	}
	return out
}

// Catalog renders the on-demand skills as a short listing the model can
// act on with read_file. Empty when every skill is always-on.
func (l *Library) Catalog() string {
	var b strings.Builder
	for _, s := range l.skills {
		if s.Always {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s (%s)\n", s.Name, s.Description, s.Path)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parse splits an optional YAML front matter block from the markdown body.
func parse(data []byte) (Skill, error) {
	var s Skill
	text := string(data)

	if !strings.HasPrefix(text, "---\n") {
		s.Body = strings.TrimSpace(text)
		return s, nil
	}

	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return s, fmt.Errorf("unterminated front matter")
	}

	if err := yaml.Unmarshal([]byte(rest[:end]), &s); err != nil {
		return s, fmt.Errorf("parse front matter: %w", err)
	}

	body := rest[end+len("\n---"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	}
	s.Body = strings.TrimSpace(body)
	return s, nil
}
