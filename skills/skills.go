// Package skills loads task-specific instruction fragments from
// <workspace>/skills/<name>/SKILL.md.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const defaultVersion = "0.1.0"

// Skill is one loaded skill.
type Skill struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Author      string   `yaml:"author,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`

	// Location is the SKILL.md path; Body is its text without front matter.
	Location string `yaml:"-"`
	Body     string `yaml:"-"`
}

// Dir loads skills from a skills directory once and caches them.
type Dir struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	skills []Skill
}

// NewDir returns a loader for <workspace>/skills.
func NewDir(workspace string, logger *slog.Logger) *Dir {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{path: filepath.Join(workspace, "skills"), logger: logger}
}

// Path returns the skills directory.
func (d *Dir) Path() string { return d.path }

// LoadAll returns all skills sorted by name, loading them on first use.
func (d *Dir) LoadAll() ([]Skill, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		skills, err := LoadDir(d.path, d.logger)
		if err != nil {
			return nil, err
		}
		d.skills, d.loaded = skills, true
	}
	out := make([]Skill, len(d.skills))
	copy(out, d.skills)
	return out, nil
}

// Reload drops the cache and reads the directory again.
func (d *Dir) Reload() ([]Skill, error) {
	d.mu.Lock()
	d.loaded = false
	d.mu.Unlock()
	return d.LoadAll()
}

// LoadDir reads every skill under dir. A missing directory yields no
// skills. Unreadable skills are logged and skipped.
func LoadDir(dir string, logger *slog.Logger) ([]Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("skills: %w", err)
	}

	byName := map[string]Skill{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if unsafeName(entry.Name()) {
			logger.Warn("skipping unsafe skill name", "name", entry.Name())
			continue
		}
		skill, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Warn("failed to load skill", "name", entry.Name(), "error", err)
			continue
		}
		byName[skill.Name] = skill
	}

	skills := make([]Skill, 0, len(byName))
	for _, s := range byName {
		skills = append(skills, s)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	logger.Debug("skills loaded", "count", len(skills), "path", dir)
	return skills, nil
}

// Load reads <skillDir>/SKILL.md.
func Load(skillDir string) (Skill, error) {
	path := filepath.Join(skillDir, "SKILL.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	skill := Parse(string(data), filepath.Base(skillDir))
	skill.Location = path
	return skill, nil
}

// Parse builds a Skill from SKILL.md text. Front matter is used when it
// parses and names the skill; otherwise the first heading and first
// paragraph line are used.
func Parse(content, dirName string) Skill {
	text := content
	if fm, body, ok := splitFrontMatter(content); ok {
		var s Skill
		if err := yaml.Unmarshal([]byte(fm), &s); err == nil && s.Name != "" {
			if s.Version == "" {
				s.Version = defaultVersion
			}
			s.Body = strings.TrimSpace(body)
			return s
		}
		text = body
	}

	s := Skill{Version: defaultVersion, Body: strings.TrimSpace(text)}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "#"):
			if s.Name == "" && strings.HasPrefix(trimmed, "# ") {
				s.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
			}
		case s.Description == "":
			s.Description = trimmed
		}
	}
	if s.Name == "" {
		s.Name = dirName
	}
	if s.Description == "" {
		s.Description = "No description"
	}
	return s
}

func splitFrontMatter(content string) (string, string, bool) {
	lines := strings.Split(content, "\n")
	if len(lines) < 3 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), true
		}
	}
	return "", "", false
}

func unsafeName(name string) bool {
	return name == "" || strings.HasPrefix(name, ".") || strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`)
}
