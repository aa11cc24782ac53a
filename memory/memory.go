// Package memory is the markdown-backed memory store. Entries are appended
// to files under <workspace>/memory and recalled by keyword scoring.
package memory

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category groups entries into files.
type Category string

const (
	CategoryCore  Category = "core"
	CategoryDaily Category = "daily"
)

// ParseCategory maps a user-supplied name to a Category. Empty means core.
func ParseCategory(name string) Category {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return CategoryCore
	}
	return Category(name)
}

// Entry is one stored memory.
type Entry struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// Hit is an entry matched by Recall.
type Hit struct {
	Entry
	Score float64 `json:"score"`
}

var headerRe = regexp.MustCompile(`^### (.+) \(([^()]+)\)\s*$`)

// Store persists entries as markdown blocks:
//
//	### key (2006-01-02T15:04:05Z07:00)
//	content
//
// Writes only ever append.
type Store struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
	mu     sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and daily files.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a store rooted at <workspace>/memory.
func NewStore(workspace string, opts ...Option) *Store {
	s := &Store{
		dir:    filepath.Join(workspace, "memory"),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the directory holding memory files.
func (s *Store) Dir() string { return s.dir }

func (s *Store) pathFor(c Category, at time.Time) string {
	switch c {
	case CategoryCore:
		return filepath.Join(s.dir, "MEMORY.md")
	case CategoryDaily:
		return filepath.Join(s.dir, "daily", at.Format("2006-01-02")+".md")
	default:
		return filepath.Join(s.dir, string(c)+".md")
	}
}

// Append stores an entry and returns it with key, category and timestamp
// filled in.
func (s *Store) Append(e Entry) (Entry, error) {
	if strings.TrimSpace(e.Content) == "" {
		return Entry{}, fmt.Errorf("memory: empty content")
	}
	if e.Category == "" {
		e.Category = CategoryCore
	}
	if strings.ContainsAny(string(e.Category), `/\`) || strings.HasPrefix(string(e.Category), ".") {
		return Entry{}, fmt.Errorf("memory: invalid category %q", e.Category)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Key = strings.TrimSpace(strings.ReplaceAll(e.Key, "\n", " "))
	if e.Key == "" {
		e.Key = "memory_" + uuid.NewString()[:8]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(e.Category, e.Timestamp)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Entry{}, fmt.Errorf("memory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("memory: %w", err)
	}
	defer f.Close()

	block := fmt.Sprintf("### %s (%s)\n%s\n\n", e.Key, e.Timestamp.Format(time.RFC3339), escapeBody(strings.TrimSpace(e.Content)))
	if _, err := f.WriteString(block); err != nil {
		return Entry{}, fmt.Errorf("memory: %w", err)
	}
	return e, nil
}

// List returns every stored entry, oldest file first.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var files []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: %w", err)
	}
	sort.Strings(files)

	var entries []Entry
	for _, path := range files {
		parsed, err := s.parseFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable memory file", "path", path, "error", err)
			continue
		}
		entries = append(entries, parsed...)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	entries, err := s.List()
	return len(entries), err
}

// Recall returns entries matching query, best first, capped at limit.
func (s *Store) Recall(query string, limit int) ([]Hit, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	return Rank(query, entries, limit), nil
}

func (s *Store) categoryOf(path string) Category {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return CategoryCore
	}
	switch {
	case rel == "MEMORY.md":
		return CategoryCore
	case strings.HasPrefix(rel, "daily"+string(filepath.Separator)):
		return CategoryDaily
	default:
		return Category(strings.TrimSuffix(rel, ".md"))
	}
}

// escapeBody prefixes a backslash to content lines that would otherwise read
// back as an entry header. Lines already escaped get one more.
func escapeBody(content string) string {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		if headerRe.MatchString(strings.TrimLeft(l, `\`)) {
			lines[i] = `\` + l
		}
	}
	return strings.Join(lines, "\n")
}

func unescapeLine(line string) string {
	if strings.HasPrefix(line, `\`) && headerRe.MatchString(strings.TrimLeft(line, `\`)) {
		return line[1:]
	}
	return line
}

func (s *Store) parseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	category := s.categoryOf(path)
	var (
		entries []Entry
		current *Entry
		body    []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(body, "\n"))
		if current.Content != "" {
			entries = append(entries, *current)
		}
		current, body = nil, nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush()
			ts, _ := time.Parse(time.RFC3339, m[2])
			current = &Entry{Key: m[1], Category: category, Timestamp: ts}
			continue
		}
		if current != nil {
			body = append(body, unescapeLine(line))
		}
	}
	flush()
	return entries, scanner.Err()
}
