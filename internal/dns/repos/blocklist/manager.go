package blocklist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jmhodges/clock"

	logpkg "github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/parsers"
)

// DefaultDebounce is how long the watcher waits for the directory to settle
// before reloading.
const DefaultDebounce = 500 * time.Millisecond

// ListExtensions are the file extensions read from the list directory.
var ListExtensions = []string{".txt", ".hosts", ".list"}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Dir      string
	Repo     Repository
	Clock    clock.Clock
	Logger   logpkg.Logger
	Debounce time.Duration
}

// ManagerStats describes the active rule set.
type ManagerStats struct {
	Directory  string    `json:"directory"`
	Lists      int       `json:"lists"`
	Rules      int       `json:"rules"`
	Version    uint64    `json:"version"`
	LastReload time.Time `json:"last_reload"`
	Repo       RepoStats `json:"repo"`
}

// Manager owns the named lists in the list directory. Each list file is one
// list, named after the file without its extension. The active rule set is
// the union of every list; every change is written back to the list's file
// before the Repository snapshot is rebuilt, so the directory is always the
// source of truth and a restart or Reload loses nothing.
type Manager struct {
	dir      string
	repo     Repository
	clk      clock.Clock
	logger   logpkg.Logger
	debounce time.Duration

	mu         sync.Mutex
	lists      map[string]*namedList
	version    uint64
	lastReload time.Time

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager builds a Manager with no lists. Call Reload to read the
// directory.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Repo == nil {
		return nil, errors.New("blocklist manager requires a repository")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNoopLogger()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Manager{
		dir:      opts.Dir,
		repo:     opts.Repo,
		clk:      opts.Clock,
		logger:   opts.Logger.With(map[string]any{"component": "blocklist"}),
		debounce: opts.Debounce,
		lists:    make(map[string]*namedList),
	}, nil
}

// Decide reports whether name is blocked by the active rule set.
func (m *Manager) Decide(name string) domain.BlockDecision {
	return m.repo.Decide(name)
}

// Reload re-reads every list file in the directory and rebuilds the
// snapshot. A missing directory is an empty rule set. It returns the number
// of active rules.
func (m *Manager) Reload() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lists, err := m.readDir()
	if err != nil {
		return 0, err
	}
	m.lists = lists
	n, err := m.rebuildLocked()
	if err != nil {
		return 0, err
	}
	m.logger.Info(map[string]any{"lists": len(lists), "rules": n, "version": m.version}, "blocklist reloaded")
	return n, nil
}

// Add stores pattern ("example.com" or "*.example.com") in DefaultList,
// creating the list file when needed.
func (m *Manager) Add(pattern string) (domain.BlockRule, error) {
	rule, err := parsers.ParsePattern(pattern, DefaultList, m.clk.Now())
	if err != nil {
		return domain.BlockRule{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[DefaultList]
	if !ok {
		l = newNamedList(DefaultList, DefaultList+".txt", parsers.FormatPlain)
	}
	next := l.clone()
	next.rules[rule.Pattern()] = rule
	if err := m.commitLocked(next); err != nil {
		return domain.BlockRule{}, err
	}
	m.logger.Info(map[string]any{"pattern": rule.Pattern(), "list": DefaultList}, "blocklist rule added")
	return rule, nil
}

// Remove deletes pattern from every list holding it. It reports false when
// no list held it.
func (m *Manager) Remove(pattern string) (bool, error) {
	rule, err := parsers.ParsePattern(pattern, DefaultList, m.clk.Now())
	if err != nil {
		return false, err
	}
	key := rule.Pattern()

	m.mu.Lock()
	defer m.mu.Unlock()
	var touched []*namedList
	for _, name := range m.sortedNamesLocked() {
		l := m.lists[name]
		if _, ok := l.rules[key]; ok {
			next := l.clone()
			delete(next.rules, key)
			touched = append(touched, next)
		}
	}
	if len(touched) == 0 {
		return false, nil
	}
	var werr error
	for _, next := range touched {
		if werr = writeListFile(m.dir, next); werr != nil {
			break
		}
		m.lists[next.name] = next
	}
	if _, err := m.rebuildLocked(); err != nil {
		return false, err
	}
	if werr != nil {
		return false, werr
	}
	m.logger.Info(map[string]any{"pattern": key, "lists": len(touched)}, "blocklist rule removed")
	return true, nil
}

// Patterns lists the active patterns in sorted order.
func (m *Manager) Patterns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := m.activeLocked()
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Pattern()
	}
	return out
}

func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	st := ManagerStats{
		Directory:  m.dir,
		Lists:      len(m.lists),
		Rules:      len(m.activeLocked()),
		Version:    m.version,
		LastReload: m.lastReload,
	}
	m.mu.Unlock()
	st.Repo = m.repo.RepoStats()
	return st
}

// Watch reloads the directory whenever a list file in it changes. Bursts of
// events within the debounce window collapse into one reload. The watcher
// stops when ctx is done or on Close.
func (m *Manager) Watch(ctx context.Context) error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watcher != nil {
		return errors.New("blocklist watcher already running")
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create blocklist dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(m.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", m.dir, err)
	}
	m.watcher = w
	m.done = make(chan struct{})
	go m.watchLoop(ctx, w, m.done)
	m.logger.Info(map[string]any{"dir": m.dir}, "watching blocklist directory")
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !isListFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				m.logger.Debug(map[string]any{"file": event.Name, "op": event.Op.String()}, "blocklist file changed")
				reload = m.clk.After(m.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Warn(map[string]any{"error": err.Error()}, "blocklist watcher error")
		case <-reload:
			reload = nil
			if _, err := m.Reload(); err != nil {
				m.logger.Error(map[string]any{"error": err.Error()}, "blocklist reload failed")
			}
		}
	}
}

// Close stops the watcher and releases the repository.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	w, done := m.watcher, m.done
	m.watcher, m.done = nil, nil
	m.watchMu.Unlock()
	if w != nil {
		_ = w.Close()
		<-done
	}
	return m.repo.Close()
}

// readDir parses every list file. When two files share a base name the first
// in directory order wins and the other is skipped.
func (m *Manager) readDir() (map[string]*namedList, error) {
	lists := make(map[string]*namedList)
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		m.logger.Warn(map[string]any{"dir": m.dir}, "blocklist directory missing")
		return lists, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blocklist dir: %w", err)
	}
	now := m.clk.Now()
	for _, e := range entries {
		if e.IsDir() || !isListFile(e.Name()) {
			continue
		}
		name := listNameFromFile(e.Name())
		if err := ValidateListName(name); err != nil {
			m.logger.Warn(map[string]any{"file": e.Name()}, "skipping blocklist file with unusable name")
			continue
		}
		if prev, dup := lists[name]; dup {
			m.logger.Warn(map[string]any{"file": e.Name(), "kept": prev.file}, "skipping blocklist file with duplicate name")
			continue
		}
		l, err := m.readFile(e.Name(), name, now)
		if err != nil {
			m.logger.Warn(map[string]any{"file": e.Name(), "error": err.Error()}, "skipping blocklist file")
			continue
		}
		lists[name] = l
		m.logger.Debug(map[string]any{"file": e.Name(), "format": l.format.String(), "rules": len(l.rules)}, "blocklist file parsed")
	}
	return lists, nil
}

func (m *Manager) readFile(file, name string, now time.Time) (*namedList, error) {
	f, err := os.Open(filepath.Join(m.dir, file))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rules, format, err := parsers.Parse(f, name, m.logger, now)
	if err != nil {
		return nil, err
	}
	l := newNamedList(name, file, format)
	for _, r := range rules {
		l.rules[r.Pattern()] = r
	}
	return l, nil
}

// commitLocked persists next and swaps it in.
func (m *Manager) commitLocked(next *namedList) error {
	if err := writeListFile(m.dir, next); err != nil {
		return err
	}
	m.lists[next.name] = next
	_, err := m.rebuildLocked()
	return err
}

func (m *Manager) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.lists))
	for name := range m.lists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// activeLocked is the union of every list, sorted by pattern. A pattern held
// by several lists is attributed to the first list by name.
func (m *Manager) activeLocked() []domain.BlockRule {
	merged := make(map[string]domain.BlockRule)
	for _, name := range m.sortedNamesLocked() {
		for k, r := range m.lists[name].rules {
			if _, dup := merged[k]; !dup {
				merged[k] = r
			}
		}
	}
	out := make([]domain.BlockRule, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern() < out[j].Pattern() })
	return out
}

func (m *Manager) rebuildLocked() (int, error) {
	rules := m.activeLocked()
	now := m.clk.Now()
	if err := m.repo.UpdateAll(rules, m.version+1, now.Unix()); err != nil {
		return 0, fmt.Errorf("rebuild blocklist: %w", err)
	}
	m.version++
	m.lastReload = now
	return len(rules), nil
}

func isListFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ListExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func listNameFromFile(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
