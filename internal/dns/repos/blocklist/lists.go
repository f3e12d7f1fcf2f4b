package blocklist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/parsers"
)

// DefaultList receives patterns added through Manager.Add.
const DefaultList = "custom"

// DefaultItemsLimit is the page size of ListItems when none is given.
const DefaultItemsLimit = 100

var (
	ErrListNotFound    = errors.New("blocklist not found")
	ErrListExists      = errors.New("blocklist already exists")
	ErrInvalidListName = errors.New("invalid blocklist name")
)

var listNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// reservedListNames collide with the /lists/items and /lists/create routes.
var reservedListNames = map[string]struct{}{"items": {}, "create": {}}

// ValidateListName accepts names usable both as a file base name and as a
// URL path segment.
func ValidateListName(name string) error {
	if !listNameRE.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidListName, name)
	}
	if _, ok := reservedListNames[strings.ToLower(name)]; ok {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidListName, name)
	}
	return nil
}

// ListInfo summarizes one named list.
type ListInfo struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	Format string `json:"format"`
	Rules  int    `json:"rules"`
}

// ListUpdate reports the outcome of a write to a named list.
type ListUpdate struct {
	List    string   `json:"list"`
	Added   int      `json:"added"`
	Removed int      `json:"removed"`
	Invalid []string `json:"invalid,omitempty"`
	Total   int      `json:"total"`
}

// ListPage is one page of a list's patterns.
type ListPage struct {
	List   string   `json:"list"`
	Total  int      `json:"total"`
	Offset int      `json:"offset"`
	Limit  int      `json:"limit"`
	Items  []string `json:"items"`
}

type namedList struct {
	name   string
	file   string
	format parsers.Format
	rules  map[string]domain.BlockRule
}

func newNamedList(name, file string, format parsers.Format) *namedList {
	return &namedList{name: name, file: file, format: format, rules: make(map[string]domain.BlockRule)}
}

// clone copies l so a failed write leaves the active list untouched.
func (l *namedList) clone() *namedList {
	c := newNamedList(l.name, l.file, l.format)
	for k, r := range l.rules {
		c.rules[k] = r
	}
	return c
}

func (l *namedList) patterns() []string {
	out := make([]string, 0, len(l.rules))
	for k := range l.rules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// merge adds every item to l. Items may hold several patterns separated by
// commas or whitespace. IP tokens are ignored; anything else that does not
// parse is reported back.
func (l *namedList) merge(items []string, now time.Time) (added int, invalid []string) {
	for _, item := range items {
		for _, tok := range parsers.SplitItems(item) {
			rule, err := parsers.ParsePattern(tok, l.name, now)
			if err != nil {
				if !errors.Is(err, parsers.ErrAddressToken) {
					invalid = append(invalid, tok)
				}
				continue
			}
			if _, ok := l.rules[rule.Pattern()]; ok {
				continue
			}
			l.rules[rule.Pattern()] = rule
			added++
		}
	}
	return added, invalid
}

// Lists describes every named list, sorted by name.
func (m *Manager) Lists() []ListInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ListInfo, 0, len(m.lists))
	for _, name := range m.sortedNamesLocked() {
		l := m.lists[name]
		out = append(out, ListInfo{Name: l.name, File: l.file, Format: l.format.String(), Rules: len(l.rules)})
	}
	return out
}

// CreateList writes a new plain list holding items. It fails with
// ErrListExists when the name is taken.
func (m *Manager) CreateList(name string, items []string) (ListUpdate, error) {
	if err := ValidateListName(name); err != nil {
		return ListUpdate{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lists[name]; ok {
		return ListUpdate{}, fmt.Errorf("%w: %q", ErrListExists, name)
	}
	next := newNamedList(name, name+".txt", parsers.FormatPlain)
	added, invalid := next.merge(items, m.clk.Now())
	if err := m.commitLocked(next); err != nil {
		return ListUpdate{}, err
	}
	m.logger.Info(map[string]any{"list": name, "added": added}, "blocklist created")
	return ListUpdate{List: name, Added: added, Invalid: invalid, Total: len(next.rules)}, nil
}

// AppendToList merges items into an existing list.
func (m *Manager) AppendToList(name string, items []string) (ListUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.listLocked(name)
	if err != nil {
		return ListUpdate{}, err
	}
	next := l.clone()
	added, invalid := next.merge(items, m.clk.Now())
	if added > 0 {
		if err := m.commitLocked(next); err != nil {
			return ListUpdate{}, err
		}
		m.logger.Info(map[string]any{"list": name, "added": added}, "blocklist appended")
	}
	return ListUpdate{List: name, Added: added, Invalid: invalid, Total: len(next.rules)}, nil
}

// ReplaceList swaps the contents of a list for items, creating the list when
// it does not exist yet.
func (m *Manager) ReplaceList(name string, items []string) (ListUpdate, error) {
	if err := ValidateListName(name); err != nil {
		return ListUpdate{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.lists[name]
	next := newNamedList(name, name+".txt", parsers.FormatPlain)
	if ok {
		next = newNamedList(prev.name, prev.file, prev.format)
	}
	_, invalid := next.merge(items, m.clk.Now())
	if err := m.commitLocked(next); err != nil {
		return ListUpdate{}, err
	}
	upd := ListUpdate{List: name, Invalid: invalid, Total: len(next.rules)}
	if ok {
		for k := range next.rules {
			if _, had := prev.rules[k]; !had {
				upd.Added++
			}
		}
		for k := range prev.rules {
			if _, kept := next.rules[k]; !kept {
				upd.Removed++
			}
		}
	} else {
		upd.Added = len(next.rules)
	}
	m.logger.Info(map[string]any{"list": name, "added": upd.Added, "removed": upd.Removed}, "blocklist replaced")
	return upd, nil
}

// ListItems pages through a list's patterns in sorted order, keeping those
// containing q. A zero limit means DefaultItemsLimit.
func (m *Manager) ListItems(name, q string, offset, limit int) (ListPage, error) {
	if limit <= 0 {
		limit = DefaultItemsLimit
	}
	if offset < 0 {
		offset = 0
	}
	m.mu.Lock()
	l, err := m.listLocked(name)
	var all []string
	if err == nil {
		all = l.patterns()
	}
	m.mu.Unlock()
	if err != nil {
		return ListPage{}, err
	}

	q = strings.ToLower(strings.TrimSpace(q))
	matched := all[:0:0]
	for _, p := range all {
		if q == "" || strings.Contains(p, q) {
			matched = append(matched, p)
		}
	}
	page := ListPage{List: name, Total: len(matched), Offset: offset, Limit: limit, Items: []string{}}
	if offset < len(matched) {
		end := min(offset+limit, len(matched))
		page.Items = matched[offset:end]
	}
	return page, nil
}

// RemoveFromList deletes one pattern from one list. It reports false when
// the list does not hold the pattern.
func (m *Manager) RemoveFromList(name, pattern string) (bool, error) {
	rule, err := parsers.ParsePattern(pattern, name, m.clk.Now())
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.listLocked(name)
	if err != nil {
		return false, err
	}
	if _, ok := l.rules[rule.Pattern()]; !ok {
		return false, nil
	}
	next := l.clone()
	delete(next.rules, rule.Pattern())
	if err := m.commitLocked(next); err != nil {
		return false, err
	}
	m.logger.Info(map[string]any{"list": name, "pattern": rule.Pattern()}, "blocklist rule removed")
	return true, nil
}

// DeleteList removes a list and its file.
func (m *Manager) DeleteList(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.listLocked(name)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(m.dir, l.file)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blocklist %q: %w", name, err)
	}
	delete(m.lists, name)
	if _, err := m.rebuildLocked(); err != nil {
		return err
	}
	m.logger.Info(map[string]any{"list": name, "file": l.file}, "blocklist deleted")
	return nil
}

// WriteList copies a list's file to w.
func (m *Manager) WriteList(name string, w io.Writer) error {
	m.mu.Lock()
	l, err := m.listLocked(name)
	var file string
	if err == nil {
		file = l.file
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(m.dir, file))
	if err != nil {
		return fmt.Errorf("open blocklist %q: %w", name, err)
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func (m *Manager) listLocked(name string) (*namedList, error) {
	l, ok := m.lists[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrListNotFound, name)
	}
	return l, nil
}

// writeListFile rewrites a list's file atomically: a temp file in the same
// directory is renamed over it. Hosts lists keep their "0.0.0.0 name" form.
func writeListFile(dir string, l *namedList) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create blocklist dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+l.name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("write blocklist %q: %w", l.name, err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	fmt.Fprintf(bw, "# %s\n", l.name)
	for _, p := range l.patterns() {
		if l.format == parsers.FormatHosts {
			bw.WriteString("0.0.0.0 ")
		}
		bw.WriteString(p)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write blocklist %q: %w", l.name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write blocklist %q: %w", l.name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write blocklist %q: %w", l.name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, l.file)); err != nil {
		return fmt.Errorf("write blocklist %q: %w", l.name, err)
	}
	return nil
}
