package blocklist_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/bloom"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/bolt"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/lru"
)

func newManager(t *testing.T, dir string, clk clock.Clock) *blocklist.Manager {
	t.Helper()
	store, err := bolt.New(filepath.Join(t.TempDir(), "bl.db"))
	require.NoError(t, err)
	cache, err := lru.New(64)
	require.NoError(t, err)
	repo := blocklist.NewRepository(store, cache, bloom.NewFactory(), 0.01)
	m, err := blocklist.NewManager(blocklist.ManagerOptions{
		Dir:      dir,
		Repo:     repo,
		Clock:    clk,
		Debounce: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// loadedManager is newManager plus an initial Reload.
func loadedManager(t *testing.T, dir string) *blocklist.Manager {
	t.Helper()
	m := newManager(t, dir, clock.NewFake())
	_, err := m.Reload()
	require.NoError(t, err)
	return m
}

func writeList(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func readList(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(b)
}

func TestNewManager_RequiresRepo(t *testing.T) {
	_, err := blocklist.NewManager(blocklist.ManagerOptions{Dir: t.TempDir()})
	require.Error(t, err)
}

func TestManager_ReloadReadsPlainAndHosts(t *testing.T) {
	dir := t.TempDir()
	writeList(t, dir, "ads.txt", "# ads\nads.example.com\n*.tracker.test\n")
	writeList(t, dir, "malware.hosts", "0.0.0.0 malware.test\n127.0.0.1 phish.test # inline\n127.0.0.1 localhost\n")
	writeList(t, dir, "notes.md", "ignored.test\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755))

	m := newManager(t, dir, clock.NewFake())
	n, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, []string{"*.tracker.test", "ads.example.com", "malware.test", "phish.test"}, m.Patterns())

	d := m.Decide("ADS.example.com.")
	assert.True(t, d.Blocked)
	assert.Equal(t, "ads", d.Source)
	assert.Equal(t, domain.BlockRuleExact, d.Kind)

	d = m.Decide("a.b.tracker.test")
	assert.True(t, d.Blocked)
	assert.Equal(t, "tracker.test", d.MatchedRule)
	assert.Equal(t, domain.BlockRuleSuffix, d.Kind)

	assert.False(t, m.Decide("tracker.test").Blocked, "a wildcard leaves the bare domain allowed")
	assert.True(t, m.Decide("phish.test").Blocked)
	assert.Equal(t, "malware", m.Decide("phish.test").Source)
	assert.False(t, m.Decide("ignored.test").Blocked)
	assert.False(t, m.Decide("sub.ads.example.com").Blocked)

	st := m.Stats()
	assert.Equal(t, 2, st.Lists)
	assert.Equal(t, 4, st.Rules)
	assert.Equal(t, uint64(1), st.Version)
	assert.Equal(t, uint64(1), st.Repo.Store.Version)
	assert.Equal(t, uint64(3), st.Repo.Store.ExactKeys)
	assert.Equal(t, uint64(1), st.Repo.Store.SuffixKeys)

	assert.Equal(t, []blocklist.ListInfo{
		{Name: "ads", File: "ads.txt", Format: "plain", Rules: 2},
		{Name: "malware", File: "malware.hosts", Format: "hosts", Rules: 2},
	}, m.Lists())
}

func TestManager_DuplicateListNameKeepsFirstFile(t *testing.T) {
	dir := t.TempDir()
	writeList(t, dir, "ads.hosts", "0.0.0.0 first.test\n")
	writeList(t, dir, "ads.txt", "second.test\n")
	m := loadedManager(t, dir)

	require.Len(t, m.Lists(), 1)
	assert.Equal(t, "ads.hosts", m.Lists()[0].File)
	assert.True(t, m.Decide("first.test").Blocked)
	assert.False(t, m.Decide("second.test").Blocked)
}

func TestManager_MissingDirectoryIsEmpty(t *testing.T) {
	m := newManager(t, filepath.Join(t.TempDir(), "absent"), clock.NewFake())
	n, err := m.Reload()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, m.Decide("example.com").Blocked)
}

func TestManager_AddRemovePersist(t *testing.T) {
	dir := t.TempDir()
	writeList(t, dir, "list.txt", "file.test\nkeep.test\n")
	clk := clock.NewFake()
	m := newManager(t, dir, clk)
	_, err := m.Reload()
	require.NoError(t, err)

	rule, err := m.Add("*.Runtime.test")
	require.NoError(t, err)
	assert.Equal(t, "runtime.test", rule.Name)
	assert.Equal(t, blocklist.DefaultList, rule.Source)
	assert.Equal(t, clk.Now(), rule.AddedAt)
	assert.True(t, m.Decide("x.runtime.test").Blocked)
	assert.Contains(t, readList(t, dir, "custom.txt"), "*.runtime.test\n")

	_, err = m.Add("bad pattern")
	require.Error(t, err)
	_, err = m.Add("localhost")
	require.Error(t, err)

	ok, err := m.Remove("file.test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, m.Decide("file.test").Blocked)
	assert.NotContains(t, readList(t, dir, "list.txt"), "file.test")

	ok, err = m.Remove("file.test")
	require.NoError(t, err)
	assert.False(t, ok, "second remove is a no-op")

	// Reload and a fresh manager both see the persisted state
	n, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, m.Decide("file.test").Blocked)

	restarted := loadedManager(t, dir)
	assert.Equal(t, []string{"*.runtime.test", "keep.test"}, restarted.Patterns())
}

func TestManager_RemoveDropsPatternFromEveryList(t *testing.T) {
	dir := t.TempDir()
	writeList(t, dir, "a.txt", "shared.test\nonly-a.test\n")
	writeList(t, dir, "b.hosts", "0.0.0.0 shared.test\n0.0.0.0 only-b.test\n")
	m := loadedManager(t, dir)

	ok, err := m.Remove("shared.test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, m.Decide("shared.test").Blocked)
	assert.Equal(t, "# a\nonly-a.test\n", readList(t, dir, "a.txt"))
	assert.Equal(t, "# b\n0.0.0.0 only-b.test\n", readList(t, dir, "b.hosts"), "hosts lists keep their form")
}

func TestManager_NamedLists(t *testing.T) {
	dir := t.TempDir()
	m := loadedManager(t, dir)

	upd, err := m.CreateList("social", []string{"facebook.test, *.tiktok.test", "0.0.0.0", "not a*name"})
	require.NoError(t, err)
	assert.Equal(t, blocklist.ListUpdate{List: "social", Added: 2, Invalid: []string{"not", "a*name"}, Total: 2}, upd)
	assert.True(t, m.Decide("www.tiktok.test").Blocked)
	assert.Equal(t, "social", m.Decide("facebook.test").Source)

	_, err = m.CreateList("social", []string{"x.test"})
	assert.ErrorIs(t, err, blocklist.ErrListExists)
	_, err = m.CreateList("../etc", nil)
	assert.ErrorIs(t, err, blocklist.ErrInvalidListName)
	_, err = m.CreateList("items", nil)
	assert.ErrorIs(t, err, blocklist.ErrInvalidListName)

	upd, err = m.AppendToList("social", []string{"facebook.test\ninstagram.test"})
	require.NoError(t, err)
	assert.Equal(t, 1, upd.Added)
	assert.Equal(t, 3, upd.Total)
	_, err = m.AppendToList("missing", []string{"x.test"})
	assert.ErrorIs(t, err, blocklist.ErrListNotFound)

	page, err := m.ListItems("social", "", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, blocklist.ListPage{List: "social", Total: 3, Offset: 1, Limit: 1, Items: []string{"facebook.test"}}, page)
	page, err = m.ListItems("social", "GRAM", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, blocklist.DefaultItemsLimit, page.Limit)
	assert.Equal(t, []string{"instagram.test"}, page.Items)
	page, err = m.ListItems("social", "", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	_, err = m.ListItems("missing", "", 0, 0)
	assert.ErrorIs(t, err, blocklist.ErrListNotFound)

	ok, err := m.RemoveFromList("social", "instagram.test")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.RemoveFromList("social", "instagram.test")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = m.RemoveFromList("missing", "x.test")
	assert.ErrorIs(t, err, blocklist.ErrListNotFound)

	upd, err = m.ReplaceList("social", []string{"facebook.test", "snap.test"})
	require.NoError(t, err)
	assert.Equal(t, 1, upd.Added)
	assert.Equal(t, 1, upd.Removed, "*.tiktok.test is gone")
	assert.Equal(t, 2, upd.Total)
	assert.False(t, m.Decide("www.tiktok.test").Blocked)

	var buf bytes.Buffer
	require.NoError(t, m.WriteList("social", &buf))
	assert.Equal(t, "# social\nfacebook.test\nsnap.test\n", buf.String())

	require.NoError(t, m.DeleteList("social"))
	assert.False(t, m.Decide("snap.test").Blocked)
	assert.NoFileExists(t, filepath.Join(dir, "social.txt"))
	assert.ErrorIs(t, m.DeleteList("social"), blocklist.ErrListNotFound)
	assert.ErrorIs(t, m.WriteList("social", &buf), blocklist.ErrListNotFound)
}

func TestManager_ReplaceCreatesMissingList(t *testing.T) {
	dir := t.TempDir()
	m := loadedManager(t, dir)
	upd, err := m.ReplaceList("imported", []string{"a.test", "b.test"})
	require.NoError(t, err)
	assert.Equal(t, 2, upd.Added)
	assert.FileExists(t, filepath.Join(dir, "imported.txt"))
}

func TestValidateListName(t *testing.T) {
	for _, ok := range []string{"ads", "Ads_2", "stevenblack.hosts-unified", "a"} {
		assert.NoError(t, blocklist.ValidateListName(ok), ok)
	}
	for _, bad := range []string{"", ".hidden", "a/b", "a..b", "create", "Items", "with space"} {
		assert.ErrorIs(t, blocklist.ValidateListName(bad), blocklist.ErrInvalidListName, bad)
	}
}

func TestManager_WatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, clock.New())
	_, err := m.Reload()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))
	require.Error(t, m.Watch(ctx), "second watcher is rejected")

	writeList(t, dir, "new.txt", "watched.test\n")
	assert.Eventually(t, func() bool { return m.Decide("watched.test").Blocked },
		3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "new.txt")))
	assert.Eventually(t, func() bool { return !m.Decide("watched.test").Blocked },
		3*time.Second, 20*time.Millisecond)
}

func TestManager_WatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, clock.New())
	_, err := m.Reload()
	require.NoError(t, err)
	require.NoError(t, m.Watch(context.Background()))

	writeList(t, dir, "blocklist.db", "not a list")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, uint64(1), m.Stats().Version)
}
