package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist"
)

func upstreamLists(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/remote.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# remote\n0.0.0.0 one.remote.test\n0.0.0.0 two.remote.test\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestItems_UnmarshalJSON(t *testing.T) {
	var it Items
	require.NoError(t, it.UnmarshalJSON([]byte(`"a.test, b.test"`)))
	assert.Equal(t, Items{"a.test, b.test"}, it)
	require.NoError(t, it.UnmarshalJSON([]byte(`["a.test","b.test"]`)))
	assert.Equal(t, Items{"a.test", "b.test"}, it)
	assert.Error(t, it.UnmarshalJSON([]byte(`7`)))
}

func TestService_NamedListLifecycle(t *testing.T) {
	f := newServiceFixture(t, true)

	rec := f.do(t, http.MethodPost, "/lists/create", `{"name":"kids","items":"games.test, *.video.test 10.0.0.1 bad..name"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, blocklist.ListUpdate{List: "kids", Added: 2, Invalid: []string{"bad..name"}, Total: 2}, decode[blocklist.ListUpdate](t, rec))
	assert.True(t, f.lists.Decide("clips.video.test").Blocked)
	assert.FileExists(t, filepath.Join(f.dir, "kids.txt"))

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/lists/create", `{"name":"kids","items":"x.test"}`).Code)

	rec = f.do(t, http.MethodPost, "/lists/kids/append", `{"items":["chat.test","games.test"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, blocklist.ListUpdate{List: "kids", Added: 1, Total: 3}, decode[blocklist.ListUpdate](t, rec))

	page := decode[blocklist.ListPage](t, f.do(t, http.MethodGet, "/lists/items/kids?limit=2", ""))
	assert.Equal(t, blocklist.ListPage{List: "kids", Total: 3, Offset: 0, Limit: 2, Items: []string{"*.video.test", "chat.test"}}, page)
	page = decode[blocklist.ListPage](t, f.do(t, http.MethodGet, "/lists/items/kids?q=GAMES", ""))
	assert.Equal(t, []string{"games.test"}, page.Items)

	rec = f.do(t, http.MethodDelete, "/lists/items/kids", `{"domain":"chat.test"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, f.lists.Decide("chat.test").Blocked)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/lists/items/kids", `{"domain":"chat.test"}`).Code)

	rec = f.do(t, http.MethodGet, "/lists/kids/download", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="kids.txt"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "# kids\n*.video.test\ngames.test\n", rec.Body.String())

	rec = f.do(t, http.MethodPost, "/lists/kids/replace", `{"items":"games.test social.test"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, blocklist.ListUpdate{List: "kids", Added: 1, Removed: 1, Total: 2}, decode[blocklist.ListUpdate](t, rec))
	assert.False(t, f.lists.Decide("clips.video.test").Blocked)

	rec = f.do(t, http.MethodDelete, "/lists/kids/delete", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoFileExists(t, filepath.Join(f.dir, "kids.txt"))
	assert.False(t, f.lists.Decide("games.test").Blocked)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/lists/items/kids", "").Code)
}

func TestService_NamedListErrors(t *testing.T) {
	f := newServiceFixture(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "ads.txt"), []byte("ads.test\n"), 0o644))
	_, err := f.lists.Reload()
	require.NoError(t, err)

	tests := []struct {
		name         string
		method, path string
		body         string
		want         int
	}{
		{"create without items", http.MethodPost, "/lists/create", `{"name":"x"}`, http.StatusBadRequest},
		{"create reserved name", http.MethodPost, "/lists/create", `{"name":"items","items":"a.test"}`, http.StatusBadRequest},
		{"create bad url", http.MethodPost, "/lists/create", `{"name":"x","url":"ftp://lists.test/a"}`, http.StatusBadRequest},
		{"append missing list", http.MethodPost, "/lists/nope/append", `{"items":"a.test"}`, http.StatusNotFound},
		{"append nothing", http.MethodPost, "/lists/ads/append", `{}`, http.StatusBadRequest},
		{"delete missing list", http.MethodDelete, "/lists/nope/delete", "", http.StatusNotFound},
		{"download missing list", http.MethodGet, "/lists/nope/download", "", http.StatusNotFound},
		{"unknown action", http.MethodGet, "/lists/ads/rename", "", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/lists/ads/append", "", http.StatusMethodNotAllowed},
		{"wrong method on items", http.MethodPost, "/lists/items/ads", "", http.StatusMethodNotAllowed},
		{"item without domain", http.MethodDelete, "/lists/items/ads", `{}`, http.StatusBadRequest},
		{"item not a name", http.MethodDelete, "/lists/items/ads", `{"domain":"a b"}`, http.StatusBadRequest},
		{"bad offset", http.MethodGet, "/lists/items/ads?offset=x", "", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.do(t, tc.method, tc.path, tc.body).Code)
		})
	}
	assert.Equal(t, "GET", f.do(t, http.MethodPost, "/lists/ads/download", "").Header().Get("Allow"))
	assert.True(t, f.lists.Decide("ads.test").Blocked)
}

func TestService_ImportFromURL(t *testing.T) {
	up := upstreamLists(t)
	f := newServiceFixture(t, true)

	rec := f.do(t, http.MethodPost, "/lists/create", fmt.Sprintf(`{"url":%q}`, up.URL+"/remote.txt"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, blocklist.ListUpdate{List: "remote", Added: 2, Total: 2}, decode[blocklist.ListUpdate](t, rec))
	assert.True(t, f.lists.Decide("one.remote.test").Blocked)

	rec = f.do(t, http.MethodPost, "/lists/mine/replace", fmt.Sprintf(`{"url":%q,"items":"extra.test"}`, up.URL+"/remote.txt"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[blocklist.ListUpdate](t, rec).Total)

	rec = f.do(t, http.MethodPost, "/lists/mine/append", fmt.Sprintf(`{"url":%q}`, up.URL+"/missing.txt"))
	assert.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
}

func TestService_ValidateURL(t *testing.T) {
	up := upstreamLists(t)
	f := newServiceFixture(t, true)

	rec := f.do(t, http.MethodPost, "/validate", fmt.Sprintf(`{"url":%q}`, up.URL+"/remote.txt"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[blocklist.Fetched](t, rec)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "hosts", got.Format)
	assert.Equal(t, []string{"one.remote.test", "two.remote.test"}, got.Sample)
	assert.Empty(t, f.lists.Lists(), "validate writes nothing")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/validate", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/validate", `{"url":"not a url"}`).Code)
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, "/validate", fmt.Sprintf(`{"url":%q}`, up.URL+"/missing.txt")).Code)
}

func TestBlockPageHandler(t *testing.T) {
	h := NewBlockPageHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "http://ads.example.com/some/path?x=1", nil)
	req.Header.Set("User-Agent", `<script>alert(1)</script>`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	body := rec.Body.String()
	assert.Contains(t, body, "ads.example.com has been blocked")
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
