package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/parsers"
)

// Items is a list of patterns. In JSON it may be a single string or an
// array of strings; either form may hold several patterns separated by
// commas or whitespace.
type Items []string

func (it *Items) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*it = Items{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("items must be a string or an array of strings")
	}
	*it = many
	return nil
}

// ListCreateRequest is the body of POST /lists/create. Without a name the
// list is named after the URL.
type ListCreateRequest struct {
	Name  string `json:"name"`
	URL   string `json:"url" validate:"omitempty,http_url"`
	Items Items  `json:"items"`
}

// ListWriteRequest is the body of POST /lists/{name}/append and
// POST /lists/{name}/replace.
type ListWriteRequest struct {
	URL   string `json:"url" validate:"omitempty,http_url"`
	Items Items  `json:"items"`
}

// ItemDeleteRequest is the body of DELETE /lists/items/{name}.
type ItemDeleteRequest struct {
	Domain string `json:"domain" validate:"required"`
}

// ValidateRequest is the body of POST /validate.
type ValidateRequest struct {
	URL string `json:"url" validate:"required,http_url"`
}

func (h *serviceHandler) createList(w http.ResponseWriter, r *http.Request) {
	if !h.requireBlocklist(w) {
		return
	}
	var req ListCreateRequest
	err := decodeRequest(w, r, &req, map[string]func(string){
		"name":  func(v string) { req.Name = v },
		"url":   func(v string) { req.URL = v },
		"items": func(v string) { req.Items = Items{v} },
	})
	if err == nil {
		err = h.validate.Struct(&req)
	}
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" && req.URL != "" {
		req.Name = blocklist.ListNameFromURL(req.URL)
	}
	if req.Name == "" || (req.URL == "" && len(req.Items) == 0) {
		writeError(w, h.logger, http.StatusBadRequest, "name and url or items are required")
		return
	}
	items, ok := h.gatherItems(w, r, req.URL, req.Items)
	if !ok {
		return
	}
	upd, err := h.lists.CreateList(req.Name, items)
	if err != nil {
		h.listError(w, req.Name, "create", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, upd)
}

// listRoute dispatches /lists/items/{name} and /lists/{name}/{action}. The
// two shapes share a path pattern, which is why "items" is not a valid list
// name.
func (h *serviceHandler) listRoute(w http.ResponseWriter, r *http.Request) {
	if !h.requireBlocklist(w) {
		return
	}
	first, second := r.PathValue("first"), r.PathValue("second")
	if first == "items" {
		switch r.Method {
		case http.MethodGet:
			h.listItems(w, r, second)
		case http.MethodDelete:
			h.deleteItem(w, r, second)
		default:
			methodNotAllowed(w, h, http.MethodGet, http.MethodDelete)
		}
		return
	}

	name := first
	var want string
	switch second {
	case "append", "replace":
		want = http.MethodPost
	case "delete":
		want = http.MethodDelete
	case "download":
		want = http.MethodGet
	default:
		writeError(w, h.logger, http.StatusNotFound, "unknown list action")
		return
	}
	if r.Method != want {
		methodNotAllowed(w, h, want)
		return
	}
	switch second {
	case "append", "replace":
		h.writeList(w, r, name, second)
	case "delete":
		if err := h.lists.DeleteList(name); err != nil {
			h.listError(w, name, "delete", err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, map[string]string{"deleted": name})
	case "download":
		h.downloadList(w, name)
	}
}

func (h *serviceHandler) listItems(w http.ResponseWriter, r *http.Request, name string) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", blocklist.DefaultItemsLimit)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.lists.ListItems(name, r.URL.Query().Get("q"), offset, limit)
	if err != nil {
		h.listError(w, name, "items", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, page)
}

func (h *serviceHandler) deleteItem(w http.ResponseWriter, r *http.Request, name string) {
	var req ItemDeleteRequest
	err := decodeRequest(w, r, &req, map[string]func(string){
		"domain": func(v string) { req.Domain = v },
	})
	if err == nil {
		err = h.validate.Struct(&req)
	}
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := h.lists.RemoveFromList(name, req.Domain)
	if err != nil {
		h.listError(w, name, "remove item", err)
		return
	}
	if !removed {
		writeError(w, h.logger, http.StatusNotFound, "pattern not in list")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"list": name, "removed": req.Domain})
}

func (h *serviceHandler) writeList(w http.ResponseWriter, r *http.Request, name, action string) {
	var req ListWriteRequest
	err := decodeRequest(w, r, &req, map[string]func(string){
		"url":   func(v string) { req.URL = v },
		"items": func(v string) { req.Items = Items{v} },
	})
	if err == nil {
		err = h.validate.Struct(&req)
	}
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" && len(req.Items) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, "url or items are required")
		return
	}
	items, ok := h.gatherItems(w, r, req.URL, req.Items)
	if !ok {
		return
	}
	var upd blocklist.ListUpdate
	if action == "replace" {
		upd, err = h.lists.ReplaceList(name, items)
	} else {
		upd, err = h.lists.AppendToList(name, items)
	}
	if err != nil {
		h.listError(w, name, action, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, upd)
}

// downloadList buffers the file so a read error can still become a 500.
func (h *serviceHandler) downloadList(w http.ResponseWriter, name string) {
	var buf bytes.Buffer
	if err := h.lists.WriteList(name, &buf); err != nil {
		h.listError(w, name, "download", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".txt"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn(map[string]any{"list": name, "error": err.Error()}, "Error writing list download")
	}
}

func (h *serviceHandler) validateURL(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	err := decodeRequest(w, r, &req, map[string]func(string){
		"url": func(v string) { req.URL = v },
	})
	if err == nil {
		err = h.validate.Struct(&req)
	}
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if h.fetcher == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "list import disabled")
		return
	}
	got, err := h.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		h.fetchError(w, req.URL, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, got)
}

// gatherItems returns the items to write, downloading url first when one is
// given. It answers the request itself on failure.
func (h *serviceHandler) gatherItems(w http.ResponseWriter, r *http.Request, url string, items Items) ([]string, bool) {
	if url == "" {
		return items, true
	}
	if h.fetcher == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "list import disabled")
		return nil, false
	}
	got, err := h.fetcher.Fetch(r.Context(), url)
	if err != nil {
		h.fetchError(w, url, err)
		return nil, false
	}
	return append(got.Patterns, items...), true
}

func (h *serviceHandler) fetchError(w http.ResponseWriter, url string, err error) {
	h.logger.Warn(map[string]any{"url": url, "error": err.Error()}, "Remote list fetch failed")
	code := http.StatusBadGateway
	if errors.Is(err, blocklist.ErrUnsupportedURL) {
		code = http.StatusBadRequest
	}
	writeError(w, h.logger, code, err.Error())
}

// listError maps blocklist errors onto status codes.
func (h *serviceHandler) listError(w http.ResponseWriter, name, op string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, blocklist.ErrListNotFound):
		code = http.StatusNotFound
	case errors.Is(err, blocklist.ErrListExists):
		code = http.StatusConflict
	case errors.Is(err, blocklist.ErrInvalidListName),
		errors.Is(err, parsers.ErrInvalidName),
		errors.Is(err, parsers.ErrReservedName),
		errors.Is(err, parsers.ErrAddressToken):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		h.logger.Error(map[string]any{"list": name, "op": op, "error": err.Error()}, "Blocklist update failed")
	}
	writeError(w, h.logger, code, err.Error())
}

func methodNotAllowed(w http.ResponseWriter, h *serviceHandler, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, h.logger, http.StatusMethodNotAllowed, "method not allowed")
}
