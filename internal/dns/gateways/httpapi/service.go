package httpapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/transport"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/parsers"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/dnscache"
	"github.com/haukened/rr-dnsctl/internal/dns/services/stats"
)

// DefaultListLimit caps GET /lists when no limit is given.
const DefaultListLimit = 1000

// QueryStats is the analytics source. *stats.Collector satisfies it.
type QueryStats interface {
	Snapshot(top int) stats.Snapshot
	Recent(limit int) []domain.QueryLog
	Clear()
}

// Blocklist is the runtime rule set. *blocklist.Manager satisfies it.
type Blocklist interface {
	Add(pattern string) (domain.BlockRule, error)
	Remove(pattern string) (bool, error)
	Reload() (int, error)
	Patterns() []string
	Stats() blocklist.ManagerStats

	Lists() []blocklist.ListInfo
	CreateList(name string, items []string) (blocklist.ListUpdate, error)
	AppendToList(name string, items []string) (blocklist.ListUpdate, error)
	ReplaceList(name string, items []string) (blocklist.ListUpdate, error)
	ListItems(name, q string, offset, limit int) (blocklist.ListPage, error)
	RemoveFromList(name, pattern string) (bool, error)
	DeleteList(name string) error
	WriteList(name string, w io.Writer) error
}

// ListFetcher downloads remote lists. *blocklist.Fetcher satisfies it.
type ListFetcher interface {
	Fetch(ctx context.Context, rawURL string) (blocklist.Fetched, error)
}

// PolicyStore holds the active blocking policy. *resolver.Service satisfies it.
type PolicyStore interface {
	Policy() domain.BlockPolicy
	SetPolicy(p domain.BlockPolicy)
}

// CacheStats reports answer cache counters.
type CacheStats interface {
	Stats() dnscache.Stats
}

// ServiceOptions wires the service listener. Stats and Policy are required;
// a nil Blocklist answers 503 on the list endpoints and a nil Fetcher on the
// URL imports.
type ServiceOptions struct {
	Stats     QueryStats
	Blocklist Blocklist
	Fetcher   ListFetcher
	Policy    PolicyStore
	Cache     CacheStats
	// Engine returns the running engine's counters, or nil.
	Engine    func() *transport.EngineStats
	Validator *validator.Validate
	Logger    log.Logger
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Queries   stats.Snapshot          `json:"queries"`
	Engine    *transport.EngineStats  `json:"engine,omitempty"`
	Blocklist *blocklist.ManagerStats `json:"blocklist,omitempty"`
	Cache     *dnscache.Stats         `json:"cache,omitempty"`
}

// ListsResponse is the body of GET /lists.
type ListsResponse struct {
	Stats    blocklist.ManagerStats `json:"stats"`
	Lists    []blocklist.ListInfo   `json:"lists"`
	Matched  int                    `json:"matched"`
	Patterns []string               `json:"patterns"`
}

// PatternRequest is the body of POST /add and POST /remove.
type PatternRequest struct {
	Pattern string `json:"pattern" validate:"required"`
}

// ModeRequest is the body of POST /mode. An omitted block_ip keeps the
// current one; a zero ttl keeps the current TTL.
type ModeRequest struct {
	Mode    string `json:"mode" validate:"required,oneof=nx null redirect refused"`
	BlockIP string `json:"block_ip" validate:"omitempty,ip"`
	TTL     uint32 `json:"ttl"`
}

// ModeResponse is the body of GET /mode and POST /mode.
type ModeResponse struct {
	Mode    string `json:"mode"`
	BlockIP string `json:"block_ip,omitempty"`
	TTL     uint32 `json:"ttl"`
}

type serviceHandler struct {
	stats    QueryStats
	lists    Blocklist
	fetcher  ListFetcher
	policy   PolicyStore
	cache    CacheStats
	engine   func() *transport.EngineStats
	validate *validator.Validate
	logger   log.Logger
}

// NewServiceHandler routes the service listener endpoints.
func NewServiceHandler(opts ServiceOptions) (http.Handler, error) {
	if opts.Stats == nil || opts.Policy == nil {
		return nil, errors.New("service handler requires stats and policy")
	}
	if opts.Validator == nil {
		opts.Validator = validator.New(validator.WithRequiredStructEnabled())
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	h := &serviceHandler{
		stats:    opts.Stats,
		lists:    opts.Blocklist,
		fetcher:  opts.Fetcher,
		policy:   opts.Policy,
		cache:    opts.Cache,
		engine:   opts.Engine,
		validate: opts.Validator,
		logger:   opts.Logger.With(map[string]any{"component": "service_api"}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", h.getStats)
	mux.HandleFunc("GET /logs", h.getLogs)
	mux.HandleFunc("DELETE /logs", h.clearLogs)
	mux.HandleFunc("GET /lists", h.getLists)
	mux.HandleFunc("POST /add", h.addPattern)
	mux.HandleFunc("POST /remove", h.removePattern)
	mux.HandleFunc("POST /reload", h.reload)
	mux.HandleFunc("POST /lists/create", h.createList)
	mux.HandleFunc("/lists/{first}/{second}", h.listRoute)
	mux.HandleFunc("POST /validate", h.validateURL)
	mux.HandleFunc("GET /mode", h.getMode)
	mux.HandleFunc("POST /mode", h.setMode)
	return mux, nil
}

func (h *serviceHandler) getStats(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r, "top", stats.DefaultTop)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	resp := StatsResponse{Queries: h.stats.Snapshot(top)}
	if h.engine != nil {
		resp.Engine = h.engine()
	}
	if h.lists != nil {
		st := h.lists.Stats()
		resp.Blocklist = &st
	}
	if h.cache != nil {
		st := h.cache.Stats()
		resp.Cache = &st
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *serviceHandler) getLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", stats.DefaultLogLimit)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.stats.Recent(limit))
}

func (h *serviceHandler) clearLogs(w http.ResponseWriter, r *http.Request) {
	h.stats.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (h *serviceHandler) getLists(w http.ResponseWriter, r *http.Request) {
	if !h.requireBlocklist(w) {
		return
	}
	limit, err := intParam(r, "limit", DefaultListLimit)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))

	matched := make([]string, 0)
	for _, p := range h.lists.Patterns() {
		if q == "" || strings.Contains(p, q) {
			matched = append(matched, p)
		}
	}
	resp := ListsResponse{Stats: h.lists.Stats(), Lists: h.lists.Lists(), Matched: len(matched), Patterns: matched}
	if limit > 0 && len(resp.Patterns) > limit {
		resp.Patterns = resp.Patterns[:limit]
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *serviceHandler) addPattern(w http.ResponseWriter, r *http.Request) {
	if !h.requireBlocklist(w) {
		return
	}
	pattern, ok := h.decodePattern(w, r)
	if !ok {
		return
	}
	rule, err := h.lists.Add(pattern)
	if err != nil {
		h.logger.Error(map[string]any{"pattern": pattern, "error": err.Error()}, "Failed to add blocklist rule")
		writeError(w, h.logger, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"pattern": rule.Pattern(), "kind": rule.Kind.String(), "list": rule.Source})
}

func (h *serviceHandler) removePattern(w http.ResponseWriter, r *http.Request) {
	if !h.requireBlocklist(w) {
		return
	}
	pattern, ok := h.decodePattern(w, r)
	if !ok {
		return
	}
	removed, err := h.lists.Remove(pattern)
	if err != nil {
		h.logger.Error(map[string]any{"pattern": pattern, "error": err.Error()}, "Failed to remove blocklist rule")
		writeError(w, h.logger, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		writeError(w, h.logger, http.StatusNotFound, "pattern not active")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"removed": pattern})
}

// decodePattern reads and validates a PatternRequest, answering 400 itself
// on failure.
func (h *serviceHandler) decodePattern(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req PatternRequest
	err := decodeRequest(w, r, &req, map[string]func(string){
		"pattern": func(v string) { req.Pattern = v },
	})
	if err == nil {
		err = h.validate.Struct(&req)
	}
	if err == nil {
		_, err = parsers.ParsePattern(req.Pattern, blocklist.DefaultList, time.Now())
	}
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return "", false
	}
	return req.Pattern, true
}

func (h *serviceHandler) reload(w http.ResponseWriter, r *http.Request) {
	if !h.requireBlocklist(w) {
		return
	}
	n, err := h.lists.Reload()
	if err != nil {
		h.logger.Error(map[string]any{"error": err.Error()}, "Blocklist reload failed")
		writeError(w, h.logger, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]int{"rules": n})
}

func (h *serviceHandler) getMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, modeResponse(h.policy.Policy()))
}

func (h *serviceHandler) setMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	err := decodeRequest(w, r, &req, map[string]func(string){
		"mode":     func(v string) { req.Mode = v },
		"block_ip": func(v string) { req.BlockIP = v },
	})
	if err == nil {
		req.Mode = strings.ToLower(strings.TrimSpace(req.Mode))
		err = h.validate.Struct(&req)
	}
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := domain.ParseBlockMode(req.Mode)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	p := h.policy.Policy()
	p.Mode = mode
	if req.BlockIP != "" {
		p.BlockIP = net.ParseIP(req.BlockIP)
	}
	if req.TTL > 0 {
		p.TTL = req.TTL
	}
	h.policy.SetPolicy(p)
	h.logger.Info(map[string]any{"mode": string(p.Mode), "block_ip": p.BlockIP.String()}, "Blocking mode changed")
	writeJSON(w, h.logger, http.StatusOK, modeResponse(p))
}

func (h *serviceHandler) requireBlocklist(w http.ResponseWriter) bool {
	if h.lists == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "blocklist disabled")
		return false
	}
	return true
}

func modeResponse(p domain.BlockPolicy) ModeResponse {
	resp := ModeResponse{Mode: string(p.Mode), TTL: p.TTL}
	if p.BlockIP != nil {
		resp.BlockIP = p.BlockIP.String()
	}
	return resp
}
