package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log       LoggingConfig   `koanf:"log"`
	Control   ControlConfig   `koanf:"control"`
	Service   ServiceConfig   `koanf:"service"`
	Engine    EngineConfig    `koanf:"engine"`
	Resolver  ResolverConfig  `koanf:"resolver"`
	Blocklist BlocklistConfig `koanf:"blocklist"`
	Stats     StatsConfig     `koanf:"stats"`
}

type LoggingConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// ControlConfig is the always-on HTTP surface that starts and stops the service.
type ControlConfig struct {
	Addr string `koanf:"addr" validate:"required,bind_addr"`
}

// ServiceConfig holds the addresses used when the service is started without
// explicit addresses, e.g. at boot.
type ServiceConfig struct {
	HTTPAddr  string        `koanf:"http_addr" validate:"required,bind_addr"`
	UDPBind   string        `koanf:"udp_bind" validate:"required,bind_addr"`
	AutoStart bool          `koanf:"autostart"`
	Grace     time.Duration `koanf:"grace" validate:"gt=0"`
}

type EngineConfig struct {
	// MaxInFlight caps concurrently processed queries; 0 means unbounded.
	MaxInFlight  int           `koanf:"max_inflight" validate:"gte=0"`
	QueryTimeout time.Duration `koanf:"query_timeout" validate:"gt=0"`
	MaxUDPSize   int           `koanf:"max_udp_size" validate:"gte=512,lte=65535"`
	// RateLimit is queries per second allowed per client address; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=1"`
}

type ResolverConfig struct {
	// Upstream is a list of upstream DNS servers in ip:port format.
	Upstream []string      `koanf:"upstream" validate:"required,min=1,dive,ip_port"`
	Parallel bool          `koanf:"parallel"`
	Timeout  time.Duration `koanf:"timeout" validate:"gt=0"`
	// ZoneDirectory holds YAML/JSON/TOML zone files. Empty disables authoritative zones.
	ZoneDirectory string      `koanf:"zones"`
	Cache         CacheConfig `koanf:"cache"`
}

type BlocklistConfig struct {
	// Directory holds hosts-style or plain list files. Empty disables blocking.
	Directory   string      `koanf:"dir"`
	DB          string      `koanf:"db" validate:"required_with=Directory"`
	Mode        string      `koanf:"mode" validate:"required,oneof=nx null redirect refused"`
	BlockPageIP string      `koanf:"block_ip" validate:"omitempty,ip"`
	// PageAddr serves the block page for redirect mode. Empty disables it.
	PageAddr    string      `koanf:"page_addr" validate:"omitempty,bind_addr"`
	TTL         uint32      `koanf:"ttl" validate:"gte=1"`
	FPRate      float64     `koanf:"fp_rate" validate:"gt=0,lt=1"`
	Watch       bool        `koanf:"watch"`
	Cache       CacheConfig `koanf:"cache"`
}

type CacheConfig struct {
	// Size is the number of entries; 0 disables the cache.
	Size int `koanf:"size" validate:"gte=0"`
}

type StatsConfig struct {
	// Recent is the capacity of the recent query log.
	Recent  int    `koanf:"recent" validate:"gte=1"`
	// LogPath appends every query to a JSON-lines file. Empty disables it.
	LogPath string `koanf:"log_path"`
}

// DEFAULT_APP_CONFIG defines the default application configuration.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LoggingConfig{Level: "info"},
	Control: ControlConfig{
		Addr: "127.0.0.1:8081",
	},
	Service: ServiceConfig{
		HTTPAddr:  "127.0.0.1:9080",
		UDPBind:   "0.0.0.0:5353",
		AutoStart: true,
		Grace:     5 * time.Second,
	},
	Engine: EngineConfig{
		MaxInFlight:  1024,
		QueryTimeout: 4 * time.Second,
		MaxUDPSize:   512,
		RateLimit:    0,
		RateBurst:    50,
	},
	Resolver: ResolverConfig{
		Upstream: []string{"1.1.1.1:53", "1.0.0.1:53"},
		Parallel: false,
		Timeout:  3 * time.Second,
		Cache:    CacheConfig{Size: 1000},
	},
	Blocklist: BlocklistConfig{
		Directory: "./blocklist",
		DB:        "./blocklist/blocklist.db",
		Mode:      "nx",
		TTL:       60,
		FPRate:    0.001,
		Watch:     true,
		Cache:     CacheConfig{Size: 1000},
	},
	Stats: StatsConfig{Recent: 500},
}

// envKeys maps DNS_-prefixed variable names (lowercased, prefix removed) to
// config paths. Variables not listed here are ignored.
var envKeys = map[string]string{
	"env":                  "env",
	"log_level":            "log.level",
	"control_addr":         "control.addr",
	"service_http_addr":    "service.http_addr",
	"service_udp_bind":     "service.udp_bind",
	"service_autostart":    "service.autostart",
	"service_grace":        "service.grace",
	"engine_max_inflight":  "engine.max_inflight",
	"engine_query_timeout": "engine.query_timeout",
	"engine_max_udp_size":  "engine.max_udp_size",
	"engine_rate_limit":    "engine.rate_limit",
	"engine_rate_burst":    "engine.rate_burst",
	"resolver_upstream":    "resolver.upstream",
	"resolver_parallel":    "resolver.parallel",
	"resolver_timeout":     "resolver.timeout",
	"resolver_zones":       "resolver.zones",
	"resolver_cache_size":  "resolver.cache.size",
	"blocklist_dir":        "blocklist.dir",
	"blocklist_db":         "blocklist.db",
	"blocklist_mode":       "blocklist.mode",
	"blocklist_block_ip":   "blocklist.block_ip",
	"blocklist_page_addr":  "blocklist.page_addr",
	"blocklist_ttl":        "blocklist.ttl",
	"blocklist_fp_rate":    "blocklist.fp_rate",
	"blocklist_watch":      "blocklist.watch",
	"blocklist_cache_size": "blocklist.cache.size",
	"stats_recent":         "stats.recent",
	"stats_log_path":       "stats.log_path",
}

// listKeys are split on spaces and commas.
var listKeys = map[string]bool{
	"resolver.upstream": true,
}

func transformEnv(key, value string) (string, any) {
	path, ok := envKeys[strings.ToLower(strings.TrimPrefix(key, "DNS_"))]
	if !ok {
		return "", nil
	}
	value = strings.TrimSpace(value)
	if listKeys[path] {
		return path, strings.FieldsFunc(value, func(r rune) bool {
			return r == ' ' || r == ','
		})
	}
	return path, value
}

// validIPPort validates "IP:Port" with a literal IP and a non-zero port.
func validIPPort(fl validator.FieldLevel) bool {
	ip, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0
}

// validBindAddr accepts any listen address the service can bind: optional
// host, port 0-65535.
func validBindAddr(fl validator.FieldLevel) bool {
	_, err := domain.ParseBindAddress("tcp", fl.Field().String())
	return err == nil
}

// envLoader loads DNS_ environment variables; a var so tests can replace it.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix:        "DNS_",
		TransformFunc: transformEnv,
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "ip_port" and "bind_addr" tags.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	return v.RegisterValidation("bind_addr", validBindAddr)
}

// NewValidator returns a validator with the custom tags registered. The HTTP
// control surface validates request bodies with the same rules.
func NewValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(v); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	return v, nil
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &cfg, nil
}

// BlockPolicy converts the blocklist settings into a domain policy.
func (c BlocklistConfig) BlockPolicy() (domain.BlockPolicy, error) {
	mode, err := domain.ParseBlockMode(c.Mode)
	if err != nil {
		return domain.BlockPolicy{}, err
	}
	p := domain.BlockPolicy{Mode: mode, TTL: c.TTL}
	if c.BlockPageIP != "" {
		p.BlockIP = net.ParseIP(c.BlockPageIP)
	}
	return p, nil
}
