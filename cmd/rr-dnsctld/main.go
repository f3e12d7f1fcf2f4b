package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmhodges/clock"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/config"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/httpapi"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/transport"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/upstream"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/wire"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/bloom"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/bolt"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/lru"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/dnscache"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/zone"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/zonecache"
	"github.com/haukened/rr-dnsctl/internal/dns/services/controller"
	"github.com/haukened/rr-dnsctl/internal/dns/services/resolver"
	"github.com/haukened/rr-dnsctl/internal/dns/services/stats"
)

const (
	// Version information
	version = "0.2.0-dev"
	appName = "rr-dnsctld"

	defaultZoneTTL   = 300 * time.Second
	maxAliasDepth    = 8
	rateLimitClients = 4096
)

// Application holds all the components of the DNS service and the control
// surface that starts and stops it.
type Application struct {
	config     *config.AppConfig
	logger     log.Logger
	controller *controller.Controller
	control    http.Handler
	blockPage  http.Handler
	blocklist  *blocklist.Manager
	queryLog   *stats.QueryLogFile

	controlListener   *httpapi.Listener
	blockPageListener *httpapi.Listener
	cancelWatch       context.CancelFunc
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.Log.Level,
		"control":   cfg.Control.Addr,
		"udp_bind":  cfg.Service.UDPBind,
		"http_addr": cfg.Service.HTTPAddr,
		"upstream":  cfg.Resolver.Upstream,
	}, "Starting "+appName)

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "Failed to build application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "Server failed")
	}
	log.Info(nil, appName+" stopped gracefully")
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.New()
	logger := log.GetLogger()

	policy, err := cfg.Blocklist.BlockPolicy()
	if err != nil {
		return nil, fmt.Errorf("invalid blocking policy: %w", err)
	}

	repos, err := buildRepositories(cfg, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	upstreamClient, err := upstream.NewResolver(upstream.Options{
		Servers:  cfg.Resolver.Upstream,
		Timeout:  cfg.Resolver.Timeout,
		Parallel: cfg.Resolver.Parallel,
		Logger:   logger,
	})
	if err != nil {
		repos.close()
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}
	logger.Info(map[string]any{
		"servers":  cfg.Resolver.Upstream,
		"timeout":  cfg.Resolver.Timeout.String(),
		"parallel": cfg.Resolver.Parallel,
	}, "Upstream DNS client configured")

	if cfg.Stats.LogPath != "" {
		qlog, err := stats.OpenQueryLogFile(cfg.Stats.LogPath)
		if err != nil {
			repos.close()
			return nil, err
		}
		repos.queryLog = qlog
		logger.Info(map[string]any{"path": qlog.Path()}, "Query log file enabled")
	}
	collector, err := stats.New(stats.Options{Recent: cfg.Stats.Recent, File: repos.queryLog, Clock: clk, Logger: logger})
	if err != nil {
		repos.close()
		return nil, fmt.Errorf("failed to create stats collector: %w", err)
	}

	resolverService := resolver.NewResolver(resolver.ResolverOptions{
		Blocklist:     repos.blocklist,
		ZoneCache:     repos.zoneCache,
		UpstreamCache: repos.upstreamCache,
		Upstream:      upstreamClient,
		Stats:         collector,
		Clock:         clk,
		Logger:        logger,
		Policy:        policy,
		MaxAliasDepth: maxAliasDepth,
	})

	validate, err := config.NewValidator()
	if err != nil {
		repos.close()
		return nil, err
	}

	codec := wire.NewUDPCodec()
	engineOpts := transport.Options{
		MaxInFlight:        cfg.Engine.MaxInFlight,
		QueryTimeout:       cfg.Engine.QueryTimeout,
		MaxUDPSize:         cfg.Engine.MaxUDPSize,
		RecursionAvailable: true,
		RateLimit:          cfg.Engine.RateLimit,
		RateBurst:          cfg.Engine.RateBurst,
		RateClients:        rateLimitClients,
		Clock:              clk,
		Logger:             logger,
	}

	// ctl is assigned below; the service listener reads engine counters
	// through it while running.
	var ctl *controller.Controller
	serviceOpts := httpapi.ServiceOptions{
		Stats:     collector,
		Policy:    resolverService,
		Validator: validate,
		Logger:    logger,
		Engine: func() *transport.EngineStats {
			return ctl.Snapshot().Engine
		},
	}
	if repos.manager != nil {
		serviceOpts.Blocklist = repos.manager
		serviceOpts.Fetcher = blocklist.NewFetcher(blocklist.FetcherOptions{Clock: clk, Logger: logger})
	}
	if repos.dnsCache != nil {
		serviceOpts.Cache = repos.dnsCache
	}
	serviceHandler, err := httpapi.NewServiceHandler(serviceOpts)
	if err != nil {
		repos.close()
		return nil, err
	}

	ctl, err = controller.New(controller.Options{
		Engines: func() (controller.Engine, error) {
			return transport.NewEngine(transport.TransportUDP, codec, resolverService, engineOpts)
		},
		Listeners: func(addr domain.BindAddress) (controller.Listener, error) {
			return httpapi.Listen(addr, serviceHandler, logger.With(map[string]any{"listener": "service"}))
		},
		Grace:  cfg.Service.Grace,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		repos.close()
		return nil, err
	}

	control, err := httpapi.NewControlHandler(httpapi.ControlOptions{
		Service:         ctl,
		Validator:       validate,
		DefaultHTTPAddr: cfg.Service.HTTPAddr,
		DefaultUDPBind:  cfg.Service.UDPBind,
		Logger:          logger,
	})
	if err != nil {
		repos.close()
		return nil, err
	}

	app := &Application{
		config:     cfg,
		logger:     logger,
		controller: ctl,
		control:    control,
		blocklist:  repos.manager,
		queryLog:   repos.queryLog,
	}
	if cfg.Blocklist.PageAddr != "" {
		app.blockPage = httpapi.NewBlockPageHandler(logger)
	}
	return app, nil
}

// repositories holds all repository implementations
type repositories struct {
	blocklist     resolver.Blocklist
	upstreamCache resolver.Cache
	zoneCache     resolver.ZoneCache
	manager       *blocklist.Manager
	dnsCache      httpapi.CacheStats
	queryLog      *stats.QueryLogFile
}

func (r *repositories) close() {
	if r.manager != nil {
		_ = r.manager.Close()
	}
	if r.queryLog != nil {
		_ = r.queryLog.Close()
	}
}

// buildRepositories creates and configures all repository implementations
func buildRepositories(cfg *config.AppConfig, clk clock.Clock, logger log.Logger) (*repositories, error) {
	repos := &repositories{blocklist: &blocklist.NoopBlocklist{}}

	if cfg.Resolver.Cache.Size > 0 {
		cache, err := dnscache.New(cfg.Resolver.Cache.Size, clk)
		if err != nil {
			return nil, fmt.Errorf("failed to create upstream cache: %w", err)
		}
		repos.upstreamCache = cache
		repos.dnsCache = cache
		logger.Info(map[string]any{"type": "LRU", "size": cfg.Resolver.Cache.Size}, "DNS response cache configured")
	} else {
		logger.Info(map[string]any{"disabled": true}, "DNS response caching disabled")
	}

	if cfg.Resolver.ZoneDirectory != "" {
		zones, err := zone.LoadZoneDirectory(cfg.Resolver.ZoneDirectory, defaultZoneTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to load zone directory: %w", err)
		}
		zc := zonecache.New()
		zc.ReplaceAll(zones)
		repos.zoneCache = zc
		logger.Info(map[string]any{
			"zone_dir": cfg.Resolver.ZoneDirectory,
			"zones":    len(zc.Zones()),
			"records":  zc.Count(),
		}, "Zone cache initialized")
	}

	if cfg.Blocklist.Directory != "" {
		m, err := buildBlocklist(cfg.Blocklist, clk, logger)
		if err != nil {
			return nil, err
		}
		repos.manager = m
		repos.blocklist = m
	} else {
		logger.Info(map[string]any{"disabled": true}, "Blocklist disabled")
	}
	return repos, nil
}

func buildBlocklist(cfg config.BlocklistConfig, clk clock.Clock, logger log.Logger) (*blocklist.Manager, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blocklist db directory: %w", err)
	}
	store, err := bolt.New(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open blocklist store: %w", err)
	}
	cache, err := lru.New(cfg.Cache.Size)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create blocklist cache: %w", err)
	}
	m, err := blocklist.NewManager(blocklist.ManagerOptions{
		Dir:    cfg.Directory,
		Repo:   blocklist.NewRepository(store, cache, bloom.NewFactory(), cfg.FPRate),
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	n, err := m.Reload()
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("failed to load blocklist: %w", err)
	}
	logger.Info(map[string]any{"dir": cfg.Directory, "db": cfg.DB, "rules": n, "mode": cfg.Mode}, "Blocklist loaded")
	return m, nil
}

// Start binds the control surface, starts the list watcher and, when
// configured, the DNS service. An autostart failure is logged and leaves the
// control surface up so the service can be started later.
func (app *Application) Start(ctx context.Context) error {
	addr, err := domain.ParseBindAddress("tcp", app.config.Control.Addr)
	if err != nil {
		return fmt.Errorf("invalid control address: %w", err)
	}
	l, err := httpapi.Listen(addr, app.control, app.logger.With(map[string]any{"listener": "control"}))
	if err != nil {
		return fmt.Errorf("failed to start control surface: %w", err)
	}
	app.controlListener = l
	app.logger.Info(map[string]any{"address": l.Addr().String()}, "Control surface listening")

	if app.blockPage != nil {
		if err := app.startBlockPage(); err != nil {
			_ = app.controlListener.Shutdown(ctx)
			app.controlListener = nil
			return err
		}
	}

	if app.blocklist != nil && app.config.Blocklist.Watch {
		wctx, cancel := context.WithCancel(ctx)
		if err := app.blocklist.Watch(wctx); err != nil {
			cancel()
			app.logger.Warn(map[string]any{"error": err.Error()}, "Blocklist watcher not started")
		} else {
			app.cancelWatch = cancel
		}
	}

	if app.config.Service.AutoStart {
		st := app.controller.Start(app.config.Service.HTTPAddr, app.config.Service.UDPBind)
		if st != controller.StatusSuccess {
			app.logger.Error(map[string]any{"status": st.String()}, "Autostart failed")
		}
	}
	return nil
}

// startBlockPage binds the page redirect mode points browsers at. It runs
// for the life of the process, independent of the DNS service.
func (app *Application) startBlockPage() error {
	addr, err := domain.ParseBindAddress("tcp", app.config.Blocklist.PageAddr)
	if err != nil {
		return fmt.Errorf("invalid block page address: %w", err)
	}
	l, err := httpapi.Listen(addr, app.blockPage, app.logger.With(map[string]any{"listener": "block_page"}))
	if err != nil {
		return fmt.Errorf("failed to start block page: %w", err)
	}
	app.blockPageListener = l
	app.logger.Info(map[string]any{"address": l.Addr().String()}, "Block page listening")
	return nil
}

// BlockPageAddr is the bound block page address, or nil when disabled.
func (app *Application) BlockPageAddr() net.Addr {
	if app.blockPageListener == nil {
		return nil
	}
	return app.blockPageListener.Addr()
}

// ControlAddr is the bound control surface address, or nil before Start.
func (app *Application) ControlAddr() net.Addr {
	if app.controlListener == nil {
		return nil
	}
	return app.controlListener.Addr()
}

// Shutdown stops the DNS service, then the HTTP surfaces, then releases the
// blocklist store and the query log file.
func (app *Application) Shutdown(ctx context.Context) error {
	var errs []error
	if st := app.controller.Stop(); st != controller.StatusSuccess && st != controller.StatusNotRunning {
		errs = append(errs, fmt.Errorf("service stop: %s", st))
	}
	if app.controlListener != nil {
		if err := app.controlListener.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("control surface shutdown: %w", err))
		}
	}
	if app.blockPageListener != nil {
		if err := app.blockPageListener.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("block page shutdown: %w", err))
		}
	}
	if app.cancelWatch != nil {
		app.cancelWatch()
	}
	if app.blocklist != nil {
		if err := app.blocklist.Close(); err != nil {
			errs = append(errs, fmt.Errorf("blocklist close: %w", err))
		}
	}
	if app.queryLog != nil {
		if err := app.queryLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("query log close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run starts the application and blocks until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	app.logger.Info(nil, "Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*app.config.Service.Grace)
	defer cancel()
	return app.Shutdown(shutdownCtx)
}
