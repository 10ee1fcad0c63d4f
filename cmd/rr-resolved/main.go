package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haukened/rr-resolved/internal/dns/common/clock"
	"github.com/haukened/rr-resolved/internal/dns/common/log"
	"github.com/haukened/rr-resolved/internal/dns/gateways/fetch"
	"github.com/haukened/rr-resolved/internal/dns/gateways/transport"
	"github.com/haukened/rr-resolved/internal/dns/infra/config"
	"github.com/haukened/rr-resolved/internal/dns/infra/reactor"
	"github.com/haukened/rr-resolved/internal/dns/repos/denylist"
	"github.com/haukened/rr-resolved/internal/dns/repos/nsas"
	"github.com/haukened/rr-resolved/internal/dns/repos/rescache"
	"github.com/haukened/rr-resolved/internal/dns/services/resolver"
)

const (
	version = "0.1.0-dev"
	appName = "rr-resolved"
)

// Application holds the wired components of the resolver daemon.
type Application struct {
	config    *config.AppConfig
	reactor   *reactor.Reactor
	transport *transport.UDPTransport
	responder *resolver.Responder
	denylist  *denylist.Repo
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":    version,
		"env":        cfg.Env,
		"log_level":  cfg.LogLevel,
		"port":       cfg.Port,
		"cache_size": cfg.CacheSize,
		"upstream":   cfg.Upstream,
		"retries":    cfg.Retries,
	}, "starting rr-resolved")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "resolver failed")
	}

	log.Info(nil, "rr-resolved stopped gracefully")
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	rtr := reactor.New(logger)

	cache, err := rescache.New(int(cfg.CacheSize), clk)
	if err != nil {
		return nil, fmt.Errorf("failed to build resolver cache: %w", err)
	}

	addresses := nsas.New(rtr, logger)
	roots, err := cfg.RootAddrs()
	if err != nil {
		return nil, fmt.Errorf("invalid root hints: %w", err)
	}
	addresses.Seed(".", roots)

	upstream, err := cfg.UpstreamAddrs()
	if err != nil {
		return nil, fmt.Errorf("invalid upstream list: %w", err)
	}

	engine := resolver.New(resolver.Options{
		Reactor:       rtr,
		Cache:         cache,
		Addresses:     addresses,
		Fetcher:       fetch.New(rtr, logger),
		Clock:         clk,
		Logger:        logger,
		Upstream:      upstream,
		QueryTimeout:  time.Duration(cfg.QueryTimeoutMs) * time.Millisecond,
		ClientTimeout: time.Duration(cfg.ClientTimeoutMs) * time.Millisecond,
		LookupTimeout: time.Duration(cfg.LookupTimeoutMs) * time.Millisecond,
		Retries:       cfg.Retries,
	})

	var deny *denylist.Repo
	var denyIface resolver.Denylist
	if cfg.DenylistPath != "" {
		deny, err = denylist.Open(cfg.DenylistDB, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open denylist: %w", err)
		}
		names, err := denylist.ParseHostsFile(cfg.DenylistPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load denylist: %w", err)
		}
		if err := deny.Rebuild(names); err != nil {
			return nil, fmt.Errorf("failed to index denylist: %w", err)
		}
		denyIface = deny
	}

	responder := resolver.NewResponder(engine, denyIface, logger)
	addr := fmt.Sprintf(":%d", cfg.Port)

	return &Application{
		config:    cfg,
		reactor:   rtr,
		transport: transport.NewUDPTransport(addr, logger),
		responder: responder,
		denylist:  deny,
	}, nil
}

// Run starts the reactor and transport, then blocks until the context is
// cancelled.
func (a *Application) Run(ctx context.Context) error {
	a.reactor.Start()
	defer a.reactor.Stop()

	if a.denylist != nil {
		defer a.denylist.Close()
	}

	if err := a.transport.Start(ctx, a.responder); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	<-ctx.Done()

	if err := a.transport.Stop(); err != nil {
		return fmt.Errorf("failed to stop transport: %w", err)
	}
	return nil
}
