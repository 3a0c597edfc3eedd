package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/chorus/internal/api"
	"github.com/jordanhubbard/chorus/internal/auth"
	"github.com/jordanhubbard/chorus/internal/clock"
	"github.com/jordanhubbard/chorus/internal/dispatch"
	"github.com/jordanhubbard/chorus/internal/gateway"
	"github.com/jordanhubbard/chorus/internal/metrics"
	"github.com/jordanhubbard/chorus/internal/persona"
	"github.com/jordanhubbard/chorus/internal/provider"
	"github.com/jordanhubbard/chorus/internal/router"
	"github.com/jordanhubbard/chorus/internal/session"
	"github.com/jordanhubbard/chorus/internal/store"
	"github.com/jordanhubbard/chorus/internal/telemetry"
	"github.com/jordanhubbard/chorus/pkg/config"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chorus v%s\n", version)
		return
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Printf("Warning: failed to load config from %s: %v", *configPath, err)
		log.Printf("Using default configuration")
		cfg = config.Default()
	} else {
		log.Printf("Loaded configuration from %s", *configPath)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OpenTelemetry
	if cfg.Telemetry.Enabled {
		endpoint := cfg.Telemetry.OTLPEndpoint
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if endpoint == "" {
			endpoint = "otel-collector:4317"
		}
		shutdownTelemetry, err := telemetry.Init(runCtx, "chorus", endpoint)
		if err != nil {
			log.Printf("Warning: failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	m := metrics.NewMetrics()
	clk := clock.System()

	// Persona directory and alias index.
	aliases := persona.NewAliasIndex(cfg.Router.MentionMarker)
	var personaStore *store.PersonaStore
	var directory persona.Directory
	if cfg.Database.DSN != "" {
		personaStore, err = store.NewPersonaStore(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("failed to open persona store: %v", err)
		}
		defer personaStore.Close()
		directory = personaStore

		if err := personaStore.LoadIndex(runCtx, aliases); err != nil {
			log.Fatalf("failed to load alias index: %v", err)
		}
		log.Printf("Loaded %d personas from store", len(aliases.Personas()))
	} else {
		log.Printf("Warning: no database configured, personas live in memory only")
	}

	// Session store, optionally snapshotted to Redis across restarts.
	var snapshotter session.Snapshotter
	if cfg.Redis.Addr != "" {
		maxTTL := cfg.Session.DMTTL
		if cfg.Session.GuildTTL > maxTTL {
			maxTTL = cfg.Session.GuildTTL
		}
		rs, err := session.NewRedisSnapshotter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, maxTTL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		snapshotter = rs
	}
	sessions := session.NewStore(session.Config{
		DMTTL:    cfg.Session.DMTTL,
		GuildTTL: cfg.Session.GuildTTL,
	}, clk, snapshotter)

	// Completion providers.
	registry := provider.NewRegistry()
	registerProviders(registry, cfg.Providers)

	// Dispatcher with curated problematic personas from config.
	var curated []dispatch.KnownProblematicPersona
	for _, p := range cfg.Personas.Problematic {
		curated = append(curated, dispatch.KnownProblematicPersona{
			PersonaName:     p.Name,
			Fallbacks:       p.Fallbacks,
			ErrorSubstrings: p.ErrorSubstrings,
		})
	}
	dispatcher := dispatch.New(dispatch.Config{
		BlackoutDuration: cfg.Dispatch.BlackoutDuration,
		PendingGrace:     cfg.Dispatch.PendingGrace,
		PendingMaxAge:    cfg.Dispatch.PendingMaxAge,
		CallTimeout:      cfg.Dispatch.CallTimeout,
		DefaultPrompt:    cfg.Dispatch.DefaultPrompt,
		DefaultModelPath: cfg.Dispatch.DefaultModelPath,
		Temperature:      cfg.Dispatch.Temperature,
		MaxTokens:        cfg.Dispatch.MaxTokens,
	}, registry, directory, clk, m, curated)

	authManager := auth.NewManager(cfg.Security.JWTSecret)

	detector := router.NewProxyDetector(
		cfg.Router.ProxyOwnerIDs,
		cfg.Router.ProxyApplicationIDs,
		cfg.Router.ProxyUsernamePatterns,
	)
	rtr := router.New(aliases, sessions, dispatcher, detector, authManager, m)

	// NATS gateway.
	bus, err := gateway.NewNatsBus(gateway.Config{
		URL:            cfg.Bus.URL,
		StreamName:     cfg.Bus.StreamName,
		Timeout:        cfg.Bus.Timeout,
		ConsumerPrefix: cfg.Bus.ConsumerPrefix,
	})
	if err != nil {
		log.Fatalf("failed to connect to message bus: %v", err)
	}
	defer bus.Close()

	gw := gateway.NewGateway(bus, rtr, cfg.Router.Workers, m)
	go func() {
		if err := gw.Run(runCtx); err != nil {
			log.Printf("gateway stopped: %v", err)
		}
	}()

	// Hot reload: newly configured providers are picked up without a
	// restart; everything else needs one.
	watcher := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		registerProviders(registry, newCfg.Providers)
	})
	go func() {
		if err := watcher.Run(runCtx); err != nil {
			log.Printf("config watcher stopped: %v", err)
		}
	}()

	// Admin API.
	apiServer := api.NewServer(rtr, aliases, personaStoreOrNil(personaStore), authManager, bus, cfg, m)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.SetupRoutes())
	mux.Handle("/metrics", promhttp.Handler())

	handler := otelhttp.NewHandler(mux, "chorus-http-server")

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Chorus API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// registerProviders registers enabled providers, skipping ones already
// present so the config watcher can call it repeatedly.
func registerProviders(registry *provider.Registry, providers []config.Provider) {
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		err := registry.Register(&provider.Config{
			ID:       p.ID,
			Type:     p.Type,
			Endpoint: p.Endpoint,
			APIKey:   p.APIKey,
			Model:    p.Model,
		})
		if err != nil {
			log.Printf("provider %s not registered: %v", p.ID, err)
		}
	}
}

// personaStoreOrNil avoids handing the API a typed nil interface.
func personaStoreOrNil(s *store.PersonaStore) api.PersonaStore {
	if s == nil {
		return nil
	}
	return s
}
