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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxisllmlab/mcpgateway/internal/cache"
	"github.com/praxisllmlab/mcpgateway/internal/config"
	"github.com/praxisllmlab/mcpgateway/internal/mcp"
	"github.com/praxisllmlab/mcpgateway/internal/oauth"
	"github.com/praxisllmlab/mcpgateway/internal/store"
)

func main() {
	configPath := flag.String("config", "gateway_config.yaml", "path to gateway config YAML")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("loaded %d MCP servers from config", len(cfg.MCPServers))

	// External store (optional — skip if no database_url)
	var st store.Store
	if cfg.GatewaySettings.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.GatewaySettings.DatabaseURL)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("ping database: %v", err)
		}
		log.Println("database connected")
		st = store.NewPostgresStore(pool)
	}

	// Session cache: memory-only by default, Redis-backed when configured
	// so session ids survive across replicas.
	var cacheBackend cache.Cache
	memCache := cache.NewMemoryCache()
	if cfg.GatewaySettings.UseRedisSessions {
		rc, err := cache.NewRedisClient(ctx)
		if err != nil {
			log.Printf("WARN: redis not available, using memory-only session cache: %v", err)
			cacheBackend = memCache
		} else {
			log.Println("redis connected")
			cacheBackend = cache.NewDualCache(memCache, cache.NewRedisCache(rc))
		}
	} else {
		cacheBackend = memCache
	}

	classifier := mcp.NewIPClassifier(cfg.GatewaySettings.TrustedProxies)

	static := make([]mcp.MCPServerEntry, 0, len(cfg.MCPServers))
	for alias, sc := range cfg.MCPServers {
		static = append(static, mcp.EntryFromConfig(alias, sc))
	}
	registry := mcp.NewRegistry(static, classifier)

	// Startup work runs on the first inbound request, exactly once even
	// under concurrent first requests. A failed initial sync is logged
	// rather than fatal: the static config still serves.
	lifecycle := mcp.NewLifecycle(func(initCtx context.Context) error {
		if st == nil {
			return nil
		}
		if err := registry.SyncFromStore(initCtx, st); err != nil {
			log.Printf("WARN: initial server sync: %v", err)
		}
		go syncLoop(ctx, registry, st)
		return nil
	})

	tokens := oauth.NewTokenCache(oauth.Options{
		ExpiryBuffer: time.Duration(cfg.GatewaySettings.TokenExpiryBufferSeconds) * time.Second,
		MaxEntries:   cfg.GatewaySettings.TokenCacheMaxEntries,
	})

	manager := mcp.NewManager(registry, mcp.NewPermissionResolver(registry, st), mcp.ManagerOptions{
		ToolSeparator:  cfg.GatewaySettings.ToolSeparator,
		DefaultTimeout: time.Duration(cfg.GatewaySettings.DefaultTimeoutSeconds) * time.Second,
		TokenCache:     tokens,
	})

	tracker := mcp.NewSessionTracker(cacheBackend)
	gateway := mcp.NewGatewayServer(manager, classifier, tracker)
	rest := &mcp.RESTHandler{Manager: manager, Classifier: classifier}

	r := chi.NewRouter()
	r.Mount("/mcp", lifecycle.Gate(gateway.Handler()))
	r.Mount("/mcp/sse", lifecycle.Gate(gateway.SSEHandler()))
	r.Handle("/mcp/{selector}", lifecycle.Gate(gateway.ScopedHandler()))
	r.Mount("/mcp-rest", lifecycle.Gate(rest.Handler()))
	r.Get("/health/mcp", rest.Health)
	r.Get("/health/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`"alive"`))
	})

	addr := fmt.Sprintf(":%d", cfg.GatewaySettings.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("shutting down...")
		lifecycle.Shutdown(func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("shutdown error: %v", err)
			}
		})
		cancel()
	}()

	log.Printf("mcpgateway listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// syncLoop mirrors dynamically registered servers from the store so entries
// created by other replicas show up without a restart.
func syncLoop(ctx context.Context, registry *mcp.Registry, st store.Store) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := registry.SyncFromStore(ctx, st); err != nil {
				log.Printf("WARN: server sync: %v", err)
			}
		}
	}
}
