// Command oreo-delta runs the collaborative data-editing service: the
// HTTP REST surface, the optional MCP tool surface, and the background
// sweepers for expired sessions and stale uploads.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/saurabh22suman/oreo.io-v3/pkg/audit"
	"github.com/saurabh22suman/oreo.io-v3/pkg/catalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/changerequest"
	"github.com/saurabh22suman/oreo.io-v3/pkg/config"
	"github.com/saurabh22suman/oreo.io-v3/pkg/dbimport"
	"github.com/saurabh22suman/oreo.io-v3/pkg/delta"
	"github.com/saurabh22suman/oreo.io-v3/pkg/liveedit"
	"github.com/saurabh22suman/oreo.io-v3/pkg/mergeexec"
	"github.com/saurabh22suman/oreo.io-v3/pkg/paths"
	"github.com/saurabh22suman/oreo.io-v3/pkg/query"
	"github.com/saurabh22suman/oreo.io-v3/pkg/uploads"
	"github.com/saurabh22suman/oreo.io-v3/pkg/workerpool"
	"github.com/saurabh22suman/oreo.io-v3/server/httpapi"
	"github.com/saurabh22suman/oreo.io-v3/server/mcp"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.Log.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		})
	}

	if err := os.MkdirAll(cfg.Storage.DataRoot, 0o755); err != nil {
		log.Fatalf("failed to create data root %s: %v", cfg.Storage.DataRoot, err)
	}

	store, err := catalog.Open(catalog.Options{Dir: cfg.Catalog.Dir, InMemory: cfg.Catalog.InMemory})
	if err != nil {
		log.Fatalf("failed to open catalog: %v", err)
	}
	defer store.Close()

	resolver := paths.NewResolver(cfg.Storage.DataRoot)
	adapter := delta.NewAdapter(resolver)
	auditor := audit.NewWriter(resolver)
	crs := changerequest.NewService(store, resolver)
	sessions := liveedit.NewService(store, adapter)
	sessions.SetTTL(cfg.Session.TTL)
	executor := mergeexec.NewExecutor(adapter, crs, store, auditor)
	executor.ArchiveStaging = cfg.Merge.ArchiveStaging
	uploadStore := uploads.NewStore(resolver, adapter)
	uploadStore.SetTTL(cfg.Uploads.TTL)
	surface := query.NewSurface(adapter)
	importer := dbimport.NewImporter(adapter)

	pool, err := workerpool.New(cfg.Pool.Workers, cfg.Pool.QueueSize)
	if err != nil {
		log.Fatalf("failed to start worker pool: %v", err)
	}
	defer pool.Close()

	server := httpapi.NewServer(cfg, httpapi.Deps{
		Adapter:  adapter,
		Store:    store,
		CRs:      crs,
		Sessions: sessions,
		Executor: executor,
		Uploads:  uploadStore,
		Surface:  surface,
		Importer: importer,
		Auditor:  auditor,
		Pool:     pool,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweepLoop(ctx, cfg.Session.SweepInterval, func() {
		if n, err := sessions.CleanupExpired(); err != nil {
			log.Printf("[Main] session sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("[Main] swept %d expired sessions", n)
		}
	})
	go sweepLoop(ctx, cfg.Uploads.SweepInterval, func() {
		if _, err := uploadStore.SweepExpired(); err != nil {
			log.Printf("[Main] upload sweep failed: %v", err)
		}
	})

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(&cfg.MCP, adapter, surface)
		go func() {
			if err := mcpServer.Start(); err != nil {
				log.Printf("[Main] MCP server stopped: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("[Main] received %s, shutting down", sig)
	case err := <-errCh:
		log.Printf("[Main] server stopped: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] shutdown error: %v", err)
	}
}

func sweepLoop(ctx context.Context, interval time.Duration, sweep func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
