package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/farescope/dsmcp/pkg/config"
	"github.com/farescope/dsmcp/pkg/engine"
	"github.com/farescope/dsmcp/pkg/logging"
	"github.com/farescope/dsmcp/pkg/mcp"
	"github.com/farescope/dsmcp/pkg/registry"
	"github.com/farescope/dsmcp/pkg/tables/marketanomalies"
	"github.com/farescope/dsmcp/pkg/tables/provideraudit"
	"github.com/farescope/dsmcp/pkg/warehouse"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := warehouse.New(ctx, &warehouse.Config{
		URL:            cfg.Warehouse.ConnectionString(),
		MaxConnections: cfg.Warehouse.MaxConnections,
		MinConnections: cfg.Warehouse.MinConnections,
	}, logger.Named("warehouse"))
	if err != nil {
		logger.Fatal("failed to connect to warehouse", zap.String("error", logging.SanitizeError(err)))
	}
	defer pool.Close()

	reg := registry.New(logger)
	for _, def := range []*engine.TableDef{
		marketanomalies.Definition(),
		provideraudit.Definition(),
	} {
		if err := reg.Register(def, pool); err != nil {
			logger.Fatal("failed to register table",
				zap.String("table", def.Slug),
				zap.Error(err))
		}
	}

	srv := mcp.NewServer("dsmcp", cfg.Version, logger.Named("mcp"))
	mcp.RegisterTables(srv, reg)

	logger.Info("server ready",
		zap.String("version", cfg.Version),
		zap.String("transport", cfg.Transport),
		zap.Strings("tables", reg.Names()))

	switch cfg.Transport {
	case config.TransportHTTP:
		serveHTTP(ctx, cfg, srv, logger)
	default:
		if err := mcpserver.ServeStdio(srv.MCP()); err != nil {
			logger.Fatal("stdio server failed", zap.Error(err))
		}
	}
}

// serveHTTP runs the streamable HTTP transport with a health endpoint and
// shuts down cleanly on SIGINT/SIGTERM.
func serveHTTP(ctx context.Context, cfg *config.Config, srv *mcp.Server, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv.NewStreamableHTTPServer())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": cfg.Version,
		})
	})

	httpServer := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}
}
