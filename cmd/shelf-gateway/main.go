// ABOUTME: Entry point for the shelf-gateway MCP server.
// ABOUTME: Loads config, starts the worker pool, and serves the MCP endpoint.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/shelf-gateway/internal/config"
	"github.com/2389/shelf-gateway/internal/library"
	"github.com/2389/shelf-gateway/internal/mcp"
	"github.com/2389/shelf-gateway/internal/pool"
	"github.com/2389/shelf-gateway/internal/textsearch"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _          _  __                  _
 ___| |__   ___| |/ _|       __ _  ___| |___      ____ _ _   _
/ __| '_ \ / _ \ | |_ _____ / _' |/ _' | __\ \ /\ / / _' | | | |
\__ \ | | |  __/ |  _|_____| (_| | (_| | |_ \ V  V / (_| | |_| |
|___/_| |_|\___|_|_|        \__, |\__,_|\__| \_/\_/ \__,_|\__, |
                            |___/                         |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: SHELF_CONFIG env var > XDG_CONFIG_HOME/shelf/gateway.yaml > ~/.config/shelf/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SHELF_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "shelf", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: shelf-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve         Start the MCP server")
		fmt.Println("  check-config  Validate the configuration and exit")
		fmt.Println("  health        Check gateway health")
		fmt.Println("  version       Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "check-config":
		err = runCheckConfig()
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyDefaults(cfg)

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Worker:    %s\n", cfg.Worker.Command)
	green.Print("    ▶ ")
	fmt.Printf("Libraries: %d\n", len(cfg.Libraries))
	fmt.Println()

	logger.Info("starting shelf-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"libraries", len(cfg.Libraries),
	)

	workers := pool.New(cfg, logger)
	searches := textsearch.NewCache(textsearch.DefaultMaxEntries, textsearch.DefaultTTL)

	svc := library.NewService(cfg, workers, searches, nil, logger)
	server, err := mcp.NewServer(svc, logger)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "{\"status\":\"ok\",\"active_workers\":%d}\n", len(workers.ActiveLibraries()))
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	workers.Shutdown()
	searches.Close()
	return nil
}

// applyDefaults fills settings the config file may omit. The worker command
// defaults to a shelf-worker binary next to the gateway binary, falling back
// to whatever PATH resolves.
func applyDefaults(cfg *config.Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "localhost:8080"
	}
	if cfg.Worker.Command == "" {
		cfg.Worker.Command = "shelf-worker"
		if self, err := os.Executable(); err == nil {
			sibling := filepath.Join(filepath.Dir(self), "shelf-worker")
			if _, err := exec.LookPath(sibling); err == nil {
				cfg.Worker.Command = sibling
			}
		}
	}
}

func runCheckConfig() error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ %s is valid\n", configPath)
	for _, lib := range cfg.ListLibraries() {
		fmt.Printf("  %s  %s\n", lib.Name, describeGrants(lib.Permissions))
	}
	return nil
}

func describeGrants(p config.Permissions) string {
	var grants []string
	if p.Read.Allowed {
		if p.Read.IsList() {
			grants = append(grants, fmt.Sprintf("read(%d fields)", len(p.Read.Fields)))
		} else {
			grants = append(grants, "read")
		}
	}
	if p.Write.Allowed {
		if p.Write.IsList() {
			grants = append(grants, fmt.Sprintf("write(%d fields)", len(p.Write.Fields)))
		} else {
			grants = append(grants, "write")
		}
	}
	if p.Delete {
		grants = append(grants, "delete")
	}
	if p.Convert {
		grants = append(grants, "convert")
	}
	if len(grants) == 0 {
		return "no grants"
	}
	return strings.Join(grants, ", ")
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyDefaults(cfg)

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs}
}

func (h *colorHandler) WithGroup(name string) slog.Handler { return h }
