package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/grace/internal/api"
	"github.com/kalambet/grace/internal/config"
	"github.com/kalambet/grace/internal/engine"
	"github.com/kalambet/grace/internal/seal"
	"github.com/kalambet/grace/internal/storage"
)

const keyFileName = "grace.key"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the grace server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running grace server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show grace system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "grace.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "grace version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice: check the health endpoint before writing the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("grace is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("grace is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStep("Loading encryption key")
	sealer, err := seal.LoadOrCreate(filepath.Join(cfg.Storage.DataDir, keyFileName))
	if err != nil {
		return fmt.Errorf("loading encryption key: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir, sealer)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	printStep("Detecting language model backend")
	eng, err := engine.Detect(ctx, engine.DetectConfig{
		Provider:         cfg.LLM.Provider,
		OllamaBaseURL:    cfg.LLM.OllamaBaseURL,
		ChatTimeout:      cfg.LLM.ChatTimeout,
		BaseURL:          cfg.LLM.BaseURL,
		OpenAIAPIKey:     cfg.LLM.OpenAIAPIKey,
		XAIAPIKey:        cfg.LLM.XAIAPIKey,
		OpenRouterAPIKey: cfg.LLM.OpenRouterAPIKey,
	})
	if err != nil {
		return fmt.Errorf("detecting language model backend: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.LLM.ModelFor(eng.Name()), os.Stderr); err != nil {
		return err
	}
	slog.Info("language model ready", "backend", eng.Name(), "model", cfg.LLM.ModelFor(eng.Name()))

	a := wire(cfg, eng, store, apiToken, logger)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: api.NewHandler(a.deps)}

	for _, j := range a.scheduler.Jobs() {
		slog.Info("monitor scheduled", "source", j.Name, "interval", j.Interval)
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(a.deps))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	fmt.Fprintf(os.Stderr, "grace listening on %s\n", addr)
	return serve(ctx, srv, ln, a.scheduler)
}

type backgroundRunner interface {
	Run(ctx context.Context) error
}

// serve runs bg and the HTTP server until ctx ends or the server fails. It
// returns only after the server has shut down and bg has returned, so no
// scheduled run outlives the store.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, bg backgroundRunner) error {
	bgCtx, cancelBG := context.WithCancel(ctx)
	defer cancelBG()

	bgDone := make(chan struct{})
	go func() {
		defer close(bgDone)
		if err := bg.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scheduler stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	cancelBG()
	<-bgDone
	slog.Info("scheduler stopped")

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("grace is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop grace (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to grace (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		printStatus("Server", "unknown (%v)", err)
		return nil
	}
	client.httpClient = &http.Client{Timeout: 2 * time.Second}

	resp, err := client.get(ctx, "/status")
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}

	var st api.StatusResponse
	if err := decodeJSON(resp, &st); err != nil {
		printStatus("Server", "error (%v)", err)
		return nil
	}

	printStatus("Server", "running on port %d", cfg.Server.Port)
	printStatus("LLM provider", "%s", cfg.LLM.Provider)
	printStatus("Memories", "%d", st.MemoryCount)
	for _, m := range st.Monitors {
		printStatus("Monitor "+m.Source, "%s", monitorLine(m))
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func monitorLine(m api.MonitorReport) string {
	if !m.Configured {
		return "not configured"
	}
	line := "every " + m.Interval
	if m.Interval == "" {
		line = "on demand"
	}
	if m.Running {
		line += ", running"
	}
	if m.LastRun != nil {
		line += fmt.Sprintf(", last run %s (%s)", m.LastRun.Local().Format(time.Kitchen), m.LastStatus)
	} else {
		line += ", not run yet"
	}
	return line
}
