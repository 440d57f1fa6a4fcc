package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/medchat/internal/api"
	"github.com/kalambet/medchat/internal/chat"
	"github.com/kalambet/medchat/internal/config"
	"github.com/kalambet/medchat/internal/engine"
	"github.com/kalambet/medchat/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the chat tool over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the server and model service are up",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showStatus(cmd.Context(), cmd.OutOrStdout(), client)
	},
}

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))
}

// app bundles the long-lived collaborators shared by serve and mcp.
type app struct {
	cfg   config.Config
	eng   *engine.OllamaEngine
	svc   *chat.Service
	store *storage.Store // nil unless the journal is enabled
}

// newApp wires the model handle. When load is true the model is made ready
// (pulled and warmed if needed) before returning; progress goes to w.
func newApp(ctx context.Context, cfg config.Config, load bool, w io.Writer) (*app, error) {
	a := &app{
		cfg: cfg,
		eng: engine.NewOllamaEngine(cfg.Ollama.BaseURL),
	}

	opts := []chat.Option{chat.WithMaxInFlight(cfg.Server.MaxInFlight)}
	if cfg.Storage.Journal {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.store = store
		opts = append(opts, chat.WithJournal(store))
		slog.Info("exchange journal enabled", "data_dir", cfg.Storage.DataDir)
	}

	a.svc = chat.NewService(a.eng, cfg.Model.Name, opts...)

	if !load {
		slog.Info("model load skipped in this process", "debug", cfg.Server.Debug, "run_main", cfg.Server.RunMain)
		return a, nil
	}

	printStep("Loading model %s", cfg.Model.Name)
	err := a.svc.Load(ctx, func(ctx context.Context) error {
		return engine.EnsureReady(ctx, a.eng, cfg.Model.Name, w)
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("loading model: %w", err)
	}
	printSuccess("Model %s ready", cfg.Model.Name)
	return a, nil
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	fmt.Fprintf(os.Stderr, "medchat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, cfg.ShouldLoadModel(), os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	probe := engine.NewHealthProbe(a.eng, 5*time.Second)
	defer probe.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewHandler(api.Deps{Service: a.svc, Probe: probe}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("medchat listening", "addr", cfg.Addr(), "model", cfg.Model.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdown(shutdownCtx, srv)
	})

	return g.Wait()
}

// shutdown stops srv gracefully. Generations are never cancelled, so one may
// outlive the deadline; that is logged rather than reported as a failure.
func shutdown(ctx context.Context, srv *http.Server) error {
	err := srv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("shutdown deadline passed with requests still in flight", "timeout", shutdownTimeout)
		return nil
	}
	return err
}

func runMCP(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout carries the protocol, so progress output goes to stderr.
	a, err := newApp(ctx, cfg, true, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	deps := api.MCPDeps{Service: a.svc, Version: version}
	if a.store != nil {
		deps.History = a.store
	}
	mcpSrv := api.NewMCPServer(deps)

	slog.Info("MCP server started (stdio transport)", "model", cfg.Model.Name)
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus(ctx context.Context, w io.Writer, client *apiClient) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h, err := client.health(ctx)
	if err != nil {
		printStatus(w, "Server", "stopped")
		return nil
	}
	printStatus(w, "Server", "running at %s", client.baseURL)
	printStatus(w, "Model", "%s", h.Model)
	printStatus(w, "Model service", "%s", h.Engine)
	return nil
}
