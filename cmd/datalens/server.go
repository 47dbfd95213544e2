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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/datalens/internal/api"
	"github.com/kalambet/datalens/internal/config"
	"github.com/kalambet/datalens/internal/engine"
	"github.com/kalambet/datalens/internal/onboard"
	"github.com/kalambet/datalens/internal/session"
	"github.com/kalambet/datalens/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (and optionally an MCP server on stdio)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataPath, _ := cmd.Flags().GetString("data")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		if withMCP && dataPath == "" {
			return fmt.Errorf("--mcp requires --data: the MCP tools work on one preloaded session")
		}
		return runServer(dataPath, withMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show datalens system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().String("data", "", "data file to preload as a session (csv, tsv, zip, xlsx, pdf)")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout for the preloaded session")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "datalens.pid")
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

func runServer(dataPath string, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "datalens version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if cfg.Server.APIToken == "" {
		slog.Warn("server.api_token is not set, the API accepts unauthenticated requests")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("datalens is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("datalens is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing: %v\n", err)
		}
	}()

	sessions := session.NewRegistry(cfg.Session.TTL)

	deps := api.Deps{
		Sessions:     sessions,
		Assistant:    a.assistant,
		Jobs:         a.store,
		Interactions: a.store,
		Token:        cfg.Server.APIToken,
	}
	if a.cache != nil {
		deps.Cache = a.cache
	}
	handler := api.NewHandler(deps)

	worker := onboard.NewWorker(a.store, sessions, a.suggester, 500*time.Millisecond)
	go worker.Run(ctx)

	if dataPath != "" {
		sess, err := a.loadSession(ctx, dataPath, false)
		if err != nil {
			return err
		}
		sessions.Put(sess)
		if _, err := onboard.Enqueue(ctx, a.store, sess.ID); err != nil {
			slog.Warn("failed to enqueue question suggestion", "session_id", sess.ID, "error", err)
		}
		slog.Info("preloaded session", "session_id", sess.ID, "tables", strings.Join(sess.TableNames(), ","))

		if withMCP {
			mcpSrv := api.NewMCPServer(api.MCPDeps{
				Session:      sess,
				Tools:        a.tools,
				Assistant:    a.assistant,
				Interactions: a.store,
				Version:      version,
			})
			stdioSrv := server.NewStdioServer(mcpSrv)
			go func() {
				if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("MCP stdio server error", "error", err)
				}
			}()
			slog.Info("MCP server started (stdio transport)")
		}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "datalens listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			if pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir)); err == nil {
				printStatus("Server", "running on port %d (PID %d)", cfg.Server.Port, pid)
			} else {
				printStatus("Server", "running on port %d", cfg.Server.Port)
			}
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	eng, err := engine.Open(ctx, engine.ProviderConfig{
		Provider:      cfg.LLM.Provider,
		APIKey:        cfg.LLM.APIKey,
		BaseURL:       cfg.LLM.BaseURL,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		Timeout:       cfg.LLM.Timeout,
	})
	if c, ok := eng.(io.Closer); ok {
		defer c.Close()
	}
	switch {
	case err != nil:
		printStatus("Engine", "%v", err)
	case eng.IsRunning(ctx):
		printStatus("Engine", "%s reachable", eng.Name())
	default:
		printStatus("Engine", "%s not reachable", eng.Name())
	}

	printStatus("Chat model", "%s (%s)", cfg.LLM.Model, cfg.LLM.Provider)
	if cfg.Cache.Enabled {
		printStatus("Embed model", "%s (%s)", cfg.Embed.Model, cfg.Embed.Provider)
		printStatus("Cache", "enabled, threshold %.2f", cfg.Cache.Threshold)
	} else {
		printStatus("Cache", "disabled")
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		printStatus("Storage", "error: %v", err)
	} else {
		defer store.Close()
		printStatus("Schema", "%s", schemaStatus(store))
		if counts, err := store.Counts(ctx); err != nil {
			printStatus("Storage", "error: %v", err)
		} else {
			printStatus("Cache entries", "%d", counts.CacheEntries)
			printStatus("Interactions", "%d", counts.Interactions)
			printStatus("Jobs", "%d pending, %d failed", counts.PendingJobs, counts.FailedJobs)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func schemaStatus(store *storage.Store) string {
	versions, err := store.AppliedMigrations()
	if err != nil {
		return "error: " + err.Error()
	}
	if len(versions) == 0 {
		return "no migrations applied"
	}
	return fmt.Sprintf("version %d (%d migrations)", versions[len(versions)-1], len(versions))
}
