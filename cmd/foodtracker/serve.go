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
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/MrWong99/foodtracker/internal/api"
	"github.com/MrWong99/foodtracker/internal/config"
	"github.com/MrWong99/foodtracker/internal/health"
	"github.com/MrWong99/foodtracker/internal/mcp"
	"github.com/MrWong99/foodtracker/internal/observe"
	"github.com/MrWong99/foodtracker/internal/tracker"
)

const shutdownTimeout = 15 * time.Second

var (
	watchConfig bool
	serveMCP    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the JSON API under /api together with /healthz, /readyz and
/metrics. With --mcp the MCP tools are also served over streamable HTTP at
/mcp. Log level and matcher settings are reloaded when the config file
changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&watchConfig, "watch", true, "reload log level and matcher settings when the config file changes or on SIGHUP")
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve MCP over streamable HTTP at /mcp")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ────────────────────────────────────────────────────────────
	var metricsHandler http.Handler
	if cfg.Telemetry.MetricsEnabled() {
		reg := observe.NewRegistry()
		shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			SampleRatio:    cfg.Telemetry.TraceSampleRatio,
			Registry:       reg,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTelemetry(sctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
		metricsHandler = observe.MetricsHandler(reg)
	}

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("close error", "err", err)
		}
	}()

	// ── Routes ───────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	api.New(rt.tracker).Register(mux)
	health.New(rt.checkers...).Register(mux)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	if serveMCP {
		ms, err := mcp.New(rt.tracker)
		if err != nil {
			return err
		}
		mux.Handle("/mcp", ms.Handler())
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(rt.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// ── Hot reload ───────────────────────────────────────────────────────────
	if watchConfig {
		if _, err := os.Stat(configPath); err == nil {
			w, err := config.NewWatcher(configPath, func(d config.ConfigDiff, _ *config.Config) {
				applyReload(rt.tracker, d)
			}, config.WithOverride(applyFlagOverrides))
			if err != nil {
				return err
			}
			go w.Run(ctx)
			go reloadOnHangup(ctx, w)
		}
	}

	printStartupSummary(rt)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	slog.Info("server ready", "listen_addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	return nil
}

// applyReload applies the live-reloadable parts of a config change.
func applyReload(t *tracker.Tracker, d config.ConfigDiff) {
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.MatcherChanged {
		t.SetMatcher(tracker.MatcherSettings{TopK: d.NewMatcher.TopK, MinConfidence: d.NewMatcher.Threshold()})
		slog.Info("config reload: matcher updated", "top_k", d.NewMatcher.TopK, "min_confidence", d.NewMatcher.Threshold())
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes need a restart", "sections", d.RestartRequired)
	}
}

// reloadOnHangup rereads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload on SIGHUP failed", "path", configPath, "err", err)
			}
		}
	}
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(rt *runtime) {
	w := os.Stderr
	ix := rt.tracker.Index()
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      foodtracker: startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Provider", rt.provider.ModelID())
	printRow(w, "Image scan", fmt.Sprint(rt.tracker.SupportsImage()))
	printRow(w, "Foods", fmt.Sprintf("%d (%d rows)", ix.Len(), len(ix.Rows())))
	printRow(w, "Corpus", string(rt.source))
	printRow(w, "Store", string(cfg.Store.Backend))
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

// summaryValueWidth is the value column width of the startup summary, in
// runes.
const summaryValueWidth = 21

func printRow(w io.Writer, key, value string) {
	fmt.Fprintf(w, "║  %-12s : %-21s ║\n", key, truncateRunes(value, summaryValueWidth))
}

// truncateRunes shortens s to at most n runes, ending it with an ellipsis
// when anything was cut.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
