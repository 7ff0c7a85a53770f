package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/window_titler/internal/api"
	"github.com/dgnsrekt/window_titler/internal/browser"
	"github.com/dgnsrekt/window_titler/internal/cdp"
	"github.com/dgnsrekt/window_titler/internal/config"
	"github.com/dgnsrekt/window_titler/internal/controller"
	"github.com/dgnsrekt/window_titler/internal/netutil"
	"github.com/dgnsrekt/window_titler/internal/relay"
	"github.com/dgnsrekt/window_titler/internal/session"
	"github.com/dgnsrekt/window_titler/internal/settings"
	"github.com/dgnsrekt/window_titler/internal/storage"
	"github.com/dgnsrekt/window_titler/internal/sysinfo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("window_titler config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"launch_browser", cfg.LaunchBrowser,
		"settings_file", cfg.SettingsFile,
		"session_db", cfg.SessionDB,
		"journal_dir", cfg.JournalDir,
		"poll_interval_ms", cfg.PollIntervalMS,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	if err := run(cfg); err != nil {
		slog.Error("window_titler failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
			ExecPath:   cfg.BrowserPath,
		})
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	b, err := cdp.Connect(ctx, cdp.Config{HTTPBase: cfg.CDPURL(), PollInterval: cfg.PollInterval()})
	if err != nil {
		return err
	}
	defer b.Close()

	prefs, err := settings.Open(cfg.SettingsFile)
	if err != nil {
		return err
	}

	store, err := session.Open(session.Config{
		Path:           cfg.SessionDB,
		BrowserSession: b.Info().SessionID(),
		PollInterval:   cfg.SessionPollInterval(),
		Debug:          cfg.LogLevel == "debug",
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Debug("session store close failed", "error", err)
		}
	}()
	if n, err := store.PruneOtherSessions(ctx); err != nil {
		slog.Warn("session prune failed", "error", err)
	} else if n > 0 {
		slog.Info("session pruned earlier browser runs", "rows", n)
	}

	env := b.Environment()
	platform := sysinfo.Detect(ctx)
	env.OS, env.Arch = platform.OS, platform.Arch

	events := relay.NewBroker()
	svc := controller.NewService(controller.Deps{
		Browser:     b,
		Session:     store,
		Settings:    prefs,
		Environment: env,
		Events:      events,
	})

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		return err
	}
	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, events)}

	g, gctx := errgroup.WithContext(ctx)
	// Event streams end with the process rather than holding Shutdown open.
	srv.BaseContext = func(net.Listener) context.Context { return gctx }
	g.Go(func() error {
		store.Run(gctx)
		return nil
	})
	if cfg.JournalDir != "" {
		journal := storage.NewJSONLWriter(cfg.JournalDir, store.BrowserSession(), 1024, cfg.JournalMaxSizeMB)
		g.Go(func() error {
			storage.Follow(gctx, events, journal)
			return journal.Close()
		})
	}
	g.Go(func() error {
		slog.Info("window_titler listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-b.Done():
			return errors.New("browser connection lost")
		}
	})
	g.Go(func() error {
		if err := svc.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Stop(shutdownCtx); err != nil {
			slog.Warn("window_titler clear prefixes failed", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("window_titler shutdown failed", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
