package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/iv/internal/actions"
	"github.com/dgnsrekt/iv/internal/api"
	"github.com/dgnsrekt/iv/internal/browser"
	"github.com/dgnsrekt/iv/internal/cdpcontrol"
	"github.com/dgnsrekt/iv/internal/config"
	"github.com/dgnsrekt/iv/internal/controller"
	"github.com/dgnsrekt/iv/internal/files"
	"github.com/dgnsrekt/iv/internal/inject"
	"github.com/dgnsrekt/iv/internal/loop"
	"github.com/dgnsrekt/iv/internal/netutil"
	"github.com/dgnsrekt/iv/internal/notify"
	"github.com/dgnsrekt/iv/internal/profile"
	"github.com/dgnsrekt/iv/internal/relay"
	"github.com/dgnsrekt/iv/internal/session"
	"github.com/dgnsrekt/iv/internal/settings"
	"github.com/dgnsrekt/iv/internal/wallpaper"
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

	slog.Info("iv config loaded",
		"config_dir", cfg.ConfigDir,
		"cache_dir", cfg.CacheDir,
		"cdp_url", cfg.CDPURL(),
		"launch_browser", cfg.LaunchBrowser,
		"headless", cfg.Headless,
		"page_url", cfg.ClientPageURL(),
		"api_addr", cfg.APIAddr,
		"watch", cfg.Watch,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	if err := run(cfg, os.Args[1:]); err != nil {
		slog.Error("iv exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prof, err := profile.New(cfg.CacheDir, config.AppName)
	if err != nil {
		return err
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StorageDir: prof.StorageDir,
			CacheDir:   prof.CacheDir,
			Headless:   cfg.Headless,
		})
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	client := cdpcontrol.NewClient(cfg.CDPURL(), cfg.EvalTimeout())
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	tab, err := browser.OpenTab(ctx, cfg.CDPURL(), blankPage(ctx, client, launcher))
	if err != nil {
		return err
	}
	defer tab.Close()

	page, err := client.AttachPage(ctx, tab.TargetID)
	if err != nil {
		return err
	}
	defer func() {
		if err := page.Close(); err != nil {
			slog.Debug("page close failed", "error", err)
		}
	}()

	if product, ua, err := client.BrowserVersion(ctx); err != nil {
		slog.Warn("failed to read browser version", "error", err)
	} else {
		prof.SetUserAgent(ua)
		slog.Info("browser connected", "product", product, "user_agent", prof.UserAgent())
	}

	store := settings.NewStore(cfg.SettingsPath())
	l := loop.New()
	broker := relay.NewBroker()

	var notifier notify.Notifier
	if cfg.NTFYEndpoint != "" {
		notifier = notify.NTFY{Client: &http.Client{Timeout: 10 * time.Second}, Endpoint: cfg.NTFYEndpoint}
	}

	bundle := inject.NewClientLoader(inject.Bundle{
		Dir:        cfg.ClientDir,
		SourceGlob: "*.pyj",
		Entry:      "main.pyj",
		Output:     "main.js",
		CacheDir:   filepath.Join(prof.CacheDir, "rapydscript"),
		Compiler:   cfg.ClientCompiler,
	})

	view, err := session.Open(ctx, session.Deps{
		Loop:     l,
		Page:     page,
		Profile:  prof,
		Settings: store,
		Client:   bundle,
		Args:     args,
		PageURL:  cfg.ClientPageURL(),
		Actions: actions.Options{
			Wallpaper:        wallpaper.Parse(cfg.WallpaperCommand),
			Notifier:         notifier,
			ShowErrorDialogs: cfg.ShowErrorDialogs,
		},
		Quit: stop,
		Publish: func(ev session.Event) {
			if err := broker.PublishJSON(ev.Type, ev); err != nil {
				slog.Warn("failed to publish session event", "type", ev.Type, "error", err)
			}
		},
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := l.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-client.Done():
			return errors.New("lost connection to the browser")
		case <-gctx.Done():
			return nil
		}
	})
	if launcher != nil && launcher.Exited() != nil {
		g.Go(func() error {
			select {
			case <-launcher.Exited():
				return errors.New("browser exited")
			case <-gctx.Done():
				return nil
			}
		})
	}

	if cfg.Watch && len(args) > 0 {
		watcher, err := files.NewWatcher(args, 500*time.Millisecond, func() {
			l.Post(view.Refresh)
		})
		if err != nil {
			slog.Warn("file watching disabled", "error", err)
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	if cfg.APIAddr != "" {
		ln, err := netutil.Listen(cfg.APIAddr, cfg.APIPortCandidates, cfg.APIPortAutoFallback)
		if err != nil {
			slog.Error("control API disabled", "preferred", cfg.APIAddr, "error", err)
		} else {
			bindAddr := ln.Addr().String()
			svc := controller.NewService(l, view, store)
			srv := &http.Server{Handler: api.NewServer(svc, broker)}
			g.Go(func() error {
				slog.Info("control API listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}
	}

	err = g.Wait()
	view.Close()
	view.Drain()
	slog.Info("iv shutting down")
	return err
}

// blankPage returns the start page of a browser launched by us so the viewer
// reuses its window; otherwise "" to open a new tab.
func blankPage(ctx context.Context, client *cdpcontrol.Client, launcher *browser.Launcher) string {
	if launcher == nil || !launcher.Running() {
		return ""
	}
	pages, err := client.ListPages(ctx)
	if err != nil {
		slog.Debug("cannot list pages", "error", err)
		return ""
	}
	for _, p := range pages {
		if p.URL == "about:blank" {
			return p.TargetID
		}
	}
	return ""
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
