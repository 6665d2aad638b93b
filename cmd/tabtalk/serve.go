package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkgbrowser "github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/tabtalk/internal/api"
	"github.com/dgnsrekt/tabtalk/internal/browser"
	"github.com/dgnsrekt/tabtalk/internal/controller"
	"github.com/dgnsrekt/tabtalk/internal/download"
	"github.com/dgnsrekt/tabtalk/internal/netutil"
	"github.com/dgnsrekt/tabtalk/internal/notify"
	"github.com/dgnsrekt/tabtalk/internal/provider"
	"github.com/dgnsrekt/tabtalk/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tabtalk daemon and HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	slog.Info("tabtalk config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"collect_timeout_ms", cfg.CollectTimeoutMS,
		"paste_recovery_ms", cfg.PasteRecoveryMS,
		"provider", cfg.Provider,
		"log_only", cfg.LogOnly,
		"download_dir", cfg.DownloadDir,
		"log_level", cfg.LogLevel,
	)

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return err
	}

	c, err := connect(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer c.Close()

	watcher, tracker, err := c.startCapture(ctx)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer tracker.Close()
	defer func() { _ = watcher.Close() }()

	prompts, err := loadPrompts(cfg.PromptsFile)
	if err != nil {
		_ = ln.Close()
		return err
	}
	downloads, err := download.NewStore(cfg.DownloadDir)
	if err != nil {
		_ = ln.Close()
		return err
	}
	journal := storage.NewJournal(cfg.JournalDir, 256, 10)
	defer func() { _ = journal.Close() }()
	providers := provider.NewRegistry(cfg.Provider, cfg.DisabledProviders)

	svc := controller.NewService(controller.Deps{
		Browser:     c.client,
		Bridge:      c.bridge,
		Broker:      c.broker,
		Collector:   c.orch,
		Providers:   providers,
		Prompts:     prompts,
		Downloads:   downloads,
		Notifier:    notify.New(cfg.NtfyURL, notifyClient()),
		Journal:     journal,
		Subtitles:   c.subtitles,
		NotionPages: c.notionPages,
		OpenEditor: func(string) error {
			return pkgbrowser.OpenFile(cfg.PromptsFile)
		},
	}, controller.Options{
		CollectTimeout: cfg.CollectTimeout(),
		PasteRecovery:  cfg.PasteRecovery(),
		LogOnly:        cfg.LogOnly,
	})
	svc.Start()
	defer svc.Close()

	h := api.NewServer(svc, api.Options{
		Broker:      c.broker,
		Prompts:     prompts,
		Providers:   providers,
		Downloads:   downloads,
		CORSOrigins: cfg.CORSOrigins,
		Version:     version,
	})
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		addr := ln.Addr().String()
		slog.Info("tabtalk listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("tabtalk server failed", "error", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("tabtalk shutdown failed", "error", err)
	}
	slog.Info("tabtalk stopped", "tabs_watched", watcher.TabCount())
	return nil
}
