package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dgnsrekt/tabtalk/internal/bus"
	"github.com/dgnsrekt/tabtalk/internal/cache"
	"github.com/dgnsrekt/tabtalk/internal/capture"
	"github.com/dgnsrekt/tabtalk/internal/cdp"
	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
	"github.com/dgnsrekt/tabtalk/internal/config"
	"github.com/dgnsrekt/tabtalk/internal/extract"
	"github.com/dgnsrekt/tabtalk/internal/notion"
	"github.com/dgnsrekt/tabtalk/internal/orchestrator"
)

const defaultMaxBodyBytes = 8 << 20

// core is what every command that talks to the browser needs.
type core struct {
	cfg         *config.Config
	client      *cdpcontrol.Client
	broker      *bus.Broker
	bridge      *bus.Bridge
	subtitles   *cache.Ordered[string, string]
	notionPages *cache.NotionPages
	orch        *orchestrator.Orchestrator
}

func connect(ctx context.Context, cfg *config.Config) (*core, error) {
	client := cdpcontrol.NewClient(cfg.CDPURL(), cfg.EvalTimeout())
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect cdp at %s: %w", cfg.CDPURL(), err)
	}

	c := &core{
		cfg:         cfg,
		client:      client,
		broker:      bus.NewBroker(),
		subtitles:   cache.NewOrdered[string, string](cfg.SubtitleCacheSize),
		notionPages: cache.NewNotionPages(cfg.NotionCacheTTL()),
	}
	c.bridge = bus.NewBridge(client, c.broker)
	c.bridge.Start()

	extractors := extract.NewSet(&extract.Notion{
		Client:  notion.NewClient(cfg.NotionRPS),
		Cookies: client,
		Cache:   c.notionPages,
	})
	c.orch = orchestrator.New(client, c.bridge, c.broker, extractors, c.subtitles)
	return c, nil
}

func (c *core) Close() {
	c.bridge.Stop()
	_ = c.client.Close()
}

// startCapture attaches the network watcher that fills the caption and
// Notion caches from the tabs' own traffic.
func (c *core) startCapture(ctx context.Context) (*cdp.Watcher, *capture.Tracker, error) {
	rules := capture.DefaultRules()
	maxBody := defaultMaxBodyBytes
	rc, err := capture.LoadRules(c.cfg.InterceptFile)
	switch {
	case err == nil:
		rules = rc.Rules
		if rc.MaxBodyBytes > 0 {
			maxBody = rc.MaxBodyBytes
		}
	case errors.Is(err, os.ErrNotExist):
		slog.Info("intercept config not found, using default rules", "path", c.cfg.InterceptFile)
	default:
		return nil, nil, err
	}

	registry := cdp.NewTabRegistry()
	tracker := capture.NewTracker(rules, registry, capture.NewHTTPRefetcher(c.client, int64(maxBody)), maxBody)
	tracker.Route(capture.RuleYouTubeTimedText, capture.SubtitleSink{Cache: c.subtitles})
	tracker.Route(capture.RuleNotionChunks, capture.NotionSink{
		Pages: notion.NewAccumulator(c.cfg.NotionCacheTTL()),
		Publish: func(pageID, markdown string) {
			c.broker.PublishPayload(bus.TypeNotionPageChunksMarkdown, "", map[string]string{
				"page_id":  pageID,
				"markdown": markdown,
			})
		},
	})

	watcher := cdp.NewWatcher(c.cfg.CDPURL(), c.client, tracker, registry, c.cfg.WatchInterval())
	if err := watcher.Start(ctx); err != nil {
		tracker.Close()
		return nil, nil, err
	}
	return watcher, tracker, nil
}

func loadPrompts(path string) (*config.Prompts, error) {
	prompts, err := config.LoadPrompts(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("prompts file not found, prompt library empty", "path", path)
		return config.NewPrompts(nil)
	}
	return prompts, err
}

func notifyClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
