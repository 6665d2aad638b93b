// Package orchestrator collects one tab: it wakes the tab, injects the
// collector script for its kind and waits for the page to report back.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgnsrekt/tabtalk/internal/bus"
	"github.com/dgnsrekt/tabtalk/internal/cache"
	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
	"github.com/dgnsrekt/tabtalk/internal/extract"
	"github.com/dgnsrekt/tabtalk/internal/types"
	"github.com/dgnsrekt/tabtalk/internal/youtube"
)

const (
	DefaultTimeout = 10 * time.Second
	probeTimeout   = 2 * time.Second
	reloadTimeout  = 8 * time.Second
)

// Browser is the slice of the CDP client collection needs.
type Browser interface {
	Tab(ctx context.Context, tabID string) (cdpcontrol.TabInfo, error)
	Lifecycle(ctx context.Context, tabID string) (cdpcontrol.Lifecycle, error)
	Reload(ctx context.Context, tabID string, timeout time.Duration) error
	ActivateTab(ctx context.Context, tabID string) error
	Eval(ctx context.Context, tabID, body string, out any) error
}

// Installer makes the page bridge available in a tab.
type Installer interface {
	Install(ctx context.Context, tabID string) error
}

type Orchestrator struct {
	browser    Browser
	bridge     Installer
	broker     *bus.Broker
	extractors extract.Set
	subtitles  *cache.Ordered[string, string]
}

func New(browser Browser, bridge Installer, broker *bus.Broker, extractors extract.Set, subtitles *cache.Ordered[string, string]) *Orchestrator {
	return &Orchestrator{
		browser:    browser,
		bridge:     bridge,
		broker:     broker,
		extractors: extractors,
		subtitles:  subtitles,
	}
}

// CollectPageContent returns the tab's normalized content, or false when the
// tab cannot be collected or does not report within timeout. There is no
// retry.
func (o *Orchestrator) CollectPageContent(ctx context.Context, tabID string, timeout time.Duration) (*types.CollectedTabInfo, bool) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sub := bus.Listen(o.broker, bus.TypePageContentCollected, tabID)
	defer sub.Close()

	tab, err := o.browser.Tab(ctx, tabID)
	if err != nil {
		slog.Warn("orchestrator tab lookup failed", "tab_id", tabID, "error", err)
		return nil, false
	}
	if !extract.Collectable(tab.URL) {
		slog.Info("orchestrator tab not collectable", "tab_id", tabID, "url", tab.URL)
		return nil, false
	}
	kind := extract.Select(tab.URL)

	if err := o.wake(ctx, tabID); err != nil {
		slog.Warn("orchestrator wake failed", "tab_id", tabID, "error", err)
		return nil, false
	}

	if kind == extract.KindYouTube && !o.captionCached(tab.URL) {
		// Background tabs throttle the player; the transcript panel needs a
		// foreground tab.
		if err := o.browser.ActivateTab(ctx, tabID); err != nil {
			slog.Warn("orchestrator activate failed", "tab_id", tabID, "error", err)
		}
	}

	if err := o.bridge.Install(ctx, tabID); err != nil {
		slog.Warn("orchestrator bridge install failed", "tab_id", tabID, "error", err)
		return nil, false
	}
	if err := o.browser.Eval(ctx, tabID, extract.CollectorScript(kind), nil); err != nil {
		slog.Warn("orchestrator collector injection failed", "tab_id", tabID, "kind", kind, "error", err)
		return nil, false
	}

	msg, err := sub.Wait(ctx)
	if err != nil {
		slog.Warn("orchestrator collection timed out", "tab_id", tabID, "kind", kind, "timeout", timeout)
		return nil, false
	}

	var page extract.Page
	if err := msg.Decode(&page); err != nil {
		slog.Warn("orchestrator malformed page report", "tab_id", tabID, "error", err)
		return nil, false
	}
	page.TabID = tabID
	if page.URL == "" {
		page.URL = tab.URL
	}
	if page.Title == "" {
		page.Title = tab.Title
	}
	if page.Kind == "" {
		page.Kind = kind
	}

	content := o.extractors.Extract(ctx, page)
	slog.Info("orchestrator tab collected", "tab_id", tabID, "kind", page.Kind, "content_bytes", len(content))
	return &types.CollectedTabInfo{
		TabID:   tabID,
		Title:   page.Title,
		URL:     page.URL,
		Content: content,
	}, true
}

// wake reloads discarded, frozen or never-loaded tabs. A frozen tab runs no
// scripts, so its lifecycle probe times out.
func (o *Orchestrator) wake(ctx context.Context, tabID string) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	lc, err := o.browser.Lifecycle(probeCtx, tabID)
	cancel()

	switch {
	case err == nil && !lc.NeedsReload():
		return nil
	case err != nil && !cdpcontrol.HasCode(err, cdpcontrol.CodeEvalTimeout) && !errors.Is(err, context.DeadlineExceeded):
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	slog.Info("orchestrator waking tab", "tab_id", tabID, "discarded", lc.Discarded, "ready_state", lc.ReadyState, "probe_error", err)
	return o.browser.Reload(ctx, tabID, reloadTimeout)
}

func (o *Orchestrator) captionCached(tabURL string) bool {
	if o.subtitles == nil {
		return false
	}
	_, ok := o.subtitles.Get(youtube.VideoID(tabURL))
	return ok
}
