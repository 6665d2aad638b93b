// Package cdp keeps chromedp sessions on YouTube and Notion tabs so their
// network traffic reaches the capture tracker.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/tabtalk/internal/capture"
	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
	"github.com/dgnsrekt/tabtalk/internal/extract"
	"github.com/dgnsrekt/tabtalk/internal/youtube"
)

// TabLister enumerates the browser's page targets.
type TabLister interface {
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
}

// Watcher attaches to every watched tab and routes Network events to the
// tracker. Tabs are re-synced every interval.
type Watcher struct {
	cdpURL   string
	lister   TabLister
	tracker  *capture.Tracker
	registry *TabRegistry
	interval time.Duration

	allocCtx    context.Context
	allocCancel context.CancelFunc

	tabs   map[target.ID]*TabContext
	tabsMu sync.RWMutex

	// attach is swapped in tests to avoid a live browser.
	attach func(id target.ID, url string) (*TabContext, error)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type TabContext struct {
	ID     target.ID
	URL    string
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWatcher(cdpURL string, lister TabLister, tracker *capture.Tracker, registry *TabRegistry, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	w := &Watcher{
		cdpURL:   cdpURL,
		lister:   lister,
		tracker:  tracker,
		registry: registry,
		interval: interval,
		tabs:     make(map[target.ID]*TabContext),
		done:     make(chan struct{}),
	}
	w.attach = w.attachToTab
	return w
}

// Start performs an initial sync and keeps syncing in the background until
// Close or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("cdp watcher connecting", "url", w.cdpURL)
	w.allocCtx, w.allocCancel = chromedp.NewRemoteAllocator(context.Background(), w.cdpURL)

	if err := w.Sync(ctx); err != nil {
		w.allocCancel()
		return fmt.Errorf("cdp: initial sync: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				syncCtx, cancel := context.WithTimeout(ctx, w.interval*2)
				if err := w.Sync(syncCtx); err != nil {
					slog.Warn("cdp watcher sync failed", "error", err)
				}
				cancel()
			case <-ctx.Done():
				return
			case <-w.done:
				return
			}
		}
	}()
	return nil
}

// Sync attaches to new watched tabs and forgets closed ones.
func (w *Watcher) Sync(ctx context.Context) error {
	tabs, err := w.lister.ListTabs(ctx)
	if err != nil {
		return err
	}

	present := make(map[target.ID]bool, len(tabs))
	for _, t := range tabs {
		id := target.ID(t.TabID)
		present[id] = true

		w.tabsMu.RLock()
		_, attached := w.tabs[id]
		w.tabsMu.RUnlock()
		if attached || !Watched(t.URL) {
			continue
		}

		tab, err := w.attach(id, t.URL)
		if err != nil {
			slog.Error("cdp watcher attach failed", "tab_id", t.TabID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		w.registry.Register(id, t.URL, t.Title)
		w.tabsMu.Lock()
		w.tabs[id] = tab
		w.tabsMu.Unlock()
		slog.Info("cdp watcher attached", "tab_id", t.TabID, "kind", extract.Select(t.URL), "url", truncateURL(t.URL))
	}

	w.tabsMu.Lock()
	for id, tab := range w.tabs {
		if present[id] {
			continue
		}
		if tab.cancel != nil {
			tab.cancel()
		}
		delete(w.tabs, id)
		w.registry.Remove(id)
		slog.Info("cdp watcher detached", "tab_id", id)
	}
	w.tabsMu.Unlock()
	return nil
}

// Watched reports whether a tab's traffic is worth observing: any YouTube
// page (watch pages are reached by in-app navigation) and Notion.
func Watched(raw string) bool {
	if extract.Select(raw) != extract.KindGeneral {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "youtube.com" || host == "www.youtube.com"
}

func (w *Watcher) attachToTab(targetID target.ID, url string) (*TabContext, error) {
	tabCtx, tabCancel := chromedp.NewContext(w.allocCtx, chromedp.WithTargetID(targetID))
	tab := &TabContext{ID: targetID, URL: url, ctx: tabCtx, cancel: tabCancel}

	if err := chromedp.Run(tabCtx, network.Enable(), page.Enable()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("enable network/page domains: %w", err)
	}
	chromedp.ListenTarget(tabCtx, w.createEventHandler(tab))

	if extract.Select(url) == extract.KindYouTube {
		go w.triggerCaptions(tab)
	}
	return tab, nil
}

func (w *Watcher) createEventHandler(tab *TabContext) func(ev any) {
	tabID := string(tab.ID)
	return func(ev any) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				w.onNavigated(tab, e.Frame.URL)
			}
		case *page.EventNavigatedWithinDocument:
			w.onNavigated(tab, e.URL)
		case *network.EventRequestWillBeSent:
			w.tracker.OnRequestWillBeSent(tabID, e)
		case *network.EventResponseReceived:
			w.tracker.OnResponseReceived(tabID, e)
		case *network.EventLoadingFinished:
			tabCtx := tab.ctx
			getBody := func() ([]byte, error) {
				bodyCtx, bodyCancel := context.WithTimeout(tabCtx, 10*time.Second)
				defer bodyCancel()

				var body []byte
				err := chromedp.Run(bodyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
					var err error
					body, err = network.GetResponseBody(e.RequestID).Do(ctx)
					return err
				}))
				return body, err
			}
			w.tracker.OnLoadingFinished(tabID, e, getBody)
		case *network.EventLoadingFailed:
			w.tracker.OnLoadingFailed(tabID, e)
		}
	}
}

func (w *Watcher) onNavigated(tab *TabContext, url string) {
	w.registry.Register(tab.ID, url, "")
	slog.Debug("cdp watcher tab navigated", "tab_id", tab.ID, "url", truncateURL(url))
	if extract.Select(url) == extract.KindYouTube {
		// Listeners must not block on CDP round trips.
		go w.triggerCaptions(tab)
	}
}

// triggerCaptions turns on the player's captions so it requests the
// timedtext track the tracker is waiting for.
func (w *Watcher) triggerCaptions(tab *TabContext) {
	ctx, cancel := context.WithTimeout(tab.ctx, 10*time.Second)
	defer cancel()

	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(youtube.TriggerCaptionsJS, &clicked)); err != nil {
		slog.Debug("cdp watcher caption trigger failed", "tab_id", tab.ID, "error", err)
		return
	}
	slog.Debug("cdp watcher caption trigger armed", "tab_id", tab.ID, "armed", clicked)
}

func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.tabsMu.Lock()
	w.tabs = make(map[target.ID]*TabContext)
	w.tabsMu.Unlock()

	if w.allocCancel != nil {
		w.allocCancel()
	}
	slog.Info("cdp watcher closed")
	return nil
}

func (w *Watcher) TabCount() int {
	w.tabsMu.RLock()
	defer w.tabsMu.RUnlock()
	return len(w.tabs)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
