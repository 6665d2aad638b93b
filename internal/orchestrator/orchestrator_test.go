package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tabtalk/internal/bus"
	"github.com/dgnsrekt/tabtalk/internal/cache"
	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
	"github.com/dgnsrekt/tabtalk/internal/extract"
	"github.com/dgnsrekt/tabtalk/internal/youtube"
)

type fakeBrowser struct {
	mu        sync.Mutex
	tabs      map[string]cdpcontrol.TabInfo
	lifecycle cdpcontrol.Lifecycle
	lcErr     error
	reloads   int
	activated []string
	evals     []string
	onEval    func(tabID string)
}

func (f *fakeBrowser) Tab(_ context.Context, tabID string) (cdpcontrol.TabInfo, error) {
	tab, ok := f.tabs[tabID]
	if !ok {
		return cdpcontrol.TabInfo{}, cdpcontrol.NewError(cdpcontrol.CodeTabNotFound, "tab not found", nil)
	}
	return tab, nil
}

func (f *fakeBrowser) Lifecycle(context.Context, string) (cdpcontrol.Lifecycle, error) {
	return f.lifecycle, f.lcErr
}

func (f *fakeBrowser) Reload(context.Context, string, time.Duration) error {
	f.mu.Lock()
	f.reloads++
	f.mu.Unlock()
	return nil
}

func (f *fakeBrowser) ActivateTab(_ context.Context, tabID string) error {
	f.mu.Lock()
	f.activated = append(f.activated, tabID)
	f.mu.Unlock()
	return nil
}

func (f *fakeBrowser) Eval(_ context.Context, tabID, body string, _ any) error {
	f.mu.Lock()
	f.evals = append(f.evals, body)
	f.mu.Unlock()
	if f.onEval != nil {
		go f.onEval(tabID)
	}
	return nil
}

type nopInstaller struct{ installs int }

func (n *nopInstaller) Install(context.Context, string) error {
	n.installs++
	return nil
}

func reportFrom(b *bus.Broker, payload any) func(string) {
	return func(tabID string) {
		b.PublishPayload(bus.TypePageContentCollected, tabID, payload)
	}
}

func newTestOrchestrator(br *fakeBrowser, broker *bus.Broker, subs *cache.Ordered[string, string]) *Orchestrator {
	return New(br, &nopInstaller{}, broker, extract.NewSet(nil), subs)
}

func TestCollectGeneralPage(t *testing.T) {
	broker := bus.NewBroker()
	br := &fakeBrowser{
		tabs:      map[string]cdpcontrol.TabInfo{"t1": {TabID: "t1", URL: "https://example.com/a", Title: "Tab Title"}},
		lifecycle: cdpcontrol.Lifecycle{ReadyState: "complete"},
	}
	br.onEval = reportFrom(broker, extract.Page{
		Kind:         extract.KindGeneral,
		Title:        "Article",
		URL:          "https://example.com/a",
		SelectedText: " picked ",
		HTML:         "<html><body><article><p>Hello <b>world</b></p></article></body></html>",
	})
	o := newTestOrchestrator(br, broker, nil)

	info, ok := o.CollectPageContent(context.Background(), "t1", time.Second)
	if !ok {
		t.Fatal("CollectPageContent() ok = false; want true")
	}
	if info.TabID != "t1" || info.Title != "Article" || info.URL != "https://example.com/a" {
		t.Fatalf("CollectPageContent() = %+v", info)
	}
	sel, content, ok := extract.Unwrap(info.Content)
	if !ok || sel != "picked" || !strings.Contains(content, "**world**") {
		t.Fatalf("content = %q", info.Content)
	}
	if br.reloads != 0 {
		t.Fatalf("reloads = %d; want 0", br.reloads)
	}
	if broker.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d; want listener removed", broker.ClientCount())
	}
}

func TestCollectTwiceYieldsSameContent(t *testing.T) {
	broker := bus.NewBroker()
	br := &fakeBrowser{
		tabs:      map[string]cdpcontrol.TabInfo{"t1": {TabID: "t1", URL: "https://example.com/a", Title: "Tab Title"}},
		lifecycle: cdpcontrol.Lifecycle{ReadyState: "complete"},
	}
	br.onEval = reportFrom(broker, extract.Page{
		Kind:  extract.KindGeneral,
		Title: "Article",
		URL:   "https://example.com/a",
		HTML:  "<html><body><article><h1>Notes</h1><p>Same <i>every</i> time</p></article></body></html>",
	})
	o := newTestOrchestrator(br, broker, nil)

	first, ok := o.CollectPageContent(context.Background(), "t1", time.Second)
	if !ok {
		t.Fatal("first CollectPageContent() ok = false; want true")
	}
	second, ok := o.CollectPageContent(context.Background(), "t1", time.Second)
	if !ok {
		t.Fatal("second CollectPageContent() ok = false; want true")
	}
	if first.Content != second.Content || first.Title != second.Title || first.URL != second.URL {
		t.Fatalf("second collection = %+v; want identical to first %+v", second, first)
	}
	if broker.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d; want listeners removed", broker.ClientCount())
	}
}

func TestCollectRejectsNonHTTPTab(t *testing.T) {
	br := &fakeBrowser{tabs: map[string]cdpcontrol.TabInfo{"t1": {TabID: "t1", URL: "chrome://settings"}}}
	o := newTestOrchestrator(br, bus.NewBroker(), nil)

	if info, ok := o.CollectPageContent(context.Background(), "t1", time.Second); ok || info != nil {
		t.Fatalf("CollectPageContent() = %v, %v; want nil, false", info, ok)
	}
	if len(br.evals) != 0 {
		t.Fatalf("evals = %d; want none", len(br.evals))
	}
}

func TestCollectUnknownTab(t *testing.T) {
	o := newTestOrchestrator(&fakeBrowser{}, bus.NewBroker(), nil)
	if _, ok := o.CollectPageContent(context.Background(), "missing", time.Second); ok {
		t.Fatal("CollectPageContent() ok = true for a missing tab")
	}
}

func TestCollectTimesOutWithoutReport(t *testing.T) {
	broker := bus.NewBroker()
	br := &fakeBrowser{
		tabs:      map[string]cdpcontrol.TabInfo{"t1": {TabID: "t1", URL: "https://example.com"}},
		lifecycle: cdpcontrol.Lifecycle{ReadyState: "complete"},
	}
	o := newTestOrchestrator(br, broker, nil)

	start := time.Now()
	if _, ok := o.CollectPageContent(context.Background(), "t1", 50*time.Millisecond); ok {
		t.Fatal("CollectPageContent() ok = true; want timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("CollectPageContent() took %v; want about the timeout", time.Since(start))
	}
	if len(br.evals) != 1 {
		t.Fatalf("evals = %d; want exactly one injection", len(br.evals))
	}
	if broker.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d; want listener removed", broker.ClientCount())
	}
}

func TestCollectIgnoresOtherTabsReports(t *testing.T) {
	broker := bus.NewBroker()
	br := &fakeBrowser{
		tabs:      map[string]cdpcontrol.TabInfo{"t1": {TabID: "t1", URL: "https://example.com"}},
		lifecycle: cdpcontrol.Lifecycle{ReadyState: "complete"},
	}
	br.onEval = func(string) {
		broker.PublishPayload(bus.TypePageContentCollected, "t2", extract.Page{Title: "wrong"})
	}
	o := newTestOrchestrator(br, broker, nil)
	if _, ok := o.CollectPageContent(context.Background(), "t1", 80*time.Millisecond); ok {
		t.Fatal("CollectPageContent() accepted a report from another tab")
	}
}

func TestCollectReloadsDiscardedTab(t *testing.T) {
	broker := bus.NewBroker()
	br := &fakeBrowser{
		tabs:      map[string]cdpcontrol.TabInfo{"t1": {TabID: "t1", URL: "https://example.com"}},
		lifecycle: cdpcontrol.Lifecycle{Discarded: true},
	}
	br.onEval = reportFrom(broker, extract.Page{Kind: extract.KindGeneral})
	o := newTestOrchestrator(br, broker, nil)

	info, ok := o.CollectPageContent(context.Background(), "t1", time.Second)
	if !ok {
		t.Fatal("CollectPageContent() ok = false")
	}
	if br.reloads != 1 {
		t.Fatalf("reloads = %d; want 1", br.reloads)
	}
	if info.Content != "<content>\nno content\n</content>" {
		t.Fatalf("Content = %q; want no content sentinel", info.Content)
	}
}

func TestCollectReloadsFrozenTab(t *testing.T) {
	broker := bus.NewBroker()
	br := &fakeBrowser{
		tabs:  map[string]cdpcontrol.TabInfo{"t1": {TabID: "t1", URL: "https://example.com"}},
		lcErr: cdpcontrol.NewError(cdpcontrol.CodeEvalTimeout, "evaluation timed out", nil),
	}
	br.onEval = reportFrom(broker, extract.Page{Kind: extract.KindGeneral})
	o := newTestOrchestrator(br, broker, nil)

	if _, ok := o.CollectPageContent(context.Background(), "t1", time.Second); !ok {
		t.Fatal("CollectPageContent() ok = false")
	}
	if br.reloads != 1 {
		t.Fatalf("reloads = %d; want 1", br.reloads)
	}
}

func TestCollectYouTubeActivatesUnlessCached(t *testing.T) {
	const watch = "https://www.youtube.com/watch?v=vid1"
	broker := bus.NewBroker()
	br := &fakeBrowser{
		tabs:      map[string]cdpcontrol.TabInfo{"yt": {TabID: "yt", URL: watch}},
		lifecycle: cdpcontrol.Lifecycle{ReadyState: "complete"},
	}
	br.onEval = reportFrom(broker, extract.Page{
		Kind:  extract.KindYouTube,
		Title: "Clip",
		URL:   watch,
		Video: &youtube.Video{Title: "Clip", Captions: "00:00:01: hi"},
	})
	subs := cache.NewOrdered[string, string](20)
	o := newTestOrchestrator(br, broker, subs)

	info, ok := o.CollectPageContent(context.Background(), "yt", time.Second)
	if !ok {
		t.Fatal("CollectPageContent() ok = false")
	}
	if len(br.activated) != 1 {
		t.Fatalf("activated = %v; want one activation", br.activated)
	}
	if !strings.Contains(info.Content, "Video title: Clip") || !strings.Contains(info.Content, "00:00:01: hi") {
		t.Fatalf("Content = %q", info.Content)
	}
	if !strings.Contains(br.evals[0], `"youtube"`) {
		t.Fatal("collector script is not the YouTube variant")
	}

	subs.Set("vid1", "00:00:01: hi")
	if _, ok := o.CollectPageContent(context.Background(), "yt", time.Second); !ok {
		t.Fatal("CollectPageContent() ok = false")
	}
	if len(br.activated) != 1 {
		t.Fatalf("activated = %v; want no activation with cached captions", br.activated)
	}
}
