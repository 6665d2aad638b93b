package capture

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/tabtalk/internal/types"
)

const (
	pendingTTL      = 5 * time.Minute
	cleanupInterval = time.Minute
	sinkTimeout     = 30 * time.Second
)

// Sink consumes a matched, fully loaded response.
type Sink interface {
	Handle(ctx context.Context, resp *types.InterceptedResponse)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, resp *types.InterceptedResponse)

func (f SinkFunc) Handle(ctx context.Context, resp *types.InterceptedResponse) { f(ctx, resp) }

// Refetcher re-issues a request with the tab's cookies when the browser no
// longer holds the response body.
type Refetcher interface {
	Fetch(ctx context.Context, tabID, url string, headers map[string]string) ([]byte, error)
}

// Tracker correlates Network events by request id and hands matched
// responses to the sink registered for their rule.
type Tracker struct {
	rules        []Rule
	tabs         types.TabInfoProvider
	refetch      Refetcher
	maxBodyBytes int

	sinksMu sync.RWMutex
	sinks   map[string]Sink

	pending   map[string]*types.PendingRequest
	pendingMu sync.Mutex

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

func NewTracker(rules []Rule, tabs types.TabInfoProvider, refetch Refetcher, maxBodyBytes int) *Tracker {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	t := &Tracker{
		rules:        rules,
		tabs:         tabs,
		refetch:      refetch,
		maxBodyBytes: maxBodyBytes,
		sinks:        make(map[string]Sink),
		pending:      make(map[string]*types.PendingRequest),
		done:         make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// Route registers the sink for a rule name.
func (t *Tracker) Route(rule string, sink Sink) {
	t.sinksMu.Lock()
	t.sinks[rule] = sink
	t.sinksMu.Unlock()
}

// Close stops the cleanup loop and waits for in-flight sinks.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.done) })
	t.wg.Wait()
}

func (t *Tracker) OnRequestWillBeSent(tabID string, ev *network.EventRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	rule, ok := matchRule(t.rules, ev.Request.Method, ev.Request.URL)
	if !ok {
		return
	}

	resp := &types.InterceptedResponse{
		Timestamp: time.Now().UTC(),
		RequestID: string(ev.RequestID),
		Rule:      rule.Name,
		TabID:     tabID,
		URL:       ev.Request.URL,
		Method:    ev.Request.Method,
	}

	t.pendingMu.Lock()
	t.pending[string(ev.RequestID)] = &types.PendingRequest{
		Response:  resp,
		Headers:   headerMapToStringMap(ev.Request.Headers),
		Timestamp: time.Now(),
		Refetch:   rule.Refetch && strings.EqualFold(ev.Request.Method, http.MethodGet),
	}
	t.pendingMu.Unlock()
	slog.Debug("capture request matched", "rule", rule.Name, "tab_id", tabID, "request_id", ev.RequestID)
}

func (t *Tracker) OnResponseReceived(_ string, ev *network.EventResponseReceived) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	pending, ok := t.pending[string(ev.RequestID)]
	if !ok || ev.Response == nil {
		return
	}
	pending.Response.Status = int(ev.Response.Status)
	pending.ResourceType = string(ev.Type)
}

// OnLoadingFinished completes a matched request. getBody reads the body
// from the browser; it may be nil when the tab context is gone.
func (t *Tracker) OnLoadingFinished(tabID string, ev *network.EventLoadingFinished, getBody func() ([]byte, error)) {
	t.pendingMu.Lock()
	pending, ok := t.pending[string(ev.RequestID)]
	if ok {
		delete(t.pending, string(ev.RequestID))
	}
	t.pendingMu.Unlock()
	if !ok {
		return
	}

	resp := pending.Response
	if info, found := t.tabs.GetByStringID(tabID); found {
		resp.TabURL = info.URL
	}

	t.sinksMu.RLock()
	sink := t.sinks[resp.Rule]
	t.sinksMu.RUnlock()
	if sink == nil {
		slog.Debug("capture no sink for rule", "rule", resp.Rule)
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()

		body := t.readBody(ctx, tabID, pending, getBody)
		if len(body) == 0 {
			slog.Warn("capture body unavailable", "rule", resp.Rule, "tab_id", tabID, "url", resp.URL)
			return
		}

		if clip(resp, body, t.maxBodyBytes) {
			slog.Warn("capture body truncated", "rule", resp.Rule, "original_size", resp.OriginalSize, "kept_size", len(resp.Body), "sha256", resp.SHA256)
		}
		sink.Handle(ctx, resp)
	}()
}

func (t *Tracker) readBody(ctx context.Context, tabID string, pending *types.PendingRequest, getBody func() ([]byte, error)) []byte {
	if getBody != nil {
		body, err := getBody()
		if err == nil && len(body) > 0 {
			return body
		}
		slog.Debug("capture get response body failed", "request_id", pending.Response.RequestID, "error", err)
	}
	if t.refetch == nil || !pending.Refetch {
		return nil
	}
	body, err := t.refetch.Fetch(ctx, tabID, pending.Response.URL, pending.Headers)
	if err != nil {
		slog.Warn("capture refetch failed", "url", pending.Response.URL, "error", err)
		return nil
	}
	pending.Response.Refetched = true
	return body
}

func (t *Tracker) OnLoadingFailed(_ string, ev *network.EventLoadingFailed) {
	t.pendingMu.Lock()
	delete(t.pending, string(ev.RequestID))
	t.pendingMu.Unlock()
}

// Pending reports how many matched requests await completion.
func (t *Tracker) Pending() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.pending)
}

func (t *Tracker) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			t.cleanupStale(now)
		case <-t.done:
			return
		}
	}
}

func (t *Tracker) cleanupStale(now time.Time) {
	threshold := now.Add(-pendingTTL)

	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	for id, pending := range t.pending {
		if pending.Timestamp.Before(threshold) {
			delete(t.pending, id)
		}
	}
}

func headerMapToStringMap(headers network.Headers) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}
