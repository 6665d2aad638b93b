package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBrokerFilters(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe(Filter{Types: []string{TypePageContentCollected}, TabID: "tab-1"})
	defer b.Unsubscribe(id)

	b.PublishPayload(TypePageContentCollected, "tab-2", nil)
	b.PublishPayload(TypeRoundStatus, "tab-1", nil)
	b.PublishPayload(TypePageContentCollected, "tab-1", map[string]string{"title": "x"})

	select {
	case m := <-ch:
		if m.TabID != "tab-1" || m.Type != TypePageContentCollected {
			t.Fatalf("received %+v; want page-content-collected from tab-1", m)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	select {
	case m := <-ch:
		t.Fatalf("unexpected extra message %+v", m)
	default:
	}
}

func TestBrokerUnsubscribeTwice(t *testing.T) {
	b := NewBroker()
	id, _ := b.Subscribe(Filter{})
	b.Unsubscribe(id)
	b.Unsubscribe(id)
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d; want 0", b.ClientCount())
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	id, _ := b.Subscribe(Filter{})
	defer b.Unsubscribe(id)
	for i := 0; i < subscriberBufSize+5; i++ {
		b.PublishPayload(TypeRoundStatus, "", nil)
	}
	if got := b.Dropped(); got != 5 {
		t.Fatalf("Dropped() = %d; want 5", got)
	}
}

func TestListenTimesOutAndUnsubscribes(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	sub := Listen(b, TypePageContentCollected, "tab-1")
	_, err := sub.Wait(ctx)
	sub.Close()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v; want deadline exceeded", err)
	}
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d; want 0 after Close", b.ClientCount())
	}
}

func TestListenCatchesEarlyReply(t *testing.T) {
	b := NewBroker()
	sub := Listen(b, TypeMarkdownPasteComplete, "llm")
	defer sub.Close()

	b.PublishPayload(TypeMarkdownPasteComplete, "llm", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, err := sub.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if m.TabID != "llm" {
		t.Fatalf("Wait() tab = %q; want llm", m.TabID)
	}
}

type fakeDriver struct {
	mu      sync.Mutex
	handler func(tabID string, params json.RawMessage)
	evals   chan string
}

func (f *fakeDriver) InstallBinding(context.Context, string, string, string) error { return nil }

func (f *fakeDriver) Eval(_ context.Context, tabID, body string, _ any) error {
	f.evals <- tabID + "|" + body
	return nil
}

func (f *fakeDriver) RegisterCDPEventHandler(_ string, fn func(string, json.RawMessage)) func() {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handler = nil
		f.mu.Unlock()
	}
}

func (f *fakeDriver) fire(t *testing.T, tabID string, env map[string]any) {
	t.Helper()
	inner, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	params, err := json.Marshal(map[string]any{"name": BindingName, "payload": string(inner)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		t.Fatal("bridge not started")
	}
	h(tabID, params)
}

func TestBridgePublishesOneWayMessages(t *testing.T) {
	drv := &fakeDriver{evals: make(chan string, 1)}
	b := NewBroker()
	br := NewBridge(drv, b)
	br.Start()
	defer br.Stop()

	id, ch := b.Subscribe(Filter{})
	defer b.Unsubscribe(id)

	drv.fire(t, "tab-9", map[string]any{"type": TypeOSThemeChanged, "payload": "dark"})
	drv.fire(t, "tab-9", map[string]any{"type": TypeMarkdownPasteComplete, "payload": nil})

	select {
	case m := <-ch:
		if m.Type != TypeMarkdownPasteComplete || m.TabID != "tab-9" {
			t.Fatalf("published %+v; want paste complete from tab-9", m)
		}
		if m.Payload != nil {
			t.Fatalf("payload = %s; want nil", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}

func TestBridgeAnswersRequests(t *testing.T) {
	drv := &fakeDriver{evals: make(chan string, 1)}
	br := NewBridge(drv, NewBroker())
	br.Handle(TypeGetYouTubeCaption, func(_ context.Context, tabID string, payload json.RawMessage) (any, error) {
		var req struct {
			VideoID string `json:"video_id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return map[string]string{"caption": "cap-" + req.VideoID}, nil
	})
	br.Start()
	defer br.Stop()

	drv.fire(t, "tab-1", map[string]any{"type": TypeGetYouTubeCaption, "id": "r1-1", "payload": map[string]string{"video_id": "abc"}})

	select {
	case got := <-drv.evals:
		if !strings.HasPrefix(got, "tab-1|") {
			t.Fatalf("reply went to %q; want tab-1", got)
		}
		if !strings.Contains(got, `_resolve("r1-1",{"caption":"cap-abc"})`) {
			t.Fatalf("reply body = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply evaluated")
	}
}

func TestBridgeRepliesNullWithoutHandler(t *testing.T) {
	drv := &fakeDriver{evals: make(chan string, 1)}
	br := NewBridge(drv, NewBroker())
	br.Start()
	defer br.Stop()

	drv.fire(t, "tab-1", map[string]any{"type": TypeGetNotionPageMarkdown, "id": "r2"})

	select {
	case got := <-drv.evals:
		if !strings.Contains(got, `_resolve("r2",null)`) {
			t.Fatalf("reply body = %q; want null resolve", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply evaluated")
	}
}

func TestBridgeRefusesRoundControlFromPages(t *testing.T) {
	drv := &fakeDriver{evals: make(chan string, 4)}
	b := NewBroker()
	br := NewBridge(drv, b)
	br.Handle(TypeCollectPageContent, func(context.Context, string, json.RawMessage) (any, error) {
		t.Error("collect handler reached from a page")
		return nil, nil
	})
	br.Start()
	defer br.Stop()

	id, ch := b.Subscribe(Filter{})
	defer b.Unsubscribe(id)

	for _, typ := range []string{TypeCollectPageContent, TypeDownloadMarkdown, TypeOpenPromptsEditor, TypeNotionPageChunksMarkdown, TypeRoundStatus} {
		drv.fire(t, "tab-1", map[string]any{"type": typ, "payload": map[string]any{"tab_ids": []string{"tab-1"}, "local_files": []string{"/etc/passwd"}}})
	}
	drv.fire(t, "tab-1", map[string]any{"type": TypeCollectPageContent, "id": "r3", "payload": map[string]any{}})
	drv.fire(t, "tab-1", map[string]any{"type": TypePageContentCollected, "payload": map[string]string{"content": "x"}})

	select {
	case m := <-ch:
		if m.Type != TypePageContentCollected {
			t.Fatalf("published %s; want only page-content-collected", m.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("page-content-collected not published")
	}
	select {
	case m := <-ch:
		t.Fatalf("published %s from a page; want refused", m.Type)
	case got := <-drv.evals:
		t.Fatalf("reply evaluated %q; want refused request", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAcceptedFromPage(t *testing.T) {
	tests := []struct {
		typ     string
		request bool
		want    bool
	}{
		{TypePageContentCollected, false, true},
		{TypeMarkdownPasteComplete, false, true},
		{TypeGetSelectedTabsData, true, true},
		{TypeGetYouTubeCaption, true, true},
		{TypeGetNotionPageMarkdown, true, true},
		{TypeGetSelectedTabsData, false, false},
		{TypePageContentCollected, true, false},
		{TypeCollectPageContent, false, false},
		{TypeDownloadMarkdown, false, false},
		{TypeOpenPromptsEditor, true, false},
		{TypeNotionPageChunksMarkdown, false, false},
	}
	for _, tt := range tests {
		if got := AcceptedFromPage(tt.typ, tt.request); got != tt.want {
			t.Fatalf("AcceptedFromPage(%q, %v) = %v; want %v", tt.typ, tt.request, got, tt.want)
		}
	}
}

func TestSSEHandlerStreamsFilteredMessages(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?types="+TypeRoundStatus, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.PublishPayload(TypePageContentCollected, "tab", nil)
	b.PublishPayload(TypeRoundStatus, "", map[string]bool{"busy": true})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "event: "+TypeRoundStatus+"\n" {
		t.Fatalf("first line = %q; want round-status event", line)
	}
}
