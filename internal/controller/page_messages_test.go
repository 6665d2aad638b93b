package controller

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tabtalk/internal/bus"
	"github.com/dgnsrekt/tabtalk/internal/paster"
)

// pageDriver stands in for the CDP client behind a real bus.Bridge.
type pageDriver struct {
	mu      sync.Mutex
	handler func(string, json.RawMessage)
	evals   chan string
}

func (d *pageDriver) InstallBinding(context.Context, string, string, string) error { return nil }

func (d *pageDriver) Eval(_ context.Context, tabID, body string, _ any) error {
	d.evals <- tabID + "|" + body
	return nil
}

func (d *pageDriver) RegisterCDPEventHandler(_ string, fn func(string, json.RawMessage)) func() {
	d.mu.Lock()
	d.handler = fn
	d.mu.Unlock()
	return func() {}
}

func (d *pageDriver) send(t *testing.T, tabID string, env map[string]any) {
	t.Helper()
	inner, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	params, err := json.Marshal(map[string]string{"name": bus.BindingName, "payload": string(inner)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	h(tabID, params)
}

func secretFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_rsa.txt")
	if err := os.WriteFile(path, []byte("TOP-SECRET-KEY"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestPageCannotStartRoundOrReadTabData(t *testing.T) {
	h := newHarness(t, Options{}, pageA)
	drv := &pageDriver{evals: make(chan string, 4)}
	br := bus.NewBridge(drv, h.broker)
	br.Start()
	defer br.Stop()

	d := h.svc.d
	d.Bridge = br
	svc := NewService(d, Options{})
	t.Cleanup(svc.Close)
	svc.Start()

	drv.send(t, "a", map[string]any{
		"type":    bus.TypeCollectPageContent,
		"payload": map[string]any{"tab_ids": []string{"a"}, "local_files": []string{secretFile(t)}},
	})
	drv.send(t, "a", map[string]any{"type": bus.TypeDownloadMarkdown, "payload": map[string]any{"tab_ids": []string{"a"}}})
	drv.send(t, "a", map[string]any{"type": bus.TypeGetSelectedTabsData, "id": "r1", "payload": map[string]any{}})

	select {
	case got := <-drv.evals:
		if strings.Contains(got, "TOP-SECRET-KEY") {
			t.Fatalf("reply leaked local file: %q", got)
		}
		if !strings.Contains(got, `_resolve("r1",null)`) {
			t.Fatalf("reply = %q; want null", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply evaluated")
	}
	svc.Wait()
	if st := svc.State(); st.Busy || st.RoundID != "" {
		t.Fatalf("State() = %+v; want no round started by a page", st)
	}
}

func TestDestinationDataOnlyForDestinationTab(t *testing.T) {
	h := newHarness(t, Options{}, pageA)
	h.svc.Start()
	handler := h.bridge.handlers[bus.TypeGetSelectedTabsData]
	if handler == nil {
		t.Fatal("selected tabs handler not registered")
	}

	if _, err := handler(context.Background(), "a", nil); err == nil {
		t.Fatal("handler(a) while idle = nil error; want refused")
	}

	secret := secretFile(t)
	if _, err := h.svc.Collect(context.Background(), Request{TabIDs: []string{"a"}, LocalFiles: []string{secret}}); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	h.svc.Wait()

	if _, err := handler(context.Background(), "a", nil); err == nil {
		t.Fatal("handler(a) = nil error; want only the destination answered")
	}
	out, err := handler(context.Background(), "new-1", nil)
	if err != nil {
		t.Fatalf("handler(new-1) error = %v", err)
	}
	data := out.(paster.SelectedTabsData)
	if len(data.Tabs) != 1 || len(data.Files) != 2 {
		t.Fatalf("handler(new-1) = %d tabs, %d files; want 1 and 2", len(data.Tabs), len(data.Files))
	}

	h.svc.PasteComplete("new-1")
	if _, err := handler(context.Background(), "new-1", nil); err == nil {
		t.Fatal("handler(new-1) after paste = nil error; want refused")
	}
}

func TestNotionChunksFromTabsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	h.svc.Start()

	h.broker.PublishPayload(bus.TypeNotionPageChunksMarkdown, "tab-1", map[string]string{
		"page_id":  "11111111111111111111111111111111",
		"markdown": "# Forged",
	})
	h.broker.PublishPayload(bus.TypeNotionPageChunksMarkdown, "", map[string]string{
		"page_id":  "22222222222222222222222222222222",
		"markdown": "# Real",
	})
	waitFor(t, "notion cache", func() bool {
		_, ok := h.svc.NotionMarkdown("22222222222222222222222222222222")
		return ok
	})
	if md, ok := h.svc.NotionMarkdown("11111111111111111111111111111111"); ok {
		t.Fatalf("NotionMarkdown() = %q; want tab-published chunk ignored", md)
	}
}
