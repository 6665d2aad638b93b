package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/tabtalk/internal/bus"
	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
	"github.com/dgnsrekt/tabtalk/internal/config"
	"github.com/dgnsrekt/tabtalk/internal/controller"
	"github.com/dgnsrekt/tabtalk/internal/download"
	"github.com/dgnsrekt/tabtalk/internal/paster"
	"github.com/dgnsrekt/tabtalk/internal/provider"
	"github.com/dgnsrekt/tabtalk/internal/types"
)

type stubService struct {
	collectErr error
	collected  controller.Request
	pasted     string
	captions   map[string]string
}

func (s *stubService) Tabs(context.Context) ([]controller.TabView, error) {
	return []controller.TabView{{TabInfo: cdpcontrol.TabInfo{TabID: "a", URL: "https://example.com"}, Kind: "general", Collectable: true}}, nil
}

func (s *stubService) Click(_ context.Context, tabIDs []string, _ controller.Request) (controller.ClickResult, error) {
	return controller.ClickResult{Action: controller.ClickArmed, TabIDs: tabIDs}, nil
}

func (s *stubService) Collect(_ context.Context, req controller.Request) (controller.RoundView, error) {
	s.collected = req
	if s.collectErr != nil {
		return controller.RoundView{}, s.collectErr
	}
	return controller.RoundView{RoundID: "r1", Phase: controller.PhaseCollecting, Busy: true, TabIDs: req.TabIDs}, nil
}

func (s *stubService) Download(_ context.Context, tabIDs []string) (controller.RoundView, error) {
	return controller.RoundView{RoundID: "r2", Kind: controller.KindDownload, Busy: true, TabIDs: tabIDs}, nil
}

func (s *stubService) State() controller.RoundView {
	return controller.RoundView{Phase: controller.PhaseIdle}
}

func (s *stubService) SelectedTabsData() paster.SelectedTabsData {
	return paster.SelectedTabsData{Tabs: []*types.CollectedTabInfo{}, Files: []paster.File{}}
}

func (s *stubService) PasteComplete(tabID string) bool {
	s.pasted = tabID
	return true
}

func (s *stubService) Caption(videoID string) (string, bool) {
	c, ok := s.captions[videoID]
	return c, ok
}

func (s *stubService) NotionMarkdown(string) (string, bool) { return "", false }

func (s *stubService) OpenPromptsEditor(string) error { return nil }

func newTestServer(t *testing.T, svc Service) (http.Handler, *download.Store) {
	t.Helper()
	store, err := download.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	prompts, err := config.NewPrompts([]config.SavedPrompt{{ID: "p1", Name: "One", Content: "first"}})
	if err != nil {
		t.Fatalf("NewPrompts() error = %v", err)
	}
	return NewServer(svc, Options{
		Prompts:   prompts,
		Providers: provider.NewRegistry("", nil),
		Downloads: store,
	}), store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	h, _ := newTestServer(t, &stubService{})
	w := do(t, h, http.MethodGet, "/docs", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
	if !strings.Contains(body, `apiDescriptionUrl="/openapi.json"`) {
		t.Fatalf("docs body = %q; want the openapi.json description url", body)
	}
}

func TestHealthReportsEventBus(t *testing.T) {
	broker := bus.NewBroker()
	_, ch := broker.Subscribe(bus.Filter{})
	for i := 0; i < cap(ch)+3; i++ {
		broker.PublishPayload(bus.TypeRoundStatus, "", nil)
	}
	h := NewServer(&stubService{}, Options{Broker: broker, Providers: provider.NewRegistry("", nil)})

	w := do(t, h, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	var got struct {
		Status        string `json:"status"`
		EventClients  int    `json:"event_clients"`
		EventsDropped int64  `json:"events_dropped"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Status != "ok" || got.EventClients != 1 || got.EventsDropped != 3 {
		t.Fatalf("health = %+v; want ok with 1 client and 3 dropped", got)
	}
}

func TestCollectAccepted(t *testing.T) {
	svc := &stubService{}
	h, _ := newTestServer(t, svc)

	w := do(t, h, http.MethodPost, "/api/v1/collect", `{"tab_ids":["a","b"],"llm_provider":"claude"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d; want %d (%s)", w.Code, http.StatusAccepted, w.Body.String())
	}
	if svc.collected.Provider != "claude" || len(svc.collected.TabIDs) != 2 {
		t.Fatalf("collected = %+v; want claude with 2 tabs", svc.collected)
	}
}

func TestCollectBusyIsConflict(t *testing.T) {
	h, _ := newTestServer(t, &stubService{collectErr: controller.ErrBusy})
	w := do(t, h, http.MethodPost, "/api/v1/collect", `{"tab_ids":["a"]}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d; want %d", w.Code, http.StatusConflict)
	}
}

func TestMapErrStatuses(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{cdpcontrol.CodeValidation, http.StatusBadRequest},
		{cdpcontrol.CodeTabNotFound, http.StatusNotFound},
		{cdpcontrol.CodeNotFound, http.StatusNotFound},
		{cdpcontrol.CodeBusy, http.StatusConflict},
		{cdpcontrol.CodeEvalTimeout, http.StatusGatewayTimeout},
		{cdpcontrol.CodeCDPUnavailable, http.StatusBadGateway},
		{cdpcontrol.CodeAPIUnavailable, http.StatusBadGateway},
		{cdpcontrol.CodeEvalFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		err := mapErr(cdpcontrol.NewError(tt.code, "x", nil))
		se, ok := err.(interface{ GetStatus() int })
		if !ok {
			t.Fatalf("mapErr(%s) = %T; want status error", tt.code, err)
		}
		if se.GetStatus() != tt.want {
			t.Fatalf("mapErr(%s) status = %d; want %d", tt.code, se.GetStatus(), tt.want)
		}
	}
}

func TestCaptionNullWhenMissing(t *testing.T) {
	h, _ := newTestServer(t, &stubService{captions: map[string]string{"v1": "00:00:01: hi"}})

	w := do(t, h, http.MethodGet, "/api/v1/captions/v2", "")
	if !strings.Contains(w.Body.String(), `"caption":null`) {
		t.Fatalf("body = %s; want null caption", w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/api/v1/captions/v1", "")
	if !strings.Contains(w.Body.String(), `"caption":"00:00:01: hi"`) {
		t.Fatalf("body = %s; want cached caption", w.Body.String())
	}
}

func TestPasteCompleteForwardsTab(t *testing.T) {
	svc := &stubService{}
	h, _ := newTestServer(t, svc)
	w := do(t, h, http.MethodPost, "/api/v1/paste-complete", `{"tab_id":"llm"}`)
	if w.Code != http.StatusOK || svc.pasted != "llm" {
		t.Fatalf("status = %d pasted = %q; want 200 llm", w.Code, svc.pasted)
	}
}

func TestPromptsAndProviders(t *testing.T) {
	h, _ := newTestServer(t, &stubService{})

	if w := do(t, h, http.MethodGet, "/api/v1/prompts/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing prompt status = %d; want 404", w.Code)
	}
	w := do(t, h, http.MethodGet, "/api/v1/providers", "")
	var out struct {
		Default   string              `json:"default"`
		Providers []provider.Provider `json:"providers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode providers: %v", err)
	}
	if out.Default != provider.ChatGPT || len(out.Providers) != 4 {
		t.Fatalf("providers = %+v; want chatgpt default and 4 providers", out)
	}
}

func TestDownloadContent(t *testing.T) {
	h, store := newTestServer(t, &stubService{})
	meta, err := store.Save(&types.CollectedTabInfo{TabID: "a", Title: "Notes", URL: "https://example.com", Content: "body"}, 0, 1, time.Now())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	w := do(t, h, http.MethodGet, "/api/v1/downloads/"+meta.ID+"/content", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "# Notes\n") {
		t.Fatalf("body = %q; want markdown document", w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/markdown") {
		t.Fatalf("content-type = %q; want text/markdown", got)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/downloads/not-a-uuid", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d; want 400", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/downloads/"+meta.ID, ""); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d; want 200", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/downloads/"+meta.ID, ""); w.Code != http.StatusNotFound {
		t.Fatalf("deleted download status = %d; want 404", w.Code)
	}
}
