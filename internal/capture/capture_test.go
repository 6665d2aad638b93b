package capture

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/tabtalk/internal/cache"
	"github.com/dgnsrekt/tabtalk/internal/notion"
	"github.com/dgnsrekt/tabtalk/internal/types"
)

type staticTabs map[string]string

func (s staticTabs) GetByStringID(tabID string) (*types.TabInfo, bool) {
	u, ok := s[tabID]
	if !ok {
		return nil, false
	}
	return &types.TabInfo{TargetID: tabID, URL: u}, true
}

type recordingSink struct {
	mu  sync.Mutex
	got []*types.InterceptedResponse
}

func (r *recordingSink) Handle(_ context.Context, resp *types.InterceptedResponse) {
	r.mu.Lock()
	r.got = append(r.got, resp)
	r.mu.Unlock()
}

type fakeRefetch struct {
	body []byte
	err  error
	urls []string
}

func (f *fakeRefetch) Fetch(_ context.Context, _ string, url string, _ map[string]string) ([]byte, error) {
	f.urls = append(f.urls, url)
	return f.body, f.err
}

func requestEvent(id, method, url string) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request: &network.Request{
			URL:     url,
			Method:  method,
			Headers: network.Headers{"Accept": "*/*", "X-Num": 3},
		},
	}
}

func TestMatchRule(t *testing.T) {
	rules := []Rule{
		{Name: "posts-only", URLPattern: "/submit", Method: "POST"},
		{Name: RuleYouTubeTimedText, URLPattern: "/api/timedtext"},
	}
	if _, ok := matchRule(rules, "GET", "https://x.test/submit"); ok {
		t.Fatal("matchRule() matched GET against a POST rule")
	}
	if r, ok := matchRule(rules, "post", "https://x.test/submit"); !ok || r.Name != "posts-only" {
		t.Fatalf("matchRule() = %v, %v; want posts-only", r, ok)
	}
	if r, ok := matchRule(rules, "GET", "https://www.youtube.com/api/timedtext?v=abc"); !ok || r.Name != RuleYouTubeTimedText {
		t.Fatalf("matchRule() = %v, %v; want timedtext", r, ok)
	}
	if _, ok := matchRule(rules, "GET", "https://www.youtube.com/watch?v=abc"); ok {
		t.Fatal("matchRule() matched a watch page")
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intercept.yaml")
	yaml := "max_body_bytes: 1024\nrules:\n  - name: custom\n    url_pattern: /feed\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if cfg.MaxBodyBytes != 1024 || len(cfg.Rules) != 1 || cfg.Rules[0].Name != "custom" {
		t.Fatalf("LoadRules() = %+v", cfg)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err = LoadRules(empty)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(cfg.Rules) != len(DefaultRules()) {
		t.Fatalf("LoadRules() rules = %d; want defaults", len(cfg.Rules))
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules:\n  - url_pattern: /x\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadRules(bad); err == nil || !strings.Contains(err.Error(), "missing name") {
		t.Fatalf("LoadRules() error = %v; want missing name", err)
	}
}

func TestTrackerDeliversMatchedBody(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(nil, staticTabs{"tab-1": "https://www.youtube.com/watch?v=abc"}, nil, 0)
	tr.Route(RuleYouTubeTimedText, sink)

	tr.OnRequestWillBeSent("tab-1", requestEvent("1", "GET", "https://www.youtube.com/api/timedtext?v=abc&fmt=json3"))
	tr.OnRequestWillBeSent("tab-1", requestEvent("2", "GET", "https://www.youtube.com/s/player.js"))
	if got := tr.Pending(); got != 1 {
		t.Fatalf("Pending() = %d; want 1", got)
	}
	tr.OnResponseReceived("tab-1", &network.EventResponseReceived{RequestID: "1", Response: &network.Response{Status: 200}})
	tr.OnLoadingFinished("tab-1", &network.EventLoadingFinished{RequestID: "1"}, func() ([]byte, error) {
		return []byte(`{"events":[]}`), nil
	})
	tr.OnLoadingFinished("tab-1", &network.EventLoadingFinished{RequestID: "2"}, func() ([]byte, error) {
		t.Error("getBody called for an unmatched request")
		return nil, nil
	})
	tr.Close()

	if len(sink.got) != 1 {
		t.Fatalf("sink received %d responses; want 1", len(sink.got))
	}
	resp := sink.got[0]
	if resp.Status != 200 || resp.TabURL != "https://www.youtube.com/watch?v=abc" || string(resp.Body) != `{"events":[]}` {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Refetched {
		t.Fatal("Refetched = true; want false")
	}
	if tr.Pending() != 0 {
		t.Fatalf("Pending() = %d; want 0", tr.Pending())
	}
}

func TestTrackerRefetchesWhenBodyMissing(t *testing.T) {
	sink := &recordingSink{}
	rf := &fakeRefetch{body: []byte("0123456789")}
	tr := NewTracker(nil, staticTabs{}, rf, 4)
	tr.Route(RuleYouTubeTimedText, sink)

	url := "https://www.youtube.com/api/timedtext?v=abc&fmt=json3"
	tr.OnRequestWillBeSent("tab-2", requestEvent("7", "GET", url))
	tr.OnLoadingFinished("tab-2", &network.EventLoadingFinished{RequestID: "7"}, func() ([]byte, error) {
		return nil, errors.New("No resource with given identifier found")
	})
	tr.Close()

	if len(rf.urls) != 1 || rf.urls[0] != url {
		t.Fatalf("refetch urls = %v; want [%s]", rf.urls, url)
	}
	if len(sink.got) != 1 {
		t.Fatalf("sink received %d responses; want 1", len(sink.got))
	}
	resp := sink.got[0]
	if !resp.Refetched || !resp.Truncated || resp.OriginalSize != 10 || string(resp.Body) != "0123" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestTrackerNeverReplaysPostRequests(t *testing.T) {
	sink := &recordingSink{}
	rf := &fakeRefetch{body: []byte(`{"recordMap":{}}`)}
	rules := append(DefaultRules(), Rule{Name: "posted", URLPattern: "/submit", Refetch: true})
	tr := NewTracker(rules, staticTabs{}, rf, 0)
	tr.Route(RuleNotionChunks, sink)
	tr.Route("posted", sink)

	missing := func() ([]byte, error) { return nil, errors.New("No resource with given identifier found") }
	tr.OnRequestWillBeSent("tab-2", requestEvent("7", "POST", "https://www.notion.so/api/v3/loadCachedPageChunkV2"))
	tr.OnLoadingFinished("tab-2", &network.EventLoadingFinished{RequestID: "7"}, missing)
	tr.OnRequestWillBeSent("tab-2", requestEvent("8", "POST", "https://x.test/submit"))
	tr.OnLoadingFinished("tab-2", &network.EventLoadingFinished{RequestID: "8"}, missing)
	tr.Close()

	if len(rf.urls) != 0 {
		t.Fatalf("refetch urls = %v; want none", rf.urls)
	}
	if len(sink.got) != 0 {
		t.Fatalf("sink received %d responses; want 0", len(sink.got))
	}
}

func TestTrackerDropsFailedAndStaleRequests(t *testing.T) {
	tr := NewTracker(nil, staticTabs{}, nil, 0)
	defer tr.Close()

	tr.OnRequestWillBeSent("tab", requestEvent("a", "GET", "https://www.youtube.com/api/timedtext?v=1"))
	tr.OnLoadingFailed("tab", &network.EventLoadingFailed{RequestID: "a"})
	if tr.Pending() != 0 {
		t.Fatalf("Pending() = %d after failure; want 0", tr.Pending())
	}

	tr.OnRequestWillBeSent("tab", requestEvent("b", "GET", "https://www.youtube.com/api/timedtext?v=2"))
	tr.cleanupStale(time.Now())
	if tr.Pending() != 1 {
		t.Fatalf("Pending() = %d; want fresh request kept", tr.Pending())
	}
	tr.cleanupStale(time.Now().Add(pendingTTL + time.Second))
	if tr.Pending() != 0 {
		t.Fatalf("Pending() = %d; want stale request dropped", tr.Pending())
	}
}

func TestSubtitleSinkCachesFormattedCaptions(t *testing.T) {
	c := cache.NewOrdered[string, string](2)
	sink := SubtitleSink{Cache: c}
	body := `{"events":[{"tStartMs":1000,"segs":[{"utf8":"hello"}]},{"tStartMs":1500,"segs":[{"utf8":"there"}]}]}`

	sink.Handle(context.Background(), &types.InterceptedResponse{
		URL:  "https://www.youtube.com/api/timedtext?v=vid1&lang=en",
		Body: []byte(body),
	})
	got, ok := c.Get("vid1")
	if !ok || got != "00:00:01: hello there" {
		t.Fatalf("cache[vid1] = %q, %v; want merged caption line", got, ok)
	}

	sink.Handle(context.Background(), &types.InterceptedResponse{
		URL:       "https://www.youtube.com/api/timedtext?v=vid2",
		Body:      []byte(body[:10]),
		Truncated: true,
	})
	if _, ok := c.Get("vid2"); ok {
		t.Fatal("truncated captions were cached")
	}
}

func TestNotionSinkPublishesRenderedPage(t *testing.T) {
	const pageID = "11111111-1111-1111-1111-111111111111"
	var published []string
	sink := NotionSink{
		Pages: notion.NewAccumulator(time.Minute),
		Publish: func(id, md string) {
			published = append(published, id+"|"+md)
		},
	}
	body := `{"recordMap":{"block":{"` + pageID + `":{"value":{"id":"` + pageID + `","type":"page","properties":{"title":[["Plans"]]}}}}}}`

	sink.Handle(context.Background(), &types.InterceptedResponse{
		TabURL: "https://www.notion.so/team/Plans-11111111111111111111111111111111",
		Body:   []byte(body),
	})
	sink.Handle(context.Background(), &types.InterceptedResponse{
		TabURL: "https://www.notion.so/",
		Body:   []byte(body),
	})

	if len(published) != 1 || published[0] != pageID+"|# Plans" {
		t.Fatalf("published = %q; want one rendered page", published)
	}
}

type headerCookies string

func (h headerCookies) CookieHeader(context.Context, string, []string) (string, error) {
	return string(h), nil
}

func TestHTTPRefetcherSendsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "token_v2=abc" {
			http.Error(w, "no cookie", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Accept") != "application/json" {
			http.Error(w, "no accept", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("payload-body"))
	}))
	defer srv.Close()

	rf := NewHTTPRefetcher(headerCookies("token_v2=abc"), 7)
	body, err := rf.Fetch(context.Background(), "tab", srv.URL+"/api/timedtext?v=x", map[string]string{
		"Accept": "application/json",
		"Cookie": "stale=1",
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(body) != "payload-" {
		t.Fatalf("Fetch() = %q; want first 8 bytes", body)
	}

	rf = NewHTTPRefetcher(headerCookies(""), 0)
	if _, err := rf.Fetch(context.Background(), "tab", srv.URL, nil); err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("Fetch() error = %v; want status 401", err)
	}
	if _, err := rf.Fetch(context.Background(), "tab", "chrome://settings", nil); err == nil {
		t.Fatal("Fetch() accepted a non-http url")
	}
}
