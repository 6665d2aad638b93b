package extract

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/tabtalk/internal/cache"
	"github.com/dgnsrekt/tabtalk/internal/notion"
	"github.com/dgnsrekt/tabtalk/internal/youtube"
)

// Page is what a collector script reports back for one tab. Which optional
// fields are set depends on Kind.
type Page struct {
	TabID        string         `json:"-"`
	Kind         Kind           `json:"kind"`
	Title        string         `json:"title"`
	URL          string         `json:"url"`
	SelectedText string         `json:"selected_text"`
	HTML         string         `json:"html,omitempty"`
	Video        *youtube.Video `json:"video,omitempty"`
}

// Extractor turns a reported page into markdown. An empty result means
// nothing could be extracted.
type Extractor interface {
	Extract(ctx context.Context, p Page) (string, error)
}

type General struct{}

func (General) Extract(_ context.Context, p Page) (string, error) {
	if p.HTML == "" {
		return "", nil
	}
	return HTMLToMarkdown(p.HTML, p.URL)
}

type YouTube struct{}

func (YouTube) Extract(_ context.Context, p Page) (string, error) {
	if p.Video == nil {
		return "", nil
	}
	return p.Video.Format(), nil
}

// CookieSource returns the Cookie header a tab would send to the given URLs.
type CookieSource interface {
	CookieHeader(ctx context.Context, tabID string, urls []string) (string, error)
}

// Notion loads the page through the private API with the tab's cookies and
// falls back to markdown captured from the tab's own traffic.
type Notion struct {
	Client  *notion.Client
	Cookies CookieSource
	Cache   *cache.NotionPages
}

func (n *Notion) Extract(ctx context.Context, p Page) (string, error) {
	pageID, ok := notion.PageIDFromURL(p.URL)
	if !ok {
		slog.Warn("extract notion page id not found", "url", p.URL)
		return "", nil
	}

	if n.Client != nil {
		client := n.Client
		if n.Cookies != nil {
			cookie, err := n.Cookies.CookieHeader(ctx, p.TabID, []string{"https://www.notion.so"})
			if err != nil {
				slog.Warn("extract notion cookies unavailable", "tab_id", p.TabID, "error", err)
			}
			client = client.WithCookie(cookie)
		}

		rm, err := notion.Resolve(ctx, client, pageID)
		if err != nil {
			slog.Warn("extract notion api failed", "page_id", pageID, "error", err)
		} else if out, ok := notion.Render(rm, pageID); ok {
			return out, nil
		} else {
			slog.Warn("extract notion root block missing", "page_id", pageID)
		}
	}

	if n.Cache != nil {
		if out, ok := n.Cache.Get(pageID); ok {
			slog.Info("extract notion served from intercepted cache", "page_id", pageID)
			return out, nil
		}
	}
	return "", nil
}

// Set dispatches to the extractor registered for a page's Kind.
type Set map[Kind]Extractor

// NewSet wires the three variants.
func NewSet(n *Notion) Set {
	if n == nil {
		n = &Notion{}
	}
	return Set{
		KindGeneral: General{},
		KindYouTube: YouTube{},
		KindNotion:  n,
	}
}

// Extract runs the page's extractor and wraps its output with the selection
// envelope. Extractor errors degrade to "no content".
func (s Set) Extract(ctx context.Context, p Page) string {
	kind := p.Kind
	if kind == "" {
		kind = Select(p.URL)
	}
	ex, ok := s[kind]
	if !ok {
		ex = General{}
	}

	content, err := ex.Extract(ctx, p)
	if err != nil {
		slog.Warn("extract failed", "kind", kind, "tab_id", p.TabID, "url", p.URL, "error", err)
		content = ""
	}
	return Wrap(p.SelectedText, content)
}
