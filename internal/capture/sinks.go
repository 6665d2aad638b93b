package capture

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/tabtalk/internal/cache"
	"github.com/dgnsrekt/tabtalk/internal/notion"
	"github.com/dgnsrekt/tabtalk/internal/types"
	"github.com/dgnsrekt/tabtalk/internal/youtube"
)

// SubtitleSink formats intercepted caption tracks and caches them by video id.
type SubtitleSink struct {
	Cache *cache.Ordered[string, string]
}

func (s SubtitleSink) Handle(_ context.Context, resp *types.InterceptedResponse) {
	videoID := youtube.VideoID(resp.URL)
	if videoID == "" {
		slog.Debug("capture timedtext without video id", "url", resp.URL)
		return
	}
	if resp.Truncated {
		slog.Warn("capture timedtext truncated, not cached", "video_id", videoID)
		return
	}
	text, err := youtube.FormatTimedText(resp.Body)
	if err != nil {
		slog.Warn("capture timedtext format failed", "video_id", videoID, "error", err)
		return
	}
	if evicted, ok := s.Cache.Set(videoID, text); ok {
		slog.Debug("capture subtitle cache evicted", "video_id", evicted)
	}
	slog.Info("capture subtitles cached", "video_id", videoID, "bytes", len(text), "cached", s.Cache.Len())
}

// NotionSink merges observed page chunks and publishes the page's markdown
// each time it renders.
type NotionSink struct {
	Pages   *notion.Accumulator
	Publish func(pageID, markdown string)
}

func (s NotionSink) Handle(_ context.Context, resp *types.InterceptedResponse) {
	pageID, ok := notion.PageIDFromURL(resp.TabURL)
	if !ok {
		slog.Debug("capture notion chunk outside a page", "tab_url", resp.TabURL)
		return
	}
	if resp.Truncated {
		slog.Warn("capture notion chunk truncated, skipped", "page_id", pageID)
		return
	}
	md, err := s.Pages.Add(pageID, resp.Body)
	if err != nil {
		slog.Warn("capture notion chunk merge failed", "page_id", pageID, "error", err)
		return
	}
	if md == "" || s.Publish == nil {
		return
	}
	slog.Debug("capture notion page rendered", "page_id", pageID, "size", len(md), "tracked_pages", s.Pages.Len())
	s.Publish(pageID, md)
}
