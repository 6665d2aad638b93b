package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/dgnsrekt/tabtalk/internal/bus"
	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
	"github.com/dgnsrekt/tabtalk/internal/paster"
)

// Start registers the page request handlers, subscribes to page messages and
// arms the destination tab watchdog.
func (s *Service) Start() {
	s.d.Bridge.Handle(bus.TypeGetSelectedTabsData, func(_ context.Context, tabID string, _ json.RawMessage) (any, error) {
		return s.destinationData(tabID)
	})
	s.d.Bridge.Handle(bus.TypeGetYouTubeCaption, func(_ context.Context, _ string, payload json.RawMessage) (any, error) {
		var req struct {
			VideoID string `json:"video_id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		caption, ok := s.Caption(req.VideoID)
		if !ok {
			return map[string]any{"caption": nil}, nil
		}
		return map[string]any{"caption": caption}, nil
	})
	s.d.Bridge.Handle(bus.TypeGetNotionPageMarkdown, func(_ context.Context, _ string, payload json.RawMessage) (any, error) {
		var req struct {
			PageID string `json:"page_id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		md, ok := s.NotionMarkdown(req.PageID)
		if !ok {
			return map[string]any{"page_id": req.PageID, "markdown": nil}, nil
		}
		return map[string]any{"page_id": req.PageID, "markdown": md}, nil
	})

	unreg := s.d.Browser.RegisterCDPEventHandler("Target.targetDestroyed", func(_ string, params json.RawMessage) {
		var ev struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(params, &ev); err != nil || ev.TargetID == "" {
			return
		}
		s.TabClosed(ev.TargetID)
	})

	id, ch := s.d.Broker.Subscribe(bus.Filter{Types: []string{
		bus.TypeMarkdownPasteComplete,
		bus.TypeNotionPageChunksMarkdown,
	}})
	done := make(chan struct{})

	s.mu.Lock()
	s.unreg = append(s.unreg, unreg)
	s.subID = id
	s.subDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for m := range ch {
			s.onMessage(m)
		}
	}()
	slog.Info("coordinator started")
}

func (s *Service) onMessage(m bus.Message) {
	switch m.Type {
	case bus.TypeMarkdownPasteComplete:
		s.PasteComplete(m.TabID)

	case bus.TypeNotionPageChunksMarkdown:
		// Only the network interceptor publishes rendered pages.
		if m.TabID != "" {
			return
		}
		var p struct {
			PageID   string `json:"page_id"`
			Markdown string `json:"markdown"`
		}
		if err := m.Decode(&p); err != nil || p.PageID == "" || p.Markdown == "" {
			return
		}
		if s.d.NotionPages != nil {
			s.d.NotionPages.Set(p.PageID, p.Markdown)
			slog.Debug("coordinator notion page cached", "page_id", p.PageID, "size", len(p.Markdown), "cached_pages", s.d.NotionPages.Len())
		}
	}
}

var errNotDestination = &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "tab is not the paste destination"}

// destinationData answers the paster, and only in the tab the current round
// is waiting on.
func (s *Service) destinationData(tabID string) (paster.SelectedTabsData, error) {
	s.mu.Lock()
	ok := tabID != "" && s.state.Phase == PhaseAwaitingDst && s.state.LLMTabID == tabID
	s.mu.Unlock()
	if !ok {
		slog.Warn("coordinator tab data refused", "tab_id", tabID)
		return paster.SelectedTabsData{}, errNotDestination
	}
	return s.SelectedTabsData(), nil
}

// SelectedTabsData prepares the last round's results for the paster.
func (s *Service) SelectedTabsData() paster.SelectedTabsData {
	s.mu.Lock()
	tabs := append(s.state.Results[:0:0], s.state.Results...)
	prompt := s.state.PromptContent
	files := append([]string(nil), s.state.LocalFiles...)
	s.mu.Unlock()

	data, errs := paster.Prepare(tabs, prompt, files)
	for _, err := range errs {
		slog.Warn("coordinator local file skipped", "error", err)
	}
	return data
}

// Caption returns a cached caption for a video id.
func (s *Service) Caption(videoID string) (string, bool) {
	if s.d.Subtitles == nil || videoID == "" {
		return "", false
	}
	return s.d.Subtitles.Get(videoID)
}

// NotionMarkdown returns cached markdown for a page id in either form.
func (s *Service) NotionMarkdown(pageID string) (string, bool) {
	if s.d.NotionPages == nil || pageID == "" {
		return "", false
	}
	return s.d.NotionPages.Get(pageID)
}

var errNoEditor = errors.New("controller: prompts editor not configured")

// OpenPromptsEditor opens the saved prompts file, optionally focused on one
// prompt.
func (s *Service) OpenPromptsEditor(promptID string) error {
	if s.d.OpenEditor == nil {
		return errNoEditor
	}
	if promptID != "" && s.d.Prompts != nil {
		if _, ok := s.d.Prompts.Get(promptID); !ok {
			return &cdpcontrol.CodedError{Code: cdpcontrol.CodeNotFound, Message: "prompt not found: " + promptID}
		}
	}
	return s.d.OpenEditor(promptID)
}
