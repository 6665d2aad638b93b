package controller

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
)

const clickResolveTimeout = 5 * time.Second

// ClickResult tells the caller what a click did.
type ClickResult struct {
	Action string   `json:"action"`
	TabIDs []string `json:"tab_ids,omitempty"`
}

const (
	ClickArmed   = "armed"
	ClickDouble  = "download"
	ClickIgnored = "ignored"
)

// Click is the action button. A first click arms the single-click timer; a
// second click inside the window cancels it and downloads instead. Clicks
// during a round are ignored.
func (s *Service) Click(ctx context.Context, tabIDs []string, req Request) (ClickResult, error) {
	s.mu.Lock()
	busy := s.state.Busy
	s.mu.Unlock()
	if busy {
		slog.Info("coordinator click ignored, busy")
		return ClickResult{Action: ClickIgnored}, nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, clickResolveTimeout)
	defer cancel()
	targets, err := s.clickTargets(resolveCtx, tabIDs)
	if err != nil {
		return ClickResult{}, err
	}
	if len(targets) == 0 {
		slog.Info("coordinator click has no collectable tabs")
		return ClickResult{Action: ClickIgnored}, nil
	}

	s.mu.Lock()
	if s.click != nil {
		stopped := s.click.Stop()
		s.click = nil
		s.mu.Unlock()
		if !stopped {
			// The single-click path already started.
			return ClickResult{Action: ClickIgnored}, nil
		}
		if _, err := s.Download(ctx, targets); err != nil {
			return ClickResult{}, err
		}
		return ClickResult{Action: ClickDouble, TabIDs: targets}, nil
	}

	req.TabIDs = targets
	s.click = time.AfterFunc(s.opts.ClickWindow, func() {
		s.mu.Lock()
		s.click = nil
		s.mu.Unlock()
		if _, err := s.Collect(s.baseCtx, req); err != nil {
			slog.Info("coordinator single click dropped", "error", err)
		}
	})
	s.mu.Unlock()
	return ClickResult{Action: ClickArmed, TabIDs: targets}, nil
}

// clickTargets uses the given tabs when several are highlighted and the
// active tab otherwise, keeping only http(s) pages.
func (s *Service) clickTargets(ctx context.Context, tabIDs []string) ([]string, error) {
	ids := lo.Uniq(lo.Compact(lo.Map(tabIDs, func(id string, _ int) string { return strings.TrimSpace(id) })))
	var tabs []cdpcontrol.TabInfo
	if len(ids) > 1 {
		for _, id := range ids {
			t, err := s.d.Browser.Tab(ctx, id)
			if err != nil {
				slog.Warn("coordinator click tab lookup failed", "tab_id", id, "error", err)
				continue
			}
			tabs = append(tabs, t)
		}
	} else {
		active, err := s.d.Browser.ActiveTab(ctx)
		if err != nil {
			return nil, err
		}
		tabs = append(tabs, active)
	}
	return lo.FilterMap(tabs, func(t cdpcontrol.TabInfo, _ int) (string, bool) {
		return t.TabID, isHTTP(t.URL)
	}), nil
}

func isHTTP(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
