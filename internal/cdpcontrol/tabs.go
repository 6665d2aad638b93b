package cdpcontrol

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const readyPollInterval = 250 * time.Millisecond

// BridgeWorld names the isolated world that holds the page bridge and runs
// every Eval body.
const BridgeWorld = "tabtalk"

// OpenTab creates a new page target at url and returns it.
func (c *Client) OpenTab(ctx context.Context, url string) (TabInfo, error) {
	if strings.TrimSpace(url) == "" {
		return TabInfo{}, newError(CodeValidation, "url is required", nil)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return TabInfo{}, err
	}

	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return TabInfo{}, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	id, err := cdp.createTarget(ctx, url)
	if err != nil {
		return TabInfo{}, newError(CodeEvalFailure, "failed to open tab", err)
	}
	slog.Info("cdpcontrol tab opened", "tab_id", id, "url", url)

	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol tab refresh after open failed", "tab_id", id, "error", err)
	}
	if _, info, ok := c.lookupTabSession(id); ok {
		return info, nil
	}
	return TabInfo{TabID: id, URL: url}, nil
}

// ActivateTab focuses the tab in its window.
func (c *Client) ActivateTab(ctx context.Context, tabID string) error {
	return c.browserCall(ctx, tabID, "failed to activate tab", func(cdp *rawCDP) error {
		return cdp.activateTarget(ctx, tabID)
	})
}

func (c *Client) browserCall(ctx context.Context, tabID, msg string, fn func(cdp *rawCDP) error) error {
	if _, _, err := c.resolveTabSession(ctx, tabID); err != nil {
		return err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	if err := fn(cdp); err != nil {
		return newError(CodeEvalFailure, msg, err)
	}
	return nil
}

// Lifecycle reports whether the tab's document is discarded, hidden or empty.
// A frozen tab does not run scripts, so it surfaces as EVAL_TIMEOUT.
func (c *Client) Lifecycle(ctx context.Context, tabID string) (Lifecycle, error) {
	var out Lifecycle
	err := c.evalOnTab(ctx, tabID, "", wrapJSEval(jsLifecycle), &out)
	return out, err
}

// Reload reloads the tab and waits until document.readyState is "complete"
// or timeout elapses.
func (c *Client) Reload(ctx context.Context, tabID string, timeout time.Duration) error {
	err := c.withSession(ctx, tabID, "failed to reload tab", func(cdp *rawCDP, _ *tabSession, sessionID string) error {
		return cdp.reload(ctx, sessionID)
	})
	if err != nil {
		return err
	}
	slog.Info("cdpcontrol tab reloading", "tab_id", tabID)
	return c.WaitReady(ctx, tabID, timeout)
}

// WaitReady polls document.readyState until it is "complete".
func (c *Client) WaitReady(ctx context.Context, tabID string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		var state string
		if err := c.evalOnTab(waitCtx, tabID, "", wrapJSEval(jsReadyState), &state); err == nil && state == "complete" {
			return nil
		} else if HasCode(err, CodeTabNotFound) {
			return err
		}

		select {
		case <-waitCtx.Done():
			return newError(CodeEvalTimeout, "tab did not finish loading", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// CookieHeader returns the Cookie header value the tab would send to urls.
func (c *Client) CookieHeader(ctx context.Context, tabID string, urls []string) (string, error) {
	var header string
	err := c.withSession(ctx, tabID, "failed to read cookies", func(cdp *rawCDP, _ *tabSession, sessionID string) error {
		cookies, err := cdp.getCookies(ctx, sessionID, urls)
		if err != nil {
			return err
		}
		header = cookieHeader(cookies)
		return nil
	})
	return header, err
}

func cookieHeader(cookies []cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		if ck.Name == "" {
			continue
		}
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

// InstallBinding exposes window[name] inside the tab's bridge world,
// registers prelude for future documents and runs it in the current one.
// Page scripts in the main world never see the binding. The binding itself
// is added once per session; prelude must be idempotent.
func (c *Client) InstallBinding(ctx context.Context, tabID, name, prelude string) error {
	return c.withSession(ctx, tabID, "failed to install binding", func(cdp *rawCDP, session *tabSession, sessionID string) error {
		session.mu.Lock()
		bound := session.bound
		session.mu.Unlock()

		if !bound {
			if err := cdp.addBinding(ctx, sessionID, name, BridgeWorld); err != nil {
				return err
			}
			if err := cdp.addScriptOnNewDocument(ctx, sessionID, prelude, BridgeWorld); err != nil {
				return err
			}
			session.mu.Lock()
			if session.sessionID == sessionID {
				session.bound = true
			}
			session.mu.Unlock()
			slog.Debug("cdpcontrol binding installed", "tab_id", tabID, "binding", name)
		}

		evalCtx, cancel := context.WithTimeout(ctx, c.evalTimeout)
		defer cancel()
		contextID, err := cdp.isolatedWorld(evalCtx, sessionID, BridgeWorld)
		if err != nil {
			return err
		}
		_, err = cdp.evaluate(evalCtx, sessionID, contextID, prelude)
		return err
	})
}
