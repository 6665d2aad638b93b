package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"no session with given id",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

type tabSession struct {
	info      TabInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
	bound     bool   // bridge binding installed on sessionID
}

// Client drives page tabs over a single browser-level CDP connection.
type Client struct {
	cdpURL      string
	evalTimeout time.Duration

	mu    sync.Mutex
	cdp   *rawCDP
	tabs  map[target.ID]*tabSession
	order []target.ID

	// sessions maps session ids back to targets. It has its own lock because
	// event handlers read it from the CDP read loop.
	sessMu   sync.RWMutex
	sessions map[string]target.ID

	events *eventRegistry

	tabLocksMu sync.Mutex
	tabLocks   map[string]*sync.Mutex
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL string, evalTimeout time.Duration) *Client {
	c := &Client{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*tabSession),
		sessions:    make(map[string]target.ID),
		events:      newEventRegistry(),
		tabLocks:    make(map[string]*sync.Mutex),
	}
	c.events.register("Target.targetDestroyed", func(_ string, params json.RawMessage) {
		var evt struct {
			TargetID string `json:"targetId"`
		}
		if json.Unmarshal(params, &evt) == nil && evt.TargetID != "" {
			go c.forgetTab(target.ID(evt.TargetID))
		}
	})
	c.events.register("Target.detachedFromTarget", func(_ string, params json.RawMessage) {
		var evt struct {
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal(params, &evt) == nil && evt.SessionID != "" {
			go c.forgetSession(evt.SessionID)
		}
	})
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL, c.events)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	if err := c.cdp.setDiscoverTargets(ctx); err != nil {
		slog.Warn("cdpcontrol target discovery unavailable", "error", err)
	}

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for targetID, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("cdpcontrol detach cleanup failed", "target_id", targetID, "session_id", session.sessionID, "error", err)
				}
				cancel()
				session.sessionID = ""
				session.bound = false
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
	c.order = nil

	c.sessMu.Lock()
	c.sessions = make(map[string]target.ID)
	c.sessMu.Unlock()
}

// ListTabs returns the browser's page tabs, most recently focused first.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TabInfo, 0, len(c.order))
	for _, id := range c.order {
		if s := c.tabs[id]; s != nil {
			out = append(out, s.info)
		}
	}
	return out, nil
}

// ActiveTab returns the page the browser reports as most recently focused.
func (c *Client) ActiveTab(ctx context.Context) (TabInfo, error) {
	tabs, err := c.ListTabs(ctx)
	if err != nil {
		return TabInfo{}, err
	}
	if len(tabs) == 0 {
		return TabInfo{}, newError(CodeTabNotFound, "no page tabs open", nil)
	}
	return tabs[0], nil
}

// Tab resolves a single tab, refreshing the target list on a miss.
func (c *Client) Tab(ctx context.Context, tabID string) (TabInfo, error) {
	_, info, err := c.resolveTabSession(ctx, tabID)
	return info, err
}

// Eval runs an async eval body in the tab's bridge world and decodes the
// envelope's data into out. The page's own scripts cannot see that world.
// One retry follows transient failures.
func (c *Client) Eval(ctx context.Context, tabID, body string, out any) error {
	return c.evalOnTab(ctx, tabID, BridgeWorld, wrapJSEvalAsync(body), out)
}

func (c *Client) evalOnTab(ctx context.Context, tabID, world, js string, out any) error {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return newError(CodeTabNotFound, "tab id is required", nil)
	}

	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	// First attempt.
	slog.Debug("cdpcontrol eval on tab", "tab_id", tabID)
	session, _, err := c.resolveTabSession(ctx, tabID)
	if err == nil {
		err = c.evalOnSession(ctx, session, tabID, world, js, out)
	} else {
		slog.Warn("cdpcontrol tab resolve failed", "tab_id", tabID, "error", err)
	}
	if err == nil {
		return nil
	}
	if !c.shouldRetry(err) {
		return err
	}

	// Retry after recovery.
	slog.Warn("cdpcontrol eval retry after transient failure", "tab_id", tabID, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "tab_id", tabID, "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshTabs(ctx); syncErr != nil {
		slog.Warn("cdpcontrol tab refresh failed during retry", "tab_id", tabID, "error", syncErr)
	}

	session, _, err = c.resolveTabSession(ctx, tabID)
	if err != nil {
		slog.Warn("cdpcontrol tab resolve failed (retry)", "tab_id", tabID, "error", err)
		return err
	}
	return c.evalOnSession(ctx, session, tabID, world, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, tabID, world, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, tabID)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	var contextID int64
	if world != "" {
		if contextID, err = cdp.isolatedWorld(evalCtx, sessionID, world); err != nil {
			slog.Warn("cdpcontrol isolated world unavailable", "tab_id", tabID, "world", world, "error", err)
			c.resetSession(session)
			if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
				return newError(CodeEvalTimeout, "isolated world timed out", err)
			}
			return newError(CodeEvalFailure, "failed to resolve isolated world", err)
		}
	}

	raw, err := cdp.evaluate(evalCtx, sessionID, contextID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "tab_id", tabID, "error", err)
		c.resetSession(session)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// withSession runs fn against an attached session for the tab. Failures
// from fn come back as EVAL_FAILURE with msg and reset the session.
func (c *Client) withSession(ctx context.Context, tabID, msg string, fn func(cdp *rawCDP, session *tabSession, sessionID string) error) error {
	session, _, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, tabID)
	if err != nil {
		return err
	}
	if err := fn(cdp, session, sessionID); err != nil {
		c.resetSession(session)
		return newError(CodeEvalFailure, msg, err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the target, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, tabID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, tabID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	session.sessionID = sid
	session.bound = false

	c.sessMu.Lock()
	c.sessions[sid] = target.ID(tabID)
	c.sessMu.Unlock()

	slog.Debug("cdpcontrol session attached", "tab_id", tabID, "session_id", sid)
	return sid, nil
}

// resetSession drops the session so the next call attaches afresh.
func (c *Client) resetSession(session *tabSession) {
	session.mu.Lock()
	sid := session.sessionID
	session.sessionID = ""
	session.bound = false
	session.mu.Unlock()

	if sid != "" {
		c.sessMu.Lock()
		delete(c.sessions, sid)
		c.sessMu.Unlock()
	}
}

func (c *Client) resolveTabSession(ctx context.Context, tabID string) (*tabSession, TabInfo, error) {
	session, info, found := c.lookupTabSession(tabID)
	if found {
		return session, info, nil
	}

	if err := c.refreshTabs(ctx); err != nil {
		return nil, TabInfo{}, err
	}

	session, info, found = c.lookupTabSession(tabID)
	if found {
		return session, info, nil
	}

	return nil, TabInfo{}, newError(CodeTabNotFound, "tab not found: "+tabID, nil)
}

func (c *Client) lookupTabSession(tabID string) (*tabSession, TabInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[target.ID(tabID)]
	if session == nil {
		return nil, TabInfo{}, false
	}
	return session, session.info, true
}

// TabForSession maps a flattened session id to its tab.
func (c *Client) TabForSession(sessionID string) (string, bool) {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	id, ok := c.sessions[sessionID]
	return string(id), ok
}

// RegisterCDPEventHandler subscribes to a CDP event across all tabs. The
// handler receives the tab id ("" for browser-level events) and runs on the
// read loop, so it must not block on CDP calls. Returns an unregister func.
func (c *Client) RegisterCDPEventHandler(method string, fn func(tabID string, params json.RawMessage)) func() {
	return c.events.register(method, func(sessionID string, params json.RawMessage) {
		tabID := ""
		if sessionID != "" {
			id, ok := c.TabForSession(sessionID)
			if !ok {
				return
			}
			tabID = id
		}
		fn(tabID, params)
	})
}

func (c *Client) forgetTab(id target.ID) {
	c.mu.Lock()
	session := c.tabs[id]
	delete(c.tabs, id)
	for i, t := range c.order {
		if t == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if session != nil {
		c.resetSession(session)
	}
	c.tabLocksMu.Lock()
	delete(c.tabLocks, string(id))
	c.tabLocksMu.Unlock()
	slog.Debug("cdpcontrol tab destroyed", "tab_id", id)
}

func (c *Client) forgetSession(sessionID string) {
	c.sessMu.Lock()
	id, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.sessMu.Unlock()
	if !ok {
		return
	}

	session, _, found := c.lookupTabSession(string(id))
	if !found {
		return
	}
	session.mu.Lock()
	if session.sessionID == sessionID {
		session.sessionID = ""
		session.bound = false
	}
	session.mu.Unlock()
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncTabsLocked(ctx)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	expected := make(map[target.ID]TabInfo)
	order := make([]target.ID, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		expected[t.TargetID] = TabInfo{
			TabID: string(t.TargetID),
			URL:   t.URL,
			Title: t.Title,
		}
		order = append(order, t.TargetID)
	}

	for targetID, session := range c.tabs {
		if _, ok := expected[targetID]; ok {
			continue
		}
		delete(c.tabs, targetID)
		if session != nil {
			session.mu.Lock()
			sid := session.sessionID
			session.mu.Unlock()
			if sid != "" {
				c.sessMu.Lock()
				delete(c.sessions, sid)
				c.sessMu.Unlock()
			}
		}
	}

	for targetID, info := range expected {
		session := c.tabs[targetID]
		if session != nil {
			session.info = info
			continue
		}
		c.tabs[targetID] = &tabSession{info: info}
	}
	c.order = order

	c.tabLocksMu.Lock()
	for id := range c.tabLocks {
		if _, ok := c.tabs[target.ID(id)]; !ok {
			delete(c.tabLocks, id)
		}
	}
	c.tabLocksMu.Unlock()

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "pages", len(c.tabs))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) tabLock(tabID string) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	if c.tabLocks == nil {
		c.tabLocks = make(map[string]*sync.Mutex)
	}
	m, ok := c.tabLocks[tabID]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[tabID] = m
	}
	return m
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeTabNotFound:
		return false
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	return HasCode(err, code)
}
