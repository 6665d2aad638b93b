package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// rawCDP is a minimal browser-level CDP client. Tabs are reached through
// flattened sessions so one websocket serves every tab, and events from all
// sessions arrive on the same read loop tagged with their sessionId.
type rawCDP struct {
	httpBase string // e.g. "http://127.0.0.1:9220"

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	events *eventRegistry
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

// eventRegistry outlives individual connections so handlers survive a
// reconnect.
type eventRegistry struct {
	seq      atomic.Int64
	mu       sync.RWMutex
	handlers map[string][]eventHandler
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{handlers: make(map[string][]eventHandler)}
}

func newRawCDP(httpBase string, events *eventRegistry) *rawCDP {
	if events == nil {
		events = newEventRegistry()
	}
	return &rawCDP{
		httpBase: strings.TrimRight(httpBase, "/"),
		pending:  make(map[int64]chan json.RawMessage),
		events:   events,
	}
}

// connect dials the browser-level WebSocket endpoint.
func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}

	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}

	r.conn = conn
	r.pending = make(map[int64]chan json.RawMessage)
	go r.readLoop()
	return nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// readLoop processes incoming messages and dispatches responses to waiters.
func (r *rawCDP) readLoop() {
	for {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			r.closeAllPending()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			r.pendingMu.Lock()
			ch, ok := r.pending[msg.ID]
			if ok {
				delete(r.pending, msg.ID)
			}
			r.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if msg.Method != "" {
			r.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) closeAllPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

func (r *rawCDP) deletePending(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// sendRaw marshals an envelope, sends it over the WebSocket, and waits for
// the response keyed by the given id.
func (r *rawCDP) sendRaw(ctx context.Context, id int64, envelope any) (json.RawMessage, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("rawcdp: not connected")
	}

	ch := make(chan json.RawMessage, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: marshal: %w", err)
	}

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("rawcdp: connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		r.deletePending(id)
		return nil, ctx.Err()
	}
}

// sendFlat sends a command and returns its inner "result". An empty
// sessionID addresses the browser itself.
func (r *rawCDP) sendFlat(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	id := r.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	resp, err := r.sendRaw(ctx, id, req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return resp, nil
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("rawcdp: %s: %s", method, envelope.Error.Message)
	}
	return envelope.Result, nil
}

// call is sendFlat plus decoding of the result into out (which may be nil).
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params, out any) error {
	raw, err := r.sendFlat(ctx, sessionID, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rawcdp: unmarshal %s: %w", method, err)
	}
	return nil
}

// attachToTarget attaches a flat session to the given target.
func (r *rawCDP) attachToTarget(ctx context.Context, targetID string) (string, error) {
	params := struct {
		TargetID string `json:"targetId"`
		Flatten  bool   `json:"flatten"`
	}{TargetID: targetID, Flatten: true}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := r.call(ctx, "", "Target.attachToTarget", params, &resp); err != nil {
		return "", fmt.Errorf("rawcdp: attach: %w", err)
	}
	return resp.SessionID, nil
}

// detachFromTarget detaches from a session without closing the target.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	return r.call(ctx, "", "Target.detachFromTarget", params, nil)
}

// evaluate runs JS on the given session and returns the string result.
// evaluate runs js in the given execution context; 0 is the page's main
// world.
func (r *rawCDP) evaluate(ctx context.Context, sessionID string, contextID int64, js string) (string, error) {
	params := struct {
		Expression    string `json:"expression"`
		ContextID     int64  `json:"contextId,omitempty"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: js, ContextID: contextID, ReturnByValue: true, AwaitPromise: true}

	var resp struct {
		Result struct {
			Value json.RawMessage `json:"value"`
			Type  string          `json:"type"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := r.call(ctx, sessionID, "Runtime.evaluate", params, &resp); err != nil {
		return "", err
	}
	if resp.ExceptionDetails != nil {
		return "", fmt.Errorf("rawcdp: eval exception: %s", resp.ExceptionDetails.Text)
	}

	// String results come back as JSON-encoded strings.
	var s string
	if err := json.Unmarshal(resp.Result.Value, &s); err != nil {
		return string(resp.Result.Value), nil
	}
	return s, nil
}

func (r *rawCDP) createTarget(ctx context.Context, url string) (string, error) {
	params := struct {
		URL string `json:"url"`
	}{URL: url}
	var resp struct {
		TargetID string `json:"targetId"`
	}
	if err := r.call(ctx, "", "Target.createTarget", params, &resp); err != nil {
		return "", err
	}
	return resp.TargetID, nil
}

func (r *rawCDP) activateTarget(ctx context.Context, targetID string) error {
	params := struct {
		TargetID string `json:"targetId"`
	}{TargetID: targetID}
	return r.call(ctx, "", "Target.activateTarget", params, nil)
}

// setDiscoverTargets makes the browser emit Target.targetCreated,
// targetInfoChanged and targetDestroyed on the browser connection.
func (r *rawCDP) setDiscoverTargets(ctx context.Context) error {
	params := struct {
		Discover bool `json:"discover"`
	}{Discover: true}
	return r.call(ctx, "", "Target.setDiscoverTargets", params, nil)
}

func (r *rawCDP) reload(ctx context.Context, sessionID string) error {
	params := struct {
		IgnoreCache bool `json:"ignoreCache"`
	}{}
	return r.call(ctx, sessionID, "Page.reload", params, nil)
}

// addBinding exposes window[name] only in execution contexts named world.
// Calls arrive as Runtime.bindingCalled events.
func (r *rawCDP) addBinding(ctx context.Context, sessionID, name, world string) error {
	if err := r.call(ctx, sessionID, "Runtime.enable", nil, nil); err != nil {
		return err
	}
	params := struct {
		Name                 string `json:"name"`
		ExecutionContextName string `json:"executionContextName,omitempty"`
	}{Name: name, ExecutionContextName: world}
	return r.call(ctx, sessionID, "Runtime.addBinding", params, nil)
}

// addScriptOnNewDocument runs source in the isolated world of every new
// document.
func (r *rawCDP) addScriptOnNewDocument(ctx context.Context, sessionID, source, world string) error {
	params := struct {
		Source    string `json:"source"`
		WorldName string `json:"worldName,omitempty"`
	}{Source: source, WorldName: world}
	return r.call(ctx, sessionID, "Page.addScriptToEvaluateOnNewDocument", params, nil)
}

// isolatedWorld returns the execution context of the named world in the
// page's main frame. The browser keeps one world per name and frame, so
// repeated calls land in the same context until the page navigates.
func (r *rawCDP) isolatedWorld(ctx context.Context, sessionID, world string) (int64, error) {
	var tree struct {
		FrameTree struct {
			Frame struct {
				ID string `json:"id"`
			} `json:"frame"`
		} `json:"frameTree"`
	}
	if err := r.call(ctx, sessionID, "Page.getFrameTree", nil, &tree); err != nil {
		return 0, err
	}
	params := struct {
		FrameID   string `json:"frameId"`
		WorldName string `json:"worldName"`
	}{FrameID: tree.FrameTree.Frame.ID, WorldName: world}
	var resp struct {
		ExecutionContextID int64 `json:"executionContextId"`
	}
	if err := r.call(ctx, sessionID, "Page.createIsolatedWorld", params, &resp); err != nil {
		return 0, err
	}
	return resp.ExecutionContextID, nil
}

type cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// getCookies returns the cookies the session's page would send to urls.
func (r *rawCDP) getCookies(ctx context.Context, sessionID string, urls []string) ([]cookie, error) {
	params := struct {
		URLs []string `json:"urls,omitempty"`
	}{URLs: urls}
	var resp struct {
		Cookies []cookie `json:"cookies"`
	}
	if err := r.call(ctx, sessionID, "Network.getCookies", params, &resp); err != nil {
		return nil, err
	}
	return resp.Cookies, nil
}

// listTargets fetches open targets via the HTTP /json/list endpoint. The
// browser lists the most recently focused page first.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, r.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rawcdp: /json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// register adds a handler for a CDP event method (e.g.
// "Runtime.bindingCalled"). Returns an unregister function.
func (e *eventRegistry) register(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := e.seq.Add(1)
	e.mu.Lock()
	e.handlers[method] = append(e.handlers[method], eventHandler{id: id, fn: fn})
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		handlers := e.handlers[method]
		for i, h := range handlers {
			if h.id == id {
				e.handlers[method] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (e *eventRegistry) dispatch(method, sessionID string, params json.RawMessage) {
	e.mu.RLock()
	handlers := make([]eventHandler, len(e.handlers[method]))
	copy(handlers, e.handlers[method])
	e.mu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}

func (r *rawCDP) dispatchEvent(method, sessionID string, params json.RawMessage) {
	if r.events == nil {
		return
	}
	r.events.dispatch(method, sessionID, params)
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rawcdp: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
