package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
)

// BindingName is the CDP binding in-page scripts call to reach the bus.
const BindingName = "__tabtalkSend"

// Prelude defines window.__tabtalk in a page. It is idempotent.
//
//	send(type, payload)                  one-way message
//	request(type, payload, timeoutMs)    Promise resolved by the coordinator
//	_resolve(id, payload)                reply hook evaluated by the bridge
const Prelude = `(function(){
  if (window.__tabtalk) return;
  var pending = {};
  var seq = 0;
  var post = function(msg) { window.` + BindingName + `(JSON.stringify(msg)); };
  window.__tabtalk = {
    send: function(type, payload) {
      post({type: type, payload: payload === undefined ? null : payload});
    },
    request: function(type, payload, timeoutMs) {
      var id = "r" + (++seq) + "-" + Date.now();
      return new Promise(function(resolve, reject) {
        var timer = setTimeout(function() {
          delete pending[id];
          reject(new Error("request " + type + " timed out"));
        }, timeoutMs || 5000);
        pending[id] = {resolve: resolve, timer: timer};
        post({type: type, id: id, payload: payload === undefined ? null : payload});
      });
    },
    _resolve: function(id, payload) {
      var p = pending[id];
      if (!p) return;
      clearTimeout(p.timer);
      delete pending[id];
      p.resolve(payload);
    }
  };
})();`

const replyTimeout = 5 * time.Second

// TabDriver is the slice of the CDP client the bridge needs.
type TabDriver interface {
	InstallBinding(ctx context.Context, tabID, name, prelude string) error
	Eval(ctx context.Context, tabID, body string, out any) error
	RegisterCDPEventHandler(method string, fn func(tabID string, params json.RawMessage)) func()
}

// RequestHandler answers a request/response message from a page. The
// returned value is marshalled back to the page's pending Promise.
type RequestHandler func(ctx context.Context, tabID string, payload json.RawMessage) (any, error)

// Bridge turns binding calls into bus messages and answers requests.
type Bridge struct {
	driver TabDriver
	broker *Broker

	mu       sync.RWMutex
	handlers map[string]RequestHandler
	unreg    func()
}

func NewBridge(driver TabDriver, broker *Broker) *Bridge {
	return &Bridge{
		driver:   driver,
		broker:   broker,
		handlers: make(map[string]RequestHandler),
	}
}

// Handle registers the responder for a request type.
func (b *Bridge) Handle(typ string, h RequestHandler) {
	b.mu.Lock()
	b.handlers[typ] = h
	b.mu.Unlock()
}

// Start listens for Runtime.bindingCalled on every attached tab.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreg != nil {
		return
	}
	b.unreg = b.driver.RegisterCDPEventHandler("Runtime.bindingCalled", b.onBindingCalled)
	slog.Info("bus bridge started", "binding", BindingName)
}

func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreg != nil {
		b.unreg()
		b.unreg = nil
	}
}

// Install makes window.__tabtalk available in the tab.
func (b *Bridge) Install(ctx context.Context, tabID string) error {
	return b.driver.InstallBinding(ctx, tabID, BindingName, Prelude)
}

type bindingCall struct {
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

type pageEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (b *Bridge) onBindingCalled(tabID string, params json.RawMessage) {
	var call bindingCall
	if err := json.Unmarshal(params, &call); err != nil || call.Name != BindingName {
		return
	}
	var env pageEnvelope
	if err := json.Unmarshal([]byte(call.Payload), &env); err != nil || env.Type == "" {
		slog.Warn("bus bridge malformed page message", "tab_id", tabID, "error", err)
		return
	}
	b.dispatch(tabID, env)
}

func (b *Bridge) dispatch(tabID string, env pageEnvelope) {
	if Presentational(env.Type) {
		slog.Debug("bus presentational message ignored", "type", env.Type, "tab_id", tabID)
		return
	}
	if !AcceptedFromPage(env.Type, env.ID != "") {
		slog.Warn("bus bridge page message refused", "type", env.Type, "tab_id", tabID, "request", env.ID != "")
		return
	}

	if env.ID == "" {
		payload := env.Payload
		if string(payload) == "null" {
			payload = nil
		}
		b.broker.Publish(Message{Type: env.Type, TabID: tabID, Payload: payload, At: time.Now().UTC()})
		return
	}

	b.mu.RLock()
	h := b.handlers[env.Type]
	b.mu.RUnlock()

	// Replies need CDP round trips, which must not run on the read loop.
	go b.serve(tabID, env, h)
}

func (b *Bridge) serve(tabID string, env pageEnvelope, h RequestHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	var result any
	if h == nil {
		slog.Warn("bus bridge no handler for request", "type", env.Type, "tab_id", tabID)
	} else {
		out, err := h(ctx, tabID, env.Payload)
		if err != nil {
			slog.Warn("bus bridge request failed", "type", env.Type, "tab_id", tabID, "error", err)
		} else {
			result = out
		}
	}

	body := cdpcontrol.CallJS("window.__tabtalk && window.__tabtalk._resolve", env.ID, result) +
		"\nreturn JSON.stringify({ok:true});"
	if err := b.driver.Eval(ctx, tabID, body, nil); err != nil {
		slog.Warn("bus bridge reply failed", "type", env.Type, "tab_id", tabID, "error", err)
	}
}
