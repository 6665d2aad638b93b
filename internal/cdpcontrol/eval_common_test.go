package cdpcontrol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJSStringAndJSONHelpers(t *testing.T) {
	if got := jsString("hello\nworld"); got != "\"hello\\nworld\"" {
		t.Fatalf("jsString = %q, want %q", got, "\"hello\\nworld\"")
	}

	got := jsJSON(map[string]any{"a": 1, "b": true})
	var m map[string]any
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("jsJSON returned invalid JSON: %v", err)
	}
	if m["b"] != true {
		t.Fatalf("jsJSON decoded map = %v, want b=true", m["b"])
	}
}

func TestJSEvalWrappers(t *testing.T) {
	syncExpr := wrapJSEval("return 1;")
	if !strings.Contains(syncExpr, "(function(){\ntry {") {
		t.Fatalf("unexpected sync wrapper: %s", syncExpr)
	}
	if strings.Contains(syncExpr, "(async function") {
		t.Fatalf("sync wrapper should not be async: %s", syncExpr)
	}

	asyncExpr := wrapJSEvalAsync("await Promise.resolve(1);")
	if !strings.Contains(asyncExpr, "(async function(){\ntry {") {
		t.Fatalf("unexpected async wrapper: %s", asyncExpr)
	}
	if !strings.Contains(asyncExpr, `error_code:"EVAL_FAILURE"`) {
		t.Fatalf("async wrapper lost error envelope: %s", asyncExpr)
	}
}

func TestCallJS(t *testing.T) {
	got := CallJS("window.__tabtalk._resolve", "req-1", map[string]any{"caption": "a\"b"})
	want := `window.__tabtalk._resolve("req-1",{"caption":"a\"b"});`
	if got != want {
		t.Fatalf("CallJS() = %q; want %q", got, want)
	}
}

func TestLifecycleNeedsReload(t *testing.T) {
	cases := []struct {
		in   Lifecycle
		want bool
	}{
		{Lifecycle{Discarded: true, ReadyState: "complete"}, true},
		{Lifecycle{Empty: true, ReadyState: "loading"}, true},
		{Lifecycle{Empty: true, ReadyState: "complete"}, false},
		{Lifecycle{ReadyState: "interactive"}, false},
	}
	for _, tc := range cases {
		if got := tc.in.NeedsReload(); got != tc.want {
			t.Fatalf("NeedsReload(%+v) = %v; want %v", tc.in, got, tc.want)
		}
	}
}
