package cdpcontrol

import "encoding/json"

const jsLifecycle = `
var body = document.body;
return JSON.stringify({ok:true,data:{
  discarded: !!document.wasDiscarded,
  visibility: String(document.visibilityState || ""),
  ready_state: String(document.readyState || ""),
  empty: !body || body.childElementCount === 0
}});`

const jsReadyState = `
return JSON.stringify({ok:true,data:String(document.readyState || "")});`

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }

// CallJS builds a statement that calls fn with JSON-encoded arguments, for
// eval bodies composed outside this package.
func CallJS(fn string, args ...any) string {
	out := fn + "("
	for i, a := range args {
		if i > 0 {
			out += ","
		}
		if s, ok := a.(string); ok {
			out += jsString(s)
			continue
		}
		out += jsJSON(a)
	}
	return out + ");"
}
