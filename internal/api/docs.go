package api

import (
	"bytes"
	"html/template"
)

var docsTemplate = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}} {{.Version}}</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0;">
  <elements-api apiDescriptionUrl="{{.SpecURL}}" router="hash" layout="sidebar" tryItCredentialsPolicy="same-origin" darkMode />
</body>
</html>`))

// docsPage renders the Stoplight viewer once at startup.
func docsPage(title, version string) []byte {
	var buf bytes.Buffer
	_ = docsTemplate.Execute(&buf, struct{ Title, Version, SpecURL string }{title, version, "/openapi.json"})
	return buf.Bytes()
}
