package echo

import "html/template"

// statusPage is the terminal page rendered at the end of a browser OAuth
// flow. The flows run in a popup, so the page notifies the opener over a
// same-origin postMessage and offers a manual continue link for the
// full-page variant.
type statusPage struct {
	Title       string
	Heading     string
	Message     string
	Success     bool
	MessageType string
	ErrorCode   string
	Origin      string
	ContinueURL string
}

var statusPageTmpl = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { background: #0b0f14; color: #d7e1ea; font-family: ui-monospace, monospace;
         display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; }
  .panel { border: 1px solid {{if .Success}}#2e7d32{{else}}#c62828{{end}}; padding: 2rem 3rem; text-align: center; }
  h1 { font-size: 1.1rem; letter-spacing: .2em; color: {{if .Success}}#66bb6a{{else}}#ef5350{{end}}; }
  p { color: #8b98a5; font-size: .85rem; }
  a { color: #64b5f6; }
</style>
</head>
<body>
<div class="panel">
  <h1>{{.Heading}}</h1>
  <p>{{.Message}}</p>
  {{if .ContinueURL}}<p><a href="{{.ContinueURL}}">Continue</a></p>{{end}}
</div>
<script>
  (function () {
    var payload = { type: {{.MessageType}}, ok: {{.Success}}, error: {{.ErrorCode}} };
    if (window.opener) {
      window.opener.postMessage(payload, {{.Origin}});
      setTimeout(function () { window.close(); }, 1500);
    }
  })();
</script>
</body>
</html>
`))
