package httpapi

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
)

var blockPage = template.Must(template.New("blocked").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>Blocked</title>
<style>
html, body { margin: 0; padding: 0; height: 100%; }
body { display: flex; align-items: center; justify-content: center; background: #071025; color: #e6eef6; font-family: system-ui, sans-serif; }
.card { text-align: center; padding: 22px; max-width: 720px; box-sizing: border-box; }
h1 { margin: 0 0 8px 0; font-size: 20px; }
p { margin: 0 0 10px 0; font-size: 14px; color: #cfe3f6; }
.meta { margin-top: 10px; font-size: 12px; color: #9fb6d9; }
</style>
</head>
<body>
<div class="card">
<h1>Blocked</h1>
<p>{{if .Host}}{{.Host}} has{{else}}This site has{{end}} been blocked by your DNS server.</p>
<div class="meta">Request from: {{.Remote}}</div>
<div class="meta">User-Agent: {{.UserAgent}}</div>
</div>
</body>
</html>
`))

type blockPageData struct {
	Host      string
	Remote    string
	UserAgent string
}

// NewBlockPageHandler serves the page shown to browsers sent to the redirect
// address. Every path answers with the same page.
func NewBlockPageHandler(logger log.Logger) http.Handler {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	logger = logger.With(map[string]any{"component": "block_page"})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := blockPageData{Host: r.Host, Remote: r.RemoteAddr, UserAgent: r.UserAgent()}
		logger.Debug(map[string]any{"host": data.Host, "remote": data.Remote, "user_agent": data.UserAgent}, "Block page served")

		var buf bytes.Buffer
		if err := blockPage.Execute(&buf, data); err != nil {
			logger.Error(map[string]any{"error": err.Error()}, "Error rendering block page")
			http.Error(w, "blocked", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(buf.Bytes())
		}
	})
}
