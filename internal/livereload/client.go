package livereload

import (
	"bytes"
	_ "embed"
	"net/http"
)

// ScriptPath is where the browser client script is served.
const ScriptPath = "/livereload.js"

const scriptTag = `<script async src="` + ScriptPath + `"></script>`

//go:embed client.js
var clientScript []byte

// ScriptHandler serves the reconnecting browser client.
func ScriptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(clientScript)
	})
}

// InjectScript inserts the client script tag before the first </body>.
// Documents without a closing body tag are returned unchanged.
func InjectScript(html []byte) []byte {
	return bytes.Replace(html, []byte("</body>"), []byte(scriptTag+"</body>"), 1)
}
