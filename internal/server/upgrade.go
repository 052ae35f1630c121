package server

import (
	"net/http"

	"github.com/rathix/devserver/internal/websocket"
)

// UpgradeRouter sends WebSocket upgrade requests to upgrade and everything
// else to next. Upgrades never reach request classification.
func UpgradeRouter(upgrade, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsUpgradeRequest(r) {
			upgrade.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
