package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func slogTo(b *strings.Builder) *slog.Logger {
	return slog.New(slog.NewTextHandler(b, nil))
}

func TestUpgradeRouter(t *testing.T) {
	upgrade := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("upgrade")) })
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("next")) })
	h := UpgradeRouter(upgrade, next)

	cases := []struct {
		name    string
		target  string
		headers map[string]string
		want    string
	}{
		{"websocket upgrade", "/livereload", map[string]string{"Connection": "Upgrade", "Upgrade": "websocket"}, "upgrade"},
		{"upgrade to elsewhere", "/elsewhere", map[string]string{"Connection": "Upgrade", "Upgrade": "websocket"}, "upgrade"},
		{"plain request", "/livereload", nil, "next"},
		{"other protocol", "/", map[string]string{"Connection": "Upgrade", "Upgrade": "h2c"}, "next"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.target, nil)
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			if rec.Body.String() != tc.want {
				t.Errorf("expected %q, got %q", tc.want, rec.Body.String())
			}
		})
	}
}
