package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForPush wraps a compression middleware handler to bypass
// push channel requests. WebSocket upgrades must reach the hijacker
// untouched; wrapping the ResponseWriter breaks the upgrade handshake.
func SkipCompressionForPush(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") || strings.HasPrefix(r.URL.Path, "/ws/") {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
