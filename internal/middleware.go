package internal

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"
)

// RequestLogger logs every incoming HTTP request, websocket upgrades included.
func RequestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			logger.Debug("incoming request",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
			)
			next.ServeHTTP(w, r)
		})
	}
}
