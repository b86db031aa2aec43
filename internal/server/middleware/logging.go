package middleware

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthorizationIDHeader carries the id of the authorization a purchase
// request produced, so request logs can be joined with history.
const AuthorizationIDHeader = "X-Authorization-Id"

// Logging logs every request with its status, size and duration. Requests
// that touch a card, an authorization or a settlement are tagged with its
// id; purchases are also tagged with the authorization they produced.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("bytes", rw.written),
				slog.Duration("duration", time.Since(start)),
				slog.String("client_ip", extractClientIP(r)),
			}
			if q := redactQuery(r.URL.Query()); q != "" {
				attrs = append(attrs, slog.String("query", q))
			}
			attrs = append(attrs, resourceAttrs(r.URL.Path)...)
			if id := rw.Header().Get(AuthorizationIDHeader); id != "" {
				attrs = append(attrs, slog.String("authorization_id", id))
			}
			if r.Header.Get("Idempotency-Key") != "" {
				attrs = append(attrs, slog.Bool("idempotent", true))
			}

			level := slog.LevelInfo
			if rw.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request", attrs...)
		})
	}
}

// resourceAttrs extracts the card, authorization or settlement id from an
// API path.
func resourceAttrs(path string) []slog.Attr {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return nil
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[1] == "" {
		return nil
	}
	switch parts[0] {
	case "cards":
		return []slog.Attr{slog.String("card_id", parts[1])}
	case "authorizations":
		return []slog.Attr{slog.String("authorization_id", parts[1])}
	case "settlements":
		if parts[1] == "fee" {
			return nil
		}
		return []slog.Attr{slog.String("tx_id", parts[1])}
	}
	return nil
}

// redactQuery drops the WebSocket api_key so it never reaches the logs.
func redactQuery(q url.Values) string {
	if q.Has("api_key") {
		q.Set("api_key", "redacted")
	}
	return q.Encode()
}

// responseWriter records the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack lets WebSocket upgrades pass through.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("middleware: response writer does not support hijacking")
	}
	return h.Hijack()
}
