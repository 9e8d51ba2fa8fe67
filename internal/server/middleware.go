// internal/server/middleware.go
package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// SecurityHeadersMiddleware strips version-exposing headers (Server,
// X-Powered-By) and replaces Server with a generic value.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapper := &headerRemovalWriter{ResponseWriter: w}
		next.ServeHTTP(wrapper, r)
		if !wrapper.headerWritten {
			wrapper.writeSecurityHeaders()
		}
	})
}

type headerRemovalWriter struct {
	http.ResponseWriter
	headerWritten bool
}

func (w *headerRemovalWriter) WriteHeader(statusCode int) {
	w.writeSecurityHeaders()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *headerRemovalWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.writeSecurityHeaders()
	}
	return w.ResponseWriter.Write(b)
}

func (w *headerRemovalWriter) writeSecurityHeaders() {
	if w.headerWritten {
		return
	}
	w.headerWritten = true
	h := w.ResponseWriter.Header()
	h.Del("Server")
	h.Del("X-Powered-By")
	h.Set("Server", "filetidy")
}

// Flush implements http.Flusher by delegating to the wrapped writer.
func (w *headerRemovalWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker so the /events handler's websocket
// upgrade still works through the wrapper.
func (w *headerRemovalWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
