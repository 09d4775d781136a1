package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	ilog "github.com/amakane-hakari/nemuri/internal/log"
)

// quietPaths はアクセスログを出さないパスです。プローブとスクレイプで埋まるのを避けます。
var quietPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// AccessLog はリクエストのアクセスログを記録するミドルウェアです。
// 5xx は Error、4xx は Warn で出力します。
func AccessLog(l ilog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, quiet := quietPaths[r.URL.Path]; l == nil || quiet {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			args := []any{
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"route", routePattern(r),
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes", ww.BytesWritten(),
			}
			switch {
			case status >= http.StatusInternalServerError:
				l.Error("access.log", args...)
			case status >= http.StatusBadRequest:
				l.Warn("access.log", args...)
			default:
				l.Info("access.log", args...)
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
