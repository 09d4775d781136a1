package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	ilog "github.com/amakane-hakari/nemuri/internal/log"
	"github.com/amakane-hakari/nemuri/internal/session"
)

// RouterConfig はルータが公開する依存です。nil のものはルートを登録しません。
type RouterConfig struct {
	Sessions SessionService
	Caches   []session.Inspector
	Health   *Health
	Metrics  http.Handler
	Logger   ilog.Logger
}

// NewRouter は API のルータを作成します。
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware())
	r.Use(RecoverMiddleware(cfg.Logger))
	r.Use(AccessLog(cfg.Logger))

	health := cfg.Health
	if health == nil {
		health = &Health{}
	}
	r.Method(http.MethodGet, "/health", health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.Sessions != nil {
		(&sessionHandler{svc: cfg.Sessions}).mount(r)
	}
	if len(cfg.Caches) > 0 {
		newCacheHandler(cfg.Caches).mount(r)
	}
	return r
}
