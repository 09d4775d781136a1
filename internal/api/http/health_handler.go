package http

import (
	"net/http"
	"sync/atomic"
)

// Health は /health の状態を持ちます。シャットダウン中は 503 を返します。
type Health struct {
	draining atomic.Bool
}

// SetDraining はドレイニング状態を設定します。
func (h *Health) SetDraining(v bool) {
	h.draining.Store(v)
}

type healthDTO struct {
	Status string `json:"status"`
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, healthDTO{Status: "draining"})
		return
	}
	writeJSON(w, http.StatusOK, healthDTO{Status: "ok"})
}
