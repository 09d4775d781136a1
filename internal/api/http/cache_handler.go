package http

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/amakane-hakari/nemuri/internal/session"
)

// cacheHandler は診断用のキャッシュ API です。エントリの状態は変更しません (sweep を除く)。
type cacheHandler struct {
	caches map[string]session.Inspector
}

func newCacheHandler(list []session.Inspector) *cacheHandler {
	m := make(map[string]session.Inspector, len(list))
	for _, c := range list {
		m[c.Name()] = c
	}
	return &cacheHandler{caches: m}
}

func (h *cacheHandler) mount(r chi.Router) {
	r.Route("/caches", func(r chi.Router) {
		r.Method(http.MethodGet, "/", HandlerFunc(h.list))
		r.Method(http.MethodGet, "/{name}/entries/{id}", HandlerFunc(h.stat))
		r.Method(http.MethodPost, "/{name}/sweep", HandlerFunc(h.sweep))
	})
}

type cacheDTO struct {
	Name     string `json:"name"`
	Resident int    `json:"resident"`
}

type sweepDTO struct {
	Name       string `json:"name"`
	Passivated int    `json:"passivated"`
	Resident   int    `json:"resident"`
}

func (h *cacheHandler) lookup(r *http.Request) (session.Inspector, error) {
	name := chi.URLParam(r, "name")
	c, ok := h.caches[name]
	if !ok {
		return nil, NotFound("unknown cache " + name)
	}
	return c, nil
}

func (h *cacheHandler) list(w http.ResponseWriter, _ *http.Request) error {
	out := make([]cacheDTO, 0, len(h.caches))
	for name, c := range h.caches {
		out = append(out, cacheDTO{Name: name, Resident: c.Len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeSuccess(w, http.StatusOK, out)
	return nil
}

func (h *cacheHandler) stat(w http.ResponseWriter, r *http.Request) error {
	c, err := h.lookup(r)
	if err != nil {
		return err
	}
	st, err := c.Stat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeSuccess(w, http.StatusOK, st)
	return nil
}

func (h *cacheHandler) sweep(w http.ResponseWriter, r *http.Request) error {
	c, err := h.lookup(r)
	if err != nil {
		return err
	}
	n := c.Sweep(r.Context())
	writeSuccess(w, http.StatusOK, sweepDTO{Name: c.Name(), Passivated: n, Resident: c.Len()})
	return nil
}
