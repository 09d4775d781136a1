package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/amakane-hakari/nemuri/internal/session"
)

// SessionService はセッション API が利用するアプリケーション層です。
type SessionService interface {
	Open(ctx context.Context, customer string) (session.View, error)
	AddItem(ctx context.Context, id string, it session.Item) (session.View, error)
	Finish(ctx context.Context, id string) (session.View, error)
	View(ctx context.Context, id string) (session.View, error)
	Close(ctx context.Context, id string) error
}

type sessionHandler struct {
	svc SessionService
}

func (h *sessionHandler) mount(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Method(http.MethodPost, "/", HandlerFunc(h.open))
		r.Method(http.MethodGet, "/{id}", HandlerFunc(h.get))
		r.Method(http.MethodPut, "/{id}", HandlerFunc(h.addItem))
		r.Method(http.MethodPost, "/{id}/finish", HandlerFunc(h.finish))
		r.Method(http.MethodDelete, "/{id}", HandlerFunc(h.close))
	})
}

type openRequest struct {
	Customer string `json:"customer"`
}

type idDTO struct {
	ID string `json:"id"`
}

func (h *sessionHandler) open(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeBody[openRequest](w, r)
	if err != nil {
		return err
	}
	req.Customer = strings.TrimSpace(req.Customer)
	if req.Customer == "" {
		return BadRequest("customer is required")
	}
	v, err := h.svc.Open(r.Context(), req.Customer)
	if err != nil {
		return err
	}
	writeSuccess(w, http.StatusCreated, v)
	return nil
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) error {
	v, err := h.svc.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeSuccess(w, http.StatusOK, v)
	return nil
}

func (h *sessionHandler) addItem(w http.ResponseWriter, r *http.Request) error {
	it, err := decodeBody[session.Item](w, r)
	if err != nil {
		return err
	}
	if it.SKU == "" || it.Qty <= 0 || it.PriceCents < 0 {
		return BadRequest("sku, positive qty and non-negative price_cents are required")
	}
	v, err := h.svc.AddItem(r.Context(), chi.URLParam(r, "id"), it)
	if err != nil {
		return err
	}
	writeSuccess(w, http.StatusOK, v)
	return nil
}

func (h *sessionHandler) finish(w http.ResponseWriter, r *http.Request) error {
	v, err := h.svc.Finish(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeSuccess(w, http.StatusOK, v)
	return nil
}

func (h *sessionHandler) close(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := h.svc.Close(r.Context(), id); err != nil {
		return err
	}
	writeSuccess(w, http.StatusOK, idDTO{ID: id})
	return nil
}
