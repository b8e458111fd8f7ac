package handlers

import (
	"net/http"
)

type cartRequest struct {
	MenuItem ID `json:"menuitem" validate:"required"`
}

func (h *Handler) GetCartItemsForUser(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	lines, err := h.svc.Carts.View(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *Handler) PostMenuItemsToCart(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req cartRequest
	if err := h.decode(r, &req, false); err != nil {
		badBody(w, err)
		return
	}
	line, err := h.svc.Carts.Add(r.Context(), id, string(req.MenuItem))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (h *Handler) DeleteMenuItemsFromCart(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.svc.Carts.Clear(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Cart cleared.")
}

func (h *Handler) CartEndpoint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetCartItemsForUser(w, r)
	case http.MethodPost:
		h.PostMenuItemsToCart(w, r)
	case http.MethodDelete:
		h.DeleteMenuItemsFromCart(w, r)
	}
}
