package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"go_trial/littlelemon/services"
)

type categoryRequest struct {
	Slug  string `json:"slug" validate:"required,max=255"`
	Title string `json:"title" validate:"required,max=255"`
}

// menuItemRequest leaves absent fields nil so PATCH can tell them apart from zero values.
type menuItemRequest struct {
	Title    *string          `json:"title" validate:"omitempty,max=255"`
	Price    *decimal.Decimal `json:"price"`
	Featured *bool            `json:"featured"`
	Category *ID              `json:"category"`
}

func (m menuItemRequest) input() services.MenuItemInput {
	in := services.MenuItemInput{Title: m.Title, Price: m.Price, Featured: m.Featured}
	if m.Category != nil {
		c := string(*m.Category)
		in.Category = &c
	}
	return in
}

func (h *Handler) GetAllItemCategories(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	categories, err := h.svc.Catalog.ListCategories(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) PostItemCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req categoryRequest
	if err := h.decode(r, &req, false); err != nil {
		badBody(w, err)
		return
	}
	category, err := h.svc.Catalog.CreateCategory(r.Context(), id, req.Slug, req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (h *Handler) ManageCategoryHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetAllItemCategories(w, r)
	case http.MethodPost:
		h.PostItemCategory(w, r)
	}
}

func (h *Handler) GetMenuItems(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	page, err := pageFrom(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.Catalog.ListMenuItems(r.Context(), id, page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) PostMenuItems(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req menuItemRequest
	if err := h.decode(r, &req, false); err != nil {
		badBody(w, err)
		return
	}
	item, err := h.svc.Catalog.CreateMenuItem(r.Context(), id, req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) ManageMenuHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetMenuItems(w, r)
	case http.MethodPost:
		h.PostMenuItems(w, r)
	}
}

func (h *Handler) GetSingleMenuItem(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Catalog.GetMenuItem(r.Context(), id, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// updateMenuItem serves PUT (full replace) and PATCH (partial).
func (h *Handler) updateMenuItem(w http.ResponseWriter, r *http.Request, partial bool) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req menuItemRequest
	if err := h.decode(r, &req, false); err != nil {
		badBody(w, err)
		return
	}
	item, err := h.svc.Catalog.UpdateMenuItem(r.Context(), id, mux.Vars(r)["id"], req.input(), partial)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) DeleteSingleMenuItem(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.svc.Catalog.DeleteMenuItem(r.Context(), id, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Menu item deleted.")
}

func (h *Handler) ManageSingleItemHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetSingleMenuItem(w, r)
	case http.MethodPut:
		h.updateMenuItem(w, r, false)
	case http.MethodPatch:
		h.updateMenuItem(w, r, true)
	case http.MethodDelete:
		h.DeleteSingleMenuItem(w, r)
	}
}
