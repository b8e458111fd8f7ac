package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/services"
)

// orderUpdateRequest keeps absent fields nil. Status validity is a service rule.
type orderUpdateRequest struct {
	Status     *int `json:"status"`
	DeliveryID *ID  `json:"delivery_id"`
}

type orderResponse struct {
	Message string        `json:"message"`
	Order   *models.Order `json:"order,omitempty"`
}

func (h *Handler) GetAllOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	orders, err := h.svc.Orders.List(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// PlaceNewOrderHandler converts the caller's cart into an order in one store transaction.
func (h *Handler) PlaceNewOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	order, err := h.svc.Orders.Create(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{Message: services.MsgOrderCreated, Order: order})
}

func (h *Handler) OrdersEndpoint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetAllOrders(w, r)
	case http.MethodPost:
		h.PlaceNewOrderHandler(w, r)
	}
}

func (h *Handler) GetSingleOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	order, err := h.svc.Orders.Get(r.Context(), id, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// updateOrder serves PUT and PATCH. An empty body is allowed so that a delivery crew
// PATCH without status reaches the service and gets its "Bad request." reply.
func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request, partial bool) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req orderUpdateRequest
	if err := h.decode(r, &req, true); err != nil {
		badBody(w, err)
		return
	}
	in := services.OrderUpdate{Status: req.Status, Partial: partial}
	if req.DeliveryID != nil {
		d := string(*req.DeliveryID)
		in.DeliveryID = &d
	}
	order, msg, err := h.svc.Orders.Update(r.Context(), id, mux.Vars(r)["id"], in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Message: msg, Order: order})
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.svc.Orders.Delete(r.Context(), id, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, services.MsgOrderDeleted)
}

func (h *Handler) OrderEndpoint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetSingleOrder(w, r)
	case http.MethodPut:
		h.updateOrder(w, r, false)
	case http.MethodPatch:
		h.updateOrder(w, r, true)
	case http.MethodDelete:
		h.DeleteOrder(w, r)
	}
}
