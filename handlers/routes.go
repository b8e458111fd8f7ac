package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"go_trial/littlelemon/middleware"
)

// Router mounts every endpoint. Everything under /api except registration goes
// through authentication, then the optional per-user throttle.
func (h *Handler) Router(throttle *middleware.Throttle) *mux.Router {
	r := mux.NewRouter()
	if h.metrics != nil {
		r.Use(middleware.Instrument(h.metrics))
	}

	noMiddlewareRouter := r.NewRoute().Subrouter()
	noMiddlewareRouter.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)
	noMiddlewareRouter.HandleFunc("/token/login/", h.LoginTokenHandler).Methods(http.MethodPost)
	noMiddlewareRouter.HandleFunc("/token/refresh/", h.RefreshTokenHandler).Methods(http.MethodPost)

	validationRouter := r.NewRoute().Subrouter()
	validationRouter.Use(middleware.ValidateRequestBody)
	validationRouter.HandleFunc("/api/users", h.CreateUserHandler).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Authenticate(h.svc.Accounts))
	if throttle != nil {
		api.Use(throttle.Middleware)
	}
	api.HandleFunc("/users/me/", h.GetCurrentUserHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders", h.OrdersEndpoint).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/orders/{id}", h.OrderEndpoint).
		Methods(http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)

	bodyRouter := api.NewRoute().Subrouter()
	bodyRouter.Use(middleware.ValidateRequestBody)
	bodyRouter.HandleFunc("/category", h.ManageCategoryHandler).Methods(http.MethodGet, http.MethodPost)
	bodyRouter.HandleFunc("/menu-items", h.ManageMenuHandler).Methods(http.MethodGet, http.MethodPost)
	bodyRouter.HandleFunc("/menu-items/{id}", h.ManageSingleItemHandler).
		Methods(http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	bodyRouter.HandleFunc("/groups/{group:manager|delivery-crew}/users", h.GetGroupMembersHandler).Methods(http.MethodGet)
	bodyRouter.HandleFunc("/groups/{group:manager|delivery-crew}/users", h.AssignGroupHandler).Methods(http.MethodPost)
	bodyRouter.HandleFunc("/groups/{group:manager|delivery-crew}/users/{id}", h.RemoveGroupMemberHandler).Methods(http.MethodDelete)
	bodyRouter.HandleFunc("/cart/menu-items", h.CartEndpoint).
		Methods(http.MethodGet, http.MethodPost, http.MethodDelete)

	return r
}
