package handlers

import (
	"mime"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	Refresh      string `json:"refresh"`
	RefreshToken string `json:"refresh_token"`
}

type accessResponse struct {
	AccessToken string `json:"access"`
}

// CreateUserHandler registers a new account. The body has already passed
// middleware.ValidateRequestBody.
func (h *Handler) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "CreateUserHandler")
	defer span.End()

	var req registerRequest
	if err := h.decode(r, &req, false); err != nil {
		span.SetStatus(codes.Error, "invalid body")
		badBody(w, err)
		return
	}
	user, err := h.svc.Accounts.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("user.id", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

// LoginTokenHandler accepts either a JSON body or the form fields "name"/"username"
// and "password".
func (h *Handler) LoginTokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "LoginTokenHandler")
	defer span.End()

	req, err := h.loginRequest(r)
	if err != nil {
		h.countLogin("error")
		badBody(w, err)
		return
	}
	pair, err := h.svc.Accounts.Login(ctx, req.Username, req.Password)
	if err != nil {
		h.countLogin("error")
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}
	h.countLogin("success")
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) loginRequest(r *http.Request) (loginRequest, error) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := h.decode(r, &req, false); err != nil {
			return req, err
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Username = r.PostForm.Get("username")
	if req.Username == "" {
		req.Username = r.PostForm.Get("name")
	}
	req.Password = r.PostForm.Get("password")
	return req, h.validate.Struct(&req)
}

func (h *Handler) countLogin(status string) {
	if h.metrics != nil {
		h.metrics.LoginRequests.WithLabelValues(status).Inc()
	}
}

func (h *Handler) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := h.decode(r, &req, false); err != nil {
		badBody(w, err)
		return
	}
	token := req.Refresh
	if token == "" {
		token = req.RefreshToken
	}
	if token == "" {
		writeMessage(w, http.StatusBadRequest, "refresh is required.")
		return
	}
	access, err := h.svc.Accounts.Refresh(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{AccessToken: access})
}

func (h *Handler) GetCurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	user, err := h.svc.Accounts.Me(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
