// Package handlers exposes the ordering services over HTTP. Every handler decodes
// the request, calls one service operation with the caller's identity and maps the
// outcome to a status code.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"

	"go_trial/littlelemon/logging"
	"go_trial/littlelemon/middleware"
	"go_trial/littlelemon/models"
	"go_trial/littlelemon/services"
	"go_trial/littlelemon/telem"
)

var tracer = otel.Tracer("littlelemon/handlers")

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc      *services.Services
	store    Pinger
	metrics  *telem.Metrics
	log      *slog.Logger
	validate *validator.Validate
}

// New builds the handler set. metrics may be nil.
func New(svc *services.Services, store Pinger, metrics *telem.Metrics, log *slog.Logger) *Handler {
	if log == nil {
		log = logging.Discard()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names in validation messages.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, store: store, metrics: metrics, log: log, validate: v}
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

// writeError is the single place service failures become status codes. Anything
// that is not a *services.Error is logged and hidden behind a 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		logging.FromContext(r.Context(), h.log).Error("request failed",
			logging.Action("handle_request"),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logging.Err(err))
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeMessage(w, statusFor(svcErr.Kind), svcErr.Message)
}

func statusFor(kind error) int {
	switch kind {
	case services.ErrUnauthorized:
		return http.StatusUnauthorized
	case services.ErrForbidden:
		return http.StatusForbidden
	case services.ErrNotFound:
		return http.StatusNotFound
	case services.ErrBadRequest:
		return http.StatusBadRequest
	case services.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var errEmptyBody = errors.New("empty body")

// decode reads a JSON body into dst and runs the struct's validate tags. An empty
// body leaves dst untouched unless allowEmpty is false.
func (h *Handler) decode(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case errors.Is(err, io.EOF):
		if !allowEmpty {
			return errEmptyBody
		}
	case err != nil:
		return err
	}
	return h.validate.Struct(dst)
}

// badBody writes a 400 describing why the body was rejected.
func badBody(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, validationMessage(fe))
		}
		writeMessage(w, http.StatusBadRequest, strings.Join(parts, " "))
		return
	}
	if errors.Is(err, errEmptyBody) {
		writeMessage(w, http.StatusBadRequest, "Request body is empty")
		return
	}
	writeMessage(w, http.StatusBadRequest, "Invalid request payload")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address.", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid.", fe.Field())
	}
}

// identity returns the caller stored by middleware.Authenticate. Routes without it
// are never mounted behind the authenticated subrouter, so a miss is a 401.
func identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
	}
	return id, ok
}

// ID is an identifier accepted as either a JSON string or a JSON number, since
// clients of the numeric-id API send both.
type ID string

func (i *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*i = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*i = ID(n.String())
	return nil
}

// pageFrom reads ?page=&perpage=. Absent parameters mean no paging.
func pageFrom(r *http.Request) (models.Page, error) {
	q := r.URL.Query()
	var p models.Page
	if v := q.Get("perpage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, errors.New("perpage must be a positive integer")
		}
		p.PerPage = n
		p.Number = 1
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, errors.New("page must be a positive integer")
		}
		if p.PerPage == 0 {
			p.PerPage = defaultPerPage
		}
		p.Number = n
	}
	return p, nil
}

const defaultPerPage = 5

// HealthHandler reports 200 when the store answers a ping.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context(), h.log).Warn("health check failed", logging.Action("health"), logging.Err(err))
		writeMessage(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	writeMessage(w, http.StatusOK, "ok")
}
