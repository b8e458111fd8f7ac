package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"go_trial/littlelemon/middleware/logkafka"
	"go_trial/littlelemon/models"
	"go_trial/littlelemon/services"
)

type contextKey string

const identityKey contextKey = "identity"

// Authenticator resolves an access token into the caller's identity.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (models.Identity, error)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// ValidateRequestBody rejects write requests whose body is not a non-empty JSON
// document and restores the body for the next handler.
func ValidateRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}

		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			writeMessage(w, http.StatusUnsupportedMediaType, "Content-Type header must be application/json")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "Error reading request body")
			return
		}
		if len(bytes.TrimSpace(body)) == 0 {
			writeMessage(w, http.StatusBadRequest, "Request body is empty")
			return
		}
		if !json.Valid(body) {
			writeMessage(w, http.StatusBadRequest, "Request body is not valid JSON")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// bearerToken reads "Authorization: Bearer <jwt>", falling back to the raw "token"
// header older clients send.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("token"))
}

// Authenticate rejects requests without a valid access token with 401 and otherwise
// stores the caller's identity, role already resolved, in the request context.
func Authenticate(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeMessage(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
				return
			}
			id, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				var svcErr *services.Error
				if errors.As(err, &svcErr) {
					writeMessage(w, http.StatusUnauthorized, svcErr.Message)
					return
				}
				writeMessage(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			logkafka.SetUser(r.Context(), id.UserID)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey).(models.Identity)
	return id, ok
}
