package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go_trial/littlelemon/models"
	"go_trial/littlelemon/services"
	"go_trial/littlelemon/store/memstore"
	"go_trial/littlelemon/telem"
)

// spyStore counts order listings so tests can assert a rejected request never
// reached the store.
type spyStore struct {
	*memstore.Store
	listOrders atomic.Int32
}

func (s *spyStore) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	s.listOrders.Add(1)
	return s.Store.ListOrders(ctx, f)
}

type server struct {
	t       *testing.T
	ctx     context.Context
	store   *spyStore
	tokens  *services.Tokens
	metrics *telem.Metrics
	router  http.Handler

	manager  string
	crew     string
	customer string
	other    string

	crewID     string
	customerID string
	category   models.Category
	item       models.MenuItem
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{
		t:      t,
		ctx:    context.Background(),
		store:  &spyStore{Store: memstore.New()},
		tokens: services.NewTokens("test-secret", time.Hour, 24*time.Hour),
	}
	s.metrics = telem.NewMetrics(prometheus.NewRegistry())
	svc := services.New(services.Deps{Store: s.store, Tokens: s.tokens})
	s.router = New(svc, s.store, s.metrics, nil).Router(nil)

	s.manager, _ = s.user("mario", models.GroupManager)
	s.crew, s.crewID = s.user("luigi", models.GroupDeliveryCrew)
	s.customer, s.customerID = s.user("peach")
	s.other, _ = s.user("toad")

	s.category = models.Category{Slug: "mains", Title: "Mains"}
	require.NoError(t, s.store.CreateCategory(s.ctx, &s.category))
	s.item = models.MenuItem{Title: "Greek salad", Price: decimal.RequireFromString("10.00"), Category: s.category.ID}
	require.NoError(t, s.store.CreateMenuItem(s.ctx, &s.item))
	return s
}

// user creates an account in groups and returns an access token and the user id.
func (s *server) user(name string, groups ...string) (string, string) {
	s.t.Helper()
	u := &models.User{Name: name, Email: name + "@littlelemon.test", PasswordHash: "x"}
	require.NoError(s.t, s.store.CreateUser(s.ctx, u))
	for _, g := range groups {
		require.NoError(s.t, s.store.AddToGroup(s.ctx, u.ID, g))
	}
	pair, err := s.tokens.Pair(u.ID, u.Name)
	require.NoError(s.t, err)
	return pair.AccessToken, u.ID
}

// do sends body as JSON unless it is already a string.
func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[messageResponse](t, rec).Message
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/orders", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Zero(t, s.store.listOrders.Load())
}

func TestLegacyTokenHeader(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/users/me/", nil)
	req.Header.Set("token", s.customer)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "peach", decodeBody[models.SingleUser](t, rec).Name)
}

func TestRegisterLoginRefresh(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/users", "", map[string]string{
		"username": "daisy", "email": "daisy@littlelemon.test", "password": "s3cret-pass",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "daisy", decodeBody[models.SingleUser](t, rec).Name)
	assert.NotContains(t, rec.Body.String(), "s3cret-pass")

	rec = s.do(http.MethodPost, "/api/users", "", map[string]string{"username": "daisy", "password": "other"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/token/login/", "", map[string]string{"username": "daisy", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/token/login/", "", map[string]string{"username": "daisy", "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pair := decodeBody[services.TokenPair](t, rec)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	rec = s.do(http.MethodGet, "/api/users/me/", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "daisy@littlelemon.test", decodeBody[models.SingleUser](t, rec).Email)

	// A refresh token is not an access token.
	rec = s.do(http.MethodGet, "/api/users/me/", pair.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/token/refresh/", "", map[string]string{"refresh": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	access := decodeBody[accessResponse](t, rec).AccessToken
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/users/me/", access, nil).Code)

	rec = s.do(http.MethodPost, "/token/refresh/", "", map[string]string{"refresh_token": pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.LoginRequests.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.LoginRequests.WithLabelValues("error")))
}

func TestLoginWithForm(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodPost, "/api/users", "", map[string]string{"username": "daisy", "password": "pw"})
	require.Equal(t, http.StatusCreated, rec.Code)

	form := url.Values{"name": {"daisy"}, "password": {"pw"}}
	req := httptest.NewRequest(http.MethodPost, "/token/login/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegisterValidation(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/users", "", map[string]string{"username": "daisy"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password is required.", message(t, rec))

	rec = s.do(http.MethodPost, "/api/users", "", map[string]string{"username": "daisy", "password": "pw", "email": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email must be a valid email address.", message(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"username":"daisy"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestCategories(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/category", s.customer, map[string]string{"slug": "desserts", "title": "Desserts"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "desserts", decodeBody[models.Category](t, rec).Slug)

	rec = s.do(http.MethodPost, "/api/category", s.customer, map[string]string{"slug": "desserts", "title": "Again"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/category", s.customer, map[string]string{"slug": "drinks"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "title is required.", message(t, rec))

	rec = s.do(http.MethodGet, "/api/category", s.crew, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.Category](t, rec), 2)
}

func TestMenuItemWritesRequireManager(t *testing.T) {
	s := newServer(t)
	body := map[string]any{"title": "Lemon soup", "price": "4.35", "category": s.category.ID}

	for _, token := range []string{s.customer, s.crew} {
		rec := s.do(http.MethodPost, "/api/menu-items", token, body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = s.do(http.MethodDelete, "/api/menu-items/"+s.item.ID, token, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	}
	// Role is checked before existence.
	rec := s.do(http.MethodPut, "/api/menu-items/missing", s.customer, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/menu-items", s.manager, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	soup := decodeBody[models.MenuItem](t, rec)
	assert.True(t, soup.Price.Equal(decimal.RequireFromString("4.35")))

	rec = s.do(http.MethodPatch, "/api/menu-items/"+soup.ID, s.manager, map[string]any{"price": 5.5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	patched := decodeBody[models.MenuItem](t, rec)
	assert.Equal(t, "Lemon soup", patched.Title)
	assert.True(t, patched.Price.Equal(decimal.RequireFromString("5.50")))

	rec = s.do(http.MethodGet, "/api/menu-items", s.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.MenuItem](t, rec), 2)

	rec = s.do(http.MethodGet, "/api/menu-items?page=2&perpage=1", s.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.MenuItem](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/menu-items?page=0", s.customer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, "/api/menu-items/"+soup.ID, s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/api/menu-items/"+soup.ID, s.customer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupAdministration(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/api/groups/manager/users", s.customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/groups/delivery-crew/users", s.manager, map[string]string{"username": "toad"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	toad := decodeBody[models.SingleUser](t, rec)

	// Adding twice is a no-op.
	rec = s.do(http.MethodPost, "/api/groups/delivery-crew/users", s.manager, map[string]string{"username": "toad"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, "/api/groups/delivery-crew/users", s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.SingleUser](t, rec), 2)

	rec = s.do(http.MethodPost, "/api/groups/manager/users", s.manager, map[string]string{"username": "bowser"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/api/groups/delivery-crew/users/"+toad.ID, s.manager, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodDelete, "/api/groups/delivery-crew/users/missing", s.manager, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/groups/waiters/users", s.manager, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartAndCheckout(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/cart/menu-items", s.customer, map[string]string{"menuitem": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for range 2 {
		rec = s.do(http.MethodPost, "/api/cart/menu-items", s.customer, map[string]string{"menuitem": s.item.ID})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/cart/menu-items", s.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := decodeBody[[]models.Cart](t, rec)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.True(t, lines[0].Price.Equal(decimal.RequireFromString("20.00")))
	require.NotNil(t, lines[0].Item)
	assert.Equal(t, "Greek salad", lines[0].Item.Title)

	rec = s.do(http.MethodPost, "/api/orders", s.manager, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/orders", s.customer, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[orderResponse](t, rec)
	assert.Equal(t, "Order created", created.Message)
	require.NotNil(t, created.Order)
	assert.True(t, created.Order.Total.Equal(decimal.RequireFromString("20.00")))

	rec = s.do(http.MethodGet, "/api/cart/menu-items", s.customer, nil)
	assert.Empty(t, decodeBody[[]models.Cart](t, rec))

	rec = s.do(http.MethodGet, "/api/orders", s.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.Order](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/orders", s.other, nil)
	assert.Empty(t, decodeBody[[]models.Order](t, rec))

	rec = s.do(http.MethodGet, "/api/orders/"+created.Order.ID, s.other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/api/cart/menu-items", s.customer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrderUpdatesByRole(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodPost, "/api/cart/menu-items", s.customer, map[string]string{"menuitem": s.item.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(http.MethodPost, "/api/orders", s.customer, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderPath := "/api/orders/" + decodeBody[orderResponse](t, rec).Order.ID

	rec = s.do(http.MethodPatch, orderPath, s.customer, map[string]int{"status": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPatch, orderPath, s.manager, map[string]string{"delivery_id": s.customerID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Delivery crew id is invalid.", message(t, rec))

	rec = s.do(http.MethodPatch, orderPath, s.manager, map[string]string{"delivery_id": s.crewID})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[orderResponse](t, rec)
	assert.Equal(t, "Order updated.", updated.Message)
	require.NotNil(t, updated.Order.DeliveryCrew)
	assert.Equal(t, s.crewID, *updated.Order.DeliveryCrew)

	rec = s.do(http.MethodPatch, orderPath, s.crew, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Bad request.", message(t, rec))

	rec = s.do(http.MethodPut, orderPath, s.crew, map[string]int{"status": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPatch, orderPath, s.crew, map[string]int{"status": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	updated = decodeBody[orderResponse](t, rec)
	assert.Equal(t, "Status updated.", updated.Message)
	assert.Equal(t, models.StatusDelivered, updated.Order.Status)

	rec = s.do(http.MethodGet, "/api/orders", s.crew, nil)
	assert.Len(t, decodeBody[[]models.Order](t, rec), 1)

	rec = s.do(http.MethodDelete, orderPath, s.crew, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodDelete, orderPath, s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Order deleted.", message(t, rec))

	rec = s.do(http.MethodDelete, orderPath, s.manager, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNumericIDsAreAccepted(t *testing.T) {
	var req cartRequest
	require.NoError(t, json.Unmarshal([]byte(`{"menuitem": 42}`), &req))
	assert.Equal(t, ID("42"), req.MenuItem)
	require.NoError(t, json.Unmarshal([]byte(`{"menuitem": " abc "}`), &req))
	assert.Equal(t, ID("abc"), req.MenuItem)
	assert.Error(t, json.Unmarshal([]byte(`{"menuitem": true}`), &req))
}

func TestWriteErrorHidesUnknownErrors(t *testing.T) {
	h := New(nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("connection reset"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestsAreInstrumented(t *testing.T) {
	s := newServer(t)
	s.do(http.MethodGet, "/api/menu-items/"+s.item.ID, s.customer, nil)

	got := testutil.ToFloat64(s.metrics.Requests.WithLabelValues(http.MethodGet, "/api/menu-items/{id}", "200"))
	assert.Equal(t, 1.0, got)
}
