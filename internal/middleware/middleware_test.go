package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/gncyclemart/shop-api/internal/auth"
	"github.com/gncyclemart/shop-api/internal/metrics"
)

type stubGuard struct {
	principals map[string]*auth.Principal
	err        error
}

func (g stubGuard) Authenticate(_ context.Context, token string) (*auth.Principal, error) {
	if g.err != nil {
		return nil, g.err
	}
	if p, ok := g.principals[token]; ok {
		return p, nil
	}
	return nil, auth.ErrUnauthenticated
}

func (g stubGuard) RequireAdmin(p *auth.Principal) error {
	return auth.RequireAdmin(p)
}

func whoami(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(auth.PrincipalFrom(r.Context()).UserID))
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticateAndRequireAdmin(t *testing.T) {
	guard := stubGuard{principals: map[string]*auth.Principal{
		"admin-token": {UserID: "admin", IsAdmin: true},
		"user-token":  {UserID: "user"},
	}}
	authed := Authenticate(guard)(http.HandlerFunc(whoami))
	adminOnly := Authenticate(guard)(RequireAdmin(guard)(http.HandlerFunc(whoami)))

	rec := serve(authed, "user-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user", rec.Body.String())

	rec = serve(authed, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"Not authorized, token failed."}`, rec.Body.String())

	rec = serve(adminOnly, "user-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(adminOnly, "admin-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", rec.Body.String())

	// RequireAdmin alone has no principal to check
	rec = serve(RequireAdmin(guard)(http.HandlerFunc(whoami)), "admin-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateStoreFailure(t *testing.T) {
	h := Authenticate(stubGuard{err: errors.New("db down")})(http.HandlerFunc(whoami))
	rec := serve(h, "anything")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	rec := serve(h, "")
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "fixed", seen)
	assert.Equal(t, "fixed", rec.Header().Get("X-Request-ID"))

	assert.Empty(t, RequestIDFrom(context.Background()))
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestErrorHandlerRecovers(t *testing.T) {
	h := ErrorHandlerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := serve(h, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"Internal Server Error"}`, rec.Body.String())
}

func TestMetricsMiddlewarePassesStatus(t *testing.T) {
	m, err := metrics.New(noop.NewMeterProvider().Meter("test"), "test", "sqlite3")
	require.NoError(t, err)

	r := mux.NewRouter()
	r.Use(MetricsMiddleware(m))
	r.HandleFunc("/teapot/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot/1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
