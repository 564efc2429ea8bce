package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/carebridge/pkg/contextkeys"
)

func TestParseJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"role":"patient"}`))
	var dest struct {
		Role string `json:"role"`
	}

	require.NoError(t, ParseJSON(req, &dest))
	assert.Equal(t, "patient", dest.Role)

	bad := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, ParseJSON(bad, &dest))
}

func TestPathVar(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/users/user_1/profile", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "user_1"})

	assert.Equal(t, "user_1", PathVar(req, "id"))
	assert.Equal(t, "", PathVar(req, "missing"))
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=3&success=false&start=2026-01-02T03:04:05Z&bad=yes-ish", nil)

	page, err := ParseQueryInt(req, "page", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, page)

	limit, err := ParseQueryInt(req, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)

	success, err := ParseQueryBool(req, "success")
	require.NoError(t, err)
	require.NotNil(t, success)
	assert.False(t, *success)

	absent, err := ParseQueryBool(req, "absent")
	require.NoError(t, err)
	assert.Nil(t, absent)

	_, err = ParseQueryBool(req, "bad")
	assert.Error(t, err)

	start, err := ParseQueryTime(req, "start")
	require.NoError(t, err)
	require.NotNil(t, start)
	assert.Equal(t, 2026, start.Year())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	assert.Equal(t, "10.0.0.9", ClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.8")
	assert.Equal(t, "10.0.0.8", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(req))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seenID, seenIP string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = contextkeys.GetRequestID(r.Context())
		seenIP = contextkeys.GetClientIP(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "req-42", seenID)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "192.0.2.1", seenIP)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seenID, 36)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestStatusRecorder(t *testing.T) {
	w := httptest.NewRecorder()
	rec := NewStatusRecorder(w)

	rec.WriteHeader(http.StatusForbidden)
	rec.WriteHeader(http.StatusOK)

	assert.Equal(t, http.StatusForbidden, rec.Status)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
