package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("s3cret", "/api/health")(ok)

	cases := []struct {
		name   string
		path   string
		header [2]string
		want   int
	}{
		{"missing", "/api/runs", [2]string{}, http.StatusUnauthorized},
		{"wrong", "/api/runs", [2]string{"X-API-Key", "nope"}, http.StatusUnauthorized},
		{"bearer", "/api/runs", [2]string{"Authorization", "Bearer s3cret"}, http.StatusOK},
		{"header", "/api/runs", [2]string{"X-API-Key", "s3cret"}, http.StatusOK},
		{"public", "/api/health", [2]string{}, http.StatusOK},
		{"ws query", "/ws?api_key=s3cret", [2]string{}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header[0] != "" {
				req.Header.Set(tc.header[0], tc.header[1])
			}
			assert.Equal(t, tc.want, serve(h, req).Code)
		})
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	rec := serve(Auth("")(ok), httptest.NewRequest(http.MethodPost, "/api/markets", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingAssignsRequestID(t *testing.T) {
	h := Logging(discard())(ok)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	id := uuid.NewString()
	req.Header.Set(RequestIDHeader, id)
	assert.Equal(t, id, serve(h, req).Header().Get(RequestIDHeader))
}

type countingLimiter struct {
	calls int
	keys  []string
	err   error
}

func (c *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	c.calls++
	c.keys = append(c.keys, key)
	if c.err != nil {
		return false, c.err
	}
	return c.calls <= limit, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{}
	h := RateLimit(lim, "tx", 2, time.Minute, discard())(ok)

	req := httptest.NewRequest(http.MethodPost, "/api/collateral/deposit", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
	rec := serve(h, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.JSONEq(t, `{"error":"rate limit exceeded","kind":"rate_limited"}`, rec.Body.String())
	assert.Equal(t, "ratelimit:tx:203.0.113.9", lim.keys[0])
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(&countingLimiter{err: errors.New("redis down")}, "tx", 1, time.Minute, discard())(ok)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodPost, "/", nil)).Code)
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(nil, "tx", 5, time.Minute, discard())(ok)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodPost, "/", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://desk.example.com/"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://desk.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://desk.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), RequestIDHeader)

	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestLoggingCarriesRequestIDOnContext(t *testing.T) {
	var seen string
	h := Logging(discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		_, _ = w.Write([]byte("hi"))
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	assert.Empty(t, RequestID(context.Background()))
}
