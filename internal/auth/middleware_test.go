package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAdmin(t *testing.T) {
	svc := testService(t, time.Hour, nil)
	token, _, err := svc.Login(context.Background(), "chef@fournildore.sn", "s3cret-mie")
	require.NoError(t, err)

	rejected := false
	unauthorized := func(w http.ResponseWriter, _ *http.Request) {
		rejected = true
		w.WriteHeader(http.StatusUnauthorized)
	}

	var gotClaims Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = AdminFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireAdmin(svc, unauthorized)(next)

	t.Run("valid token", func(t *testing.T) {
		rejected = false
		req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, rejected)
		assert.Equal(t, "adm-1", gotClaims.Subject)
	})

	t.Run("missing header", func(t *testing.T) {
		rejected = false
		req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.True(t, rejected)
	})

	t.Run("garbage token", func(t *testing.T) {
		rejected = false
		req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.True(t, rejected)
	})
}
