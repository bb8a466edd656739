package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareMissingHeaderRequired(t *testing.T) {
	m := NewAuthMiddleware(nil, false)

	var called bool
	rec := httptest.NewRecorder()
	m.Handler(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestAuthMiddlewareMissingHeaderOptional(t *testing.T) {
	m := NewAuthMiddleware(nil, true)

	var called bool
	rec := httptest.NewRecorder()
	m.Handler(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestAuthMiddlewareBadHeaderFormat(t *testing.T) {
	m := NewAuthMiddleware(nil, true)

	for _, header := range []string{"Basic abc", "Bearer", "bearer token extra parts here"} {
		var called bool
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		m.Handler(okHandler(&called)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.False(t, called, header)
	}
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	userID := uuid.New()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "token_prefix", "name", "permissions",
		"expires_at", "last_used_at", "created_at", "revoked_at",
	}).AddRow(int64(1), userID.String(), "warden_abc", "ci", []byte(`["users.get"]`),
		nil, nil, time.Now(), nil)
	mock.ExpectQuery("SELECT (.+) FROM api_tokens").WillReturnRows(rows)
	mock.ExpectExec("UPDATE api_tokens").WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewAuthMiddleware(auth.NewTokenManager(db), false)

	var captured *auth.Context
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetAuthContext(r)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+auth.TokenPrefix+"abc123_-")
	rec := httptest.NewRecorder()
	m.Handler(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, userID, captured.UserID)
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM api_tokens").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	m := NewAuthMiddleware(auth.NewTokenManager(db), true)

	var called bool
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+auth.TokenPrefix+"abc123_-")
	rec := httptest.NewRecorder()
	m.Handler(okHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestGetAuthContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetAuthContext(req))

	authCtx := &auth.Context{UserID: uuid.New()}
	req = req.WithContext(contextkeys.WithValue(req.Context(), contextkeys.AuthKey, authCtx))
	assert.Equal(t, authCtx, GetAuthContext(req))
}
