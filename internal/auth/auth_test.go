package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	s := NewService([]byte("secret"), time.Hour)
	hash, err := s.HashPassword("hunter2")
	require.NoError(t, err)
	require.True(t, s.CheckPassword(hash, "hunter2"))
	require.False(t, s.CheckPassword(hash, "wrong"))
}

func TestTokenRoundTrip(t *testing.T) {
	s := NewService([]byte("secret"), time.Hour)
	token, err := s.IssueToken("user-42")
	require.NoError(t, err)

	sub, err := s.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-42", sub)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	s := NewService([]byte("secret"), time.Hour)
	token, err := s.IssueToken("user-42")
	require.NoError(t, err)

	other := NewService([]byte("different"), time.Hour)
	_, err = other.ParseToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpiry(t *testing.T) {
	s := NewService([]byte("secret"), -time.Minute)
	token, err := s.IssueToken("user-42")
	require.NoError(t, err)
	_, err = s.ParseToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	s := NewService([]byte("secret"), time.Hour)
	var gotOwner string
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner, _ = OwnerFromContext(r.Context())
	}))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token.
	token, err := s.IssueToken("user-42")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-42", gotOwner)
}
