package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-chat/internal/model"
)

func TestIssueAndVerify(t *testing.T) {
	req := require.New(t)
	j := NewJWT("test-secret", "realtime-chat", time.Hour)

	token, err := j.Issue("u1")
	req.NoError(err)

	userID, err := j.Verify(token)
	req.NoError(err)
	req.Equal("u1", userID)
}

func TestVerify_Rejects(t *testing.T) {
	j := NewJWT("test-secret", "realtime-chat", time.Hour)
	other, err := NewJWT("other-secret", "realtime-chat", time.Hour).Issue("u1")
	require.NoError(t, err)
	expired, err := NewJWT("test-secret", "realtime-chat", -time.Minute).Issue("u1")
	require.NoError(t, err)
	wrongIssuer, err := NewJWT("test-secret", "someone-else", time.Hour).Issue("u1")
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "realtime-chat", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", other},
		{"expired", expired},
		{"wrong issuer", wrongIssuer},
		{"no subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := j.Verify(tt.token)
			require.ErrorIs(t, err, model.ErrUnauthorized)
		})
	}
}

func TestFromRequest(t *testing.T) {
	req := require.New(t)

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc")
	token, err := FromRequest(r)
	req.NoError(err)
	req.Equal("abc", token)

	r = httptest.NewRequest("GET", "/ws?token=xyz", nil)
	token, err = FromRequest(r)
	req.NoError(err)
	req.Equal("xyz", token)

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic abc")
	_, err = FromRequest(r)
	req.ErrorIs(err, model.ErrUnauthorized)

	_, err = FromRequest(httptest.NewRequest("GET", "/ws", nil))
	req.ErrorIs(err, model.ErrUnauthorized)
}
