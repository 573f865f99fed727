package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func router(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(IdentityKey))
	})
	return r
}

func get(r http.Handler, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestParseToken(t *testing.T) {
	token, err := IssueToken(secret, "0xabc", time.Hour)
	require.NoError(t, err)

	identity, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", identity)

	_, err = ParseToken("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken(secret, "0xabc", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(secret, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{UserID: "0xabc"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(secret, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTAuth(t *testing.T) {
	r := router(JWTAuth(secret))
	token, err := IssueToken(secret, "0xabc", time.Hour)
	require.NoError(t, err)

	w := get(r, "/", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0xabc", w.Body.String())

	w = get(r, "/?token="+token, "")
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/", "Token "+token).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/", "Bearer nope").Code)
}

func TestOptionalJWTAuth(t *testing.T) {
	r := router(OptionalJWTAuth(secret, false))

	w := get(r, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "/", "Bearer nope").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router(OptionalJWTAuth(secret, true)), "/", "").Code)
}
