package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// IdentityKey is the gin context key holding the authenticated identity
const IdentityKey = "user_id"

var (
	ErrNoToken      = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTClaims represents the claims in an identity token
type JWTClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// IssueToken signs a token binding identity for ttl
func IssueToken(jwtSecret, identity string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

// ParseToken validates tokenString and returns the identity it carries
func ParseToken(jwtSecret, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: missing identity claim", ErrInvalidToken)
	}
	return claims.UserID, nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>" or,
// for browsers that cannot set headers on a websocket, from ?token=
func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", ErrNoToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("%w: invalid authorization header format", ErrInvalidToken)
	}
	return parts[1], nil
}

// JWTAuth creates middleware that requires a valid identity token
func JWTAuth(jwtSecret string) gin.HandlerFunc {
	return identity(jwtSecret, true)
}

// OptionalJWTAuth validates a token when one is given and lets anonymous
// requests through unless required is set
func OptionalJWTAuth(jwtSecret string, required bool) gin.HandlerFunc {
	return identity(jwtSecret, required)
}

func identity(jwtSecret string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c)
		if errors.Is(err, ErrNoToken) && !required {
			c.Next()
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		userID, err := ParseToken(jwtSecret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(IdentityKey, userID)
		c.Next()
	}
}
