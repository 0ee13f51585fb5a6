package ginserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"
)

const principalContextKey = "guildchat.principal"

// ErrUnknownToken signals a bearer token no resolver recognizes.
var ErrUnknownToken = errors.New("auth: unknown token")

// TokenResolver maps a bearer token to the user it authenticates. Identity
// itself lives outside this service.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (userID string, err error)
}

// StaticTokenResolver serves dev and test runs from a fixed token table.
type StaticTokenResolver struct {
	Tokens map[string]string
}

func (r StaticTokenResolver) Resolve(_ context.Context, token string) (string, error) {
	if userID, ok := r.Tokens[token]; ok {
		return userID, nil
	}
	return "", ErrUnknownToken
}

type principal struct {
	ID    string
	Token string
}

type AuthMiddleware struct {
	Resolver TokenResolver
	Logger   *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		// websocket clients cannot set headers from a browser
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" || m.Resolver == nil {
		c.Next()
		return
	}
	userID, err := m.Resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, ErrUnknownToken) && m.Logger != nil {
			m.Logger.Debug("token resolution failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{ID: userID, Token: token})
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireUser(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

var _ TokenResolver = StaticTokenResolver{}
