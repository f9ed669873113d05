package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskpilot/internal/domain"
	"taskpilot/internal/service"
)

const (
	authUserKey     = "auth_user"
	sessionTokenKey = "session_token"
)

// SessionAuthMiddleware valida el token de sesion Bearer y guarda el usuario en el contexto.
func SessionAuthMiddleware(logger *zap.Logger, auth *service.AuthService) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if auth == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
			c.Abort()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		token := strings.TrimSpace(header[len("Bearer "):])
		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrUnauthorized) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				c.Abort()
				return
			}
			respondError(c, logger, "authenticate", err)
			c.Abort()
			return
		}

		c.Set(authUserKey, user)
		c.Set(sessionTokenKey, token)
		c.Next()
	}
}

// GetAuthUser obtiene el usuario autenticado desde el contexto.
func GetAuthUser(c *gin.Context) (domain.User, bool) {
	val, ok := c.Get(authUserKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := val.(domain.User)
	return user, ok
}

func GetSessionToken(c *gin.Context) (string, bool) {
	val, ok := c.Get(sessionTokenKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}
