package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig agrupa lo que el router necesita fuera de los handlers.
type RouterConfig struct {
	AllowedOrigin string
	Metrics       http.Handler
}

// NewRouter configura el router de Gin con middlewares y rutas.
// Las rutas de API se montan en / y en /v1.
func NewRouter(
	logger *zap.Logger,
	cfg RouterConfig,
	authH *AuthHandler,
	userH *UserHandler,
	healthH *HealthHandler,
	sessionMW gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), corsMiddleware(cfg.AllowedOrigin))

	r.GET("/healthz", healthH.Healthz)
	r.GET("/readyz", healthH.Readyz)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api := r.Group("", jsonContentTypeMiddleware())
	registerAPI(api, authH, userH, sessionMW)
	registerAPI(api.Group("/v1"), authH, userH, sessionMW)

	return r
}

func registerAPI(g *gin.RouterGroup, authH *AuthHandler, userH *UserHandler, sessionMW gin.HandlerFunc) {
	auth := g.Group("/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/verify-email", authH.VerifyEmail)
	auth.POST("/login", authH.Login)
	auth.POST("/reset-password-request", authH.RequestPasswordReset)
	auth.POST("/reset-password", authH.ResetPassword)
	auth.POST("/resend-verification", authH.ResendVerification)
	auth.POST("/logout", sessionMW, authH.Logout)

	users := g.Group("/users", sessionMW)
	users.GET("/profile", userH.GetProfile)
	users.PUT("/profile", userH.UpdateProfile)
	users.PUT("/change-password", userH.ChangePassword)
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

// corsMiddleware habilita al frontend; un origen vacio desactiva CORS.
func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin == "" {
			c.Next()
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Add("Vary", "Origin")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
