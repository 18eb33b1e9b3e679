package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskboard/internal/realtime"
	"taskboard/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	tokens *service.TokenService,
	authH *AuthHandler,
	taskH *TaskHandler,
	gateway *realtime.Gateway,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	auth := r.Group("/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/login", authH.Login)
	auth.POST("/oauth", authH.OAuth)
	auth.GET("/me", AuthMiddleware(tokens), authH.Me)

	tasks := r.Group("/tasks", AuthMiddleware(tokens))
	tasks.GET("", taskH.List)
	tasks.POST("", taskH.Create)
	tasks.GET("/:id", taskH.Get)
	tasks.PUT("/:id", taskH.Update)
	tasks.DELETE("/:id", taskH.Delete)
	tasks.POST("/:id/share", taskH.Share)

	// El handshake websocket valida el token por si mismo, antes del
	// upgrade.
	r.GET("/ws", gateway.HandleConnection)

	return r
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
