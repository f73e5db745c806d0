package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/truthcard/internal/infra/config"
)

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.MaxMultipartMemory = cfg.HTTP.MaxUploadBytes
	router.Use(
		gin.Recovery(),
		requestLogger(handler.logger),
		corsMiddleware(cfg.HTTP.AllowedOrigins),
		errorHandlingMiddleware(handler.logger),
	)

	router.GET("/healthz", handler.Health)

	api := router.Group("/api/v1")
	api.Use(
		rateLimitMiddleware(cfg.HTTP.RateLimit, handler.logger),
		deviceMiddleware(handler.devices, handler.cookie, handler.logger),
	)
	{
		api.POST("/device", handler.Device)
		api.GET("/usage", handler.Usage)

		api.POST("/sessions", handler.CreateSession)
		api.GET("/sessions/:id", handler.GetSession)
		api.GET("/sessions/:id/events", handler.Events)
		api.POST("/sessions/:id/upload", handler.Upload)
		api.POST("/sessions/:id/restart", handler.Restart)
		api.POST("/sessions/:id/flags/:flagId/pop", handler.PopFlag)
		api.POST("/sessions/:id/support/dismiss", handler.DismissSupport)
		api.PUT("/sessions/:id/tier", handler.SetTier)
		api.GET("/sessions/:id/card", handler.Card)
		api.GET("/sessions/:id/share", handler.Share)

		api.GET("/payments/plans", handler.Plans)
		api.POST("/payments/orders", handler.CreateOrder)
		api.POST("/payments/confirm", handler.ConfirmPayment)
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        withRetry(router, cfg.HTTP.Retry, handler.logger),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}
