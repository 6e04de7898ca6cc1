package http

import (
	"github.com/EternisAI/mailbroker/internal/api/http/handler"
	"github.com/EternisAI/mailbroker/internal/api/http/middleware"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Dispatcher handler.EventDispatcher
	Keys       handler.KeyRegistry
	Usage      handler.UsageReport
	Monitors   handler.MonitorAdmin
	Provider   handler.ProviderInfo
	Broadcast  handler.Broadcaster
}

func SetupRoute(engine *gin.Engine, cfg Config, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	v1 := engine.Group("/api/v1")

	eventsHandler := handler.NewEventsHandler(srvs.Dispatcher)
	v1.POST("/events", middleware.APIKeyAuth(cfg.WebhookSecret), eventsHandler.Handle)

	adminHandler := handler.NewAdminHandler(srvs.Keys, srvs.Usage, srvs.Monitors, srvs.Provider, srvs.Broadcast)
	admin := v1.Group("/admin", middleware.APIKeyAuth(cfg.AdminAPIKey))
	{
		admin.POST("/keys", adminHandler.GenerateKeys)
		admin.GET("/keys", adminHandler.ListKeys)
		admin.GET("/usage", adminHandler.ListUsage)
		admin.GET("/usage/:id", adminHandler.GetUsage)
		admin.GET("/monitors", adminHandler.ListMonitors)
		admin.DELETE("/monitors/:id", adminHandler.ClearMonitor)
		admin.POST("/broadcast", adminHandler.Broadcast)
		admin.GET("/provider/balance", adminHandler.ProviderBalance)
		admin.GET("/provider/stock", adminHandler.ProviderStock)
	}
}
