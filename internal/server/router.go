package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/revisit-backend/internal/handlers"
	"github.com/yungbote/revisit-backend/internal/middleware"
)

type RouterConfig struct {
	AuthHandler     *handlers.AuthHandler
	AuthMiddleware  *middleware.AuthMiddleware
	SyncHandler     *handlers.SyncHandler
	TenantHandler   *handlers.TenantHandler
	ReminderHandler *handlers.ReminderHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthz", handlers.HealthCheck)
	router.POST("/api/institutions/login", cfg.AuthHandler.Login)

	// Protected
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/sync/:kind", cfg.SyncHandler.SyncOne)

		tenants := api.Group("/tenants/:code")
		{
			tenants.POST("/provision", cfg.TenantHandler.Provision)
			tenants.GET("/drift", cfg.TenantHandler.Drift)
			tenants.POST("/repair", cfg.TenantHandler.Repair)

			tenants.GET("/reminders", cfg.ReminderHandler.List)
			tenants.POST("/reminders/derive", cfg.ReminderHandler.Derive)
			tenants.PATCH("/reminders", cfg.ReminderHandler.SetStatus)
			tenants.GET("/customers/birthdays", cfg.ReminderHandler.Birthdays)
		}

		api.GET("/orphans", cfg.TenantHandler.Orphans)
	}

	return router
}
