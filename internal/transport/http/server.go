package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"mediassist/internal/bootstrap"
	mysqlClient "mediassist/internal/platform/mysql"
	rabbitmqClient "mediassist/internal/platform/rabbitmq"
	redisClient "mediassist/internal/platform/redis"
	"mediassist/internal/transport/http/handler"
	"mediassist/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, map[string]handler.HealthCheck{
		"mysql": func(ctx context.Context) error { return mysqlClient.Ping(ctx, app.MySQL) },
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx, app.Redis) },
		"rabbitmq": func(context.Context) error {
			return rabbitmqClient.Ping(app.MQConn)
		},
		"backend": func(ctx context.Context) error {
			_, err := app.Backend.Health(ctx)
			return err
		},
	})

	return newEngine(app.Config.App.GinMode, app.Config.Auth.JWTSecret, app.Config.Assistant.MaxScanBytes, routes{
		health:    healthHandler,
		auth:      handler.NewAuthHandler(app.AuthService),
		assistant: handler.NewAssistantHandler(app.AssistantService, app.Config.Assistant.MaxScanBytes),
		events:    handler.NewEventsHandler(app.AssistantService, app.Config.App.AllowedOrigins),
	})
}

type routes struct {
	health    *handler.HealthHandler
	auth      *handler.AuthHandler
	assistant *handler.AssistantHandler
	events    *handler.EventsHandler
}

func newEngine(ginMode, jwtSecret string, maxScanBytes int64, r routes) *gin.Engine {
	gin.SetMode(ginMode)
	router := gin.New()
	router.Use(middleware.RequestLog(), gin.Recovery())
	if maxScanBytes > 0 {
		router.MaxMultipartMemory = maxScanBytes + 1<<20
	}

	router.GET("/healthz", r.health.Check)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", r.auth.Register)
	authGroup.POST("/login", r.auth.Login)
	authGroup.GET("/me", middleware.AuthJWT(jwtSecret), r.auth.Me)

	assistantGroup := v1.Group("/assistant")
	assistantGroup.Use(middleware.AuthJWT(jwtSecret))
	assistantGroup.GET("/state", r.assistant.State)
	assistantGroup.POST("/scan", r.assistant.SelectScan)
	assistantGroup.DELETE("/scan", r.assistant.ClearScan)
	assistantGroup.POST("/scan/analyze", r.assistant.AnalyzeScan)
	assistantGroup.POST("/messages", r.assistant.SendMessage)
	assistantGroup.PUT("/tab", r.assistant.SetTab)
	assistantGroup.GET("/archive", r.assistant.ScanArchive)
	assistantGroup.GET("/sessions", r.assistant.SessionArchive)
	assistantGroup.GET("/sessions/:session_id/messages", r.assistant.MessageArchive)
	assistantGroup.GET("/events", r.events.Stream)

	return router
}
