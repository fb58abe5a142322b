package web

import (
	"gardenia/auth"
	"gardenia/internal/actuator"
	"gardenia/internal/camera"
	"gardenia/internal/history"
	"gardenia/internal/store"
	"gardenia/internal/telemetry"
	"gardenia/internal/web/api"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WebServer struct {
	router *gin.Engine
}

// NewWebServer assembles the HTTP API of the app process.
func NewWebServer(kv store.KV, authModule *auth.AuthModule, hist *history.History,
	netatmo *telemetry.Client, tapo *actuator.Client, plugs *actuator.Controller,
	cam *camera.Camera, executor api.Executor, sched api.Scheduler, shutdown func()) *WebServer {

	router := gin.Default()

	mw := middleware.NewMiddlewareManager(kv, authModule)
	router.Use(mw.MutationDelay())

	api.RegisterStatusRoutes(router, kv, sched, shutdown, mw)
	api.RegisterAuthRoutes(router, kv, authModule, hist, mw)
	api.RegisterSettingsRoutes(router, kv, hist, netatmo, tapo, mw)
	api.RegisterAutomationRoutes(router, kv, hist, plugs, mw)
	api.RegisterActionRoutes(router, executor, mw)
	api.RegisterOverviewRoutes(router, kv, mw)
	api.RegisterDataRoutes(router, kv, netatmo, mw)
	api.RegisterHistoryRoutes(router, hist, mw)
	api.RegisterPictureRoutes(router, cam, hist, mw)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &WebServer{router: router}
}

func (ws *WebServer) Start(addr string) error {
	return ws.router.Run(addr)
}
