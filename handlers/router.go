package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mabletask/agent/logger"
	"mabletask/agent/middleware"
	"mabletask/agent/utils"
)

// RouterConfig wires the bridge routes.
type RouterConfig struct {
	Pages      *PageHandlers
	Stats      *StatsHandlers // nil disables /api/stats
	Auth       middleware.Authenticator
	Tokens     *utils.PageTokens
	CORSOrigin string
	Metrics    http.Handler // nil disables /metrics
	Log        logger.Logger
}

// NewRouter builds the bridge engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(middleware.CORSMiddleware(cfg.CORSOrigin))

	r.GET("/health", Health(cfg.Pages))
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api := r.Group("/api")
	{
		api.POST("/pages", middleware.InstallationAuth(cfg.Auth, cfg.Log), cfg.Pages.Open)

		page := api.Group("/pages/:id")
		page.Use(middleware.PageTokenAuth(cfg.Tokens, cfg.Log))
		{
			page.POST("/snapshot", cfg.Pages.Snapshot)
			page.POST("/events", cfg.Pages.Events)
			page.POST("/track", cfg.Pages.Track)
			page.DELETE("", cfg.Pages.Close)
		}

		if cfg.Stats != nil {
			stats := api.Group("/stats")
			stats.Use(middleware.InstallationAuth(cfg.Auth, cfg.Log))
			{
				stats.GET("/event-counts", cfg.Stats.GetEventCountsOverTime)
				stats.GET("/top-paths", cfg.Stats.GetTopPagePaths)
			}
		}
	}
	return r
}
