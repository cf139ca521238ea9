package handler

import (
	"net/http"
	"strings"

	"arcadepay/internal/monitoring"
	"arcadepay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	// StaticDir is served for every path that matches no route. Empty disables it.
	StaticDir string
}

func SetupRouter(h *Handler, metrics *monitoring.Metrics, cfg RouterConfig, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())
	if metrics != nil {
		r.Use(metrics.Middleware())
		r.GET("/metrics", metrics.Handler())
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		cards := api.Group("/cards")
		{
			cards.GET("", h.ListCards)
			cards.POST("", h.CreateCard)
			cards.GET("/:id", h.GetCard)
			cards.DELETE("/:id", h.DeleteCard)
			cards.GET("/:id/transactions", h.ListTransactions)
			cards.POST("/:id/recharge", h.Recharge)
			cards.POST("/:id/play", h.Play)
		}

		api.GET("/games", h.ListGames)
		api.POST("/reset-all", h.ResetAll)
	}

	var static http.Handler
	if cfg.StaticDir != "" {
		static = http.FileServer(http.Dir(cfg.StaticDir))
	}
	r.NoRoute(func(c *gin.Context) {
		if static == nil || strings.HasPrefix(c.Request.URL.Path, "/api/") || c.Request.Method != http.MethodGet {
			response.Error(c, http.StatusNotFound, response.CodeRouteNotFound, "route not found")
			return
		}
		static.ServeHTTP(c.Writer, c.Request)
	})

	return r
}
