package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Service) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.api.GetStatus)
		v1.GET("/snapshot", s.api.GetSnapshot)
		v1.GET("/snapshot/stream", s.api.StreamSnapshots)
		v1.GET("/offsets", s.api.GetOffsets)

		v1.POST("/restart", s.api.Restart)
		v1.POST("/shutdown", s.api.Shutdown)

		history := v1.Group("/history")
		{
			history.GET("/snapshots", s.api.GetSnapshots)
			history.GET("/sessions", s.api.GetSessions)
			history.GET("/transitions", s.api.GetTransitions)
			history.GET("/export", s.api.ExportSnapshots)
		}

		auth := v1.Group("/auth")
		{
			auth.GET("/status", s.api.GetPasswordStatus)
			auth.POST("/verify", s.api.VerifyPassword)
		}

		v1.POST("/monitor/webhook/test", s.api.TestWebhook)
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
}
