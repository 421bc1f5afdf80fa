package api

import (
	"github.com/afumu/barlens/web/transport"
	"github.com/gin-gonic/gin"
)

// Restart drops the current game session; the worker builds a fresh one
// on its next tick.
func (a *API) Restart(c *gin.Context) {
	a.Worker.RequestRestart()
	transport.SendSuccess(c, gin.H{"status": "restart_requested"})
}

// Shutdown stops the worker without waiting for it to finish.
func (a *API) Shutdown(c *gin.Context) {
	a.Worker.Shutdown()
	transport.SendSuccess(c, gin.H{"status": "shutting_down"})
}
