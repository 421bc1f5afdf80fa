package api

import (
	"net/http"

	"github.com/afumu/barlens/internal/monitor"
	"github.com/afumu/barlens/web/transport"
	"github.com/gin-gonic/gin"
)

// TestWebhook posts a test event to the configured webhook, or to the
// url in the request body when one is given.
func (a *API) TestWebhook(c *gin.Context) {
	var req struct {
		URL string `json:"url"`
	}
	_ = c.ShouldBindJSON(&req)
	url := req.URL
	if url == "" {
		url = a.Conf.WebhookURL
	}
	if url == "" {
		transport.BadRequest(c, "no webhook url configured")
		return
	}

	code, err := monitor.TestWebhookURL(c.Request.Context(), url)
	if err != nil {
		transport.SendError(c, http.StatusBadGateway, err.Error())
		return
	}
	transport.SendSuccess(c, gin.H{"status_code": code})
}
