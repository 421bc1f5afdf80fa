package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the JSON envelope of a successful request.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// SendSuccess answers 200 OK with data inside the envelope.
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}
