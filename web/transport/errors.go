package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON envelope of a failed request.
type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   APIError `json:"error"`
}

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SendError aborts the request with httpStatus and the error envelope.
func SendError(c *gin.Context, httpStatus int, message string) {
	c.AbortWithStatusJSON(httpStatus, ErrorResponse{
		Success: false,
		Error: APIError{
			Code:    httpStatus,
			Message: message,
		},
	})
}

func BadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	SendError(c, http.StatusUnauthorized, message)
}

func NotFound(c *gin.Context, message string) {
	SendError(c, http.StatusNotFound, message)
}

func InternalServerError(c *gin.Context, message string) {
	SendError(c, http.StatusInternalServerError, message)
}
