package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/apperrors"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeError renders application errors with their status; anything else is a 500
func writeError(c *gin.Context, err error) {
	if appErr, ok := apperrors.As(err); ok {
		c.JSON(appErr.StatusCode, ErrorResponse{
			Error:   string(appErr.Kind),
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}

	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Unhandled error")
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "INTERNAL_ERROR",
		Message: "Internal server error",
	})
}
