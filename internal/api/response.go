package api

import (
	"errors"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

func NewSuccessResponse(data any) *Response {
	return &Response{Success: true, Data: data}
}

type ErrorBody struct {
	Code          message.Code `json:"code"`
	Message       string       `json:"message"`
	Details       any          `json:"details,omitempty"`
	CorrelationID string       `json:"correlationId"`
	Timestamp     time.Time    `json:"timestamp"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// respondError aborts the request with the error rendered for clients. Errors that
// are not *message.Error are reported as INTERNAL_ERROR without their text.
func respondError(c *gin.Context, err error) {
	body := ErrorBody{
		Code:          message.CodeInternal,
		Message:       "Internal server error",
		CorrelationID: correlationID(c),
		Timestamp:     time.Now().UTC(),
	}

	var msgErr *message.Error
	if errors.As(err, &msgErr) {
		body.Code = msgErr.Code
		body.Message = msgErr.Message
		body.Details = msgErr.Details
	}

	status := message.HTTPStatus(err)

	fields := []zap.Field{
		zap.String("correlation_id", body.CorrelationID),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.String("error", err.Error()),
	}

	if status >= http.StatusInternalServerError {
		logging.Logger.Error("Request failed", fields...)
	} else {
		logging.Logger.Warn("Request rejected", fields...)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: body})
}
