package message

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeMissingVariables   Code = "MISSING_VARIABLES"
	CodeInvalidChannel     Code = "INVALID_CHANNEL"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeProductNotFound    Code = "PRODUCT_NOT_FOUND"
	CodeTemplateNotFound   Code = "TEMPLATE_NOT_FOUND"
	CodeNotFound           Code = "NOT_FOUND"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeAllProvidersFailed Code = "ALL_PROVIDERS_FAILED"
	CodeProviderTimeout    Code = "PROVIDER_TIMEOUT"
	CodeProviderError      Code = "PROVIDER_ERROR"
	CodeCircuitOpen        Code = "CIRCUIT_OPEN"
	CodePipelineUnhealthy  Code = "PIPELINE_UNHEALTHY"
	CodeDeliveryAborted    Code = "DELIVERY_ABORTED"
	CodeReplayInProgress   Code = "REPLAY_IN_PROGRESS"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeMissingVariables:   http.StatusBadRequest,
	CodeInvalidChannel:     http.StatusBadRequest,
	CodeValidation:         http.StatusBadRequest,
	CodeProductNotFound:    http.StatusNotFound,
	CodeTemplateNotFound:   http.StatusNotFound,
	CodeNotFound:           http.StatusNotFound,
	CodeRateLimitExceeded:  http.StatusTooManyRequests,
	CodeAllProvidersFailed: http.StatusServiceUnavailable,
	CodeProviderTimeout:    http.StatusGatewayTimeout,
	CodeDeliveryAborted:    http.StatusServiceUnavailable,
	CodeReplayInProgress:   http.StatusConflict,
	CodeUnauthorized:       http.StatusUnauthorized,
}

// Sentinels for errors.Is; any *Error with the same code matches.
var (
	ErrMissingVariables   = &Error{Code: CodeMissingVariables}
	ErrInvalidChannel     = &Error{Code: CodeInvalidChannel}
	ErrProductNotFound    = &Error{Code: CodeProductNotFound}
	ErrTemplateNotFound   = &Error{Code: CodeTemplateNotFound}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrRateLimitExceeded  = &Error{Code: CodeRateLimitExceeded}
	ErrAllProvidersFailed = &Error{Code: CodeAllProvidersFailed}
	ErrCircuitOpen        = &Error{Code: CodeCircuitOpen}
	ErrDeliveryAborted    = &Error{Code: CodeDeliveryAborted}
	ErrReplayInProgress   = &Error{Code: CodeReplayInProgress}
)

type Error struct {
	Code    Code
	Message string
	Details any
}

func New(code Code, msg string, details any) *Error {
	return &Error{Code: code, Message: msg, Details: details}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}

	return string(e.Code) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Code == e.Code
}

func (e *Error) HTTPStatus() int {
	status, ok := statusByCode[e.Code]
	if !ok {
		return http.StatusInternalServerError
	}

	return status
}

// HTTPStatus maps any error to its response status; unknown errors are server errors.
func HTTPStatus(err error) int {
	var msgErr *Error
	if errors.As(err, &msgErr) {
		return msgErr.HTTPStatus()
	}

	return http.StatusInternalServerError
}
