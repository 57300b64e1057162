package deadletter

import (
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
)

// MaxRetryAttempts caps Entry.RetryAttempts; entries at the cap are never auto-retried.
const MaxRetryAttempts = 3

// Entry is a delivery request that exhausted every pipeline.
type Entry struct {
	CorrelationID string                  `json:"correlationId"`
	ProductCode   string                  `json:"productCode"`
	Channel       message.Channel         `json:"channel"`
	TemplateCode  string                  `json:"templateCode"`
	Recipient     string                  `json:"recipient"`
	Variables     map[string]any          `json:"variables"`
	Errors        []message.ProviderError `json:"errors"`
	FirstQueuedAt time.Time               `json:"firstQueuedAt"`
	LastFailedAt  time.Time               `json:"lastFailedAt"`
	RetryAttempts int                     `json:"retryAttempts"`
}

// LastError is the error text of the final pipeline tried, or "" when none was recorded.
func (e Entry) LastError() string {
	if len(e.Errors) == 0 {
		return ""
	}

	return e.Errors[len(e.Errors)-1].Error
}

// Request rebuilds the delivery request for a replay.
func (e Entry) Request() message.Request {
	firstQueuedAt := e.FirstQueuedAt

	return message.Request{
		ProductCode:   e.ProductCode,
		Channel:       e.Channel,
		TemplateCode:  e.TemplateCode,
		Recipient:     e.Recipient,
		Variables:     e.Variables,
		CorrelationID: e.CorrelationID,
		ReplayAttempt: e.RetryAttempts + 1,
		FirstQueuedAt: &firstQueuedAt,
	}
}

type Filter struct {
	Channel     message.Channel `json:"channel,omitempty"`
	ProductCode string          `json:"productCode,omitempty"`
}

func (f Filter) Match(e Entry) bool {
	if f.Channel != "" && e.Channel != f.Channel {
		return false
	}

	if f.ProductCode != "" && e.ProductCode != f.ProductCode {
		return false
	}

	return true
}

type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"hasMore"`
}

type ReplayResult struct {
	CorrelationID string `json:"correlationId"`
	Success       bool   `json:"success"`
	JobID         string `json:"jobId,omitempty"`
	Error         string `json:"error,omitempty"`
}
