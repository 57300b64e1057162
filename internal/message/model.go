package message

import (
	"strings"
	"time"
)

type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
)

var Channels = []Channel{ChannelSMS, ChannelEmail}

func ParseChannel(s string) (Channel, error) {
	channel := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !channel.Valid() {
		return "", New(CodeInvalidChannel, "invalid channel: "+s, nil)
	}

	return channel, nil
}

func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelEmail
}

const (
	StatusSent   = "SENT"
	StatusFailed = "FAILED"
)

// Request is a single delivery request. ReplayAttempt is zero for a fresh request
// and n for the n-th replay out of the dead-letter store.
type Request struct {
	ProductCode   string         `json:"productCode"             validate:"required"`
	Channel       Channel        `json:"channel"                 validate:"required"`
	TemplateCode  string         `json:"templateCode"            validate:"required"`
	Recipient     string         `json:"recipient"               validate:"required"`
	Variables     map[string]any `json:"variables"`
	CorrelationID string         `json:"correlationId"`
	ReplayAttempt int            `json:"replayAttempt,omitempty"`
	FirstQueuedAt *time.Time     `json:"firstQueuedAt,omitempty"`
}

type Result struct {
	Success       bool   `json:"success"`
	Provider      string `json:"provider"`
	MessageID     string `json:"messageId"`
	CorrelationID string `json:"correlationId"`
}

type ProviderError struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}
