package catalog

import (
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
)

const (
	ProductStatusActive   = "ACTIVE"
	ProductStatusInactive = "INACTIVE"
)

type Product struct {
	Code        string `mapstructure:"code"        json:"code"        validate:"required"`
	Name        string `mapstructure:"name"        json:"name"        validate:"required"`
	Description string `mapstructure:"description" json:"description"`
	Status      string `mapstructure:"status"      json:"status"      validate:"required,oneof=ACTIVE INACTIVE"`
	DailyLimit  int64  `mapstructure:"daily_limit" json:"dailyLimit"  validate:"gte=0"`
}

func (p Product) Active() bool {
	return p.Status == ProductStatusActive
}

// DLTTemplate is the registration of a template with a DLT-regulated SMS provider.
// Variables lists the request variables sent, in order, as the template values.
type DLTTemplate struct {
	MessageID string   `mapstructure:"message_id" json:"messageId" validate:"required"`
	SenderID  string   `mapstructure:"sender_id"  json:"senderId"  validate:"required"`
	Variables []string `mapstructure:"variables"  json:"variables"`
}

type Template struct {
	ProductCode string          `mapstructure:"product_code" json:"productCode" validate:"required"`
	Channel     message.Channel `mapstructure:"channel"      json:"channel"     validate:"required,oneof=SMS EMAIL"`
	Code        string          `mapstructure:"code"         json:"templateCode" validate:"required"`
	Subject     string          `mapstructure:"subject"      json:"subject,omitempty"`
	Body        string          `mapstructure:"body"         json:"body"        validate:"required"`
	Active      bool            `mapstructure:"active"       json:"active"`
	DLT         *DLTTemplate    `mapstructure:"dlt"          json:"dlt,omitempty" validate:"omitempty"`
}

type BreakerSpec struct {
	Threshold uint32        `mapstructure:"threshold" json:"threshold" validate:"gte=1"`
	Cooldown  time.Duration `mapstructure:"cooldown"  json:"cooldown"  validate:"gt=0"`
}

// RateLimitSpec bounds calls into one provider. Zero values mean unbounded.
type RateLimitSpec struct {
	MaxConcurrent int64         `mapstructure:"max_concurrent" json:"maxConcurrent" validate:"gte=0"`
	MinTime       time.Duration `mapstructure:"min_time"       json:"minTime"       validate:"gte=0"`
}

type Pipeline struct {
	Channel        message.Channel `mapstructure:"channel"         json:"channel"        validate:"required,oneof=SMS EMAIL"`
	Provider       string          `mapstructure:"provider"        json:"provider"       validate:"required"`
	Priority       int             `mapstructure:"priority"        json:"priority"       validate:"gte=0"`
	MaxRetries     uint            `mapstructure:"max_retries"     json:"maxRetries"     validate:"gte=1"`
	Timeout        time.Duration   `mapstructure:"timeout"         json:"timeout"        validate:"gt=0"`
	CircuitBreaker BreakerSpec     `mapstructure:"circuit_breaker" json:"circuitBreaker"`
	RateLimit      *RateLimitSpec  `mapstructure:"rate_limit"      json:"rateLimit,omitempty" validate:"omitempty"`
	Active         bool            `mapstructure:"active"          json:"active"`
}
