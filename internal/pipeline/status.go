package pipeline

import (
	"context"
	"strings"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
)

const defaultBreakerState = "CLOSED"

type Status struct {
	Provider      string     `json:"provider"`
	Priority      int        `json:"priority"`
	Operational   bool       `json:"isOperational"`
	BreakerState  string     `json:"circuitBreaker"`
	Balance       *float64   `json:"balance,omitempty"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
}

// Report returns the status of every active pipeline keyed by lower-case channel.
func (s *Store) Report(ctx context.Context, c *catalog.Catalog) (map[string][]Status, error) {
	report := make(map[string][]Status, len(message.Channels))

	for _, channel := range message.Channels {
		pipelines, err := c.Pipelines(channel)
		if err != nil {
			report[strings.ToLower(string(channel))] = []Status{}
			continue
		}

		statuses := make([]Status, 0, len(pipelines))

		for _, p := range pipelines {
			status, err := s.pipelineStatus(ctx, channel, p)
			if err != nil {
				return nil, err
			}

			statuses = append(statuses, status)
		}

		report[strings.ToLower(string(channel))] = statuses
	}

	return report, nil
}

func (s *Store) pipelineStatus(ctx context.Context, channel message.Channel, p catalog.Pipeline) (Status, error) {
	operational, err := s.IsOperational(ctx, channel, p.Provider)
	if err != nil {
		return Status{}, err
	}

	breaker, err := s.BreakerState(ctx, channel, p.Provider)
	if err != nil {
		return Status{}, err
	}

	if breaker == "" {
		breaker = defaultBreakerState
	}

	status := Status{
		Provider:     p.Provider,
		Priority:     p.Priority,
		Operational:  operational,
		BreakerState: breaker,
	}

	if channel == message.ChannelSMS {
		status.Balance, err = s.SMSBalance(ctx, p.Provider)
		if err != nil {
			return Status{}, err
		}

		status.LastCheckedAt, err = s.LastBalanceCheck(ctx, p.Provider)
		if err != nil {
			return Status{}, err
		}
	}

	return status, nil
}
