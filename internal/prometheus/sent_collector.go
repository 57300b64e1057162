package prometheus

import (
	"context"
	"strings"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SentCounterPrefix prefixes the shared per-outcome counters written by every worker.
const SentCounterPrefix = "metrics:messages_sent:"

const collectTimeout = 5 * time.Second

// SentCounterKey builds metrics:messages_sent:{channel}:{provider}:{status}.
func SentCounterKey(channel, provider, status string) string {
	return SentCounterPrefix + channel + ":" + provider + ":" + status
}

// SentCollector exposes the redis sent counters so the totals survive worker restarts
// and aggregate across worker processes.
type SentCollector struct {
	client *redis.Client
	desc   *prometheus.Desc
}

func NewSentCollector(client *redis.Client) *SentCollector {
	return &SentCollector{
		client: client,
		desc: prometheus.NewDesc(
			namespace+"_messages_sent_total",
			"Total number of messages sent",
			[]string{"channel", "provider", "status"},
			nil,
		),
	}
}

func (c *SentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *SentCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	iter := c.client.Scan(ctx, 0, SentCounterPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		parts := strings.Split(strings.TrimPrefix(key, SentCounterPrefix), ":")
		if len(parts) != 3 {
			continue
		}

		value, err := c.client.Get(ctx, key).Float64()
		if err != nil {
			continue
		}

		metric, err := prometheus.NewConstMetric(c.desc, prometheus.CounterValue, value, parts[0], parts[1], parts[2])
		if err != nil {
			continue
		}

		ch <- metric
	}

	err := iter.Err()
	if err != nil {
		logging.Logger.Warn("failed to collect sent counters", zap.String("error", err.Error()))
	}
}
