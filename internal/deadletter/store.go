package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	prometheusHerald "git.mci.dev/mse/sre/phoenix/golang/herald/internal/prometheus"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const Key = "herald:dlq"

const (
	replayClaimPrefix = "herald:dlq:replaying:"
	replayClaimTTL    = time.Minute
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Record is a decoded entry together with its raw list value, which LREM needs verbatim.
type Record struct {
	Entry Entry
	raw   string
}

// Store is the live dead-letter list, newest entry first.
type Store struct {
	Client         *redis.Client
	AlertThreshold int64
}

func NewStore(client *redis.Client) *Store {
	return &Store{Client: client, AlertThreshold: int64(config.Conf.DLQAlertThreshold)}
}

func (s *Store) Enqueue(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	size, err := s.Client.LPush(ctx, Key, data).Result()
	if err != nil {
		return err
	}

	prometheusHerald.DLQSize.Set(float64(size))

	logging.Logger.Warn("Message added to dead letter queue",
		zap.String("correlation_id", entry.CorrelationID),
		zap.String("channel", string(entry.Channel)),
		zap.String("product_code", entry.ProductCode),
		zap.Int64("dlq_size", size),
	)

	if s.AlertThreshold > 0 && size > s.AlertThreshold {
		logging.Logger.Error("DLQ threshold exceeded",
			zap.Int64("dlq_size", size),
			zap.Int64("threshold", s.AlertThreshold),
		)
	}

	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	size, err := s.Client.LLen(ctx, Key).Result()
	if err != nil {
		return 0, err
	}

	prometheusHerald.DLQSize.Set(float64(size))

	return size, nil
}

// All decodes every live entry, newest first. Undecodable values are skipped.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	records, err := s.load(ctx, 0, -1)
	if err != nil {
		return nil, err
	}

	return entries(records), nil
}

// Head decodes at most limit entries from the newest end of the list.
func (s *Store) Head(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	records, err := s.load(ctx, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}

	return entries(records), nil
}

// List filters the whole list, then pages the matches.
func (s *Store) List(ctx context.Context, filter Filter, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)

	all, err := s.All(ctx)
	if err != nil {
		return Page{}, err
	}

	matched := make([]Entry, 0, len(all))

	for _, e := range all {
		if filter.Match(e) {
			matched = append(matched, e)
		}
	}

	page := Page{Entries: []Entry{}, Total: len(matched), Limit: limit, Offset: offset}

	if offset < len(matched) {
		end := min(offset+limit, len(matched))
		page.Entries = matched[offset:end]
	}

	page.HasMore = offset+limit < len(matched)

	return page, nil
}

// Get returns the newest live entry for the correlation id.
func (s *Store) Get(ctx context.Context, correlationID string) (*Entry, error) {
	record, err := s.find(ctx, correlationID)
	if err != nil {
		return nil, err
	}

	return &record.Entry, nil
}

func (s *Store) Delete(ctx context.Context, correlationID string) (bool, error) {
	record, err := s.find(ctx, correlationID)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			return false, nil
		}

		return false, err
	}

	removed, err := s.remove(ctx, record.raw)
	if err != nil {
		return false, err
	}

	if removed {
		logging.Logger.Info("Message deleted from DLQ", zap.String("correlation_id", correlationID))
	}

	return removed, nil
}

// Clear drops the whole list and returns how many entries it held.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	var count *redis.IntCmd

	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.LLen(ctx, Key)
		pipe.Del(ctx, Key)

		return nil
	})
	if err != nil {
		return 0, err
	}

	prometheusHerald.DLQSize.Set(0)

	logging.Logger.Info("DLQ cleared", zap.Int64("count", count.Val()))

	return count.Val(), nil
}

func (s *Store) find(ctx context.Context, correlationID string) (*Record, error) {
	records, err := s.load(ctx, 0, -1)
	if err != nil {
		return nil, err
	}

	for i := range records {
		if records[i].Entry.CorrelationID == correlationID {
			return &records[i], nil
		}
	}

	return nil, message.New(message.CodeNotFound, fmt.Sprintf("message %s not found in DLQ", correlationID), nil)
}

// claim marks correlationID as being replayed. It reports false when another
// replay, in this process or another, holds the claim.
func (s *Store) claim(ctx context.Context, correlationID string) (bool, error) {
	return s.Client.SetNX(ctx, replayClaimPrefix+correlationID, 1, replayClaimTTL).Result()
}

func (s *Store) release(ctx context.Context, correlationID string) {
	err := s.Client.Del(context.WithoutCancel(ctx), replayClaimPrefix+correlationID).Err()
	if err != nil {
		logging.Logger.Warn("Failed to release replay claim",
			zap.String("correlation_id", correlationID),
			zap.String("error", err.Error()),
		)
	}
}

// Records returns every live entry with its raw value, newest first.
func (s *Store) Records(ctx context.Context) ([]Record, error) {
	return s.load(ctx, 0, -1)
}

// Remove deletes exactly the stored value of r; it reports false when r is already gone.
func (s *Store) Remove(ctx context.Context, r Record) (bool, error) {
	return s.remove(ctx, r.raw)
}

func (s *Store) remove(ctx context.Context, raw string) (bool, error) {
	removed, err := s.Client.LRem(ctx, Key, 1, raw).Result()
	if err != nil {
		return false, err
	}

	size, err := s.Client.LLen(ctx, Key).Result()
	if err == nil {
		prometheusHerald.DLQSize.Set(float64(size))
	}

	return removed > 0, nil
}

func (s *Store) load(ctx context.Context, start, stop int64) ([]Record, error) {
	values, err := s.Client.LRange(ctx, Key, start, stop).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(values))

	for _, raw := range values {
		var e Entry

		err := json.Unmarshal([]byte(raw), &e)
		if err != nil {
			logging.Logger.Error("Failed to parse DLQ message", zap.String("error", err.Error()))
			continue
		}

		records = append(records, Record{Entry: e, raw: raw})
	}

	return records, nil
}

func entries(records []Record) []Entry {
	out := make([]Entry, len(records))
	for i, r := range records {
		out[i] = r.Entry
	}

	return out
}
