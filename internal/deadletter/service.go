package deadletter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/archive"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"go.uber.org/zap"
)

const (
	SourceDLQ     = "dlq"
	SourceArchive = "archive"

	analyticsArchiveDays = 30
	unknownErrorCategory = "Unknown"
)

// Publisher enqueues a delivery request on the work queue and returns its job id.
type Publisher interface {
	Publish(ctx context.Context, req message.Request) (string, error)
}

type ArchiveReader interface {
	FindByCorrelationID(ctx context.Context, correlationID string) (*archive.ArchivedMessage, error)
	Statistics(ctx context.Context, since time.Time) ([]archive.Statistic, error)
}

type DeadLetterService struct {
	Store     *Store
	Publisher Publisher
	Archive   ArchiveReader
	Now       func() time.Time
}

func NewService(store *Store, publisher Publisher, archiveReader ArchiveReader) *DeadLetterService {
	return &DeadLetterService{
		Store:     store,
		Publisher: publisher,
		Archive:   archiveReader,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Replay re-publishes the entry with its retry count advanced, then removes it from
// the live list. A failed publish leaves the entry in place. Only one replay of a
// correlation id runs at a time; a concurrent one gets REPLAY_IN_PROGRESS.
func (dlService *DeadLetterService) Replay(ctx context.Context, correlationID string) (ReplayResult, error) {
	claimed, err := dlService.Store.claim(ctx, correlationID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("claim replay: %w", err)
	}

	if !claimed {
		return ReplayResult{}, message.New(
			message.CodeReplayInProgress,
			fmt.Sprintf("message %s is already being replayed", correlationID),
			nil,
		)
	}
	defer dlService.Store.release(ctx, correlationID)

	record, err := dlService.Store.find(ctx, correlationID)
	if err != nil {
		return ReplayResult{}, err
	}

	jobID, err := dlService.Publisher.Publish(ctx, record.Entry.Request())
	if err != nil {
		logging.Logger.Error("Error replaying message",
			zap.String("correlation_id", correlationID),
			zap.String("error", err.Error()),
		)

		return ReplayResult{}, fmt.Errorf("publish replay: %w", err)
	}

	_, err = dlService.Store.remove(ctx, record.raw)
	if err != nil {
		// The job is already queued; a leftover entry is replayed again at worst.
		logging.Logger.Error("Failed to remove replayed message from DLQ",
			zap.String("correlation_id", correlationID),
			zap.String("job_id", jobID),
			zap.String("error", err.Error()),
		)
	}

	logging.Logger.Info("Message replayed",
		zap.String("correlation_id", correlationID),
		zap.String("job_id", jobID),
		zap.Int("replay_attempt", record.Entry.RetryAttempts+1),
	)

	return ReplayResult{CorrelationID: correlationID, Success: true, JobID: jobID}, nil
}

type BatchResult struct {
	Replayed int            `json:"replayed"`
	Failed   int            `json:"failed"`
	Details  []ReplayResult `json:"details"`
}

// ReplayBatch replays every matching entry in turn; a failure never stops the batch.
func (dlService *DeadLetterService) ReplayBatch(ctx context.Context, filter Filter) (BatchResult, error) {
	all, err := dlService.Store.All(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Details: []ReplayResult{}}

	for _, e := range all {
		if !filter.Match(e) {
			continue
		}

		replayed, err := dlService.Replay(ctx, e.CorrelationID)
		if err != nil {
			result.Failed++
			result.Details = append(result.Details, ReplayResult{CorrelationID: e.CorrelationID, Error: err.Error()})

			continue
		}

		result.Replayed++
		result.Details = append(result.Details, replayed)
	}

	logging.Logger.Info("Batch replay completed",
		zap.Int("replayed", result.Replayed),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

type CurrentStats struct {
	Total         int            `json:"total"`
	ByChannel     map[string]int `json:"byChannel"`
	ByProductCode map[string]int `json:"byProductCode"`
	ByError       map[string]int `json:"byError"`
}

type Summary struct {
	OldestMessage *time.Time `json:"oldestMessage"`
	NewestMessage *time.Time `json:"newestMessage"`
}

type Analytics struct {
	Current  CurrentStats        `json:"current"`
	Archived []archive.Statistic `json:"archived"`
	Summary  Summary             `json:"summary"`
}

func (dlService *DeadLetterService) Analytics(ctx context.Context) (Analytics, error) {
	all, err := dlService.Store.All(ctx)
	if err != nil {
		return Analytics{}, err
	}

	analytics := Analytics{
		Current: CurrentStats{
			Total:         len(all),
			ByChannel:     map[string]int{},
			ByProductCode: map[string]int{},
			ByError:       map[string]int{},
		},
		Archived: []archive.Statistic{},
	}

	for _, e := range all {
		analytics.Current.ByChannel[string(e.Channel)]++
		analytics.Current.ByProductCode[e.ProductCode]++
		analytics.Current.ByError[ErrorCategory(e.LastError())]++

		queuedAt := e.FirstQueuedAt
		if analytics.Summary.OldestMessage == nil || queuedAt.Before(*analytics.Summary.OldestMessage) {
			analytics.Summary.OldestMessage = &queuedAt
		}

		if analytics.Summary.NewestMessage == nil || queuedAt.After(*analytics.Summary.NewestMessage) {
			analytics.Summary.NewestMessage = &queuedAt
		}
	}

	since := dlService.Now().Add(-analyticsArchiveDays * 24 * time.Hour)

	stats, err := dlService.Archive.Statistics(ctx, since)
	if err != nil {
		logging.Logger.Error("Failed to load archive statistics", zap.String("error", err.Error()))
	} else if stats != nil {
		analytics.Archived = stats
	}

	return analytics, nil
}

// ErrorCategory is the text before the first ':' of an error, or Unknown when empty.
func ErrorCategory(errText string) string {
	category, _, _ := strings.Cut(errText, ":")

	category = strings.TrimSpace(category)
	if category == "" {
		return unknownErrorCategory
	}

	return category
}

type LookupResult struct {
	Source   string                   `json:"source"`
	Entry    *Entry                   `json:"entry,omitempty"`
	Archived *archive.ArchivedMessage `json:"archived,omitempty"`
}

// Lookup finds a message in the live list, then in the archive.
func (dlService *DeadLetterService) Lookup(ctx context.Context, correlationID string) (LookupResult, error) {
	entry, err := dlService.Store.Get(ctx, correlationID)
	if err == nil {
		return LookupResult{Source: SourceDLQ, Entry: entry}, nil
	}

	if !errors.Is(err, message.ErrNotFound) {
		return LookupResult{}, err
	}

	archived, err := dlService.Archive.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return LookupResult{}, err
	}

	if archived == nil {
		return LookupResult{}, message.New(message.CodeNotFound, fmt.Sprintf("message %s not found", correlationID), nil)
	}

	return LookupResult{Source: SourceArchive, Archived: archived}, nil
}

type Health struct {
	Healthy   bool      `json:"healthy"`
	Count     int64     `json:"dlqCount"`
	Threshold int64     `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

func (dlService *DeadLetterService) Health(ctx context.Context) (Health, error) {
	count, err := dlService.Store.Count(ctx)
	if err != nil {
		return Health{}, err
	}

	return Health{
		Healthy:   dlService.Store.AlertThreshold <= 0 || count < dlService.Store.AlertThreshold,
		Count:     count,
		Threshold: dlService.Store.AlertThreshold,
		Timestamp: dlService.Now(),
	}, nil
}
