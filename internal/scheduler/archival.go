package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/archive"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/deadletter"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type LiveRecords interface {
	Records(ctx context.Context) ([]deadletter.Record, error)
	Remove(ctx context.Context, record deadletter.Record) (bool, error)
}

type ArchiveStore interface {
	Create(ctx context.Context, msg *archive.ArchivedMessage) error
	FindOlderThan(ctx context.Context, cutoff time.Time) ([]archive.ArchivedMessage, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Exporter interface {
	Export(ctx context.Context, day time.Time, messages []archive.ArchivedMessage) (string, error)
}

type ArchivalResult struct {
	Archived  int
	Failed    int
	Pruned    int64
	ExportURL string
}

// Archival moves old dead-letter entries into the archive and prunes expired rows.
// Rows are written before the live entry is removed, so a crash in between leaves a
// duplicate rather than losing the message.
type Archival struct {
	Live      LiveRecords
	Archive   ArchiveStore
	Exporter  Exporter
	Hour      int
	MaxAge    time.Duration
	Retention time.Duration
	Now       func() time.Time

	running atomic.Bool
}

// NewArchival wires the job from config; exporter may be nil to prune without export.
func NewArchival(live LiveRecords, store ArchiveStore, exporter Exporter) *Archival {
	return &Archival{
		Live:      live,
		Archive:   store,
		Exporter:  exporter,
		Hour:      config.Conf.ArchivalHourUTC,
		MaxAge:    time.Duration(config.Conf.ArchiveAgeHours) * time.Hour,
		Retention: time.Duration(config.Conf.ArchiveRetentionDays) * 24 * time.Hour,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (a *Archival) Run(ctx context.Context) {
	logging.Logger.Info("Archival job scheduled", zap.Int("hour_utc", a.Hour))

	runDaily(ctx, a.Hour, a.Now, func(ctx context.Context) {
		_, err := a.RunOnce(ctx)
		if err != nil {
			logging.Logger.Error("Archival job error", zap.String("error", err.Error()))
		}
	})
}

// RunOnce runs both steps. The prune still runs when archiving fails.
func (a *Archival) RunOnce(ctx context.Context) (ArchivalResult, error) {
	if !a.running.CompareAndSwap(false, true) {
		logging.Logger.Info("Archival already running, skipping")
		return ArchivalResult{}, nil
	}
	defer a.running.Store(false)

	logging.Logger.Info("Archival job started")

	var result ArchivalResult

	archived, failed, archiveErr := a.archiveOld(ctx)
	result.Archived, result.Failed = archived, failed

	pruned, url, pruneErr := a.prune(ctx)
	result.Pruned, result.ExportURL = pruned, url

	return result, errors.Join(archiveErr, pruneErr)
}

func (a *Archival) archiveOld(ctx context.Context) (int, int, error) {
	records, err := a.Live.Records(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load dead letter entries: %w", err)
	}

	now := a.Now()
	cutoff := now.Add(-a.MaxAge)

	var archived, failed int

	for _, record := range records {
		if !record.Entry.FirstQueuedAt.Before(cutoff) {
			continue
		}

		msg, err := ToArchived(record.Entry)
		if err == nil {
			err = a.Archive.Create(ctx, msg)
		}

		if err != nil {
			failed++

			logging.Logger.Error("Failed to archive message",
				zap.String("correlation_id", record.Entry.CorrelationID),
				zap.String("error", err.Error()),
			)

			continue
		}

		_, err = a.Live.Remove(ctx, record)
		if err != nil {
			logging.Logger.Error("Archived message left in DLQ",
				zap.String("correlation_id", record.Entry.CorrelationID),
				zap.String("error", err.Error()),
			)
		}

		archived++
	}

	logging.Logger.Info("Old messages archived",
		zap.Int("count", archived),
		zap.Int("failed", failed),
		zap.Duration("max_age", a.MaxAge),
	)

	return archived, failed, nil
}

func (a *Archival) prune(ctx context.Context) (int64, string, error) {
	cutoff := a.Now().Add(-a.Retention)

	var url string

	if a.Exporter != nil {
		expired, err := a.Archive.FindOlderThan(ctx, cutoff)
		if err != nil {
			return 0, "", fmt.Errorf("load expired archive rows: %w", err)
		}

		url, err = a.Exporter.Export(ctx, cutoff, expired)
		if err != nil {
			logging.Logger.Error("Archive export failed, skipping prune", zap.String("error", err.Error()))
			return 0, "", fmt.Errorf("export expired archive rows: %w", err)
		}
	}

	deleted, err := a.Archive.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, url, fmt.Errorf("prune archive: %w", err)
	}

	logging.Logger.Info("Old archives cleaned",
		zap.Int64("deleted", deleted),
		zap.Duration("retention", a.Retention),
		zap.String("export_url", url),
	)

	return deleted, url, nil
}

// ToArchived maps a live entry to its archive row. Entries that were never replayed
// count as one failure.
func ToArchived(entry deadletter.Entry) (*archive.ArchivedMessage, error) {
	variables, err := json.Marshal(entry.Variables)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}

	failureCount := 1
	if entry.RetryAttempts > 0 {
		failureCount = entry.RetryAttempts + 1
	}

	lastFailedAt := entry.LastFailedAt
	if lastFailedAt.IsZero() {
		lastFailedAt = entry.FirstQueuedAt
	}

	return &archive.ArchivedMessage{
		CorrelationID: entry.CorrelationID,
		ProductCode:   entry.ProductCode,
		Channel:       string(entry.Channel),
		TemplateCode:  entry.TemplateCode,
		Recipient:     entry.Recipient,
		Variables:     variables,
		ErrorMessage:  entry.LastError(),
		FailureCount:  failureCount,
		FirstFailedAt: entry.FirstQueuedAt,
		LastFailedAt:  lastFailedAt,
	}, nil
}
