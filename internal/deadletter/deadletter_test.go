package deadletter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/archive"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	published []message.Request
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, req message.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	f.published = append(f.published, req)

	return fmt.Sprintf("%s-%d", req.CorrelationID, len(f.published)), nil
}

type fakeArchive struct {
	messages map[string]*archive.ArchivedMessage
	stats    []archive.Statistic
	since    time.Time
}

func (f *fakeArchive) FindByCorrelationID(_ context.Context, correlationID string) (*archive.ArchivedMessage, error) {
	return f.messages[correlationID], nil
}

func (f *fakeArchive) Statistics(_ context.Context, since time.Time) ([]archive.Statistic, error) {
	f.since = since

	return f.stats, nil
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*DeadLetterService, *fakePublisher, *fakeArchive, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	publisher := &fakePublisher{}
	archived := &fakeArchive{messages: map[string]*archive.ArchivedMessage{}}

	svc := NewService(&Store{Client: client, AlertThreshold: 100}, publisher, archived)
	svc.Now = func() time.Time { return now }

	return svc, publisher, archived, mr
}

func entry(id string, channel message.Channel, product string, retries int, lastErr string) Entry {
	return Entry{
		CorrelationID: id,
		ProductCode:   product,
		Channel:       channel,
		TemplateCode:  "T",
		Recipient:     "r",
		Variables:     map[string]any{"otp": "1234"},
		Errors:        []message.ProviderError{{Provider: "P", Error: lastErr}},
		FirstQueuedAt: now.Add(-time.Duration(retries+1) * time.Hour),
		LastFailedAt:  now,
		RetryAttempts: retries,
	}
}

func seed(t *testing.T, s *Store, entries ...Entry) {
	t.Helper()

	for _, e := range entries {
		require.NoError(t, s.Enqueue(context.Background(), e))
	}
}

func TestStoreListFiltersAndPages(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	seed(t, svc.Store,
		entry("a", message.ChannelSMS, "HAPPIDOST", 0, "PROVIDER_ERROR: x"),
		entry("b", message.ChannelEmail, "HAPPIDOST", 0, "PROVIDER_ERROR: x"),
		entry("c", message.ChannelSMS, "OTHER", 0, "PROVIDER_ERROR: x"),
		entry("d", message.ChannelSMS, "HAPPIDOST", 0, "PROVIDER_ERROR: x"),
	)

	page, err := svc.Store.List(ctx, Filter{Channel: message.ChannelSMS}, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.True(t, page.HasMore)
	require.Equal(t, "d", page.Entries[0].CorrelationID)
	require.Equal(t, "c", page.Entries[1].CorrelationID)

	page, err = svc.Store.List(ctx, Filter{Channel: message.ChannelSMS, ProductCode: "HAPPIDOST"}, 10, 1)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.False(t, page.HasMore)
	require.Len(t, page.Entries, 1)
	require.Equal(t, "a", page.Entries[0].CorrelationID)

	page, err = svc.Store.List(ctx, Filter{}, 10, 50)
	require.NoError(t, err)
	require.Empty(t, page.Entries)
	require.Equal(t, 4, page.Total)
}

func TestStoreGetDeleteClear(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	seed(t, svc.Store,
		entry("a", message.ChannelSMS, "HAPPIDOST", 0, "x"),
		entry("b", message.ChannelSMS, "HAPPIDOST", 0, "x"),
	)

	got, err := svc.Store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "a", got.CorrelationID)

	_, err = svc.Store.Get(ctx, "zzz")
	require.ErrorIs(t, err, message.ErrNotFound)

	deleted, err := svc.Store.Delete(ctx, "a")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = svc.Store.Delete(ctx, "a")
	require.NoError(t, err)
	require.False(t, deleted)

	cleared, err := svc.Store.Clear(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), cleared)

	count, err := svc.Store.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestStoreSkipsCorruptValues(t *testing.T) {
	svc, _, _, mr := newService(t)

	seed(t, svc.Store, entry("a", message.ChannelSMS, "HAPPIDOST", 0, "x"))
	_, err := mr.Lpush(Key, "{not json")
	require.NoError(t, err)

	all, err := svc.Store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestReplayAdvancesAttemptAndRemovesEntry(t *testing.T) {
	svc, publisher, _, _ := newService(t)
	ctx := context.Background()

	e := entry("a", message.ChannelSMS, "HAPPIDOST", 1, "x")
	seed(t, svc.Store, e)

	result, err := svc.Replay(ctx, "a")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "a-1", result.JobID)

	require.Len(t, publisher.published, 1)
	req := publisher.published[0]
	require.Equal(t, 2, req.ReplayAttempt)
	require.NotNil(t, req.FirstQueuedAt)
	require.True(t, e.FirstQueuedAt.Equal(*req.FirstQueuedAt))
	require.Equal(t, e.Variables, req.Variables)

	count, err := svc.Store.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestReplayMissingHasNoSideEffect(t *testing.T) {
	svc, publisher, _, _ := newService(t)
	seed(t, svc.Store, entry("a", message.ChannelSMS, "HAPPIDOST", 0, "x"))

	_, err := svc.Replay(context.Background(), "missing")
	require.ErrorIs(t, err, message.ErrNotFound)
	require.Empty(t, publisher.published)

	count, err := svc.Store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestReplayPublishFailureKeepsEntry(t *testing.T) {
	svc, publisher, _, _ := newService(t)
	publisher.err = errors.New("broker down")
	seed(t, svc.Store, entry("a", message.ChannelSMS, "HAPPIDOST", 0, "x"))

	_, err := svc.Replay(context.Background(), "a")
	require.ErrorContains(t, err, "broker down")

	_, err = svc.Store.Get(context.Background(), "a")
	require.NoError(t, err)
}

func TestReplaySkipsClaimedEntry(t *testing.T) {
	svc, publisher, _, mr := newService(t)
	seed(t, svc.Store, entry("a", message.ChannelSMS, "HAPPIDOST", 0, "x"))
	require.NoError(t, mr.Set(replayClaimPrefix+"a", "1"))

	_, err := svc.Replay(context.Background(), "a")
	require.ErrorIs(t, err, message.ErrReplayInProgress)
	require.Equal(t, 409, message.HTTPStatus(err))
	require.Empty(t, publisher.published)

	_, err = svc.Store.Get(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, mr.Exists(replayClaimPrefix+"a"))
}

func TestReplayReleasesClaim(t *testing.T) {
	svc, publisher, _, mr := newService(t)
	seed(t, svc.Store, entry("a", message.ChannelSMS, "HAPPIDOST", 0, "x"))
	publisher.err = errors.New("broker down")

	_, err := svc.Replay(context.Background(), "a")
	require.Error(t, err)
	require.False(t, mr.Exists(replayClaimPrefix+"a"))

	publisher.err = nil

	_, err = svc.Replay(context.Background(), "a")
	require.NoError(t, err)
	require.False(t, mr.Exists(replayClaimPrefix+"a"))
	require.Len(t, publisher.published, 1)
}

func TestReplayBatchFiltersAndContinues(t *testing.T) {
	svc, publisher, _, _ := newService(t)

	seed(t, svc.Store,
		entry("a", message.ChannelSMS, "HAPPIDOST", 0, "x"),
		entry("b", message.ChannelEmail, "HAPPIDOST", 0, "x"),
		entry("c", message.ChannelSMS, "HAPPIDOST", 0, "x"),
	)

	result, err := svc.ReplayBatch(context.Background(), Filter{Channel: message.ChannelSMS})
	require.NoError(t, err)
	require.Equal(t, 2, result.Replayed)
	require.Zero(t, result.Failed)
	require.Len(t, publisher.published, 2)

	remaining, err := svc.Store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "b", remaining[0].CorrelationID)

	publisher.err = errors.New("broker down")

	result, err = svc.ReplayBatch(context.Background(), Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, "b", result.Details[0].CorrelationID)
}

func TestAnalytics(t *testing.T) {
	svc, _, archived, _ := newService(t)
	archived.stats = []archive.Statistic{{Channel: "SMS", ProductCode: "HAPPIDOST", TotalFailures: 3}}

	seed(t, svc.Store,
		entry("a", message.ChannelSMS, "HAPPIDOST", 2, "CIRCUIT_OPEN: circuit breaker open for FAST2SMS"),
		entry("b", message.ChannelEmail, "HAPPIDOST", 0, "PROVIDER_ERROR: SES: throttled"),
		entry("c", message.ChannelEmail, "OTHER", 1, ""),
	)

	analytics, err := svc.Analytics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, analytics.Current.Total)
	require.Equal(t, map[string]int{"SMS": 1, "EMAIL": 2}, analytics.Current.ByChannel)
	require.Equal(t, map[string]int{"HAPPIDOST": 2, "OTHER": 1}, analytics.Current.ByProductCode)
	require.Equal(t, map[string]int{"CIRCUIT_OPEN": 1, "PROVIDER_ERROR": 1, "Unknown": 1}, analytics.Current.ByError)
	require.Equal(t, archived.stats, analytics.Archived)
	require.Equal(t, now.Add(-30*24*time.Hour), archived.since)

	require.True(t, now.Add(-3*time.Hour).Equal(*analytics.Summary.OldestMessage))
	require.True(t, now.Add(-time.Hour).Equal(*analytics.Summary.NewestMessage))
}

func TestErrorCategory(t *testing.T) {
	require.Equal(t, "PROVIDER_TIMEOUT", ErrorCategory("PROVIDER_TIMEOUT: SES did not respond"))
	require.Equal(t, "plain", ErrorCategory("plain"))
	require.Equal(t, "Unknown", ErrorCategory(""))
	require.Equal(t, "Unknown", ErrorCategory(": detail"))
}

func TestLookupFallsBackToArchive(t *testing.T) {
	svc, _, archived, _ := newService(t)
	ctx := context.Background()

	seed(t, svc.Store, entry("live", message.ChannelSMS, "HAPPIDOST", 0, "x"))
	archived.messages["cold"] = &archive.ArchivedMessage{CorrelationID: "cold"}

	result, err := svc.Lookup(ctx, "live")
	require.NoError(t, err)
	require.Equal(t, SourceDLQ, result.Source)
	require.Equal(t, "live", result.Entry.CorrelationID)

	result, err = svc.Lookup(ctx, "cold")
	require.NoError(t, err)
	require.Equal(t, SourceArchive, result.Source)
	require.Equal(t, "cold", result.Archived.CorrelationID)

	_, err = svc.Lookup(ctx, "nowhere")
	require.ErrorIs(t, err, message.ErrNotFound)
}

func TestHealth(t *testing.T) {
	svc, _, _, _ := newService(t)
	svc.Store.AlertThreshold = 2

	seed(t, svc.Store, entry("a", message.ChannelSMS, "HAPPIDOST", 0, "x"))

	health, err := svc.Health(context.Background())
	require.NoError(t, err)
	require.True(t, health.Healthy)

	seed(t, svc.Store, entry("b", message.ChannelSMS, "HAPPIDOST", 0, "x"))

	health, err = svc.Health(context.Background())
	require.NoError(t, err)
	require.False(t, health.Healthy)
	require.Equal(t, int64(2), health.Count)
}
