package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/deadletter"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/provider"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/ratelimit"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name  string
	mu    sync.Mutex
	calls int
	// results are consumed in order; the last one repeats.
	results []error
	delay   time.Duration
	sentAt  []time.Time
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Send(ctx context.Context, _ provider.Message) (provider.Receipt, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.sentAt = append(f.sentAt, time.Now())
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return provider.Receipt{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	var err error
	if len(f.results) > 0 {
		err = f.results[min(idx, len(f.results)-1)]
	}

	if err != nil {
		return provider.Receipt{}, err
	}

	return provider.Receipt{MessageID: f.name + "-id"}, nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeQuota struct {
	count      map[string]int64
	increments int
}

func (f *fakeQuota) Check(_ context.Context, productCode string, dailyLimit int64) error {
	if f.count[productCode] >= dailyLimit {
		return message.New(message.CodeRateLimitExceeded, "quota exceeded", nil)
	}

	return nil
}

func (f *fakeQuota) Increment(_ context.Context, productCode string) error {
	f.count[productCode]++
	f.increments++

	return nil
}

type fakeHealth struct {
	down map[string]bool
}

func (f *fakeHealth) IsOperational(_ context.Context, _ message.Channel, provider string) (bool, error) {
	return !f.down[provider], nil
}

type fakeAttempts struct {
	mu      sync.Mutex
	records []AttemptRecord
}

func (f *fakeAttempts) Create(_ context.Context, record *AttemptRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records = append(f.records, *record)

	return nil
}

func (f *fakeAttempts) byStatus(status string) []AttemptRecord {
	var out []AttemptRecord

	for _, r := range f.records {
		if r.Status == status {
			out = append(out, r)
		}
	}

	return out
}

type fakeDLQ struct {
	entries []deadletter.Entry
	err     error
}

func (f *fakeDLQ) Enqueue(ctx context.Context, entry deadletter.Entry) error {
	if f.err != nil {
		return f.err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	f.entries = append(f.entries, entry)

	return nil
}

type harness struct {
	svc      *Service
	quota    *fakeQuota
	health   *fakeHealth
	attempts *fakeAttempts
	dlq      *fakeDLQ
	sms      *fakeProvider
	ses      *fakeProvider
	gmail    *fakeProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	breaker := catalog.BreakerSpec{Threshold: 2, Cooldown: time.Minute}
	pipelines := []catalog.Pipeline{
		{Channel: message.ChannelSMS, Provider: "FAST2SMS", Priority: 1, MaxRetries: 2, Timeout: time.Second, CircuitBreaker: breaker, Active: true},
		{Channel: message.ChannelEmail, Provider: "GMAIL", Priority: 2, MaxRetries: 1, Timeout: time.Second, CircuitBreaker: breaker, Active: true},
		{Channel: message.ChannelEmail, Provider: "SES", Priority: 1, MaxRetries: 2, Timeout: time.Second, CircuitBreaker: breaker, Active: true},
	}

	c, err := catalog.New(
		[]catalog.Product{{Code: "HAPPIDOST", Name: "Happidost", Status: catalog.ProductStatusActive, DailyLimit: 50000}},
		[]catalog.Template{
			{ProductCode: "HAPPIDOST", Channel: message.ChannelEmail, Code: "WELCOME_EMAIL", Subject: "Hi {{name}}", Body: "Welcome {{name}}", Active: true},
			{ProductCode: "HAPPIDOST", Channel: message.ChannelSMS, Code: "OTP_VERIFICATION", Body: "Your OTP is {{otp}}", Active: true},
		},
		pipelines,
	)
	require.NoError(t, err)

	h := &harness{
		quota:    &fakeQuota{count: map[string]int64{}},
		health:   &fakeHealth{down: map[string]bool{}},
		attempts: &fakeAttempts{},
		dlq:      &fakeDLQ{},
		sms:      &fakeProvider{name: "FAST2SMS"},
		ses:      &fakeProvider{name: "SES"},
		gmail:    &fakeProvider{name: "GMAIL"},
	}

	h.svc = &Service{
		Catalog:        c,
		Quota:          h.quota,
		Health:         h.health,
		Breakers:       circuitbreak.NewRegistry(c.AllPipelines(), circuitbreak.Settings{FailureRatio: 0.5, Window: time.Minute}),
		Limiters:       ratelimit.NewLimiters(c.AllPipelines()),
		Providers:      provider.NewRegistry(h.sms, h.ses, h.gmail),
		Attempts:       h.attempts,
		DeadLetter:     h.dlq,
		RetryBaseDelay: time.Millisecond,
		Now:            func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) },
	}

	return h
}

func welcome() message.Request {
	return message.Request{
		ProductCode:   "HAPPIDOST",
		Channel:       message.ChannelEmail,
		TemplateCode:  "WELCOME_EMAIL",
		Recipient:     "user@example.com",
		Variables:     map[string]any{"name": "Asha"},
		CorrelationID: "corr-1",
	}
}

func otp() message.Request {
	return message.Request{
		ProductCode:   "HAPPIDOST",
		Channel:       message.ChannelSMS,
		TemplateCode:  "OTP_VERIFICATION",
		Recipient:     "9876543210",
		Variables:     map[string]any{"otp": "4821"},
		CorrelationID: "corr-otp",
	}
}

func TestDeliverFirstPipelineSucceeds(t *testing.T) {
	h := newHarness(t)

	result, err := h.svc.Deliver(context.Background(), welcome())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "SES", result.Provider)
	require.Equal(t, "SES-id", result.MessageID)
	require.Equal(t, "corr-1", result.CorrelationID)

	require.Equal(t, 1, h.ses.Calls())
	require.Zero(t, h.gmail.Calls())
	require.Empty(t, h.dlq.entries)
	require.Len(t, h.attempts.byStatus(message.StatusSent), 1)
	require.Empty(t, h.attempts.byStatus(message.StatusFailed))
	require.Equal(t, 1, h.quota.increments)
}

func TestDeliverFailsOverInPriorityOrder(t *testing.T) {
	h := newHarness(t)
	h.ses.results = []error{errors.New("throttled")}

	result, err := h.svc.Deliver(context.Background(), welcome())
	require.NoError(t, err)
	require.Equal(t, "GMAIL", result.Provider)
	require.Equal(t, 2, h.ses.Calls())

	failed := h.attempts.byStatus(message.StatusFailed)
	require.Len(t, failed, 1)
	require.Equal(t, "SES", *failed[0].Provider)
	require.Contains(t, *failed[0].ErrorMessage, "PROVIDER_ERROR: SES: throttled")
	require.Equal(t, 2, failed[0].Attempts)
}

func TestDeliverSkipsOpenBreaker(t *testing.T) {
	h := newHarness(t)
	h.ses.results = []error{errors.New("down")}

	// Two failed sequences cross the threshold of 2 with a 100% failure ratio.
	for range 2 {
		_, err := h.svc.Deliver(context.Background(), welcome())
		require.NoError(t, err)
	}

	breaker, ok := h.svc.Breakers.Get("SES")
	require.True(t, ok)
	require.Equal(t, circuitbreak.StateOpen, breaker.State())

	sesCalls := h.ses.Calls()

	result, err := h.svc.Deliver(context.Background(), welcome())
	require.NoError(t, err)
	require.Equal(t, "GMAIL", result.Provider)
	require.Equal(t, sesCalls, h.ses.Calls())

	last := h.attempts.byStatus(message.StatusFailed)
	require.Contains(t, *last[len(last)-1].ErrorMessage, "CIRCUIT_OPEN")
}

func TestDeliverSkipsNonOperationalPipeline(t *testing.T) {
	h := newHarness(t)
	h.health.down["SES"] = true

	result, err := h.svc.Deliver(context.Background(), welcome())
	require.NoError(t, err)
	require.Equal(t, "GMAIL", result.Provider)
	require.Zero(t, h.ses.Calls())

	failed := h.attempts.byStatus(message.StatusFailed)
	require.Len(t, failed, 1)
	require.Contains(t, *failed[0].ErrorMessage, "PIPELINE_UNHEALTHY")
}

func TestDeliverIntraProviderRetryIsNotFailover(t *testing.T) {
	h := newHarness(t)
	h.ses.results = []error{errors.New("blip"), nil}

	result, err := h.svc.Deliver(context.Background(), welcome())
	require.NoError(t, err)
	require.Equal(t, "SES", result.Provider)
	require.Equal(t, 2, h.ses.Calls())
	require.Zero(t, h.gmail.Calls())

	require.Len(t, h.attempts.byStatus(message.StatusSent), 1)
	require.Empty(t, h.attempts.byStatus(message.StatusFailed))
}

func TestDeliverQuotaExceededBeforeAnyProvider(t *testing.T) {
	h := newHarness(t)
	h.quota.count["HAPPIDOST"] = 50000

	_, err := h.svc.Deliver(context.Background(), welcome())
	require.ErrorIs(t, err, message.ErrRateLimitExceeded)
	require.Zero(t, h.ses.Calls())
	require.Zero(t, h.gmail.Calls())
	require.Empty(t, h.attempts.records)
}

func TestDeliverMissingVariables(t *testing.T) {
	h := newHarness(t)
	req := otp()
	req.Variables = map[string]any{}

	_, err := h.svc.Deliver(context.Background(), req)
	require.ErrorIs(t, err, message.ErrMissingVariables)
	require.Empty(t, h.dlq.entries)
	require.Zero(t, h.sms.Calls())
}

func TestDeliverCatalogErrors(t *testing.T) {
	h := newHarness(t)

	req := welcome()
	req.ProductCode = "UNKNOWN"
	_, err := h.svc.Deliver(context.Background(), req)
	require.ErrorIs(t, err, message.ErrProductNotFound)

	req = welcome()
	req.TemplateCode = "NOPE"
	_, err = h.svc.Deliver(context.Background(), req)
	require.ErrorIs(t, err, message.ErrTemplateNotFound)

	req = welcome()
	req.Channel = "PUSH"
	_, err = h.svc.Deliver(context.Background(), req)
	require.ErrorIs(t, err, message.ErrInvalidChannel)
}

func TestDeliverExhaustionCreatesOneDeadLetterEntry(t *testing.T) {
	h := newHarness(t)
	h.sms.results = []error{errors.New("gateway down")}

	_, err := h.svc.Deliver(context.Background(), otp())
	require.ErrorIs(t, err, message.ErrAllProvidersFailed)
	require.Equal(t, 2, h.sms.Calls())

	require.Len(t, h.dlq.entries, 1)
	entry := h.dlq.entries[0]
	require.Equal(t, "corr-otp", entry.CorrelationID)
	require.Len(t, entry.Errors, 1)
	require.Equal(t, "FAST2SMS", entry.Errors[0].Provider)
	require.Zero(t, entry.RetryAttempts)
	require.Equal(t, h.svc.Now(), entry.FirstQueuedAt)

	var herr *message.Error
	require.True(t, errors.As(err, &herr))
	require.Equal(t, map[string]any{"errors": entry.Errors}, herr.Details)
	require.Zero(t, h.quota.increments)
}

func TestDeliverReplayKeepsFirstQueuedAndCapsAttempts(t *testing.T) {
	h := newHarness(t)
	h.sms.results = []error{errors.New("gateway down")}

	firstQueued := time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC)
	req := otp()
	req.ReplayAttempt = 5
	req.FirstQueuedAt = &firstQueued

	_, err := h.svc.Deliver(context.Background(), req)
	require.ErrorIs(t, err, message.ErrAllProvidersFailed)
	require.Equal(t, deadletter.MaxRetryAttempts, h.dlq.entries[0].RetryAttempts)
	require.Equal(t, firstQueued, h.dlq.entries[0].FirstQueuedAt)
}

func TestDeliverDeadLetterPushFailureIsInfrastructureError(t *testing.T) {
	h := newHarness(t)
	h.sms.results = []error{errors.New("gateway down")}
	h.dlq.err = errors.New("redis down")

	_, err := h.svc.Deliver(context.Background(), otp())
	require.ErrorIs(t, err, ErrDeadLetterUnavailable)
	require.NotErrorIs(t, err, message.ErrAllProvidersFailed)
}

func TestDeliverAttemptTimeout(t *testing.T) {
	h := newHarness(t)
	h.ses.delay = time.Second
	pipelines, err := h.svc.Catalog.Pipelines(message.ChannelEmail)
	require.NoError(t, err)
	require.Equal(t, "SES", pipelines[0].Provider)

	h.svc.Catalog, err = catalog.New(
		[]catalog.Product{{Code: "HAPPIDOST", Name: "Happidost", Status: catalog.ProductStatusActive, DailyLimit: 10}},
		[]catalog.Template{{ProductCode: "HAPPIDOST", Channel: message.ChannelEmail, Code: "WELCOME_EMAIL", Body: "hi", Active: true}},
		[]catalog.Pipeline{
			{Channel: message.ChannelEmail, Provider: "SES", Priority: 1, MaxRetries: 1, Timeout: 20 * time.Millisecond, CircuitBreaker: pipelines[0].CircuitBreaker, Active: true},
			{Channel: message.ChannelEmail, Provider: "GMAIL", Priority: 2, MaxRetries: 1, Timeout: time.Second, CircuitBreaker: pipelines[0].CircuitBreaker, Active: true},
		},
	)
	require.NoError(t, err)

	result, err := h.svc.Deliver(context.Background(), welcome())
	require.NoError(t, err)
	require.Equal(t, "GMAIL", result.Provider)

	failed := h.attempts.byStatus(message.StatusFailed)
	require.Len(t, failed, 1)
	require.Contains(t, *failed[0].ErrorMessage, "PROVIDER_TIMEOUT")
}

func TestDeliverGeneratesCorrelationID(t *testing.T) {
	h := newHarness(t)
	req := welcome()
	req.CorrelationID = ""

	result, err := h.svc.Deliver(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, result.CorrelationID)
	require.Equal(t, result.CorrelationID, h.attempts.records[0].CorrelationID)
}

func TestDeliverFinishesStartedAttemptAfterCancel(t *testing.T) {
	h := newHarness(t)
	h.ses.delay = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	result, err := h.svc.Deliver(ctx, welcome())
	require.NoError(t, err)
	require.Equal(t, "SES", result.Provider)
	require.Zero(t, h.gmail.Calls())
	require.Empty(t, h.dlq.entries)
	require.Len(t, h.attempts.byStatus(message.StatusSent), 1)
	require.Empty(t, h.attempts.byStatus(message.StatusFailed))

	breaker, _ := h.svc.Breakers.Get("SES")
	require.Zero(t, breaker.Counts().TotalFailures)
}

func TestDeliverCancelDuringFailoverDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.ses.delay = 50 * time.Millisecond
	h.ses.results = []error{errors.New("throttled")}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := h.svc.Deliver(ctx, welcome())
	require.ErrorIs(t, err, message.ErrDeliveryAborted)
	require.Equal(t, 2, h.ses.Calls())
	require.Zero(t, h.gmail.Calls())

	require.Len(t, h.dlq.entries, 1)
	entry := h.dlq.entries[0]
	require.Len(t, entry.Errors, 2)
	require.Equal(t, "SES", entry.Errors[0].Provider)
	require.Contains(t, entry.Errors[0].Error, "PROVIDER_ERROR")
	require.Equal(t, "GMAIL", entry.Errors[1].Provider)
	require.Contains(t, entry.Errors[1].Error, "DELIVERY_ABORTED")

	require.Len(t, h.attempts.byStatus(message.StatusFailed), 1)
}

func TestDeliverCanceledBeforeFirstPipeline(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Deliver(ctx, welcome())
	require.ErrorIs(t, err, ErrDeliveryNotStarted)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, h.ses.Calls())
	require.Empty(t, h.dlq.entries)
	require.Empty(t, h.attempts.records)
}

func TestDeliverAbortWithDeadLetterDown(t *testing.T) {
	h := newHarness(t)
	h.ses.delay = 30 * time.Millisecond
	h.ses.results = []error{errors.New("throttled")}
	h.dlq.err = errors.New("redis down")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := h.svc.Deliver(ctx, welcome())
	require.ErrorIs(t, err, ErrDeadLetterUnavailable)
	require.Zero(t, h.gmail.Calls())
}

func TestRetryDelayDoublesPerAttempt(t *testing.T) {
	base := 100 * time.Millisecond

	require.Equal(t, base, retryDelay(base, 0))
	require.Equal(t, 2*base, retryDelay(base, 1))
	require.Equal(t, 4*base, retryDelay(base, 2))
}

func TestDeliverBacksOffBetweenAttempts(t *testing.T) {
	h := newHarness(t)
	h.ses.results = []error{errors.New("blip")}
	h.svc.RetryBaseDelay = 30 * time.Millisecond

	var err error

	h.svc.Catalog, err = catalog.New(
		[]catalog.Product{{Code: "HAPPIDOST", Name: "Happidost", Status: catalog.ProductStatusActive, DailyLimit: 10}},
		[]catalog.Template{{ProductCode: "HAPPIDOST", Channel: message.ChannelEmail, Code: "WELCOME_EMAIL", Body: "hi", Active: true}},
		[]catalog.Pipeline{
			{
				Channel:        message.ChannelEmail,
				Provider:       "SES",
				Priority:       1,
				MaxRetries:     3,
				Timeout:        time.Second,
				CircuitBreaker: catalog.BreakerSpec{Threshold: 5, Cooldown: time.Minute},
				Active:         true,
			},
		},
	)
	require.NoError(t, err)

	_, err = h.svc.Deliver(context.Background(), welcome())
	require.ErrorIs(t, err, message.ErrAllProvidersFailed)

	require.Len(t, h.ses.sentAt, 3)
	require.GreaterOrEqual(t, h.ses.sentAt[1].Sub(h.ses.sentAt[0]), h.svc.RetryBaseDelay)
	require.GreaterOrEqual(t, h.ses.sentAt[2].Sub(h.ses.sentAt[1]), 2*h.svc.RetryBaseDelay)
}
