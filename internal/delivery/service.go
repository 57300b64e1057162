package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/deadletter"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/provider"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/ratelimit"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/templating"
	"github.com/avast/retry-go"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrDeadLetterUnavailable = errors.New("failed to push exhausted request to dead letter store")
	ErrInvalidReceiptResult  = errors.New("invalid result type, it should be provider Receipt")
	ErrProviderNotRegistered = errors.New("provider is not registered")
	ErrDeliveryNotStarted    = errors.New("delivery canceled before any pipeline was tried")
)

type QuotaGate interface {
	Check(ctx context.Context, productCode string, dailyLimit int64) error
	Increment(ctx context.Context, productCode string) error
}

type HealthStore interface {
	IsOperational(ctx context.Context, channel message.Channel, provider string) (bool, error)
}

type AttemptLog interface {
	Create(ctx context.Context, record *AttemptRecord) error
}

type DeadLetterQueue interface {
	Enqueue(ctx context.Context, entry deadletter.Entry) error
}

type Service struct {
	Catalog        *catalog.Catalog
	Quota          QuotaGate
	Health         HealthStore
	Breakers       *circuitbreak.Registry
	Limiters       ratelimit.Limiters
	Providers      provider.Registry
	Attempts       AttemptLog
	DeadLetter     DeadLetterQueue
	RetryBaseDelay time.Duration
	Now            func() time.Time
}

func NewService(
	c *catalog.Catalog,
	quota QuotaGate,
	health HealthStore,
	breakers *circuitbreak.Registry,
	providers provider.Registry,
	attempts AttemptLog,
	deadLetter DeadLetterQueue,
) *Service {
	return &Service{
		Catalog:        c,
		Quota:          quota,
		Health:         health,
		Breakers:       breakers,
		Limiters:       ratelimit.NewLimiters(c.AllPipelines()),
		Providers:      providers,
		Attempts:       attempts,
		DeadLetter:     deadLetter,
		RetryBaseDelay: time.Duration(config.Conf.ProviderRetryBaseDelayMs) * time.Millisecond,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

// Deliver sends req through the channel's pipelines in priority order and returns
// on the first success. When every pipeline fails or is skipped, the request is
// pushed to the dead-letter store and ALL_PROVIDERS_FAILED is returned.
func (s *Service) Deliver(ctx context.Context, req message.Request) (*message.Result, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	product, err := s.Catalog.Product(req.ProductCode)
	if err != nil {
		return nil, err
	}

	if !req.Channel.Valid() {
		return nil, message.New(message.CodeInvalidChannel, "invalid channel: "+string(req.Channel), nil)
	}

	tmpl, err := s.Catalog.Template(req.ProductCode, req.Channel, req.TemplateCode)
	if err != nil {
		return nil, err
	}

	pipelines, err := s.Catalog.Pipelines(req.Channel)
	if err != nil {
		return nil, err
	}

	err = s.Quota.Check(ctx, product.Code, product.DailyLimit)
	if err != nil {
		if errors.Is(err, message.ErrRateLimitExceeded) {
			prometheus.RateLimitHits.WithLabelValues(product.Code).Inc()
		}

		return nil, err
	}

	err = templating.Validate(tmpl.Body, tmpl.Subject, req.Variables)
	if err != nil {
		return nil, err
	}

	msg := provider.Message{
		CorrelationID: req.CorrelationID,
		Recipient:     req.Recipient,
		Subject:       templating.Render(tmpl.Subject, req.Variables),
		Body:          templating.Render(tmpl.Body, req.Variables),
		TemplateCode:  tmpl.Code,
		DLT:           tmpl.DLT,
		Variables:     req.Variables,
	}

	// Started attempts are not cut short by the caller; each one is bounded by its
	// pipeline timeout instead.
	work := context.WithoutCancel(ctx)

	var providerErrors []message.ProviderError

	for i, p := range pipelines {
		if ctx.Err() != nil {
			if i == 0 {
				return nil, fmt.Errorf("%w: %w", ErrDeliveryNotStarted, ctx.Err())
			}

			return nil, s.abort(work, req, providerErrors, pipelines[i:], ctx.Err())
		}

		receipt, attempts, sendErr := s.tryPipeline(work, p, msg)
		if sendErr == nil {
			s.recordAttempt(work, req, p.Provider, message.StatusSent, receipt.MessageID, "", attempts)

			err = s.Quota.Increment(work, product.Code)
			if err != nil {
				logging.Logger.Error("[Deliver] Failed to increment product quota",
					zap.String("correlation_id", req.CorrelationID),
					zap.String("product_code", product.Code),
					zap.String("error", err.Error()),
				)
			}

			logging.Logger.Info("[Deliver] Message sent",
				zap.String("correlation_id", req.CorrelationID),
				zap.String("channel", string(req.Channel)),
				zap.String("provider", p.Provider),
				zap.String("message_id", receipt.MessageID),
			)

			return &message.Result{
				Success:       true,
				Provider:      p.Provider,
				MessageID:     receipt.MessageID,
				CorrelationID: req.CorrelationID,
			}, nil
		}

		errText := sendErr.Error()
		s.recordAttempt(work, req, p.Provider, message.StatusFailed, "", errText, attempts)
		providerErrors = append(providerErrors, message.ProviderError{Provider: p.Provider, Error: errText})

		logging.Logger.Warn("[Deliver] Pipeline failed, failing over",
			zap.String("correlation_id", req.CorrelationID),
			zap.String("channel", string(req.Channel)),
			zap.String("provider", p.Provider),
			zap.String("error", errText),
		)
	}

	return nil, s.exhaust(work, req, providerErrors)
}

// tryPipeline runs one pipeline. The returned error text is always "CATEGORY: detail".
func (s *Service) tryPipeline(
	ctx context.Context,
	p catalog.Pipeline,
	msg provider.Message,
) (provider.Receipt, int, error) {
	operational, err := s.Health.IsOperational(ctx, p.Channel, p.Provider)
	if err != nil {
		// An unreadable flag must not block delivery; the breaker still guards the provider.
		logging.Logger.Warn("[tryPipeline] Failed to read operational flag",
			zap.String("provider", p.Provider),
			zap.String("error", err.Error()),
		)
	} else if !operational {
		return provider.Receipt{}, 0, message.New(
			message.CodePipelineUnhealthy,
			fmt.Sprintf("%s pipeline is marked non-operational", p.Provider),
			nil,
		)
	}

	breaker, ok := s.Breakers.Get(p.Provider)
	if !ok {
		return provider.Receipt{}, 0, s.categorize(p, fmt.Errorf("%w: %s", ErrProviderNotRegistered, p.Provider))
	}

	if breaker.State() == circuitbreak.StateOpen {
		return provider.Receipt{}, 0, message.New(
			message.CodeCircuitOpen,
			fmt.Sprintf("circuit breaker open for %s", p.Provider),
			nil,
		)
	}

	impl, ok := s.Providers.Get(p.Provider)
	if !ok {
		return provider.Receipt{}, 0, s.categorize(p, fmt.Errorf("%w: %s", ErrProviderNotRegistered, p.Provider))
	}

	var attempts int

	start := time.Now()

	result, err := s.Limiters.Get(p.Provider).Do(ctx, func() (any, error) {
		return breaker.Execute(func() (any, error) {
			return s.sendWithRetry(ctx, p, impl, msg, &attempts)
		})
	})

	prometheus.SendDuration.WithLabelValues(string(p.Channel), p.Provider).Observe(time.Since(start).Seconds())

	if err != nil {
		var herr *message.Error
		if errors.As(err, &herr) {
			return provider.Receipt{}, attempts, herr
		}

		return provider.Receipt{}, attempts, s.categorize(p, err)
	}

	receipt, ok := result.(provider.Receipt)
	if !ok {
		return provider.Receipt{}, attempts, s.categorize(p, ErrInvalidReceiptResult)
	}

	return receipt, attempts, nil
}

// sendWithRetry makes up to MaxRetries attempts, each bounded by the pipeline timeout.
func (s *Service) sendWithRetry(
	ctx context.Context,
	p catalog.Pipeline,
	impl provider.Provider,
	msg provider.Message,
	attempts *int,
) (any, error) {
	var receipt provider.Receipt

	maxAttempts := p.MaxRetries
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	err := retry.Do(
		func() error {
			*attempts++

			attemptCtx, cancel := attemptContext(ctx, p.Timeout)
			defer cancel()

			r, err := impl.Send(attemptCtx, msg)
			if err != nil {
				if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
					err = message.New(
						message.CodeProviderTimeout,
						fmt.Sprintf("%s did not respond within %s", p.Provider, p.Timeout),
						nil,
					)
				}

				logging.Logger.Warn("[sendWithRetry] Provider attempt failed",
					zap.String("correlation_id", msg.CorrelationID),
					zap.String("provider", p.Provider),
					zap.Int("attempt", *attempts),
					zap.String("error", err.Error()),
				)

				return err
			}

			receipt = r

			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return retryDelay(s.RetryBaseDelay, n)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, s.categorize(p, err)
	}

	return receipt, nil
}

// retryDelay is the wait after failed attempt n+1 (n counts from zero): base, 2×base,
// 4×base and so on.
func retryDelay(base time.Duration, n uint) time.Duration {
	return base << n
}

func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

func (s *Service) categorize(p catalog.Pipeline, err error) error {
	var herr *message.Error
	if errors.As(err, &herr) {
		return herr
	}

	return message.New(message.CodeProviderError, fmt.Sprintf("%s: %s", p.Provider, err.Error()), nil)
}

func (s *Service) exhaust(ctx context.Context, req message.Request, providerErrors []message.ProviderError) error {
	entry, err := s.deadLetter(ctx, req, providerErrors)
	if err != nil {
		return err
	}

	logging.Logger.Error("[exhaust] All providers failed, request moved to dead letter store",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("channel", string(req.Channel)),
		zap.String("product_code", req.ProductCode),
		zap.Int("retry_attempts", entry.RetryAttempts),
	)

	return message.New(
		message.CodeAllProvidersFailed,
		fmt.Sprintf("all %s providers failed", req.Channel),
		map[string]any{"errors": providerErrors},
	)
}

// abort stops failover once the worker is shutting down. The pipelines not yet tried
// are recorded as aborted and the request is dead-lettered, so auto-retry picks it up.
func (s *Service) abort(
	ctx context.Context,
	req message.Request,
	providerErrors []message.ProviderError,
	untried []catalog.Pipeline,
	cause error,
) error {
	for _, p := range untried {
		providerErrors = append(providerErrors, message.ProviderError{
			Provider: p.Provider,
			Error:    message.New(message.CodeDeliveryAborted, "not attempted: "+cause.Error(), nil).Error(),
		})
	}

	entry, err := s.deadLetter(ctx, req, providerErrors)
	if err != nil {
		return err
	}

	logging.Logger.Warn("[abort] Delivery interrupted, request moved to dead letter store",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("channel", string(req.Channel)),
		zap.Int("untried_pipelines", len(untried)),
		zap.Int("retry_attempts", entry.RetryAttempts),
	)

	return message.New(
		message.CodeDeliveryAborted,
		"delivery interrupted, request moved to dead letter store",
		map[string]any{"errors": providerErrors},
	)
}

func (s *Service) deadLetter(
	ctx context.Context,
	req message.Request,
	providerErrors []message.ProviderError,
) (deadletter.Entry, error) {
	now := s.Now()

	firstQueuedAt := now
	if req.FirstQueuedAt != nil {
		firstQueuedAt = req.FirstQueuedAt.UTC()
	}

	entry := deadletter.Entry{
		CorrelationID: req.CorrelationID,
		ProductCode:   req.ProductCode,
		Channel:       req.Channel,
		TemplateCode:  req.TemplateCode,
		Recipient:     req.Recipient,
		Variables:     req.Variables,
		Errors:        providerErrors,
		FirstQueuedAt: firstQueuedAt,
		LastFailedAt:  now,
		RetryAttempts: min(max(req.ReplayAttempt, 0), deadletter.MaxRetryAttempts),
	}

	err := s.DeadLetter.Enqueue(ctx, entry)
	if err != nil {
		logging.Logger.Error("[deadLetter] Failed to push request to dead letter store",
			zap.String("correlation_id", req.CorrelationID),
			zap.String("error", err.Error()),
		)

		return entry, fmt.Errorf("%w: %w", ErrDeadLetterUnavailable, err)
	}

	return entry, nil
}

func (s *Service) recordAttempt(
	ctx context.Context,
	req message.Request,
	providerName, status, messageID, errText string,
	attempts int,
) {
	variables, err := json.Marshal(req.Variables)
	if err != nil {
		logging.Logger.Error("[recordAttempt] Failed to marshal variables",
			zap.String("correlation_id", req.CorrelationID),
			zap.String("error", err.Error()),
		)

		variables = []byte("{}")
	}

	record := &AttemptRecord{
		CorrelationID: req.CorrelationID,
		ProductCode:   req.ProductCode,
		TemplateCode:  req.TemplateCode,
		Channel:       string(req.Channel),
		Provider:      &providerName,
		Recipient:     req.Recipient,
		Status:        status,
		Variables:     variables,
		Attempts:      max(attempts, 1),
	}

	if messageID != "" {
		record.ProviderMessageID = &messageID
	}

	if errText != "" {
		record.ErrorMessage = &errText
	}

	err = s.Attempts.Create(ctx, record)
	if err != nil {
		logging.Logger.Error("[recordAttempt] Failed to record delivery attempt",
			zap.String("correlation_id", req.CorrelationID),
			zap.String("provider", providerName),
			zap.String("status", status),
			zap.String("error", err.Error()),
		)
	}
}
