package circuitbreak

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

const (
	eventBuffer = 64

	// windowBuckets splits the failure window so counts expire bucket by bucket.
	windowBuckets = 10
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

type Event struct {
	Provider string            `json:"provider"`
	Channels []message.Channel `json:"channels"`
	From     State             `json:"from"`
	To       State             `json:"to"`
	At       time.Time         `json:"at"`
}

// Settings shared by every provider breaker. Threshold and cooldown come per pipeline.
type Settings struct {
	FailureRatio float64
	Window       time.Duration
}

type Breaker struct {
	Provider string
	Channels []message.Channel
	cb       *gobreaker.CircuitBreaker[any]
}

// Execute runs fn as one unit of work. An open breaker, or a second caller during
// the half-open trial, fails with CIRCUIT_OPEN without invoking fn.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, message.New(
			message.CodeCircuitOpen,
			fmt.Sprintf("circuit breaker open for %s", b.Provider),
			nil,
		)
	}

	return result, err
}

// State reads the current state; a breaker whose cooldown elapsed reports HALF_OPEN.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Registry owns one breaker per provider, built once from the catalog pipelines.
type Registry struct {
	breakers map[string]*Breaker
	events   chan Event
}

func NewRegistry(pipelines []catalog.Pipeline, settings Settings) *Registry {
	r := &Registry{
		breakers: make(map[string]*Breaker),
		events:   make(chan Event, eventBuffer),
	}

	for _, p := range pipelines {
		if existing, ok := r.breakers[p.Provider]; ok {
			existing.Channels = append(existing.Channels, p.Channel)
			continue
		}

		b := &Breaker{
			Provider: p.Provider,
			Channels: []message.Channel{p.Channel},
		}
		b.cb = gobreaker.NewCircuitBreaker[any](r.settingsFor(b, p.CircuitBreaker, settings))
		r.breakers[p.Provider] = b
	}

	return r
}

// bucketPeriod turns the window into a rolling one. Windows too short to split fall
// back to gobreaker's fixed window.
func bucketPeriod(window time.Duration) time.Duration {
	if window < windowBuckets {
		return 0
	}

	return window / windowBuckets
}

// countsAsSuccess keeps caller cancellation out of the failure counts; it says
// nothing about the provider.
func countsAsSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

func (r *Registry) settingsFor(b *Breaker, spec catalog.BreakerSpec, settings Settings) gobreaker.Settings {
	threshold := spec.Threshold

	return gobreaker.Settings{
		Name:         b.Provider,
		MaxRequests:  1,
		Interval:     settings.Window,
		BucketPeriod: bucketPeriod(settings.Window),
		Timeout:      spec.Cooldown,
		IsSuccessful: countsAsSuccess,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < threshold {
				return false
			}

			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			willTrip := ratio >= settings.FailureRatio

			if willTrip {
				logging.Logger.Error("Provider circuit breaker about to trip",
					zap.String("provider", b.Provider),
					zap.Uint32("total_requests", counts.Requests),
					zap.Uint32("total_failures", counts.TotalFailures),
					zap.Uint32("consecutive_failures", counts.ConsecutiveFailures),
					zap.Uint32("threshold", threshold),
					zap.Float64("failure_ratio", ratio),
				)
			}

			return willTrip
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Warn("Provider circuit state changed",
				zap.String("provider", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			r.publish(Event{
				Provider: name,
				Channels: b.Channels,
				From:     fromGobreaker(fromState),
				To:       fromGobreaker(toState),
				At:       time.Now().UTC(),
			})
		},
	}
}

func (r *Registry) publish(event Event) {
	select {
	case r.events <- event:
	default:
		logging.Logger.Warn("breaker event buffer full, dropping event",
			zap.String("provider", event.Provider),
			zap.String("to", string(event.To)),
		)
	}
}

func (r *Registry) Get(provider string) (*Breaker, bool) {
	b, ok := r.breakers[provider]

	return b, ok
}

// Events delivers state transitions. Transitions are dropped rather than blocking a
// provider call when nobody drains the channel.
func (r *Registry) Events() <-chan Event {
	return r.events
}

func (r *Registry) Providers() []string {
	providers := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		providers = append(providers, name)
	}

	sort.Strings(providers)

	return providers
}

func (r *Registry) States() map[string]State {
	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}

	return states
}
