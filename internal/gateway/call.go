package gateway

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/rs/zerolog"
)

// Observer receives one observation per gateway call (after retries)
type Observer interface {
	ObserveGatewayCall(service, operation string, outcome Outcome, attempts int, d time.Duration)
}

// PolicyConfig configures retries for one external service
type PolicyConfig struct {
	Service        string
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration

	// Breaker settings; zero disables the circuit breaker
	BreakerFailures uint
	BreakerWindow   uint
	BreakerDelay    time.Duration
}

// Policy applies bounded retries with exponential backoff and jitter, a
// per-attempt timeout, and an optional circuit breaker to calls against one
// external service. Only transient failures are retried.
type Policy struct {
	cfg      PolicyConfig
	breaker  circuitbreaker.CircuitBreaker[any]
	observer Observer
	log      zerolog.Logger
}

// NewPolicy creates a policy, normalising zero or inconsistent settings
func NewPolicy(cfg PolicyConfig, observer Observer, log zerolog.Logger) *Policy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay * 2
	}

	p := &Policy{
		cfg:      cfg,
		observer: observer,
		log:      log.With().Str("component", "gateway").Str("gateway", cfg.Service).Logger(),
	}

	if cfg.BreakerFailures > 0 {
		window := cfg.BreakerWindow
		if window < cfg.BreakerFailures {
			window = cfg.BreakerFailures
		}
		delay := cfg.BreakerDelay
		if delay <= 0 {
			delay = 15 * time.Second
		}
		p.breaker = circuitbreaker.NewBuilder[any]().
			HandleIf(func(_ any, err error) bool {
				return Classify(err) == OutcomeTransient
			}).
			WithFailureThresholdRatio(cfg.BreakerFailures, window).
			WithDelay(delay).
			WithSuccessThreshold(1).
			OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
				p.log.Warn().
					Str("from_state", stateName(e.OldState)).
					Str("to_state", stateName(e.NewState)).
					Msg("Gateway circuit breaker state change")
			}).
			Build()
	}

	return p
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

// Service returns the external service name this policy guards
func (p *Policy) Service() string {
	return p.cfg.Service
}

// Result is the tagged outcome of a gateway call. Callers switch on Outcome
// rather than inspecting errors.
type Result[T any] struct {
	Value    T
	Outcome  Outcome
	Err      error
	Attempts int
}

// OK reports whether the call succeeded
func (r Result[T]) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Call runs fn under the policy. Transient failures are retried up to
// MaxRetries times; the last failure is returned classified.
func Call[T any](ctx context.Context, p *Policy, operation string, fn func(ctx context.Context) (T, error)) Result[T] {
	start := time.Now()
	attempts := 0

	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && Classify(err) == OutcomeTransient
		}).
		WithBackoff(p.cfg.BaseDelay, p.cfg.MaxDelay).
		WithJitterFactor(0.1).
		WithMaxRetries(p.cfg.MaxRetries).
		ReturnLastFailure().
		Build()

	policies := []failsafe.Policy[any]{retry}
	if p.breaker != nil {
		policies = append(policies, p.breaker)
	}

	value, err := failsafe.With(policies...).WithContext(ctx).Get(func() (any, error) {
		attempts++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		}
		defer cancel()

		v, err := fn(attemptCtx)
		if err != nil {
			p.log.Debug().
				Err(err).
				Str("operation", operation).
				Int("attempt", attempts).
				Str("outcome", Classify(err).String()).
				Msg("Gateway attempt failed")
			return nil, err
		}
		return v, nil
	})

	res := Result[T]{Outcome: Classify(err), Err: err, Attempts: attempts}
	if err == nil {
		if typed, ok := value.(T); ok {
			res.Value = typed
		}
	}

	if p.observer != nil {
		p.observer.ObserveGatewayCall(p.cfg.Service, operation, res.Outcome, attempts, time.Since(start))
	}
	return res
}
