// Package resilience protects outbound HTTP calls with a timeout and a
// circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/dvloznov/ledger-sync/internal/metrics"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// DefaultTimeout bounds one outbound call.
const DefaultTimeout = 30 * time.Second

// Config tunes the breaker of one service.
type Config struct {
	// Name labels logs and metrics, e.g. "akahu".
	Name string
	// Timeout bounds a whole request including reading the body.
	Timeout time.Duration
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts reset. Zero never resets.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open.
	OpenTimeout time.Duration
	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32
}

// DefaultConfig returns the settings used for every upstream service.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		Timeout:             DefaultTimeout,
		MaxRequests:         1,
		Interval:            time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Transport is an http.RoundTripper that counts transport errors and 5xx
// responses as failures.
type Transport struct {
	base    http.RoundTripper
	cb      *gobreaker.CircuitBreaker
	name    string
	metrics metrics.Collector
}

// NewTransport wraps base. A nil base uses http.DefaultTransport; a nil
// collector discards metrics.
func NewTransport(base http.RoundTripper, cfg Config, mc metrics.Collector, log zerolog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	trip := cfg.ConsecutiveFailures
	if trip == 0 {
		trip = 5
	}

	t := &Transport{base: base, name: cfg.Name, metrics: mc}
	t.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("service", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			mc.RecordCircuitState(name, state)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return t
}

type serverError struct{ status int }

func (e *serverError) Error() string { return "server error " + strconv.Itoa(e.status) }

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	result, err := t.cb.Execute(func() (interface{}, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, &serverError{status: resp.StatusCode}
		}
		return resp, nil
	})

	var se *serverError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		t.metrics.RecordUpstreamCall(t.name, "circuit_open", time.Since(start))
		return nil, fmt.Errorf("%s: %w", t.name, ErrCircuitOpen)
	case errors.As(err, &se):
		t.metrics.RecordUpstreamCall(t.name, "5xx", time.Since(start))
		return result.(*http.Response), nil
	case err != nil:
		t.metrics.RecordUpstreamCall(t.name, "error", time.Since(start))
		return nil, err
	}

	t.metrics.RecordUpstreamCall(t.name, "ok", time.Since(start))
	return result.(*http.Response), nil
}

// State reports the breaker state.
func (t *Transport) State() gobreaker.State {
	return t.cb.State()
}

// NewHTTPClient returns a client whose calls time out after cfg.Timeout and
// pass through a breaker.
func NewHTTPClient(cfg Config, mc metrics.Collector, log zerolog.Logger) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(nil, cfg, mc, log),
	}
}
