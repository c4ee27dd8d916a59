// Package metrics records sync activity. The default collector discards
// everything; the Prometheus collector backs the /metrics endpoint.
package metrics

import "time"

// Collector receives sync events.
type Collector interface {
	// RecordSyncRun is called once per full sync.
	RecordSyncRun(trigger string, failedAccounts int, duration time.Duration)
	// RecordAccountSync is called once per (source account, backend) pair.
	// outcome is "success" or an error class.
	RecordAccountSync(backend, outcome string, duration time.Duration)
	// RecordTransactions counts reconciled transactions for a backend.
	RecordTransactions(backend string, reconciled, changed, failed int)
	// RecordBalanceAdjustment counts adjustments written to tracking accounts.
	RecordBalanceAdjustment(backend string)
	// RecordWebhook counts webhook deliveries by result.
	RecordWebhook(result string)
	// RecordUpstreamCall observes one outbound HTTP call.
	RecordUpstreamCall(service, outcome string, duration time.Duration)
	// RecordCircuitState reports a breaker transition.
	RecordCircuitState(service string, state CircuitState)
	// RecordHTTPRequest observes one inbound request by route template.
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

func (NoOpCollector) RecordSyncRun(string, int, time.Duration) {}
func (NoOpCollector) RecordAccountSync(string, string, time.Duration) {}
func (NoOpCollector) RecordTransactions(string, int, int, int) {}
func (NoOpCollector) RecordBalanceAdjustment(string) {}
func (NoOpCollector) RecordWebhook(string) {}
func (NoOpCollector) RecordUpstreamCall(string, string, time.Duration) {}
func (NoOpCollector) RecordCircuitState(string, CircuitState) {}
func (NoOpCollector) RecordHTTPRequest(string, string, int, time.Duration) {}
