// Package webhook admits signed transaction events from the source provider.
// A request either reaches PROCESSED through SIGNATURE_VERIFIED or ends in
// REJECTED without touching any state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dvloznov/ledger-sync/internal/akahu"
	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/logger"
	"github.com/dvloznov/ledger-sync/internal/metrics"
)

// Event types that carry a transaction to reconcile.
const (
	EventTransactionCreated = "TRANSACTION_CREATED"
	EventTransactionUpdated = "TRANSACTION_UPDATED"
)

// Response statuses.
const (
	StatusSuccess          = "success"
	StatusIgnored          = "ignored"
	StatusInvalidSignature = "invalid signature"
	StatusInvalidPayload   = "invalid payload"
	StatusError            = "error"
)

// State is a step of request admission.
type State int

const (
	AwaitingRequest State = iota
	SignatureVerified
	Processed
	Rejected
)

func (s State) String() string {
	switch s {
	case AwaitingRequest:
		return "AWAITING_REQUEST"
	case SignatureVerified:
		return "SIGNATURE_VERIFIED"
	case Processed:
		return "PROCESSED"
	case Rejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reconciler receives admitted transactions.
type Reconciler interface {
	ReconcileTransactions(ctx context.Context, txns []domain.Transaction) error
}

// Event is the webhook body. Item is a single transaction object or an array.
type Event struct {
	Type string          `json:"type"`
	Item json.RawMessage `json:"item"`
}

// Outcome is where a request ended up.
type Outcome struct {
	State        State
	Status       string
	EventType    string
	Transactions int
}

// Ingress verifies and dispatches webhook requests.
type Ingress struct {
	verifier   *Verifier
	reconciler Reconciler
	metrics    metrics.Collector
}

// NewIngress creates an ingress. A nil collector disables metrics.
func NewIngress(v *Verifier, r Reconciler, mc metrics.Collector) *Ingress {
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	return &Ingress{verifier: v, reconciler: r, metrics: mc}
}

// Handle runs one request through the state machine. The returned error is
// non-nil for REJECTED outcomes and for reconcile failures.
func (i *Ingress) Handle(ctx context.Context, body []byte, signature string) (Outcome, error) {
	log := logger.FromContext(ctx)
	out := Outcome{State: AwaitingRequest}

	if err := i.verifier.Verify(body, signature); err != nil {
		log.Warn().Err(err).Msg("Rejected webhook")
		return i.finish(Outcome{State: Rejected, Status: StatusInvalidSignature}, "rejected"), err
	}
	out.State = SignatureVerified

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		err = &domain.ValidationError{Field: "body", Reason: err.Error()}
		log.Warn().Err(err).Msg("Rejected webhook")
		return i.finish(Outcome{State: Rejected, Status: StatusInvalidPayload}, "invalid_payload"), err
	}
	out.EventType = ev.Type

	if ev.Type != EventTransactionCreated && ev.Type != EventTransactionUpdated {
		log.Info().Str("event_type", ev.Type).Msg("Ignoring webhook event")
		out.State, out.Status = Processed, StatusIgnored
		return i.finish(out, "ignored"), nil
	}

	txns, err := parseItems(ev.Item)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected webhook")
		return i.finish(Outcome{State: Rejected, Status: StatusInvalidPayload, EventType: ev.Type}, "invalid_payload"), err
	}
	out.Transactions = len(txns)

	if err := i.reconciler.ReconcileTransactions(ctx, txns); err != nil {
		log.Error().Err(err).Str("event_type", ev.Type).Msg("Webhook reconcile failed")
		out.State, out.Status = Processed, StatusError
		return i.finish(out, "error"), fmt.Errorf("Handle: %w", err)
	}

	log.Info().Str("event_type", ev.Type).Int("transactions", len(txns)).Msg("Processed webhook")
	out.State, out.Status = Processed, StatusSuccess
	return i.finish(out, "success"), nil
}

func (i *Ingress) finish(out Outcome, result string) Outcome {
	i.metrics.RecordWebhook(result)
	return out
}

func parseItems(raw json.RawMessage) ([]domain.Transaction, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &domain.ValidationError{Field: "item", Reason: "missing"}
	}

	items := []json.RawMessage{raw}
	if raw[0] == '[' {
		items = nil
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, &domain.ValidationError{Field: "item", Reason: err.Error()}
		}
	}

	txns := make([]domain.Transaction, 0, len(items))
	for _, item := range items {
		tx, err := akahu.ParseTransaction(item)
		if err != nil {
			return nil, err
		}
		txns = append(txns, tx)
	}
	return txns, nil
}
