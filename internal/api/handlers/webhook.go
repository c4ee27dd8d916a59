package handlers

import (
	"io"
	"net/http"

	"github.com/dvloznov/ledger-sync/internal/api/middleware"
	"github.com/dvloznov/ledger-sync/internal/logger"
	"github.com/dvloznov/ledger-sync/internal/webhook"
)

// Signature headers, in lookup order.
const (
	SignatureHeader      = "X-Signature"
	AkahuSignatureHeader = "X-Akahu-Signature"
)

const maxWebhookBody = 1 << 20

// WebhookHandler serves POST /receive-transaction.
type WebhookHandler struct {
	ingress *webhook.Ingress
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(ingress *webhook.Ingress) *WebhookHandler {
	return &WebhookHandler{ingress: ingress}
}

// Receive verifies the raw body against its signature before anything is
// parsed, then reconciles the carried transactions.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to read webhook body")
		middleware.WriteStatus(w, http.StatusBadRequest, webhook.StatusInvalidPayload)
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		signature = r.Header.Get(AkahuSignatureHeader)
	}

	out, _ := h.ingress.Handle(ctx, body, signature)
	middleware.WriteStatus(w, statusCode(out), out.Status)
}

func statusCode(out webhook.Outcome) int {
	switch out.Status {
	case webhook.StatusInvalidSignature, webhook.StatusInvalidPayload:
		return http.StatusBadRequest
	case webhook.StatusError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
