package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/kamipay/relay/internal/domain"
	"github.com/kamipay/relay/internal/service"
)

// MountIssuer signs QR mount tokens.
type MountIssuer interface {
	Issue(req *domain.MountRequest) (*domain.MountTokenResponse, error)
}

// KamiPayHandler serves the test console and mount endpoints.
type KamiPayHandler struct {
	gateway service.WebhookSimulator
	tokens  MountIssuer
	logger  *log.Logger
}

// NewKamiPayHandler creates a new KamiPayHandler.
func NewKamiPayHandler(gateway service.WebhookSimulator, tokens MountIssuer, logger *log.Logger) *KamiPayHandler {
	return &KamiPayHandler{gateway: gateway, tokens: tokens, logger: logger}
}

// Simulate handles POST /api/kamipay/simulate, a click on a simulate button.
// The outcome is always reported as a notification with status 200.
func (h *KamiPayHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var click domain.SimulateClick
	if err := DecodeJSON(w, r, &click); err != nil {
		Error(w, err)
		return
	}

	var shown *domain.Notification
	notifier := service.NotifierFunc(func(_ context.Context, n domain.Notification) {
		shown = &n
	})
	service.NewSimulator(h.gateway, notifier, h.logger).Click(r.Context(), click)

	if shown == nil {
		Error(w, domain.ErrInternal("simulation produced no notification", nil))
		return
	}
	JSON(w, http.StatusOK, shown)
}

// Mount handles POST /api/kamipay/mount (dev consoles only, gated in router).
func (h *KamiPayHandler) Mount(w http.ResponseWriter, r *http.Request) {
	var req domain.MountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.tokens.Issue(&req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}
