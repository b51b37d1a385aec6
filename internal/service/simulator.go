package service

import (
	"context"
	"io"
	"log"

	"github.com/kamipay/relay/internal/domain"
	"github.com/kamipay/relay/pkg/payment"
)

// Notification texts shown after a simulate click.
const (
	SimulationSentMessage   = "Webhook simulation sent"
	SimulationSentTitle     = "Test Simulation"
	SimulationFailedMessage = "Could not simulate payment"
	SimulationFailedTitle   = "Error"
)

// WebhookSimulator triggers a test webhook on the shop.
type WebhookSimulator interface {
	SimulateWebhook(ctx context.Context, params payment.SimulateWebhookParams) (*payment.SimulateWebhookResult, error)
}

// Notifier shows a transient notification on the page.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n domain.Notification)

func (f NotifierFunc) Notify(ctx context.Context, n domain.Notification) { f(ctx, n) }

// Simulator handles clicks on the test console's simulate buttons. It keeps
// no state between clicks and never retries.
type Simulator struct {
	gateway  WebhookSimulator
	notifier Notifier
	logger   *log.Logger
}

// NewSimulator creates a Simulator. A nil logger discards output.
func NewSimulator(gateway WebhookSimulator, notifier Notifier, logger *log.Logger) *Simulator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Simulator{gateway: gateway, notifier: notifier, logger: logger}
}

// Click sends one simulation request with the button's data and reports the
// outcome through the notifier.
func (s *Simulator) Click(ctx context.Context, click domain.SimulateClick) {
	_, err := s.gateway.SimulateWebhook(ctx, payment.SimulateWebhookParams{
		OperationID: click.OperationID,
		Status:      click.Status,
		AmountBRL:   click.AmountBRL,
		AmountUSDT:  click.AmountUSDT,
	})
	if err != nil {
		s.logger.Printf("[Simulator] simulate %s for operation %s failed: %v", click.Status, click.OperationID, err)
		s.notifier.Notify(ctx, domain.Notification{
			Message: SimulationFailedMessage,
			Kind:    domain.NotifyDanger,
			Title:   SimulationFailedTitle,
		})
		return
	}

	s.logger.Printf("[Simulator] simulated %s for operation %s", click.Status, click.OperationID)
	s.notifier.Notify(ctx, domain.Notification{
		Message: SimulationSentMessage,
		Kind:    domain.NotifyInfo,
		Title:   SimulationSentTitle,
	})
}
