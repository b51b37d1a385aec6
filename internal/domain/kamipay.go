package domain

import (
	"net/url"
	"time"
)

// DraftState is the transaction state the shop reports while a payment is still
// pending. Any other state value means the transaction has been resolved.
const DraftState = "draft"

// Default watcher timings.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultQRExpiry     = 10 * time.Minute
)

// Navigation targets.
const (
	PaymentStatusPage = "/payment/status"
	ReturnPage        = "/payment/kamipay/return"
	ShopPaymentPage   = "/shop/payment"
)

// IntentKind enumerates the terminal outcomes of a transaction watcher.
type IntentKind string

const (
	IntentResolved IntentKind = "resolved"
	IntentExpired  IntentKind = "expired"
	IntentFallback IntentKind = "fallback"
)

// Intent is a navigation the page should perform once a watcher terminates.
type Intent struct {
	Kind      IntentKind `json:"intent"`
	Reference string     `json:"reference,omitempty"`
}

// Resolved returns the intent for a transaction that left the draft state.
func Resolved() Intent { return Intent{Kind: IntentResolved} }

// Expired returns the intent for a QR code that expired while still pending.
func Expired(reference string) Intent {
	return Intent{Kind: IntentExpired, Reference: reference}
}

// Fallback returns the intent used when the final status check failed.
func Fallback() Intent { return Intent{Kind: IntentFallback} }

// URL returns the page the browser should be sent to.
func (i Intent) URL() string {
	switch i.Kind {
	case IntentResolved:
		return PaymentStatusPage
	case IntentExpired:
		q := url.Values{}
		q.Set("expired", "1")
		q.Set("reference", i.Reference)
		return ReturnPage + "?" + q.Encode()
	default:
		return ShopPaymentPage
	}
}

// WatcherState is the lifecycle state of a transaction watcher.
type WatcherState string

const (
	WatcherIdle       WatcherState = "idle"
	WatcherWatching   WatcherState = "watching"
	WatcherTerminated WatcherState = "terminated"
)

// QRMount holds the data attributes of a QR container element.
type QRMount struct {
	TxID      string `json:"tx_id"`
	Reference string `json:"reference"`
}

// MountRequest is the input for issuing a QR mount token.
type MountRequest struct {
	TxID      string `json:"tx_id" validate:"omitempty,max=64"`
	Reference string `json:"reference" validate:"required_with=TxID,max=128"`
}

// MountTokenResponse carries a signed mount token.
type MountTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SimulateClick holds the data attributes of a simulate button. The values are
// forwarded to the shop as-is.
type SimulateClick struct {
	Status      string `json:"status"`
	OperationID string `json:"operationId"`
	AmountBRL   string `json:"amountBrl"`
	AmountUSDT  string `json:"amountUsdt"`
}

// NotificationKind mirrors the page notification types.
type NotificationKind string

const (
	NotifyInfo   NotificationKind = "info"
	NotifyDanger NotificationKind = "danger"
)

// Notification is a transient message shown on the page.
type Notification struct {
	Message string           `json:"message"`
	Kind    NotificationKind `json:"type"`
	Title   string           `json:"title"`
	Sticky  bool             `json:"sticky"`
}
