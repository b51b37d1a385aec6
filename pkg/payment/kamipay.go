package payment

import (
	"context"
	"encoding/json"
	"net/url"
)

// Shop routes used by the KamiPay checkout pages.
const (
	SimulateWebhookPath = "/payment/kamipay/test/simulate_webhook"
	PollPathPrefix      = "/payment/kamipay/poll/"
	StatusPath          = "/payment/kamipay/status"
)

// StatusOK is the overall status the final status check reports on success.
const StatusOK = "ok"

// SimulateWebhookParams is the body of a webhook simulation call.
type SimulateWebhookParams struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
	AmountBRL   string `json:"amount_brl"`
	AmountUSDT  string `json:"amount_usdt"`
}

// SimulateWebhookResult is returned by the shop once the emulator accepted the
// simulated webhook.
type SimulateWebhookResult struct {
	Status          string `json:"status"`
	SimulationStart string `json:"simulation_start"`
}

// PollResult is the locally stored state of a transaction. Other members of
// the shop's answer (state_message, error) are not decoded; the shop sends
// empty char fields as false.
type PollResult struct {
	State string `json:"state"`
}

// StatusResult is the provider-side status of a transaction.
type StatusResult struct {
	Status string      `json:"status"`
	Data   *StatusData `json:"data"`
}

// StatusData is the data member of a StatusResult.
type StatusData struct {
	Status string `json:"status"`
}

// KamiPay types the shop's KamiPay routes on top of a Caller.
type KamiPay struct {
	caller Caller
}

// NewKamiPay creates a KamiPay endpoint set.
func NewKamiPay(caller Caller) *KamiPay {
	return &KamiPay{caller: caller}
}

// SimulateWebhook asks the shop to push a test webhook for an operation.
func (k *KamiPay) SimulateWebhook(ctx context.Context, params SimulateWebhookParams) (*SimulateWebhookResult, error) {
	var raw json.RawMessage
	if err := k.caller.Call(ctx, SimulateWebhookPath, params, &raw); err != nil {
		return nil, err
	}
	return decodeResult[SimulateWebhookResult](raw), nil
}

// Poll returns the transaction's local state. A nil result means the shop
// answered with no value or with something other than an object.
func (k *KamiPay) Poll(ctx context.Context, txID string) (*PollResult, error) {
	var raw json.RawMessage
	if err := k.caller.Call(ctx, PollPathPrefix+url.PathEscape(txID), struct{}{}, &raw); err != nil {
		return nil, err
	}
	return decodeResult[PollResult](raw), nil
}

// Status asks the shop to check the transaction with the provider. An answer
// of an unexpected shape is returned as a nil result, not as an error: the
// call itself succeeded.
func (k *KamiPay) Status(ctx context.Context, txID string) (*StatusResult, error) {
	var raw json.RawMessage
	params := map[string]string{"tx_id": txID}
	if err := k.caller.Call(ctx, StatusPath, params, &raw); err != nil {
		return nil, err
	}
	return decodeResult[StatusResult](raw), nil
}

// decodeResult decodes a route result, yielding nil for null, missing or
// mistyped values.
func decodeResult[T any](raw json.RawMessage) *T {
	if len(raw) == 0 {
		return nil
	}
	var out *T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
