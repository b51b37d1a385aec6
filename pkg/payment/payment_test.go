package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Path    string
	Request map[string]json.RawMessage
	Params  map[string]any
	Header  http.Header
}

type callLog struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (l *callLog) add(c recordedCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) all() []recordedCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedCall(nil), l.calls...)
}

// newFakeShop serves the KamiPay JSON routes with the given results keyed by path.
func newFakeShop(t *testing.T, results map[string]string) (*httptest.Server, *callLog) {
	t.Helper()
	calls := &callLog{}

	r := chi.NewRouter()
	handle := func(w http.ResponseWriter, r *http.Request) {
		var req map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var params map[string]any
		require.NoError(t, json.Unmarshal(req["params"], &params))
		calls.add(recordedCall{Path: r.URL.Path, Request: req, Params: params, Header: r.Header.Clone()})

		w.Header().Set("Content-Type", "application/json")
		body, ok := results[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("<html>404</html>"))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req["id"]) + `,` + body + `}`))
	}
	r.Post("/payment/kamipay/test/simulate_webhook", handle)
	r.Post("/payment/kamipay/poll/{txID}", handle)
	r.Post("/payment/kamipay/status", handle)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestRPCClient_Envelope(t *testing.T) {
	srv, calls := newFakeShop(t, map[string]string{
		"/payment/kamipay/status": `"result":{"status":"ok","data":{"status":"done"}}`,
	})

	client := NewRPCClient(srv.URL+"/", WithHeader("X-Test", "yes"))
	var out StatusResult
	require.NoError(t, client.Call(context.Background(), StatusPath, map[string]string{"tx_id": "7"}, &out))

	assert.Equal(t, "ok", out.Status)
	require.NotNil(t, out.Data)
	assert.Equal(t, "done", out.Data.Status)

	require.Len(t, calls.all(), 1)
	call := calls.all()[0]
	assert.JSONEq(t, `"2.0"`, string(call.Request["jsonrpc"]))
	assert.JSONEq(t, `"call"`, string(call.Request["method"]))
	assert.NotEmpty(t, call.Request["id"])
	assert.Equal(t, "7", call.Params["tx_id"])
	assert.Equal(t, "yes", call.Header.Get("X-Test"))
	assert.Equal(t, "application/json", call.Header.Get("Content-Type"))
}

func TestRPCClient_ErrorMember(t *testing.T) {
	srv, _ := newFakeShop(t, map[string]string{
		SimulateWebhookPath: `"error":{"code":200,"message":"Odoo Server Error","data":{"name":"odoo.exceptions.ValidationError","message":"Test simulation is only available in test mode"}}`,
	})

	err := NewRPCClient(srv.URL).Call(context.Background(), SimulateWebhookPath, nil, nil)
	require.Error(t, err)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, 200, rpcErr.Code)
	assert.Equal(t, "Test simulation is only available in test mode", rpcErr.Detail)
}

func TestRPCClient_HTTPStatus(t *testing.T) {
	srv, _ := newFakeShop(t, map[string]string{})

	err := NewRPCClient(srv.URL).Call(context.Background(), StatusPath, nil, nil)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, http.StatusNotFound, rpcErr.HTTPStatus)
	assert.Contains(t, rpcErr.Error(), "http 404")
}

func TestRPCClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewRPCClient(url).Call(context.Background(), StatusPath, nil, nil)
	require.Error(t, err)
	var rpcErr *RPCError
	assert.False(t, errors.As(err, &rpcErr))
}

func TestRPCClient_CancelledContext(t *testing.T) {
	srv, _ := newFakeShop(t, map[string]string{StatusPath: `"result":null`})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRPCClient(srv.URL).Call(ctx, StatusPath, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKamiPay_Poll(t *testing.T) {
	srv, calls := newFakeShop(t, map[string]string{
		"/payment/kamipay/poll/12": `"result":{"state":"done","state_message":"Paid"}`,
		"/payment/kamipay/poll/13": `"result":null`,
		"/payment/kamipay/poll/14": `"result":{"state":"cancel","state_message":false}`,
		"/payment/kamipay/poll/15": `"result":false`,
		"/payment/kamipay/poll/16": `"result":{"error":"Transaction not found"}`,
	})
	kp := NewKamiPay(NewRPCClient(srv.URL))

	res, err := kp.Poll(context.Background(), "12")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "done", res.State)
	assert.Empty(t, calls.all()[0].Params)

	res, err = kp.Poll(context.Background(), "13")
	require.NoError(t, err)
	assert.Nil(t, res)

	// Odoo renders empty char fields as false.
	res, err = kp.Poll(context.Background(), "14")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "cancel", res.State)

	res, err = kp.Poll(context.Background(), "15")
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = kp.Poll(context.Background(), "16")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res.State)
}

func TestKamiPay_StatusOfUnexpectedShape(t *testing.T) {
	for name, result := range map[string]string{
		"false":           `"result":false`,
		"string":          `"result":"ok"`,
		"data not object": `"result":{"status":"ok","data":"done"}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv, _ := newFakeShop(t, map[string]string{StatusPath: result})

			st, err := NewKamiPay(NewRPCClient(srv.URL)).Status(context.Background(), "5")
			require.NoError(t, err)
			assert.True(t, st == nil || st.Data == nil)
		})
	}
}

func TestKamiPay_StatusAndSimulate(t *testing.T) {
	srv, calls := newFakeShop(t, map[string]string{
		StatusPath:          `"result":{"error":"Transaction not found"}`,
		SimulateWebhookPath: `"result":{"status":"ok","simulation_start":"2026-10-19T10:00:00+00:00"}`,
	})
	kp := NewKamiPay(NewRPCClient(srv.URL))

	st, err := kp.Status(context.Background(), "99")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Empty(t, st.Status)
	assert.Nil(t, st.Data)

	sim, err := kp.SimulateWebhook(context.Background(), SimulateWebhookParams{
		OperationID: "op-1", Status: "processing", AmountBRL: "10", AmountUSDT: "1.8",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", sim.Status)

	require.Len(t, calls.all(), 2)
	assert.Equal(t, map[string]any{
		"operation_id": "op-1",
		"status":       "processing",
		"amount_brl":   "10",
		"amount_usdt":  "1.8",
	}, calls.all()[1].Params)
}
