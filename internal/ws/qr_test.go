package ws

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/kamipay/relay/internal/domain"
	"github.com/kamipay/relay/internal/middleware"
	"github.com/kamipay/relay/internal/service"
	"github.com/kamipay/relay/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	mu    sync.Mutex
	state string
	polls int
}

func (c *stubChecker) setState(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *stubChecker) pollCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

func (c *stubChecker) Poll(context.Context, string) (*payment.PollResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	return &payment.PollResult{State: c.state}, nil
}

func (c *stubChecker) Status(context.Context, string) (*payment.StatusResult, error) {
	return &payment.StatusResult{Status: "ok", Data: &payment.StatusData{Status: domain.DraftState}}, nil
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type testRelay struct {
	url     string
	tokens  *service.MountTokens
	clock   fakeClock
	qr      *QRHandler
	checker *stubChecker
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	fc := clockwork.NewFakeClock()
	checker := &stubChecker{state: domain.DraftState}
	tokens := service.NewMountTokens("0123456789abcdef0123456789abcdef", time.Hour, nil)
	qr := NewQRHandler(checker, service.WatcherOptions{Clock: fc})

	r := chi.NewRouter()
	r.With(middleware.MountToken(tokens)).Get("/ws/kamipay/qr", qr.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		qr.Close()
		srv.Close()
	})

	return &testRelay{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/kamipay/qr",
		tokens:  tokens,
		clock:   fc,
		qr:      qr,
		checker: checker,
	}
}

func (tr *testRelay) dial(t *testing.T, mount domain.MountRequest) *websocket.Conn {
	t.Helper()
	tok, err := tr.tokens.Issue(&mount)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(tr.url+"?token="+tok.Token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestQRHandler_NavigatesWhenTransactionResolves(t *testing.T) {
	tr := newTestRelay(t)
	conn := tr.dial(t, domain.MountRequest{TxID: "T1", Reference: "REF1"})

	mounted := readMessage(t, conn)
	assert.Equal(t, MessageMounted, mounted.Type)
	assert.Equal(t, domain.WatcherWatching, mounted.State)
	assert.Equal(t, 1, tr.qr.Active())

	tr.clock.Advance(domain.DefaultPollInterval)
	require.Eventually(t, func() bool { return tr.checker.pollCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	tr.checker.setState("done")
	tr.clock.Advance(domain.DefaultPollInterval)

	nav := readMessage(t, conn)
	assert.Equal(t, MessageNavigate, nav.Type)
	assert.Equal(t, domain.IntentResolved, nav.Intent)
	assert.Equal(t, "/payment/status", nav.URL)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	require.Eventually(t, func() bool { return tr.qr.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestQRHandler_ExpiryNavigatesToReturnPage(t *testing.T) {
	tr := newTestRelay(t)
	conn := tr.dial(t, domain.MountRequest{TxID: "T2", Reference: "REF2"})
	readMessage(t, conn)

	tr.clock.Advance(domain.DefaultQRExpiry)

	nav := readMessage(t, conn)
	assert.Equal(t, domain.IntentExpired, nav.Intent)
	assert.Equal(t, "/payment/kamipay/return?expired=1&reference=REF2", nav.URL)
}

func TestQRHandler_IdleWithoutTransaction(t *testing.T) {
	tr := newTestRelay(t)
	conn := tr.dial(t, domain.MountRequest{})

	mounted := readMessage(t, conn)
	assert.Equal(t, domain.WatcherIdle, mounted.State)

	tr.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, tr.checker.pollCount())
}

func TestQRHandler_PageCloseTearsDownWatcher(t *testing.T) {
	tr := newTestRelay(t)
	conn := tr.dial(t, domain.MountRequest{TxID: "T3", Reference: "REF3"})
	readMessage(t, conn)
	require.Equal(t, 1, tr.qr.Active())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return tr.qr.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	tr.clock.Advance(domain.DefaultQRExpiry)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, tr.checker.pollCount())
}

func TestQRHandler_RejectsBadToken(t *testing.T) {
	tr := newTestRelay(t)

	_, resp, err := websocket.DefaultDialer.Dial(tr.url+"?token=forged", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(tr.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

type brokenConn struct {
	mu     sync.Mutex
	writes int
}

func (c *brokenConn) SetWriteDeadline(time.Time) error { return nil }

func (c *brokenConn) WriteJSON(any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	return errors.New("broken pipe")
}

func (c *brokenConn) WriteControl(int, []byte, time.Time) error { return nil }

func TestQRHandler_MountedFrameFailureTearsDownWatcher(t *testing.T) {
	var logs bytes.Buffer
	fc := clockwork.NewFakeClock()
	checker := &stubChecker{state: "done"}
	qr := NewQRHandler(checker, service.WatcherOptions{Clock: fc, Logger: log.New(&logs, "", 0)})

	conn := &brokenConn{}
	sock := &socket{conn: conn}
	watcher := service.NewWatcher(checker, sock, qr.opts)

	ok := qr.start(context.Background(), watcher, sock, domain.QRMount{TxID: "T9", Reference: "REF9"})
	assert.False(t, ok)
	assert.Equal(t, domain.WatcherTerminated, watcher.State())
	assert.Contains(t, logs.String(), "mounted frame failed")

	fc.Advance(domain.DefaultQRExpiry)
	watcher.Wait()
	assert.Zero(t, checker.pollCount())
	_, navigated := watcher.Intent()
	assert.False(t, navigated)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, 1, conn.writes)
}
