package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kamipay/relay/internal/domain"
	"github.com/kamipay/relay/internal/middleware"
	"github.com/kamipay/relay/internal/service"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the HTTP level; the mount token authorizes
	},
}

// Message is a frame sent from the relay to a QR container page.
type Message struct {
	Type   string              `json:"type"`
	State  domain.WatcherState `json:"state,omitempty"`
	Intent domain.IntentKind   `json:"intent,omitempty"`
	URL    string              `json:"url,omitempty"`
}

// Message types.
const (
	MessageMounted  = "mounted"
	MessageNavigate = "navigate"
)

// QRHandler mounts a transaction watcher for each connected QR container and
// forwards its navigation to the page.
type QRHandler struct {
	checker service.TransactionChecker
	opts    service.WatcherOptions
	logger  *log.Logger

	mu       sync.Mutex
	watchers map[string]*service.Watcher
	closed   bool
}

// NewQRHandler creates a new QRHandler.
func NewQRHandler(checker service.TransactionChecker, opts service.WatcherOptions) *QRHandler {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &QRHandler{
		checker:  checker,
		opts:     opts,
		logger:   opts.Logger,
		watchers: make(map[string]*service.Watcher),
	}
}

// Handle upgrades HTTP to WebSocket and runs a watcher until it navigates or
// the page goes away.
// URL: /ws/kamipay/qr?token=MOUNT_TOKEN (verified by middleware.MountToken)
func (h *QRHandler) Handle(w http.ResponseWriter, r *http.Request) {
	mount, ok := middleware.MountFromContext(r.Context())
	if !ok {
		http.Error(w, "mount token required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[QR] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sock := &socket{conn: conn}
	watcher := service.NewWatcher(h.checker, sock, h.opts)
	if !h.add(watcher) {
		sock.close(websocket.CloseGoingAway, "shutting down")
		return
	}
	defer h.remove(watcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !h.start(ctx, watcher, sock, mount) {
		return
	}

	// The page never sends anything; reading detects when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-watcher.Done():
		// Let the terminal check finish writing its navigation first.
		watcher.Wait()
		sock.close(websocket.CloseNormalClosure, "done")
	case <-gone:
		watcher.Destroy()
		watcher.Wait()
	}
}

// start mounts the watcher and announces it to the page. A watcher whose page
// cannot be reached is torn down before it polls.
func (h *QRHandler) start(ctx context.Context, watcher *service.Watcher, sock *socket, mount domain.QRMount) bool {
	if err := watcher.Mount(ctx, mount); err != nil {
		h.logger.Printf("[QR] mount failed: %v", err)
		return false
	}
	if err := sock.send(Message{Type: MessageMounted, State: watcher.State()}); err != nil {
		h.logger.Printf("[QR] mounted frame failed for %s: %v", watcher.ID(), err)
		watcher.Destroy()
		watcher.Wait()
		return false
	}
	return true
}

// Active implements handler.WatcherCounter.
func (h *QRHandler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

// Close tears down every mounted watcher and refuses new ones.
func (h *QRHandler) Close() {
	h.mu.Lock()
	h.closed = true
	watchers := make([]*service.Watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		watchers = append(watchers, w)
	}
	h.mu.Unlock()

	for _, w := range watchers {
		w.Destroy()
	}
}

func (h *QRHandler) add(w *service.Watcher) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.watchers[w.ID()] = w
	return true
}

func (h *QRHandler) remove(w *service.Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers, w.ID())
}

// socket serializes writes to one websocket connection and acts as the
// watcher's navigator.
type socket struct {
	mu   sync.Mutex
	conn frameConn
}

// frameConn is the write side of *websocket.Conn.
type frameConn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

func (s *socket) Navigate(_ context.Context, intent domain.Intent) error {
	return s.send(Message{Type: MessageNavigate, Intent: intent.Kind, URL: intent.URL()})
}

func (s *socket) send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *socket) close(code int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
