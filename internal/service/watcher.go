package service

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kamipay/relay/internal/domain"
	"github.com/kamipay/relay/pkg/payment"
)

// ErrAlreadyMounted is returned when Mount is called on a watcher that has
// already been mounted.
var ErrAlreadyMounted = errors.New("watcher already mounted")

// TransactionChecker reads the state of a pending transaction from the shop.
type TransactionChecker interface {
	Poll(ctx context.Context, txID string) (*payment.PollResult, error)
	Status(ctx context.Context, txID string) (*payment.StatusResult, error)
}

// Navigator performs a navigation on the page that mounted a watcher.
type Navigator interface {
	Navigate(ctx context.Context, intent domain.Intent) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, intent domain.Intent) error

func (f NavigatorFunc) Navigate(ctx context.Context, intent domain.Intent) error {
	return f(ctx, intent)
}

// WatcherOptions configures a Watcher. Zero values fall back to the defaults.
type WatcherOptions struct {
	PollInterval time.Duration
	Expiry       time.Duration
	Clock        clockwork.Clock
	Logger       *log.Logger
}

// Watcher follows one pending QR payment until the shop reports a state other
// than draft or the QR code expires.
//
// A watcher owns exactly one poll ticker and one expiry timer while watching.
// Both are released together on every terminal transition and on Destroy, and
// at most one navigation is ever issued.
type Watcher struct {
	id           string
	checker      TransactionChecker
	nav          Navigator
	clock        clockwork.Clock
	logger       *log.Logger
	pollInterval time.Duration
	expiry       time.Duration

	mu      sync.Mutex
	state   domain.WatcherState
	mounted bool
	mount   domain.QRMount
	ticker  clockwork.Ticker
	timer   clockwork.Timer
	cancel  context.CancelFunc
	intent  *domain.Intent
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates an idle watcher.
func NewWatcher(checker TransactionChecker, nav Navigator, opts WatcherOptions) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = domain.DefaultPollInterval
	}
	if opts.Expiry <= 0 {
		opts.Expiry = domain.DefaultQRExpiry
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Watcher{
		id:           uuid.New().String(),
		checker:      checker,
		nav:          nav,
		clock:        opts.Clock,
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		expiry:       opts.Expiry,
		state:        domain.WatcherIdle,
		done:         make(chan struct{}),
	}
}

// ID returns the watcher's unique id.
func (w *Watcher) ID() string { return w.id }

// State returns the current lifecycle state.
func (w *Watcher) State() domain.WatcherState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Intent returns the navigation issued by the watcher, if any.
func (w *Watcher) Intent() (domain.Intent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.intent == nil {
		return domain.Intent{}, false
	}
	return *w.intent, true
}

// Done is closed once the watcher is terminated.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Mount reads the container data and starts watching when a transaction id is
// present. Without one the watcher stays idle and never calls the shop.
// Cancelling ctx tears the watcher down.
func (w *Watcher) Mount(ctx context.Context, m domain.QRMount) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mounted || w.state != domain.WatcherIdle {
		return ErrAlreadyMounted
	}
	w.mounted = true
	w.mount = m
	if m.TxID == "" {
		w.logger.Printf("[Watcher] %s mounted without transaction, staying idle", w.id)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.timer = w.clock.NewTimer(w.expiry)
	w.ticker = w.clock.NewTicker(w.pollInterval)
	w.state = domain.WatcherWatching

	w.wg.Add(1)
	go w.run(runCtx, w.ticker.Chan(), w.timer.Chan())

	w.logger.Printf("[Watcher] %s watching tx %s (ref %s), poll every %s, expires in %s",
		w.id, m.TxID, m.Reference, w.pollInterval, w.expiry)
	return nil
}

// Destroy stops the watcher without navigating. It is safe to call more than
// once and after a terminal transition.
func (w *Watcher) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.releaseTimersLocked()
	if w.state == domain.WatcherTerminated {
		return
	}
	w.state = domain.WatcherTerminated
	close(w.done)
}

// Wait blocks until the run loop and every in-flight check have returned.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context, ticks, expiry <-chan time.Time) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.Destroy()
			return
		case <-ticks:
			w.wg.Add(1)
			go w.poll(ctx)
		case <-expiry:
			expiry = nil
			w.wg.Add(1)
			go w.expire(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer w.wg.Done()
	if w.State() != domain.WatcherWatching {
		return
	}

	res, err := w.checker.Poll(ctx, w.mount.TxID)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Printf("[Watcher] %s error checking local transaction status: %v", w.id, err)
		}
		return
	}
	if !PollResolved(res) {
		return
	}

	w.logger.Printf("[Watcher] %s tx %s left draft (state %q)", w.id, w.mount.TxID, res.State)
	w.finish(ctx, domain.Resolved())
}

func (w *Watcher) expire(ctx context.Context) {
	defer w.wg.Done()
	if w.State() != domain.WatcherWatching {
		return
	}

	res, err := w.checker.Status(ctx, w.mount.TxID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Printf("[Watcher] %s error handling expiry: %v", w.id, err)
	}
	w.finish(ctx, FinalIntent(res, err, w.mount.Reference))
}

// finish performs the terminal transition and navigates, unless another
// transition already happened.
func (w *Watcher) finish(ctx context.Context, intent domain.Intent) {
	w.mu.Lock()
	if w.state != domain.WatcherWatching {
		w.mu.Unlock()
		return
	}
	w.releaseTimersLocked()
	w.state = domain.WatcherTerminated
	w.intent = &intent
	close(w.done)
	w.mu.Unlock()

	w.logger.Printf("[Watcher] %s navigating to %s (%s)", w.id, intent.URL(), intent.Kind)
	if err := w.nav.Navigate(context.WithoutCancel(ctx), intent); err != nil {
		w.logger.Printf("[Watcher] %s navigation failed: %v", w.id, err)
	}
}

func (w *Watcher) releaseTimersLocked() {
	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

// PollResolved reports whether a poll result shows a state other than draft.
// Absent results and empty states count as still pending.
func PollResolved(res *payment.PollResult) bool {
	return res != nil && res.State != "" && res.State != domain.DraftState
}

// FinalIntent maps the outcome of the final status check to a navigation.
// A failed check falls back to the shop payment page; only an ok response with
// a non-draft status is treated as resolved, anything else expires the QR code.
func FinalIntent(res *payment.StatusResult, err error, reference string) domain.Intent {
	if err != nil {
		return domain.Fallback()
	}
	if res != nil && res.Status == payment.StatusOK && res.Data != nil &&
		res.Data.Status != "" && res.Data.Status != domain.DraftState {
		return domain.Resolved()
	}
	return domain.Expired(reference)
}
