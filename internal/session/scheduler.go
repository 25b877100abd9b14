package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// DefaultRefreshLead is how long before expiry a renewal is attempted.
const DefaultRefreshLead = 5 * time.Minute

type Refresher interface {
	RefreshAccessToken(ctx context.Context) (string, error)
}

// RefreshScheduler renews the access token ahead of its expiry. At most one
// renewal is pending at any time; arming with a new token cancels the old
// one first.
type RefreshScheduler struct {
	refresher Refresher
	clock     clockwork.Clock
	lead      time.Duration
	logger    *logrus.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancelCtx   context.CancelFunc
	timer       clockwork.Timer
	generation  uint64
	stopped     bool
	unsubscribe func()
}

func NewRefreshScheduler(refresher Refresher, clock clockwork.Clock, lead time.Duration, logger *logrus.Logger) *RefreshScheduler {
	if lead <= 0 {
		lead = DefaultRefreshLead
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RefreshScheduler{
		refresher: refresher,
		clock:     clock,
		lead:      lead,
		logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}
}

// Start follows the store's access token until Stop is called. Renewals
// run under ctx.
func (r *RefreshScheduler) Start(ctx context.Context, store *Store) {
	r.mu.Lock()
	r.cancelCtx()
	r.ctx, r.cancelCtx = context.WithCancel(ctx)
	r.stopped = false
	r.mu.Unlock()

	unsubscribe := store.Subscribe(r.Arm)

	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	r.Arm(store.AccessToken())
}

// Arm replaces any pending renewal with one for token. A token with less
// than the lead time left is renewed right away.
func (r *RefreshScheduler) Arm(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelLocked()
	if token == "" || r.stopped {
		return
	}

	remaining := time.Duration(RemainingSeconds(token, r.clock.Now())) * time.Second
	generation := r.generation

	if remaining < r.lead {
		r.logger.WithField("remaining", remaining).Debug("Access token inside refresh window, refreshing now")
		go r.fire(generation)
		return
	}

	delay := remaining - r.lead
	r.timer = r.clock.AfterFunc(delay, func() { r.fire(generation) })
	r.logger.WithField("in", delay).Debug("Scheduled access token refresh")
}

// Cancel drops the pending renewal, if any.
func (r *RefreshScheduler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

// Stop cancels the pending renewal and stops following the store.
func (r *RefreshScheduler) Stop() {
	r.mu.Lock()
	r.cancelLocked()
	r.stopped = true
	r.cancelCtx()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (r *RefreshScheduler) cancelLocked() {
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// fire is a no-op when the renewal it belongs to has been cancelled.
func (r *RefreshScheduler) fire(generation uint64) {
	r.mu.Lock()
	if generation != r.generation {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	ctx := r.ctx
	r.mu.Unlock()

	if _, err := r.refresher.RefreshAccessToken(ctx); err != nil {
		r.logger.WithError(err).Warn("Scheduled token refresh failed")
	}
}
