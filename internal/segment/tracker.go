package segment

import (
	"context"
	"sync"
)

/*
 * Estimate conflation.
 *
 * Each tree submitted to a Tracker gets the next version number. Submitting
 * a newer tree cancels the context of the one in flight, and whatever the
 * older estimation returns afterwards is dropped: the retained result always
 * belongs to the newest tree (last tree wins, not last response wins).
 */

// Result is a finished estimation tagged with the version it was issued for.
type Result struct {
	Version  uint64
	Estimate Estimate
	Err      error
}

// Tracker conflates estimations for successive versions of one tree.
type Tracker struct {
	est       Estimator
	onResult  func(Result)
	onDiscard func(version uint64)

	mu      sync.Mutex
	version uint64
	cancel  context.CancelFunc
	latest  Result
	hasLast bool
	wg      sync.WaitGroup
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// OnResult is called with each result that is still current when it arrives.
func OnResult(fn func(Result)) TrackerOption {
	return func(t *Tracker) { t.onResult = fn }
}

// OnDiscard is called with the version of each result dropped as stale.
func OnDiscard(fn func(version uint64)) TrackerOption {
	return func(t *Tracker) { t.onDiscard = fn }
}

func NewTracker(est Estimator, opts ...TrackerOption) *Tracker {
	t := &Tracker{est: est}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Submit starts estimating tree in the background and returns its version.
// Any estimation still running for an older version is cancelled.
func (t *Tracker) Submit(ctx context.Context, tree *Group) uint64 {
	ctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.version++
	v := t.version
	t.cancel = cancel
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer cancel()
		est, err := t.est.Estimate(ctx, tree)
		t.deliver(Result{Version: v, Estimate: est, Err: err})
	}()
	return v
}

func (t *Tracker) deliver(r Result) {
	t.mu.Lock()
	if r.Version != t.version {
		t.mu.Unlock()
		if t.onDiscard != nil {
			t.onDiscard(r.Version)
		}
		return
	}
	t.latest = r
	t.hasLast = true
	t.cancel = nil
	t.mu.Unlock()

	if t.onResult != nil {
		t.onResult(r)
	}
}

// Version returns the version of the most recently submitted tree.
func (t *Tracker) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Latest returns the result for the newest tree, if it has arrived.
func (t *Tracker) Latest() (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasLast || t.latest.Version != t.version {
		return Result{}, false
	}
	return t.latest, true
}

// Wait blocks until every submitted estimation has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Close cancels the estimation in flight and waits for it to return.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()
	t.wg.Wait()
}
