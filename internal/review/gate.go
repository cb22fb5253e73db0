// Package review implements the keep/retake decision gate: a captured frame
// is shown to the local user, who gets a bounded number of seconds to decide.
// The countdown is visible (ticked once per second) and expiry auto-resolves
// as keep.
package review

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Decision is the outcome of one review cycle.
type Decision int

const (
	Keep Decision = iota
	Retake
)

func (d Decision) String() string {
	if d == Retake {
		return "retake"
	}
	return "keep"
}

// Presenter is the presentation boundary of the gate. The gate calls it with
// direct references — it never looks up UI elements by name. The UI layer
// feeds the user's choice back through Gate.Keep/Gate.Retake.
type Presenter interface {
	// ShowReview displays the captured frame and the initial countdown value.
	ShowReview(img image.Image, remainingSec int)
	// Tick reports the countdown once per second.
	Tick(remainingSec int)
	// HideReview removes the review display; called on every resolution path.
	HideReview()
}

// ErrActive is returned when Review is called while a previous review cycle
// has not resolved. At most one gate cycle runs at a time.
var ErrActive = errors.New("review already in progress")

// Gate resolves exactly one Decision per Review call: either the explicit
// user choice or the timeout, whichever fires first. The loser path is
// cancelled and no timer survives resolution.
type Gate struct {
	clk     clock.Clock
	timeout time.Duration
	pres    Presenter

	mu      sync.Mutex
	pending chan Decision
}

// NewGate creates a gate with the given decision timeout. pres may be nil
// (headless operation: the timeout always resolves).
func NewGate(clk clock.Clock, timeout time.Duration, pres Presenter) *Gate {
	if clk == nil {
		clk = clock.New()
	}
	return &Gate{clk: clk, timeout: timeout, pres: pres}
}

// Review blocks until the frame is kept, retaken, timed out (⇒ keep) or the
// context is cancelled (⇒ keep, so an aborting sequence never hangs here).
func (g *Gate) Review(ctx context.Context, img image.Image) (Decision, error) {
	g.mu.Lock()
	if g.pending != nil {
		g.mu.Unlock()
		return Keep, ErrActive
	}
	pending := make(chan Decision, 1)
	g.pending = pending
	g.mu.Unlock()

	remaining := int(g.timeout / time.Second)
	if g.pres != nil {
		g.pres.ShowReview(img, remaining)
	}

	ticker := g.clk.Ticker(time.Second)
	timer := g.clk.Timer(g.timeout)
	defer func() {
		ticker.Stop()
		timer.Stop()
		g.mu.Lock()
		g.pending = nil
		g.mu.Unlock()
		if g.pres != nil {
			g.pres.HideReview()
		}
	}()

	for {
		select {
		case d := <-pending:
			return d, nil
		case <-timer.C:
			return Keep, nil
		case <-ctx.Done():
			return Keep, ctx.Err()
		case <-ticker.C:
			if remaining > 0 {
				remaining--
			}
			if g.pres != nil {
				g.pres.Tick(remaining)
			}
		}
	}
}

// Keep resolves the pending review as keep. A call with no review in
// flight, or after resolution, is ignored.
func (g *Gate) Keep() { g.resolve(Keep) }

// Retake resolves the pending review as retake.
func (g *Gate) Retake() { g.resolve(Retake) }

func (g *Gate) resolve(d Decision) {
	g.mu.Lock()
	pending := g.pending
	g.mu.Unlock()
	if pending == nil {
		return
	}
	select {
	case pending <- d:
	default:
		// already resolved; only the first decision counts
	}
}
