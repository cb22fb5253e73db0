// Package booth drives the capture sequence: countdown → capture → review
// per pose, retrying on retake, until the layout's frame count is reached,
// then hands the kept frames to the compositor.
package booth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/petervdpas/bloomstrip/internal/config"
	"github.com/petervdpas/bloomstrip/internal/frame"
	"github.com/petervdpas/bloomstrip/internal/review"
	"github.com/petervdpas/bloomstrip/internal/strip"
)

// State is the sequencer's observable phase.
type State int

const (
	StateIdle State = iota
	StateCountingDown
	StateCapturing
	StateReviewing
	StateAdvancing
	StateCompositing
	StateDone
	StateAborted
)

var (
	// ErrPeerNotConnected is returned when a paired sequence is started
	// before the peer session reports an active connection. The sequencer
	// takes no action in that case.
	ErrPeerNotConnected = errors.New("peer not connected")

	// ErrCaptureFailed aborts the whole sequence when a pose capture
	// produces no frame. A clear restart beats a silent partial strip.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrCompositeFailed aborts when the final strip cannot be rendered.
	// No partial output is ever delivered.
	ErrCompositeFailed = errors.New("composite failed")
)

// Gate is the review decision surface the sequencer needs. review.Gate
// satisfies it; tests script decisions through a fake.
type Gate interface {
	Review(ctx context.Context, img image.Image) (review.Decision, error)
}

// Presenter receives the user-visible side effects of the sequence. All
// methods may be called from the sequencer goroutine only.
type Presenter interface {
	// Countdown shows a countdown step label for the given pose.
	Countdown(pose int, label string)
	// Flash fires the shutter flash effect.
	Flash()
	// SetBusy toggles the back/cancel affordance: disabled while a pose
	// capture is in flight, re-enabled between poses and after the
	// sequence ends.
	SetBusy(busy bool)
}

// Options wires a Sequencer. Local is required; Remote and Connected are
// required in paired mode.
type Options struct {
	Session config.Session
	Layout  strip.Layout

	Local  frame.Source
	Remote frame.Source

	// Connected reports whether the peer session currently has an active
	// media connection. The sequencer only ever observes this boolean,
	// never raw transport errors.
	Connected func() bool

	Gate       Gate
	Compositor *strip.Compositor
	Presenter  Presenter
	Clock      clock.Clock

	OnCompleted func(*image.RGBA)
	OnCancelled func()
}

// Sequencer runs one photo strip sequence. Poses are strictly sequential;
// at most one review gate is active at a time.
type Sequencer struct {
	opts Options
	clk  clock.Clock
	filt frame.Filter

	mu      sync.Mutex
	state   State
	running bool
}

func NewSequencer(opts Options) (*Sequencer, error) {
	if opts.Local == nil {
		return nil, errors.New("sequencer: local source is required")
	}
	if opts.Gate == nil {
		return nil, errors.New("sequencer: review gate is required")
	}
	if opts.Compositor == nil {
		return nil, errors.New("sequencer: compositor is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Sequencer{
		opts: opts,
		clk:  clk,
		filt: frame.ByID(opts.Session.FilterID),
	}, nil
}

// State returns the current sequencer phase.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CancelAllowed reports whether the back/cancel affordance is currently
// enabled. It is false for the duration of a running sequence.
func (s *Sequencer) CancelAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

// Run executes the full sequence and returns the composited strip. On
// cancellation it calls OnCancelled and returns the context error; on
// success it calls OnCompleted with the final image.
func (s *Sequencer) Run(ctx context.Context) (*image.RGBA, error) {
	if s.opts.Session.Mode == config.ModePaired {
		if s.opts.Connected == nil || !s.opts.Connected() {
			return nil, ErrPeerNotConnected
		}
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, errors.New("sequencer: already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.opts.Presenter != nil {
		s.opts.Presenter.SetBusy(true)
	}
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if s.opts.Presenter != nil {
			s.opts.Presenter.SetBusy(false)
		}
	}()

	required := s.opts.Layout.FrameCount()
	kept := make([]*frame.Frame, 0, required)

	for len(kept) < required {
		pose := len(kept) + 1
		log.Printf("SEQ: pose %d/%d", pose, required)

		s.setState(StateCountingDown)
		if err := s.runCountdown(ctx, pose); err != nil {
			return s.abort(err)
		}

		s.setState(StateCapturing)
		f, err := s.captureFrame(pose)
		if err != nil {
			log.Printf("SEQ: pose %d capture error: %v", pose, err)
			s.setState(StateAborted)
			return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}

		s.setState(StateReviewing)
		decision, err := s.opts.Gate.Review(ctx, f.Img)
		if err != nil {
			return s.abort(err)
		}
		if decision == review.Keep {
			kept = append(kept, f)
			s.setState(StateAdvancing)
		}
		// retake repeats the same pose number
	}

	s.setState(StateCompositing)
	final, err := s.opts.Compositor.Compose(kept, s.opts.Layout)
	if err != nil {
		s.setState(StateAborted)
		return nil, fmt.Errorf("%w: %v", ErrCompositeFailed, err)
	}

	s.setState(StateDone)
	if s.opts.OnCompleted != nil {
		s.opts.OnCompleted(final)
	}
	return final, nil
}

// countdownStep is one timed label of the pre-capture countdown.
type countdownStep struct {
	label string
	wait  time.Duration
}

func countdownSteps(pose int) []countdownStep {
	return []countdownStep{
		{fmt.Sprintf("Pose %d", pose), 1500 * time.Millisecond},
		{"3", time.Second},
		{"2", time.Second},
		{"1", time.Second},
		{"Smile!", time.Second},
	}
}

func (s *Sequencer) runCountdown(ctx context.Context, pose int) error {
	for _, step := range countdownSteps(pose) {
		if s.opts.Presenter != nil {
			s.opts.Presenter.Countdown(pose, step.label)
		}
		if err := s.sleep(ctx, step.wait); err != nil {
			return err
		}
	}
	if s.opts.Presenter != nil {
		s.opts.Presenter.Flash()
	}
	if err := s.sleep(ctx, 500*time.Millisecond); err != nil {
		return err
	}
	// settle so the flash is gone before the grab
	return s.sleep(ctx, 500*time.Millisecond)
}

// captureFrame maps the pose to its source(s). In paired quad-grid, odd
// poses capture the local participant and even poses the remote one; other
// paired layouts capture one combined dual-subject frame per pose.
func (s *Sequencer) captureFrame(pose int) (*frame.Frame, error) {
	target := s.opts.Layout.AspectRatio()

	if s.opts.Session.Mode == config.ModePaired {
		if s.opts.Layout == strip.LayoutQuadGrid {
			if pose%2 == 0 {
				if s.opts.Remote == nil {
					return nil, frame.ErrSourceNotReady
				}
				img, err := frame.Capture(s.opts.Remote, target, false, s.filt)
				if err != nil {
					return nil, err
				}
				return &frame.Frame{Img: img, Origin: frame.OriginRemote, Pose: pose}, nil
			}
		} else {
			if s.opts.Remote == nil {
				return nil, frame.ErrSourceNotReady
			}
			// Each subject covers half the slot width.
			img, err := frame.CaptureDual(s.opts.Local, s.opts.Remote, target/2, s.filt)
			if err != nil {
				return nil, err
			}
			return &frame.Frame{Img: img, Origin: frame.OriginDual, Pose: pose}, nil
		}
	}

	img, err := frame.Capture(s.opts.Local, target, true, s.filt)
	if err != nil {
		return nil, err
	}
	return &frame.Frame{Img: img, Origin: frame.OriginLocal, Pose: pose}, nil
}

func (s *Sequencer) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sequencer) abort(err error) (*image.RGBA, error) {
	s.setState(StateAborted)
	if errors.Is(err, context.Canceled) && s.opts.OnCancelled != nil {
		s.opts.OnCancelled()
	}
	return nil, err
}

func (s *Sequencer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
