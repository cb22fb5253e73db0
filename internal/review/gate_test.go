package review

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type recordingPresenter struct {
	mu     sync.Mutex
	shown  int
	hidden int
	ticks  []int
}

func (p *recordingPresenter) ShowReview(_ image.Image, remainingSec int) {
	p.mu.Lock()
	p.shown++
	p.mu.Unlock()
}

func (p *recordingPresenter) Tick(remainingSec int) {
	p.mu.Lock()
	p.ticks = append(p.ticks, remainingSec)
	p.mu.Unlock()
}

func (p *recordingPresenter) HideReview() {
	p.mu.Lock()
	p.hidden++
	p.mu.Unlock()
}

func (p *recordingPresenter) snapshot() (int, int, []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown, p.hidden, append([]int(nil), p.ticks...)
}

func startReview(t *testing.T, g *Gate, ctx context.Context) chan Decision {
	t.Helper()
	out := make(chan Decision, 1)
	go func() {
		d, _ := g.Review(ctx, image.NewRGBA(image.Rect(0, 0, 1, 1)))
		out <- d
	}()
	// Let the review goroutine register its mock timers.
	time.Sleep(20 * time.Millisecond)
	return out
}

func TestGateExplicitKeep(t *testing.T) {
	mock := clock.NewMock()
	pres := &recordingPresenter{}
	g := NewGate(mock, 8*time.Second, pres)

	out := startReview(t, g, context.Background())
	g.Keep()

	if d := <-out; d != Keep {
		t.Fatalf("decision = %v, want keep", d)
	}
	shown, hidden, _ := pres.snapshot()
	if shown != 1 || hidden != 1 {
		t.Errorf("shown=%d hidden=%d, want 1/1", shown, hidden)
	}
}

func TestGateExplicitRetake(t *testing.T) {
	mock := clock.NewMock()
	g := NewGate(mock, 8*time.Second, nil)

	out := startReview(t, g, context.Background())
	g.Retake()

	if d := <-out; d != Retake {
		t.Fatalf("decision = %v, want retake", d)
	}
}

func TestGateTimeoutKeeps(t *testing.T) {
	mock := clock.NewMock()
	pres := &recordingPresenter{}
	g := NewGate(mock, 8*time.Second, pres)

	out := startReview(t, g, context.Background())
	mock.Add(8 * time.Second)

	if d := <-out; d != Keep {
		t.Fatalf("decision = %v, want keep on timeout", d)
	}
	_, hidden, _ := pres.snapshot()
	if hidden != 1 {
		t.Errorf("hidden=%d, want 1", hidden)
	}
}

func TestGateCountdownTicks(t *testing.T) {
	mock := clock.NewMock()
	pres := &recordingPresenter{}
	g := NewGate(mock, 8*time.Second, pres)

	out := startReview(t, g, context.Background())
	for i := 0; i < 3; i++ {
		mock.Add(time.Second)
		time.Sleep(10 * time.Millisecond)
	}
	g.Keep()
	<-out

	_, _, ticks := pres.snapshot()
	if len(ticks) != 3 || ticks[0] != 7 || ticks[2] != 5 {
		t.Errorf("ticks = %v, want [7 6 5]", ticks)
	}
}

func TestGateFirstDecisionWins(t *testing.T) {
	mock := clock.NewMock()
	g := NewGate(mock, 8*time.Second, nil)

	out := startReview(t, g, context.Background())
	g.Keep()
	g.Retake() // must not override

	if d := <-out; d != Keep {
		t.Fatalf("decision = %v, want the first decision (keep)", d)
	}

	// A stray decision after resolution is ignored entirely.
	g.Retake()
}

func TestGateRejectsConcurrentReview(t *testing.T) {
	mock := clock.NewMock()
	g := NewGate(mock, 8*time.Second, nil)

	out := startReview(t, g, context.Background())
	if _, err := g.Review(context.Background(), nil); !errors.Is(err, ErrActive) {
		t.Fatalf("second review err = %v, want ErrActive", err)
	}
	g.Keep()
	<-out
}

func TestGateContextCancel(t *testing.T) {
	mock := clock.NewMock()
	g := NewGate(mock, 8*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Review(ctx, nil)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The gate is reusable after cancellation.
	out := startReview(t, g, context.Background())
	g.Retake()
	if d := <-out; d != Retake {
		t.Fatalf("decision after reuse = %v, want retake", d)
	}
}
