// Package session manages the paired-mode peer session: one WebRTC
// connection to the partner booth, negotiated over the signaling relay.
// Coupling to the signaling layer is via the Signaler interface only.
package session

import (
	"context"
	"errors"

	"github.com/petervdpas/bloomstrip/internal/proto"
)

var (
	// ErrMediaUnavailable means no local camera could be opened. Paired
	// sessions refuse to start without local video.
	ErrMediaUnavailable = errors.New("local media unavailable")

	// ErrPeerUnavailable means the partner booth is not reachable through
	// the relay.
	ErrPeerUnavailable = errors.New("peer unavailable")

	// ErrSignalingDisconnected means the relay connection is gone and the
	// one permitted automatic reconnect has already been spent.
	ErrSignalingDisconnected = errors.New("signaling disconnected")

	// ErrNegotiationFailed wraps SDP/ICE errors during offer/answer.
	ErrNegotiationFailed = errors.New("negotiation failed")
)

// Signaler is the surface the session needs from the relay client.
// signal.Client satisfies it; tests script messages through a fake.
type Signaler interface {
	SelfID() string
	Join(room string) error
	Relay(msg *proto.Message) error
	Leave(room string) error
	Subscribe() (ch chan *proto.Message, cancel func())
	Reconnect(ctx context.Context) error
	Close() error
}

// State is the session's observable phase.
type State int

const (
	StateIdle State = iota
	StateAwaitingPeer
	StateNegotiating
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPeer:
		return "awaiting-peer"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
