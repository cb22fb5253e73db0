package session

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/bloomstrip/internal/config"
	"github.com/petervdpas/bloomstrip/internal/frame"
	"github.com/petervdpas/bloomstrip/internal/proto"
)

// PCFactory builds the peer connection and opens local media. It returns the
// connection, a cleanup func for local capture (may be nil) and the local
// video source (nil when no camera could be opened). The default factory is
// platform-specific; tests inject their own.
type PCFactory func() (pc *webrtc.PeerConnection, cleanup func(), local frame.Source, err error)

// Options wires a Session.
type Options struct {
	Signaler Signaler
	Room     string

	// Media bounds local capture for the default factory. Ignored when
	// PCFactory is set.
	Media config.Media

	// PCFactory defaults to the platform media factory.
	PCFactory PCFactory

	// OnState, when non-nil, is invoked on every state transition. Called
	// from session goroutines; must not block.
	OnState func(State)
}

// Session is one booth's side of a paired room: it joins the room, waits for
// (or greets) the partner, negotiates a single WebRTC connection and exposes
// local and remote video as frame sources.
//
// Connection policy: the earlier-joined member initiates the offer (it is the
// one that receives user-joined), the first negotiation to produce media
// wins, and a lost signaling link is retried exactly once before the session
// closes for good.
type Session struct {
	sig       Signaler
	room      string
	pcFactory PCFactory
	onState   func(State)

	localSrc *localSource

	mu          sync.Mutex
	state       State
	remoteID    string
	pc          *webrtc.PeerConnection
	stopMedia   func()
	local       frame.Source
	remote      *RemoteSource
	pending     []webrtc.ICECandidateInit
	remoteDesc  bool
	reconnected bool
	closed      bool

	pcFailed chan struct{}
	done     chan struct{}
}

// New creates a session for room. Start must be called to join and begin
// negotiating.
func New(opts Options) (*Session, error) {
	if opts.Signaler == nil {
		return nil, fmt.Errorf("session: signaler is required")
	}
	if opts.Room == "" {
		return nil, fmt.Errorf("session: room is required")
	}
	factory := opts.PCFactory
	if factory == nil {
		factory = mediaFactory(opts.Media)
	}
	s := &Session{
		sig:       opts.Signaler,
		room:      opts.Room,
		pcFactory: factory,
		onState:   opts.OnState,
		state:     StateIdle,
		remote:    NewRemoteSource(),
		pcFailed:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.localSrc = &localSource{s: s}
	return s, nil
}

// Start opens local media, joins the room and runs the signaling loop until
// ctx is cancelled or the session closes. It returns once the room is joined.
func (s *Session) Start(ctx context.Context) error {
	if err := s.setupPeer(); err != nil {
		return err
	}

	ch, cancel := s.sig.Subscribe()
	if err := s.sig.Join(s.room); err != nil {
		cancel()
		s.dropPeer()
		return fmt.Errorf("join room: %w", err)
	}

	s.setState(StateAwaitingPeer)
	log.Printf("SESSION [%s]: joined as %s, awaiting peer", s.room, s.sig.SelfID())

	go s.run(ctx, ch, cancel)
	return nil
}

// State returns the current session phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the media connection to the partner is live.
// The capture sequencer consults this before starting a paired sequence.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// LocalSource returns the local camera source. The handle is stable: when
// the peer connection is rebuilt after a failure the same handle follows the
// fresh camera reader, so callers may capture it once. Reads fail with
// frame.ErrSourceNotReady while no reader is open.
func (s *Session) LocalSource() frame.Source {
	return s.localSrc
}

// RemoteSource returns the partner's video source. Stable across peer
// connection rebuilds, same as LocalSource; it yields frames only while
// connected.
func (s *Session) RemoteSource() frame.Source {
	return s.remote
}

// SelfID returns this booth's relay peer id, for sharing out of band so a
// partner can dial it directly.
func (s *Session) SelfID() string {
	return s.sig.SelfID()
}

// RemoteID returns the partner's relay peer id, or "" before pairing.
func (s *Session) RemoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// CallPeer starts negotiation toward a specific peer id. Normally the
// session reacts to user-joined instead; this exists for directory-style
// setups where the partner's id is known out of band.
func (s *Session) CallPeer(remoteID string) error {
	return s.makeOffer(remoteID)
}

// Teardown closes the session: leaves the room, releases the camera and
// tears the peer connection down. Idempotent.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	_ = s.sig.Leave(s.room)
	s.dropPeer()
	s.setState(StateClosed)
	log.Printf("SESSION [%s]: closed", s.room)
}

// setupPeer builds a fresh peer connection with local media and wires its
// callbacks. Fails with ErrMediaUnavailable when no camera opens.
func (s *Session) setupPeer() error {
	pc, cleanup, local, err := s.pcFactory()
	if err != nil {
		return err
	}
	if local == nil {
		if cleanup != nil {
			cleanup()
		}
		_ = pc.Close()
		return ErrMediaUnavailable
	}

	remote := s.remote

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			log.Printf("SESSION [%s]: remote video track %s", s.room, track.ID())
			s.setState(StateConnected)
			remote.Consume(s.done, pc, track)
			return
		}
		// Audio is drained so RTCP feedback keeps flowing; the booth does
		// not play it back.
		go drainTrack(track)
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.mu.Lock()
		to := s.remoteID
		s.mu.Unlock()
		if to == "" {
			return
		}
		init := c.ToJSON()
		_ = s.sig.Relay(&proto.Message{
			Type:      proto.TypeICECandidate,
			Room:      s.room,
			To:        to,
			Candidate: &init,
		})
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Printf("SESSION [%s]: pc state %s", s.room, st)
		if st == webrtc.PeerConnectionStateFailed {
			select {
			case s.pcFailed <- struct{}{}:
			default:
			}
		}
	})

	s.mu.Lock()
	s.pc = pc
	s.stopMedia = cleanup
	s.local = local
	s.pending = nil
	s.remoteDesc = false
	s.remoteID = ""
	s.mu.Unlock()
	return nil
}

// dropPeer tears down the current peer connection and camera capture. The
// local and remote source handles stay valid; they serve ErrSourceNotReady
// until a rebuilt connection produces frames again.
func (s *Session) dropPeer() {
	s.mu.Lock()
	pc := s.pc
	stop := s.stopMedia
	s.pc = nil
	s.stopMedia = nil
	s.local = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if pc != nil {
		_ = pc.Close()
	}
	s.remote.Reset()
}

// run is the signaling loop. A closed subscription channel means the relay
// link died: one automatic reconnect is attempted, after which the session
// closes.
func (s *Session) run(ctx context.Context, ch chan *proto.Message, cancel func()) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			s.Teardown()
			return
		case <-s.done:
			return
		case <-s.pcFailed:
			log.Printf("SESSION [%s]: media connection failed", s.room)
			if !s.recoverPeer() {
				s.Teardown()
				return
			}
		case msg, ok := <-ch:
			if !ok {
				newCh, newCancel, err := s.reconnectSignaling(ctx)
				if err != nil {
					log.Printf("SESSION [%s]: %v", s.room, err)
					s.Teardown()
					return
				}
				cancel()
				ch, cancel = newCh, newCancel
				continue
			}
			s.handleMessage(msg)
		}
	}
}

// reconnectSignaling redials the relay once. A second loss is final.
func (s *Session) reconnectSignaling(ctx context.Context) (chan *proto.Message, func(), error) {
	s.mu.Lock()
	if s.reconnected || s.closed {
		s.mu.Unlock()
		return nil, nil, ErrSignalingDisconnected
	}
	s.reconnected = true
	s.mu.Unlock()

	s.setState(StateReconnecting)
	log.Printf("SESSION [%s]: signaling lost, reconnecting", s.room)

	if err := s.sig.Reconnect(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSignalingDisconnected, err)
	}
	ch, cancel := s.sig.Subscribe()

	// Reconnecting assigned a fresh peer id, so the old negotiation is
	// unusable. Rebuild the peer connection and wait for the partner to
	// greet the new id.
	s.dropPeer()
	if err := s.setupPeer(); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %v", ErrSignalingDisconnected, err)
	}
	s.setState(StateAwaitingPeer)
	log.Printf("SESSION [%s]: rejoined as %s", s.room, s.sig.SelfID())
	return ch, cancel, nil
}

// recoverPeer rebuilds the peer connection after a media failure, reusing
// the same single-retry budget as a signaling loss.
func (s *Session) recoverPeer() bool {
	s.mu.Lock()
	if s.reconnected || s.closed {
		s.mu.Unlock()
		return false
	}
	s.reconnected = true
	s.mu.Unlock()

	s.setState(StateReconnecting)
	s.dropPeer()
	if err := s.setupPeer(); err != nil {
		log.Printf("SESSION [%s]: media recovery failed: %v", s.room, err)
		return false
	}
	s.setState(StateAwaitingPeer)
	return true
}

func (s *Session) handleMessage(msg *proto.Message) {
	if msg.Room != "" && msg.Room != s.room {
		return
	}

	switch msg.Type {
	case proto.TypeUserJoined:
		// Receiving user-joined means this booth was in the room first, so
		// it initiates. A later arrival never displaces an active pairing.
		s.mu.Lock()
		busy := s.remoteID != "" && (s.state == StateNegotiating || s.state == StateConnected)
		s.mu.Unlock()
		if busy {
			log.Printf("SESSION [%s]: ignoring late joiner %s", s.room, msg.PeerID)
			return
		}
		if err := s.makeOffer(msg.PeerID); err != nil {
			log.Printf("SESSION [%s]: offer to %s: %v", s.room, msg.PeerID, err)
		}

	case proto.TypeOffer:
		s.handleOffer(msg)

	case proto.TypeAnswer:
		s.handleAnswer(msg)

	case proto.TypeICECandidate:
		s.handleCandidate(msg)

	case proto.TypeUserDisconnect:
		s.mu.Lock()
		isPartner := msg.PeerID != "" && msg.PeerID == s.remoteID
		s.mu.Unlock()
		if isPartner {
			log.Printf("SESSION [%s]: partner %s left", s.room, msg.PeerID)
			s.Teardown()
		}

	case proto.TypePeerUnavailable:
		s.mu.Lock()
		wasTarget := msg.PeerID != "" && msg.PeerID == s.remoteID && s.state == StateNegotiating
		if wasTarget {
			s.remoteID = ""
		}
		s.mu.Unlock()
		if wasTarget {
			log.Printf("SESSION [%s]: peer %s unavailable, awaiting another", s.room, msg.PeerID)
			s.setState(StateAwaitingPeer)
		}
	}
}

func (s *Session) makeOffer(remoteID string) error {
	s.mu.Lock()
	pc := s.pc
	s.remoteID = remoteID
	s.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("%w: no peer connection", ErrNegotiationFailed)
	}

	s.setState(StateNegotiating)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", ErrNegotiationFailed, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local: %v", ErrNegotiationFailed, err)
	}
	log.Printf("SESSION [%s]: offering to %s", s.room, remoteID)
	return s.sig.Relay(&proto.Message{
		Type: proto.TypeOffer,
		Room: s.room,
		To:   remoteID,
		SDP:  pc.LocalDescription(),
	})
}

func (s *Session) handleOffer(msg *proto.Message) {
	if msg.SDP == nil || msg.From == "" {
		return
	}

	s.mu.Lock()
	// First connection wins: once paired, competing offers are ignored.
	if s.remoteID != "" && s.remoteID != msg.From {
		s.mu.Unlock()
		log.Printf("SESSION [%s]: ignoring offer from %s, paired with %s", s.room, msg.From, s.remoteID)
		return
	}
	s.remoteID = msg.From
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return
	}

	s.setState(StateNegotiating)
	log.Printf("SESSION [%s]: answering offer from %s", s.room, msg.From)

	if err := pc.SetRemoteDescription(*msg.SDP); err != nil {
		log.Printf("SESSION [%s]: set remote offer: %v", s.room, err)
		return
	}
	s.flushCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Printf("SESSION [%s]: create answer: %v", s.room, err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Printf("SESSION [%s]: set local answer: %v", s.room, err)
		return
	}
	_ = s.sig.Relay(&proto.Message{
		Type: proto.TypeAnswer,
		Room: s.room,
		To:   msg.From,
		SDP:  pc.LocalDescription(),
	})
}

func (s *Session) handleAnswer(msg *proto.Message) {
	if msg.SDP == nil {
		return
	}
	s.mu.Lock()
	pc := s.pc
	match := msg.From == s.remoteID
	s.mu.Unlock()
	if pc == nil || !match {
		return
	}

	if err := pc.SetRemoteDescription(*msg.SDP); err != nil {
		log.Printf("SESSION [%s]: set remote answer: %v", s.room, err)
		return
	}
	s.flushCandidates(pc)
}

// handleCandidate adds a trickled ICE candidate, buffering it when it
// arrives before the remote description.
func (s *Session) handleCandidate(msg *proto.Message) {
	if msg.Candidate == nil {
		return
	}
	s.mu.Lock()
	pc := s.pc
	match := msg.From == s.remoteID
	ready := s.remoteDesc
	if match && !ready {
		s.pending = append(s.pending, *msg.Candidate)
	}
	s.mu.Unlock()
	if pc == nil || !match || !ready {
		return
	}
	if err := pc.AddICECandidate(*msg.Candidate); err != nil {
		log.Printf("SESSION [%s]: add candidate: %v", s.room, err)
	}
}

// flushCandidates applies candidates buffered before SetRemoteDescription.
func (s *Session) flushCandidates(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	s.remoteDesc = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			log.Printf("SESSION [%s]: add buffered candidate: %v", s.room, err)
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st || (s.state == StateClosed && st != StateClosed) {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(st)
	}
}

// localSource is the stable camera handle handed out by LocalSource. The
// underlying reader is replaced on every peer connection rebuild, so reads
// go through the session's current reader.
type localSource struct {
	s *Session
}

func (l *localSource) Read() (image.Image, func(), error) {
	l.s.mu.Lock()
	src := l.s.local
	l.s.mu.Unlock()
	if src == nil {
		return nil, nil, frame.ErrSourceNotReady
	}
	return src.Read()
}

func drainTrack(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
