// Package proto defines the message envelope exchanged between booths and
// the signaling relay.
package proto

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// Message types exchanged through the signaling relay. The relay never
// interprets SDP or candidate payloads — it forwards them verbatim.
const (
	TypeWelcome         = "welcome"
	TypeJoinRoom        = "join-room"
	TypeUserJoined      = "user-joined"
	TypeOffer           = "offer"
	TypeAnswer          = "answer"
	TypeICECandidate    = "ice-candidate"
	TypeLeave           = "leave"
	TypeUserDisconnect  = "user-disconnected"
	TypePeerUnavailable = "peer-unavailable"
)

// Message is the single envelope that flows over the signaling websocket,
// in both directions. Which fields are populated depends on Type:
//
//	welcome           PeerID (assigned by the relay)
//	join-room         Room
//	user-joined       Room, PeerID (the newcomer)
//	offer/answer      Room, From, To, SDP
//	ice-candidate     Room, From, To, Candidate
//	leave             Room
//	user-disconnected Room, PeerID (the peer that dropped)
//	peer-unavailable  Room, PeerID (the unreachable target)
type Message struct {
	Type      string                     `json:"type"`
	Room      string                     `json:"room,omitempty"`
	PeerID    string                     `json:"peer_id,omitempty"`
	From      string                     `json:"from,omitempty"`
	To        string                     `json:"to,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	TS        int64                      `json:"ts,omitempty"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
