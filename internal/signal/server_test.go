package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/bloomstrip/internal/proto"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()

	srv, err := NewServer("127.0.0.1:0", "", filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := srv.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	return srv
}

func dialTestClient(t *testing.T, srv *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, ch chan *proto.Message, msgType string) *proto.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed while waiting for %s", msgType)
			}
			if msg.Type == msgType {
				return msg
			}
			// skip unrelated traffic
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
		}
	}
}

func TestRelayEndToEnd(t *testing.T) {
	srv := startTestServer(t)

	c1 := dialTestClient(t, srv)
	c2 := dialTestClient(t, srv)

	if c1.SelfID() == "" || c1.SelfID() == c2.SelfID() {
		t.Fatalf("bad peer ids: %q vs %q", c1.SelfID(), c2.SelfID())
	}

	ch1, cancel1 := c1.Subscribe()
	defer cancel1()
	ch2, cancel2 := c2.Subscribe()
	defer cancel2()

	t.Run("elder hears user-joined", func(t *testing.T) {
		if err := c1.Join("studio-7"); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
		if err := c2.Join("studio-7"); err != nil {
			t.Fatal(err)
		}

		msg := waitFor(t, ch1, proto.TypeUserJoined)
		if msg.PeerID != c2.SelfID() || msg.Room != "studio-7" {
			t.Fatalf("user-joined = %+v, want peer %s in studio-7", msg, c2.SelfID())
		}

		// The newcomer gets no join echo for itself.
		select {
		case msg := <-ch2:
			if msg.Type == proto.TypeUserJoined && msg.PeerID == c2.SelfID() {
				t.Fatal("joiner received its own user-joined")
			}
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("offer and answer relay verbatim", func(t *testing.T) {
		offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}
		err := c1.Relay(&proto.Message{
			Type: proto.TypeOffer,
			Room: "studio-7",
			To:   c2.SelfID(),
			SDP:  offer,
		})
		if err != nil {
			t.Fatal(err)
		}

		msg := waitFor(t, ch2, proto.TypeOffer)
		if msg.From != c1.SelfID() {
			t.Errorf("offer From = %q, want %q", msg.From, c1.SelfID())
		}
		if msg.SDP == nil || msg.SDP.SDP != "v=0 fake-offer" {
			t.Errorf("offer SDP mangled: %+v", msg.SDP)
		}

		answer := &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}
		err = c2.Relay(&proto.Message{
			Type: proto.TypeAnswer,
			Room: "studio-7",
			To:   c1.SelfID(),
			SDP:  answer,
		})
		if err != nil {
			t.Fatal(err)
		}

		msg = waitFor(t, ch1, proto.TypeAnswer)
		if msg.SDP == nil || msg.SDP.SDP != "v=0 fake-answer" {
			t.Errorf("answer SDP mangled: %+v", msg.SDP)
		}
	})

	t.Run("ice candidates relay", func(t *testing.T) {
		cand := &webrtc.ICECandidateInit{Candidate: "candidate:fake 1 udp 1 127.0.0.1 1 typ host"}
		err := c1.Relay(&proto.Message{
			Type:      proto.TypeICECandidate,
			Room:      "studio-7",
			To:        c2.SelfID(),
			Candidate: cand,
		})
		if err != nil {
			t.Fatal(err)
		}

		msg := waitFor(t, ch2, proto.TypeICECandidate)
		if msg.Candidate == nil || msg.Candidate.Candidate != cand.Candidate {
			t.Errorf("candidate mangled: %+v", msg.Candidate)
		}
	})

	t.Run("absent target bounces peer-unavailable", func(t *testing.T) {
		err := c1.Relay(&proto.Message{
			Type: proto.TypeOffer,
			Room: "studio-7",
			To:   "nobody-here",
			SDP:  &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
		})
		if err != nil {
			t.Fatal(err)
		}

		msg := waitFor(t, ch1, proto.TypePeerUnavailable)
		if msg.PeerID != "nobody-here" {
			t.Errorf("peer-unavailable names %q, want nobody-here", msg.PeerID)
		}
	})

	t.Run("disconnect notifies co-members", func(t *testing.T) {
		c2.Close()

		msg := waitFor(t, ch1, proto.TypeUserDisconnect)
		if msg.PeerID != c2.SelfID() {
			t.Errorf("user-disconnected names %q, want %q", msg.PeerID, c2.SelfID())
		}
	})
}

func TestRelayRejectsBadRoom(t *testing.T) {
	srv := startTestServer(t)
	c := dialTestClient(t, srv)

	if err := c.Join("has space"); err == nil {
		t.Error("Join accepted a room id with a space")
	}
	if err := c.Join("../escape"); err == nil {
		t.Error("Join accepted a room id with '..'")
	}
}

func TestRelayDebugEndpoints(t *testing.T) {
	srv := startTestServer(t)
	c := dialTestClient(t, srv)
	if err := c.Join("debug-room"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(srv.URL() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL() + "/debug.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var dbg struct {
		Connected int                 `json:"connected"`
		Rooms     map[string][]string `json:"rooms"`
		Journal   []string            `json:"journal"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dbg); err != nil {
		t.Fatal(err)
	}
	if dbg.Connected != 1 {
		t.Errorf("connected = %d, want 1", dbg.Connected)
	}
	if members := dbg.Rooms["debug-room"]; len(members) != 1 || members[0] != c.SelfID() {
		t.Errorf("rooms = %v, want debug-room with %s", dbg.Rooms, c.SelfID())
	}
	if len(dbg.Journal) == 0 {
		t.Error("journal is empty, want the join event persisted")
	}
}

func TestClientReconnectRejoinsRooms(t *testing.T) {
	srv := startTestServer(t)
	c1 := dialTestClient(t, srv)
	c2 := dialTestClient(t, srv)

	if err := c1.Join("rejoin-room"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	ch1, cancel1 := c1.Subscribe()
	defer cancel1()

	oldID := c2.SelfID()
	if err := c2.Join("rejoin-room"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch1, proto.TypeUserJoined)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c2.Reconnect(ctx); err != nil {
		t.Fatal(err)
	}

	if c2.SelfID() == oldID {
		t.Error("reconnect kept the old peer id")
	}

	// The rejoin announces the fresh id to the elder.
	msg := waitFor(t, ch1, proto.TypeUserJoined)
	if msg.PeerID != c2.SelfID() {
		t.Errorf("rejoin announced %q, want %q", msg.PeerID, c2.SelfID())
	}
}
