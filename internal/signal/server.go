// Package signal implements the room-based signaling relay: a websocket
// service that forwards opaque negotiation messages between the two members
// of a room, without ever touching media. It also ships the matching client.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/bloomstrip/internal/proto"
	"github.com/petervdpas/bloomstrip/internal/state"
	"github.com/petervdpas/bloomstrip/internal/util"
)

var logger = logging.Logger("signal")

func init() {
	_ = logging.SetLogLevel("signal", "info")
}

const (
	maxMessageBytes = 64 * 1024
	sendQueueDepth  = 32
	eventLogDepth   = 256
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	// Booth clients connect from arbitrary origins (desktop shells,
	// localhost pages); the relay carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the signaling relay. It assigns every websocket connection a
// peer id, tracks room membership and forwards offer/answer/candidate
// messages verbatim to their target.
type Server struct {
	addr        string
	externalURL string

	mu    sync.Mutex
	conns map[string]*wsClient

	rooms  *state.RoomTable
	events *util.RingBuffer[string]
	db     *roomDB // nil when persistence is disabled

	srv *http.Server
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan *proto.Message
	once sync.Once
}

// NewServer creates a relay listening on addr. dbPath, when non-empty,
// enables SQLite persistence of membership events.
func NewServer(addr, externalURL, dbPath string) (*Server, error) {
	s := &Server{
		addr:        addr,
		externalURL: externalURL,
		conns:       make(map[string]*wsClient),
		rooms:       state.NewRoomTable(),
		events:      util.NewRingBuffer[string](eventLogDepth),
	}
	if dbPath != "" {
		db, err := openRoomDB(dbPath)
		if err != nil {
			return nil, fmt.Errorf("room db: %w", err)
		}
		s.db = db
	}
	return s, nil
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug.json", s.handleDebug)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()

	s.srv = &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(sctx)
		if s.db != nil {
			s.db.close()
		}
	}()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("relay server error: %v", err)
		}
	}()

	if s.db != nil {
		go s.cleanupJournal(ctx)
	}

	logger.Infof("relay listening on %s", s.addr)
	return nil
}

// URL returns the HTTP base URL clients should dial.
func (s *Server) URL() string {
	if s.externalURL != "" {
		return s.externalURL
	}
	return "http://" + s.addr
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan *proto.Message, sendQueueDepth),
	}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	go s.writePump(c)

	c.send <- &proto.Message{Type: proto.TypeWelcome, PeerID: c.id, TS: proto.NowMillis()}
	logger.Debugf("peer %s connected from %s", c.id, r.RemoteAddr)

	s.readLoop(c)
}

func (s *Server) readLoop(c *wsClient) {
	defer s.dropClient(c)

	for {
		var msg proto.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		msg.From = c.id
		msg.TS = proto.NowMillis()

		switch msg.Type {
		case proto.TypeJoinRoom:
			s.handleJoin(c, msg.Room)
		case proto.TypeOffer, proto.TypeAnswer, proto.TypeICECandidate:
			s.relay(c, &msg)
		case proto.TypeLeave:
			s.handleLeave(c, msg.Room)
		default:
			logger.Debugf("peer %s sent unknown message type %q", c.id, msg.Type)
		}
	}
}

// handleJoin registers the client in a room and tells the members that were
// already there. The existing (elder) side initiates the offer; the relay
// itself never decides who talks first beyond preserving join order.
func (s *Server) handleJoin(c *wsClient, room string) {
	room, err := util.ValidateRoomID(room)
	if err != nil {
		logger.Warnf("peer %s join rejected: %v", c.id, err)
		return
	}

	members := s.rooms.Members(room)
	if !s.rooms.Join(room, c.id) {
		return // idempotent re-join
	}
	s.logEvent("join %s %s", room, c.id)
	if s.db != nil {
		s.db.record(room, c.id, "join")
	}

	notice := &proto.Message{Type: proto.TypeUserJoined, Room: room, PeerID: c.id, TS: proto.NowMillis()}
	for _, m := range members {
		s.deliver(m.ID, notice)
	}
}

// relay forwards a negotiation message verbatim to its target. An absent
// target is surfaced back to the sender as peer-unavailable.
func (s *Server) relay(c *wsClient, msg *proto.Message) {
	if msg.To == "" || !s.deliver(msg.To, msg) {
		s.logEvent("unavailable %s → %s (%s)", c.id, msg.To, msg.Type)
		s.deliver(c.id, &proto.Message{
			Type:   proto.TypePeerUnavailable,
			Room:   msg.Room,
			PeerID: msg.To,
			TS:     proto.NowMillis(),
		})
		return
	}
	s.logEvent("relay %s %s → %s", msg.Type, c.id, msg.To)
}

func (s *Server) handleLeave(c *wsClient, room string) {
	s.rooms.Leave(room, c.id)
	s.logEvent("leave %s %s", room, c.id)
	if s.db != nil {
		s.db.record(room, c.id, "leave")
	}
	s.notifyDisconnect(room, c.id)
}

// dropClient runs when a websocket dies for any reason: co-members of every
// room the peer was in get a user-disconnected notice.
func (s *Server) dropClient(c *wsClient) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	for _, room := range s.rooms.LeaveAll(c.id) {
		if s.db != nil {
			s.db.record(room, c.id, "disconnect")
		}
		s.notifyDisconnect(room, c.id)
	}

	c.once.Do(func() { close(c.send) })
	_ = c.conn.Close()
	s.logEvent("disconnect %s", c.id)
	logger.Debugf("peer %s disconnected", c.id)
}

func (s *Server) notifyDisconnect(room, peerID string) {
	notice := &proto.Message{Type: proto.TypeUserDisconnect, Room: room, PeerID: peerID, TS: proto.NowMillis()}
	for _, m := range s.rooms.Members(room) {
		s.deliver(m.ID, notice)
	}
}

// deliver queues msg for the target connection. Returns false if the target
// is not connected. Slow consumers get dropped rather than blocking the
// relay.
func (s *Server) deliver(id string, msg *proto.Message) bool {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		logger.Warnf("peer %s send queue full, dropping %s", id, msg.Type)
		return true
	}
}

func (s *Server) writePump(c *wsClient) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(util.DefaultRelayTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			_ = c.conn.Close()
			return
		}
	}
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	connected := len(s.conns)
	s.mu.Unlock()

	out := map[string]any{
		"connected": connected,
		"rooms":     s.rooms.Snapshot(),
		"events":    s.events.Snapshot(),
	}
	if s.db != nil {
		if journal, err := s.db.recentEvents(50); err == nil {
			out["journal"] = journal
		}
	}
	writeJSON(w, out)
}

// cleanupJournal prunes persisted membership events older than a week.
func (s *Server) cleanupJournal(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.db.cleanupStale(time.Now().Add(-7 * 24 * time.Hour).UnixMilli())
		}
	}
}

func (s *Server) logEvent(format string, args ...any) {
	s.events.Push(time.Now().Format("15:04:05.000 ") + fmt.Sprintf(format, args...))
}
