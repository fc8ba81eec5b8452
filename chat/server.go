package chat

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/corvid-systems/rtp/transport"
)

// Server is the group-chat application server, grounded on
// original_source/chat_server.py's module-level clients/usernames/
// rooms/history maps, collected here into one value instead of four
// package globals (spec.md §9 "no hidden process-wide state" applies
// just as much to the application layer as to transport).
type Server struct {
	endpoint *transport.Endpoint
	log      *log.Logger

	mu          sync.Mutex
	conns       map[uint32]*transport.Connection
	usernames   map[uint32]string
	connsByName map[string]uint32
	rooms       map[string]map[uint32]struct{}
	history     map[string][]HistoryEntry
}

// NewServer wraps an already-listening endpoint with chat semantics.
// The "general" room exists from startup (chat_server.py's
// rooms = {"general": []}).
func NewServer(ep *transport.Endpoint) *Server {
	s := &Server{
		endpoint:    ep,
		log:         log.New(os.Stderr, "chat: ", log.LstdFlags),
		conns:       make(map[uint32]*transport.Connection),
		usernames:   make(map[uint32]string),
		connsByName: make(map[string]uint32),
		rooms:       map[string]map[uint32]struct{}{GeneralRoom: {}},
		history:     map[string][]HistoryEntry{GeneralRoom: nil},
	}
	return s
}

// SetLogger overrides the server's diagnostic logger.
func (s *Server) SetLogger(l *log.Logger) { s.log = l }

// Serve accepts connections until the endpoint closes, handling each
// one on its own goroutine (Clouded-Sabre's echoserver Accept loop).
func (s *Server) Serve() error {
	for {
		conn, err := s.endpoint.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		s.mu.Lock()
		s.conns[conn.ConnID()] = conn
		s.mu.Unlock()
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn *transport.Connection) {
	connID := conn.ConnID()
	s.log.Printf("new client connected: %d (%s)", connID, conn.RemoteAddr())
	defer s.disconnect(connID)

	for {
		payload, err := conn.Recv()
		if err != nil {
			s.log.Printf("client %d disconnected: %v", connID, err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.log.Printf("bad envelope from %d: %v", connID, err)
			continue
		}
		s.dispatch(connID, conn, env)
	}
}

func (s *Server) dispatch(connID uint32, conn *transport.Connection, env Envelope) {
	switch env.Type {
	case TypeLogin:
		s.handleLogin(connID, conn, env)
	case TypeJoin:
		s.handleJoin(connID, conn, env)
	case TypeLeave:
		s.handleLeave(connID, env)
	case TypeMsg:
		s.handleMsg(connID, conn, env)
	case TypeDM:
		s.handleDM(connID, conn, env)
	default:
		s.log.Printf("unknown message type %q from %d", env.Type, connID)
	}
}

func (s *Server) handleLogin(connID uint32, conn *transport.Connection, env Envelope) {
	name := env.Name
	s.mu.Lock()
	if _, taken := s.connsByName[name]; taken {
		s.mu.Unlock()
		s.sendInfo(conn, "Name '"+name+"' is already taken")
		return
	}
	s.usernames[connID] = name
	s.connsByName[name] = connID
	s.mu.Unlock()

	s.log.Printf("user '%s' logged in (%d)", name, connID)
	s.sendInfo(conn, "Welcome, "+name+"!")
}

func (s *Server) handleJoin(connID uint32, conn *transport.Connection, env Envelope) {
	room := env.Room
	if room == "" {
		room = GeneralRoom
	}

	s.mu.Lock()
	username, loggedIn := s.usernames[connID]
	if !loggedIn {
		s.mu.Unlock()
		s.sendInfo(conn, "Please login first before joining a room")
		return
	}
	if _, exists := s.rooms[room]; !exists {
		s.rooms[room] = make(map[uint32]struct{})
		s.history[room] = nil
	}
	for _, members := range s.rooms {
		delete(members, connID)
	}
	s.rooms[room][connID] = struct{}{}
	hist := append([]HistoryEntry(nil), s.history[room]...)
	s.mu.Unlock()

	s.log.Printf("%s joined room '%s'", username, room)

	if len(hist) > 0 {
		s.sendEnvelope(conn, Envelope{Type: TypeHistory, Room: room, History: hist})
	}
	s.broadcast(room, Envelope{Type: TypeInfo, Msg: username + " joined " + room}, connID)
	s.sendInfo(conn, "You joined "+room)
}

func (s *Server) handleLeave(connID uint32, env Envelope) {
	room := env.Room

	s.mu.Lock()
	members, exists := s.rooms[room]
	if !exists {
		s.mu.Unlock()
		return
	}
	if _, in := members[connID]; !in {
		s.mu.Unlock()
		return
	}
	delete(members, connID)
	username := s.usernames[connID]
	s.mu.Unlock()

	s.broadcast(room, Envelope{Type: TypeInfo, Msg: username + " left " + room}, 0)
}

func (s *Server) handleMsg(connID uint32, conn *transport.Connection, env Envelope) {
	room, text := env.Room, env.Text
	if room == "" || text == "" {
		return
	}

	s.mu.Lock()
	members, exists := s.rooms[room]
	_, inRoom := members[connID]
	if !exists || !inRoom {
		s.mu.Unlock()
		s.sendInfo(conn, "You are not in room '"+room+"'")
		return
	}
	username := s.usernames[connID]
	if username == "" {
		username = "Unknown"
	}

	s.history[room] = append(s.history[room], HistoryEntry{Sender: username, Text: text})
	if len(s.history[room]) > HistoryLimit {
		s.history[room] = s.history[room][len(s.history[room])-HistoryLimit:]
	}
	s.mu.Unlock()

	s.log.Printf("[%s] %s: %s", room, username, text)
	s.broadcast(room, Envelope{Type: TypeChat, Room: room, Sender: username, Text: text}, 0)
}

func (s *Server) handleDM(connID uint32, conn *transport.Connection, env Envelope) {
	target, text := env.Target, env.Text
	if target == "" || text == "" {
		return
	}

	s.mu.Lock()
	targetID, found := s.connsByName[target]
	var targetConn *transport.Connection
	if found {
		targetConn = s.conns[targetID]
	}
	sender := s.usernames[connID]
	if sender == "" {
		sender = "Unknown"
	}
	s.mu.Unlock()

	if !found || targetConn == nil {
		s.sendInfo(conn, "User '"+target+"' not found")
		return
	}

	s.log.Printf("DM: %s -> %s: %s", sender, target, text)
	s.sendEnvelope(targetConn, Envelope{Type: TypeDM, Sender: sender, Text: text})
	s.sendInfo(conn, "DM sent to "+target)
}

func (s *Server) disconnect(connID uint32) {
	s.mu.Lock()
	username := s.usernames[connID]
	delete(s.usernames, connID)
	delete(s.connsByName, username)
	delete(s.conns, connID)

	var room string
	for r, members := range s.rooms {
		if _, ok := members[connID]; ok {
			delete(members, connID)
			room = r
			break
		}
	}
	s.mu.Unlock()

	s.log.Printf("client %d disconnected", connID)
	if room != "" {
		s.broadcast(room, Envelope{Type: TypeInfo, Msg: username + " disconnected"}, 0)
	}
}

// broadcast fans an envelope out to every member of room except
// excludeConnID (0 means exclude nobody, since conn_ids are always
// nonzero — see endpoint.newConnID).
func (s *Server) broadcast(room string, env Envelope, excludeConnID uint32) {
	s.mu.Lock()
	members := s.rooms[room]
	recipients := make([]*transport.Connection, 0, len(members))
	for connID := range members {
		if connID == excludeConnID {
			continue
		}
		if c, ok := s.conns[connID]; ok {
			recipients = append(recipients, c)
		}
	}
	s.mu.Unlock()

	for _, c := range recipients {
		s.sendEnvelope(c, env)
	}
}

func (s *Server) sendInfo(conn *transport.Connection, msg string) {
	s.sendEnvelope(conn, Envelope{Type: TypeInfo, Msg: msg})
}

func (s *Server) sendEnvelope(conn *transport.Connection, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		s.log.Printf("encode error: %v", err)
		return
	}
	if err := conn.SendMsg(payload); err != nil {
		s.log.Printf("send to %d failed: %v", conn.ConnID(), err)
	}
}

// Snapshot returns the transport stats for every connection currently
// tracked, keyed by conn_id — the data source for MetricsReporter.
func (s *Server) Snapshot() map[uint32]transport.Snapshot {
	s.mu.Lock()
	conns := make([]*transport.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	out := make(map[uint32]transport.Snapshot, len(conns))
	for _, c := range conns {
		out[c.ConnID()] = c.Stats()
	}
	return out
}
