// Package chatserver implements the server-side shared state and routing
// described by the room/invitation/broadcast model: a single guarded map of
// peers, connected users, rooms and pending invitations, with bounded
// per-peer outgoing channels and a drop-based circuit breaker.
package chatserver

import (
	"sync"
	"sync/atomic"
	"time"

	"lair-chat/server/crypto"
)

// sendHealth tracks consecutive dropped frames for one peer and implements
// a lightweight circuit breaker, adapted from the same pattern used for
// datagram fan-out: once a peer's outgoing channel is full often enough in
// a row, further sends are skipped except for periodic probes.
type sendHealth struct {
	drops atomic.Uint32
	skips atomic.Uint32
}

func (h *sendHealth) shouldSkip() bool {
	if h.drops.Load() < dropThreshold {
		return false
	}
	s := h.skips.Add(1)
	return s%dropProbeInterval != 0
}

func (h *sendHealth) recordDrop() uint32 {
	return h.drops.Add(1)
}

func (h *sendHealth) recordSuccess() {
	h.drops.Store(0)
	h.skips.Store(0)
}

// Peer is a connected socket, addressed by its remote address. A peer may
// or may not yet be authenticated; Username is empty until authentication
// completes.
type Peer struct {
	Addr         string
	Username     string
	SessionToken string // the auth.Session token bound to this connection, once authenticated
	Outgoing     chan []byte
	Sess         *crypto.Session // set once the per-connection handshake completes
	health       sendHealth
	seq          atomic.Uint64
}

// nextSeq returns the next monotonically increasing sequence number for
// this peer's server->client envelopes (spec.md §4.2).
func (p *Peer) nextSeq() uint64 {
	return p.seq.Add(1)
}

// ConnectedUser mirrors an authenticated, online user (spec.md §4.6).
type ConnectedUser struct {
	Username    string
	Address     string
	ConnectedAt time.Time
	CurrentRoom string
}

// Room holds membership for one named room.
type Room struct {
	Name    string
	IsLobby bool
	Members map[string]bool
}

// PendingInvitation is an outstanding room invitation addressed to one
// invitee.
type PendingInvitation struct {
	ID        string
	Inviter   string
	Invitee   string
	Room      string
	InvitedAt time.Time
}

// State is the server's single guarded shared state (spec.md §4.6, §5).
// All operations on it are short; anything that may block — I/O, hashing —
// happens outside the lock.
type State struct {
	mu sync.Mutex

	peers              map[string]*Peer
	usersByName        map[string]*ConnectedUser
	rooms              map[string]*Room
	pendingInvitations map[string][]*PendingInvitation

	onDisconnect func(addr string) // set by the server loop; invoked outside the lock
}

// NewState returns a State pre-populated with the lobby room.
func NewState() *State {
	s := &State{
		peers:              make(map[string]*Peer),
		usersByName:        make(map[string]*ConnectedUser),
		rooms:              make(map[string]*Room),
		pendingInvitations: make(map[string][]*PendingInvitation),
	}
	s.rooms[LobbyName] = &Room{Name: LobbyName, IsLobby: true, Members: make(map[string]bool)}
	return s
}

// AddPeer registers a newly accepted connection before authentication.
func (s *State) AddPeer(addr string) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Peer{Addr: addr, Outgoing: make(chan []byte, outgoingBufferSize)}
	s.peers[addr] = p
	return p
}

// RemovePeer unregisters a connection and, if it had authenticated, removes
// the corresponding user from whatever room it was in.
func (s *State) RemovePeer(addr string) {
	s.mu.Lock()
	peer, ok := s.peers[addr]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.peers, addr)
	username := peer.Username
	s.mu.Unlock()

	if username != "" {
		s.removeUserFromCurrentRoom(username, true)
		s.mu.Lock()
		delete(s.usersByName, username)
		s.mu.Unlock()
	}
}

// BindSession attaches the cryptographic session negotiated for addr,
// enabling encrypted delivery to that peer. Called once, right after the
// per-connection handshake completes and before authentication.
func (s *State) BindSession(addr string, sess *crypto.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[addr]; ok {
		p.Sess = sess
	}
}

// BindUser associates an authenticated username with an already-registered
// peer and places them in the lobby.
func (s *State) BindUser(addr, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if peer, ok := s.peers[addr]; ok {
		peer.Username = username
	}
	s.usersByName[username] = &ConnectedUser{
		Username:    username,
		Address:     addr,
		ConnectedAt: time.Now(),
		CurrentRoom: LobbyName,
	}
	if room, ok := s.rooms[LobbyName]; ok {
		room.Members[username] = true
	}
}

// Peer returns the peer at addr, if connected.
func (s *State) Peer(addr string) (*Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[addr]
	return p, ok
}

// UserByName returns the connected user's state, if online.
func (s *State) UserByName(username string) (ConnectedUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByName[username]
	if !ok {
		return ConnectedUser{}, false
	}
	return *u, true
}

// Stats returns a point-in-time snapshot for metrics logging.
func (s *State) Stats() (peers, users, rooms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers), len(s.usersByName), len(s.rooms)
}

// OnlineUsers returns every currently connected user.
func (s *State) OnlineUsers() []ConnectedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnectedUser, 0, len(s.usersByName))
	for _, u := range s.usersByName {
		out = append(out, *u)
	}
	return out
}
