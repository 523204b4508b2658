package chatserver

import (
	"encoding/json"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lair-chat/server/auth"
	"lair-chat/server/crypto"
	"lair-chat/server/dm"
	"lair-chat/server/errs"
	"lair-chat/server/wire"
)

// placeholderEmailDomain backs synthesized registration emails for clients
// that don't supply one (spec.md §4.4 registration only requires a
// username/password; email is a store-layer implementation detail).
const placeholderEmailDomain = "users.lair-chat.local"

// SessionConfig tunes the per-connection lifecycle (spec.md §4.1-§4.5).
type SessionConfig struct {
	ServerName         string
	EncryptionRequired bool
	IdleReadTimeout    time.Duration
}

// DefaultSessionConfig holds the default SessionConfig values.
// IdleReadTimeout is carried here but HandleConnection does not apply it:
// no per-connection read deadline is set.
var DefaultSessionConfig = SessionConfig{
	ServerName:         "lair-chat",
	EncryptionRequired: true,
	IdleReadTimeout:    90 * time.Second,
}

// Server owns the shared State plus the authentication service, and drives
// each accepted connection through handshake, optional authentication, and
// the read/dispatch loop. It is transport-agnostic: the TCP+TLS listener
// and the WebSocket alternate transport both hand it a net.Conn (spec.md
// §9's WebSocket design note: same envelopes, same crypto, different
// framing underneath).
type Server struct {
	State  *State
	Auth   *auth.Service
	Config SessionConfig

	mu    sync.Mutex
	conns map[string]net.Conn
}

// NewServer wires state and authSvc together and installs the disconnect
// handler that closes a peer's underlying socket once its circuit breaker
// trips (spec.md §4.6).
func NewServer(state *State, authSvc *auth.Service, cfg SessionConfig) *Server {
	srv := &Server{State: state, Auth: authSvc, Config: cfg, conns: make(map[string]net.Conn)}
	state.SetDisconnectHandler(srv.forceClose)
	return srv
}

func (srv *Server) forceClose(addr string) {
	srv.mu.Lock()
	conn, ok := srv.conns[addr]
	srv.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// HandleConnection drives one accepted connection end to end. It blocks
// until the connection closes, performing cleanup before returning.
func (srv *Server) HandleConnection(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	srv.mu.Lock()
	srv.conns[addr] = conn
	srv.mu.Unlock()

	p := srv.State.AddPeer(addr)

	defer func() {
		srv.State.RemovePeer(addr)
		srv.mu.Lock()
		delete(srv.conns, addr)
		srv.mu.Unlock()
		conn.Close()
	}()

	fr := wire.NewFrameReader(conn)
	fw := wire.NewFrameWriter(conn)

	sess, err := srv.runHandshake(fr, fw)
	if err != nil {
		log.Printf("[chatserver] handshake with %s: %v", addr, err)
		return
	}
	srv.State.BindSession(addr, sess)

	writerDone := make(chan struct{})
	go srv.writeLoop(conn, p, writerDone)
	defer func() {
		close(writerDone)
	}()

	srv.readLoop(fr, sess, addr, p)
}

// runHandshake performs the versioned ServerHello/ClientHello exchange
// followed by the cryptographic key exchange (spec.md §4.2, §4.3).
func (srv *Server) runHandshake(fr *wire.FrameReader, fw *wire.FrameWriter) (*crypto.Session, error) {
	hello := wire.ServerHello{
		Version:            wire.ProtocolVersion,
		ServerName:         srv.Config.ServerName,
		Features:           []string{"encryption"},
		EncryptionRequired: srv.Config.EncryptionRequired,
	}
	payload, err := json.Marshal(hello)
	if err != nil {
		return nil, errs.Wrap(errs.ProtocolError, err, "encode server_hello")
	}
	if err := fw.WriteFrame(payload); err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "write server_hello")
	}

	clientHelloFrame, err := fr.ReadFrame()
	if err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "read client_hello")
	}
	var clientHello wire.ClientHello
	if err := json.Unmarshal(clientHelloFrame, &clientHello); err != nil {
		return nil, errs.Wrap(errs.ProtocolError, err, "decode client_hello")
	}

	if srv.Config.EncryptionRequired {
		supported := false
		for _, f := range clientHello.SupportedFeatures {
			if f == "encryption" {
				supported = true
				break
			}
		}
		if !supported {
			return nil, errs.New(errs.HandshakeFailed, "client does not support required encryption")
		}
	}

	return crypto.ServerHandshake(fr, fw)
}

// writeLoop drains p.Outgoing onto conn until told to stop or the write
// fails, at which point it forces the connection closed so readLoop wakes
// up and cleanup runs (spec.md §5).
func (srv *Server) writeLoop(conn net.Conn, p *Peer, done <-chan struct{}) {
	for {
		select {
		case frame := <-p.Outgoing:
			if _, err := conn.Write(frame); err != nil {
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// readLoop decrypts and dispatches frames until the connection errors or
// closes (spec.md §4.1, §4.6).
func (srv *Server) readLoop(fr *wire.FrameReader, sess *crypto.Session, addr string, p *Peer) {
	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			return
		}
		env, err := crypto.OpenEnvelope(sess, frame)
		if err != nil {
			if errs.KindOf(err) == errs.InvalidJSON {
				// Decryption succeeded; the plaintext just wasn't a valid
				// envelope. Drop this frame and keep the connection open
				// (spec.md §4.1) — only a failed AEAD open is fatal.
				log.Printf("[chatserver] malformed envelope from %s: %v", addr, err)
				continue
			}
			log.Printf("[chatserver] decrypt failure from %s: %v", addr, err)
			return
		}
		srv.dispatch(addr, p, env)
	}
}

// dispatch executes one client->server envelope and replies on the same
// connection (spec.md §4.4, §4.6).
func (srv *Server) dispatch(addr string, p *Peer, env wire.Envelope) {
	switch env.Type {
	case wire.TypeAuthenticate:
		srv.handleAuthenticate(addr, p, env)
	case wire.TypeSendChat:
		srv.handleSendChat(p, env)
	case wire.TypeSendDM:
		srv.handleSendDM(p, env)
	case wire.TypeJoinRoom:
		srv.handleJoinRoom(addr, p, env)
	case wire.TypeLeaveRoom:
		srv.handleLeaveRoom(addr, p, env)
	case wire.TypeCreateRoom:
		srv.handleCreateRoom(addr, env)
	case wire.TypeInvite:
		srv.handleInvite(addr, p, env)
	case wire.TypeAcceptInvite:
		srv.handleAcceptInvite(addr, p, env)
	case wire.TypeDeclineInvite:
		srv.handleDeclineInvite(addr, p, env)
	case wire.TypeListRooms:
		srv.handleListRooms(addr)
	case wire.TypeListUsers:
		srv.handleListUsers(addr)
	case wire.TypeLogout:
		srv.handleLogout(p, env)
	default:
		srv.sendError(addr, errs.New(errs.ProtocolError, "unrecognized message type"))
	}
}

func (srv *Server) handleAuthenticate(addr string, p *Peer, env wire.Envelope) {
	if env.Authenticate == nil {
		srv.sendError(addr, errs.New(errs.ProtocolError, "missing authenticate payload"))
		return
	}
	a := env.Authenticate

	var user *auth.User
	var sess *auth.Session
	if a.IsRegistration {
		email := strings.TrimSpace(a.Email)
		if email == "" {
			// users.email is UNIQUE NOT NULL; a bare "" would collide on the
			// second registration. Username is already unique per Register,
			// so deriving the placeholder from it keeps every synthesized
			// email distinct too.
			email = strings.ToLower(a.Identifier) + "@" + placeholderEmailDomain
		}
		u, err := srv.Auth.Register(a.Identifier, email, a.Password)
		if err != nil {
			srv.replyAuthFailure(addr, err)
			return
		}
		user = u
		resp, err := srv.Auth.Login(a.Identifier, a.Password, a.Fingerprint, addr, auth.ProtocolTCP)
		if err != nil {
			srv.replyAuthFailure(addr, err)
			return
		}
		sess = resp.Session
	} else {
		resp, err := srv.Auth.Login(a.Identifier, a.Password, a.Fingerprint, addr, auth.ProtocolTCP)
		if err != nil {
			srv.replyAuthFailure(addr, err)
			return
		}
		user = resp.User
		sess = resp.Session
	}

	p.Username = user.Username
	p.SessionToken = sess.Token
	srv.State.BindUser(addr, user.Username)

	_ = srv.State.SendToPeer(addr, wire.Envelope{
		Type: wire.TypeAuthResult,
		AuthResult: &wire.AuthResult{
			Success:      true,
			SessionToken: sess.Token,
			User:         &wire.AuthUser{ID: user.ID, Username: user.Username, Role: string(user.Role)},
		},
	})
}

func (srv *Server) replyAuthFailure(addr string, err error) {
	_ = srv.State.SendToPeer(addr, wire.Envelope{
		Type:       wire.TypeAuthResult,
		AuthResult: &wire.AuthResult{Success: false, Reason: clientFacingReason(err)},
	})
}

// clientFacingReason maps err to text safe to ship on the wire. Kinds that
// only describe an internal failure (e.g. a wrapped SQLite error) collapse
// to a generic message; spec.md §7 requires StorageError never leak its
// cause to the client.
func clientFacingReason(err error) string {
	switch errs.KindOf(err) {
	case errs.InvalidCredentials, errs.Conflict, errs.UserNotFound, errs.RateLimitExceeded,
		errs.SessionExpired, errs.InvalidToken, errs.NotAuthenticated:
		return err.Error()
	default:
		return "an internal error occurred"
	}
}

func (srv *Server) handleSendChat(p *Peer, env wire.Envelope) {
	if p.Username == "" || env.SendChat == nil {
		return
	}
	msg := wire.Envelope{
		Type: wire.TypeChatMessage,
		ChatMessage: &wire.ChatMessage{
			ID:      uuid.NewString(),
			From:    p.Username,
			Room:    env.SendChat.Room,
			Content: env.SendChat.Content,
			Ts:      time.Now().Unix(),
		},
	}
	srv.State.Broadcast(env.SendChat.Room, msg, p.Username)
}

func (srv *Server) handleSendDM(p *Peer, env wire.Envelope) {
	if p.Username == "" || env.SendDM == nil {
		return
	}
	msg := wire.Envelope{
		Type: wire.TypeDMMessage,
		DMMessage: &wire.DMMessage{
			ID:      uuid.NewString(),
			From:    p.Username,
			Content: env.SendDM.Content,
			Ts:      time.Now().Unix(),
			Kind:    string(dm.KindText),
		},
	}
	srv.State.SendToUser(env.SendDM.To, msg)
}

func (srv *Server) handleJoinRoom(addr string, p *Peer, env wire.Envelope) {
	if p.Username == "" || env.JoinRoom == nil {
		return
	}
	if err := srv.State.JoinRoom(p.Username, env.JoinRoom.Name); err != nil {
		srv.sendError(addr, err)
		return
	}
	srv.handleListRooms(addr)
}

func (srv *Server) handleLeaveRoom(addr string, p *Peer, env wire.Envelope) {
	if p.Username == "" || env.LeaveRoom == nil {
		return
	}
	if err := srv.State.LeaveRoom(p.Username, env.LeaveRoom.Name); err != nil {
		srv.sendError(addr, err)
		return
	}
	srv.handleListRooms(addr)
}

func (srv *Server) handleCreateRoom(addr string, env wire.Envelope) {
	if env.CreateRoom == nil {
		return
	}
	if err := srv.State.CreateRoom(env.CreateRoom.Name); err != nil {
		srv.sendError(addr, err)
		return
	}
	srv.handleListRooms(addr)
}

func (srv *Server) handleInvite(addr string, p *Peer, env wire.Envelope) {
	if p.Username == "" || env.Invite == nil {
		return
	}
	inv, err := srv.State.Invite(p.Username, env.Invite.To, env.Invite.Room)
	if err != nil {
		srv.sendError(addr, err)
		return
	}
	srv.State.SendToUser(env.Invite.To, wire.Envelope{
		Type: wire.TypeInvitation,
		Invitation: &wire.Invitation{
			From:      p.Username,
			Room:      inv.Room,
			ID:        inv.ID,
			CreatedAt: inv.InvitedAt.Unix(),
		},
	})
}

func (srv *Server) handleAcceptInvite(addr string, p *Peer, env wire.Envelope) {
	if p.Username == "" || env.AcceptInvite == nil {
		return
	}
	if err := srv.State.AcceptInvitation(p.Username, env.AcceptInvite.ID); err != nil {
		srv.sendError(addr, err)
		return
	}
	srv.handleListRooms(addr)
}

func (srv *Server) handleDeclineInvite(addr string, p *Peer, env wire.Envelope) {
	if p.Username == "" || env.DeclineInvite == nil {
		return
	}
	if err := srv.State.DeclineInvitation(p.Username, env.DeclineInvite.ID); err != nil {
		srv.sendError(addr, err)
	}
}

func (srv *Server) handleListRooms(addr string) {
	rooms := srv.State.RoomNames()
	_ = srv.State.SendToPeer(addr, wire.Envelope{Type: wire.TypeRoomList, RoomList: &wire.RoomList{Rooms: rooms}})
}

func (srv *Server) handleListUsers(addr string) {
	users := srv.State.OnlineUsers()
	summaries := make([]wire.UserSummary, len(users))
	for i, u := range users {
		summaries[i] = wire.UserSummary{Username: u.Username, Room: u.CurrentRoom}
	}
	_ = srv.State.SendToPeer(addr, wire.Envelope{Type: wire.TypeUserList, UserList: &wire.UserList{Users: summaries}})
}

func (srv *Server) handleLogout(p *Peer, env wire.Envelope) {
	token := p.SessionToken
	if env.Logout != nil && env.Logout.SessionToken != "" {
		token = env.Logout.SessionToken
	}
	if token != "" {
		_ = srv.Auth.Logout(token)
	}
	srv.forceClose(p.Addr)
}

func (srv *Server) sendError(addr string, err error) {
	_ = srv.State.SendToPeer(addr, wire.Envelope{
		Type:  wire.TypeError,
		Error: &wire.ErrorMsg{Code: string(errs.KindOf(err)), Message: err.Error()},
	})
}
