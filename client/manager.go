package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
	"time"

	"lair-chat/server/crypto"
	"lair-chat/server/dm"
	"lair-chat/server/errs"
	"lair-chat/server/wire"
)

// Credentials are supplied to Connect when the caller already knows them;
// omitting them (pass nil) skips Authenticating and goes straight to
// Connected once the cryptographic handshake completes (spec.md §4.5).
type Credentials struct {
	Identifier     string
	Password       string
	IsRegistration bool
	Fingerprint    string
	// Email is only sent when IsRegistration is set. Leaving it empty lets
	// the server synthesize a unique placeholder instead.
	Email string
}

// Config tunes connect/read timeouts and the reconnection schedule
// (spec.md §5).
type Config struct {
	ConnectTimeout  time.Duration
	IdleReadTimeout time.Duration
	Backoff         BackoffConfig
	ClientName      string
}

// DefaultConfig matches spec.md §5's literal defaults.
var DefaultConfig = Config{
	ConnectTimeout:  10 * time.Second,
	IdleReadTimeout: 60 * time.Second,
	Backoff:         DefaultBackoffConfig,
	ClientName:      "lair-chat-client",
}

// Dialer opens the underlying transport. Production code dials TCP or a
// WebSocket; tests substitute net.Pipe.
type Dialer func(ctx context.Context) (net.Conn, error)

// Manager is the single-ownership connection coordinator described in
// spec.md §4.5: it owns the transport, the cryptographic session, and
// fans events out to registered Observers, reconnecting with exponential
// backoff on transport failure.
type Manager struct {
	mu    sync.Mutex
	state State
	cfg   Config
	dial  Dialer
	creds *Credentials

	conn net.Conn
	fr   *wire.FrameReader
	fw   *wire.FrameWriter
	sess *crypto.Session

	observers observerRegistry
	outbound  chan wire.Envelope
	stop      chan struct{}
	rng       *rand.Rand
	lastSeq   uint64
	wg        sync.WaitGroup
}

// NewManager builds a Manager in the Disconnected state.
func NewManager(cfg Config, dial Dialer) *Manager {
	return &Manager{
		state: Disconnected,
		cfg:   cfg,
		dial:  dial,
		rng:   rand.New(rand.NewSource(1)),
	}
}

// RegisterObserver adds obs to the fan-out set.
func (m *Manager) RegisterObserver(obs Observer) {
	m.observers.register(obs)
}

// State returns the manager's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Connect dials, performs the versioned handshake and cryptographic
// exchange, optionally authenticates, then starts the reader/writer pumps.
// creds may be nil to connect without authenticating.
func (m *Manager) Connect(ctx context.Context, creds *Credentials) error {
	m.setState(Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	conn, err := m.dial(dialCtx)
	if err != nil {
		m.setState(Failed)
		return errs.Wrap(errs.ConnectionFailed, err, "dial")
	}

	m.setState(Handshaking)
	fr, fw, sess, err := m.runHandshake(conn)
	if err != nil {
		conn.Close()
		m.setState(Failed)
		return err
	}

	if creds != nil {
		m.setState(Authenticating)
		if err := authenticate(fr, fw, sess, creds); err != nil {
			conn.Close()
			m.setState(Failed)
			return err
		}
	}

	m.mu.Lock()
	m.conn = conn
	m.fr = fr
	m.fw = fw
	m.sess = sess
	m.creds = creds
	m.lastSeq = 0
	m.outbound = make(chan wire.Envelope, outgoingQueueSize)
	m.stop = make(chan struct{})
	m.mu.Unlock()

	m.setState(Connected)
	m.observers.notifyStatus(true)
	m.startPumps()
	return nil
}

// outgoingQueueSize bounds the manager's own send queue, mirroring the
// server's bounded per-peer channel (spec.md §5 backpressure).
const outgoingQueueSize = 32

// runHandshake performs the versioned ServerHello/ClientHello exchange
// followed by the cryptographic handshake (spec.md §4.2, §4.3).
func (m *Manager) runHandshake(conn net.Conn) (*wire.FrameReader, *wire.FrameWriter, *crypto.Session, error) {
	fr := wire.NewFrameReader(conn)
	fw := wire.NewFrameWriter(conn)

	helloFrame, err := fr.ReadFrame()
	if err != nil {
		return nil, nil, nil, errs.Wrap(errs.HandshakeFailed, err, "read server_hello")
	}
	var hello wire.ServerHello
	if err := json.Unmarshal(helloFrame, &hello); err != nil {
		return nil, nil, nil, errs.Wrap(errs.ProtocolError, err, "decode server_hello")
	}

	reply := wire.ClientHello{
		Version:           wire.ProtocolVersion,
		ClientName:        m.cfg.ClientName,
		SupportedFeatures: []string{"encryption"},
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return nil, nil, nil, errs.Wrap(errs.ProtocolError, err, "encode client_hello")
	}
	if err := fw.WriteFrame(payload); err != nil {
		return nil, nil, nil, errs.Wrap(errs.HandshakeFailed, err, "write client_hello")
	}

	if hello.EncryptionRequired {
		found := false
		for _, f := range reply.SupportedFeatures {
			if f == "encryption" {
				found = true
				break
			}
		}
		if !found {
			return nil, nil, nil, errs.New(errs.ProtocolError, "server requires encryption we do not support")
		}
	}

	sess, err := crypto.ClientHandshake(fr, fw)
	if err != nil {
		return nil, nil, nil, err
	}
	return fr, fw, sess, nil
}

// authenticate sends an authenticate envelope and waits for the matching
// auth_result.
func authenticate(fr *wire.FrameReader, fw *wire.FrameWriter, sess *crypto.Session, creds *Credentials) error {
	env := wire.Envelope{
		Type: wire.TypeAuthenticate,
		Authenticate: &wire.Authenticate{
			Identifier:     creds.Identifier,
			Password:       creds.Password,
			IsRegistration: creds.IsRegistration,
			Fingerprint:    creds.Fingerprint,
			Email:          creds.Email,
		},
	}
	frame, err := crypto.SealEnvelope(sess, env)
	if err != nil {
		return err
	}
	if err := fw.WriteFrame(frame); err != nil {
		return errs.Wrap(errs.ConnectionFailed, err, "write authenticate")
	}

	respFrame, err := fr.ReadFrame()
	if err != nil {
		return errs.Wrap(errs.ConnectionFailed, err, "read auth_result")
	}
	resp, err := crypto.OpenEnvelope(sess, respFrame)
	if err != nil {
		return err
	}
	if resp.Type != wire.TypeAuthResult || resp.AuthResult == nil {
		return errs.New(errs.ProtocolError, "expected auth_result")
	}
	if !resp.AuthResult.Success {
		return errs.New(errs.InvalidCredentials, resp.AuthResult.Reason)
	}
	return nil
}

// Send enqueues env for delivery by the writer pump. It returns an error
// immediately if the manager is not Connected.
func (m *Manager) Send(env wire.Envelope) error {
	m.mu.Lock()
	if m.state != Connected {
		m.mu.Unlock()
		return errs.New(errs.ConnectionClosed, "not connected")
	}
	out := m.outbound
	m.mu.Unlock()

	select {
	case out <- env:
		return nil
	default:
		return errs.New(errs.ConnectionClosed, "send queue full")
	}
}

// startPumps spawns the reader and writer goroutines for the current
// connection (spec.md §4.5, §5).
func (m *Manager) startPumps() {
	m.mu.Lock()
	conn, fr, fw, sess, outbound, stop := m.conn, m.fr, m.fw, m.sess, m.outbound, m.stop
	m.mu.Unlock()

	m.wg.Add(2)
	go m.readPump(conn, fr, sess, stop)
	go m.writePump(fw, sess, outbound, stop)
}

func (m *Manager) readPump(conn net.Conn, fr *wire.FrameReader, sess *crypto.Session, stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		if m.cfg.IdleReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(m.cfg.IdleReadTimeout))
		}
		frame, err := fr.ReadFrame()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			m.onTransportError(err)
			return
		}

		env, err := crypto.OpenEnvelope(sess, frame)
		if err != nil {
			// A failed AEAD verification closes the connection (spec.md §4.3).
			m.onTransportError(err)
			return
		}

		if env.Seq != 0 {
			m.mu.Lock()
			regressed := env.Seq <= m.lastSeq && m.lastSeq != 0
			if !regressed {
				m.lastSeq = env.Seq
			}
			m.mu.Unlock()
			if regressed {
				continue
			}
		}

		m.dispatch(env)
	}
}

func (m *Manager) writePump(fw *wire.FrameWriter, sess *crypto.Session, outbound <-chan wire.Envelope, stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case env, ok := <-outbound:
			if !ok {
				return
			}
			frame, err := crypto.SealEnvelope(sess, env)
			if err != nil {
				m.observers.notifyError(err.Error())
				continue
			}
			if err := fw.WriteFrame(frame); err != nil {
				m.onTransportError(err)
				return
			}
		case <-stop:
			return
		}
	}
}

// dispatch turns a decoded Envelope into observer callbacks (spec.md §4.5
// Observer contract: text-oriented on_message/on_error).
func (m *Manager) dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.TypeChatMessage, wire.TypeDMMessage, wire.TypeSystem, wire.TypeRoomList, wire.TypeUserList, wire.TypeAuthResult, wire.TypeInvitation:
		m.observers.notifyMessage(formatEnvelope(env))
	case wire.TypeError:
		if env.Error != nil {
			m.observers.notifyError(fmt.Sprintf("%s: %s", env.Error.Code, env.Error.Message))
		}
	default:
		log.Printf("[client] unhandled server message type %q", env.Type)
	}
}

func formatEnvelope(env wire.Envelope) string {
	switch env.Type {
	case wire.TypeChatMessage:
		c := env.ChatMessage
		return fmt.Sprintf("[%s] %s: %s", c.Room, c.From, c.Content)
	case wire.TypeDMMessage:
		d := env.DMMessage
		if d.Kind == string(dm.KindSystem) {
			return fmt.Sprintf("(dm-system) %s: %s", d.From, d.Content)
		}
		return fmt.Sprintf("(dm) %s: %s", d.From, d.Content)
	case wire.TypeSystem:
		return env.System.Message
	default:
		b, _ := json.Marshal(env)
		return string(b)
	}
}

// onTransportError reacts to a reader/writer failure: if we were Connected
// it starts the reconnection loop; otherwise the error is ignored and the
// state is left as it is.
func (m *Manager) onTransportError(err error) {
	m.mu.Lock()
	wasConnected := m.state == Connected
	m.mu.Unlock()

	if !wasConnected {
		return
	}

	m.setState(Reconnecting)
	m.observers.notifyStatus(false)
	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	for attempt := 1; attempt <= m.cfg.Backoff.MaxAttempts; attempt++ {
		delay := m.cfg.Backoff.delay(attempt, m.rng)
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		err := m.Connect(ctx, creds)
		cancel()
		if err == nil {
			return
		}
		log.Printf("[client] reconnect attempt %d failed: %v", attempt, err)
	}

	m.setState(Failed)
}

// Disconnect gracefully tears down the connection: it signals both pumps
// to stop, half-closes the write side when the connection supports
// CloseWrite, sets a 2-second read deadline, then closes the socket at once
// and notifies observers exactly once (spec.md §5, §8 Scenario 6). Input
// still pending on the socket is not drained before the close.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == Disconnected {
		m.mu.Unlock()
		return
	}
	conn, stop, outbound := m.conn, m.stop, m.outbound
	m.state = Disconnected
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if outbound != nil {
		close(outbound)
	}
	if conn != nil {
		if closer, ok := conn.(interface{ CloseWrite() error }); ok {
			closer.CloseWrite()
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		conn.Close()
	}

	m.wg.Wait()
	m.observers.notifyStatus(false)
}

// Shutdown disconnects (if connected) and releases all observer mailboxes.
// Call this once the Manager itself is no longer needed.
func (m *Manager) Shutdown() {
	m.Disconnect()
	m.observers.closeAll()
}
