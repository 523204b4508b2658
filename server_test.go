package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lair-chat/server/auth"
	"lair-chat/server/chatserver"
	"lair-chat/server/crypto"
	"lair-chat/server/wire"
)

// memUserRepoForTest/memSessionRepoForTest are minimal in-memory fakes of
// the store repository contracts, scoped to this test file so server tests
// don't need a real SQLite database.
type memUserRepoForTest struct {
	mu    sync.Mutex
	users map[string]*auth.User
}

func newMemUserRepoForTest() *memUserRepoForTest {
	return &memUserRepoForTest{users: make(map[string]*auth.User)}
}

// CreateUser enforces the same case-insensitive username/email uniqueness
// as the real store's UNIQUE COLLATE NOCASE columns (store/store.go).
func (r *memUserRepoForTest) CreateUser(u *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lowerUser, lowerEmail := strings.ToLower(u.Username), strings.ToLower(u.Email)
	for _, existing := range r.users {
		if strings.ToLower(existing.Username) == lowerUser {
			return fmt.Errorf("UNIQUE constraint failed: users.username")
		}
		if strings.ToLower(existing.Email) == lowerEmail {
			return fmt.Errorf("UNIQUE constraint failed: users.email")
		}
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *memUserRepoForTest) GetUserByID(id string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *memUserRepoForTest) GetUserByUsernameOrEmail(identifier string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lower := strings.ToLower(identifier)
	for _, u := range r.users {
		if strings.ToLower(u.Username) == lower {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepoForTest) UpdateUser(u *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok {
		cp := *u
		r.users[u.ID] = &cp
	}
	return nil
}

func (r *memUserRepoForTest) DeleteUser(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

type memSessionRepoForTest struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

func newMemSessionRepoForTest() *memSessionRepoForTest {
	return &memSessionRepoForTest{sessions: make(map[string]*auth.Session)}
}

func (r *memSessionRepoForTest) CreateSession(s *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepoForTest) GetSessionByToken(token string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Token == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepoForTest) UpdateSession(s *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		cp := *s
		r.sessions[s.ID] = &cp
	}
	return nil
}

func (r *memSessionRepoForTest) DeleteSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepoForTest) DeleteSessionsForUser(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *memSessionRepoForTest) DeleteExpiredSessions(now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

var testPort atomic.Int32

func init() {
	testPort.Store(18443)
}

func getFreePort() int {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return int(testPort.Add(1))
	}
	lis, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return int(testPort.Add(1))
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()
	return port
}

// startTestServer boots a Server with its TCP+TLS listener only (the
// WebSocket listener is disabled by passing an empty wsAddr) and returns its
// address plus a cancel func that shuts it down.
func startTestServer(t *testing.T) (string, context.CancelFunc) {
	t.Helper()

	tlsConfig, _, err := generateTLSConfig(time.Hour, "127.0.0.1")
	if err != nil {
		t.Fatalf("generateTLSConfig: %v", err)
	}

	state := chatserver.NewState()
	authCfg := auth.DefaultServiceConfig
	authCfg.PasswordParams = auth.PasswordParams{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 16, SaltLen: 8}
	authSvc := auth.NewService(newMemUserRepoForTest(), newMemSessionRepoForTest(), authCfg)
	chatSrv := chatserver.NewServer(state, authSvc, chatserver.DefaultSessionConfig)

	port := getFreePort()
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	limiter := newConnLimiter(defaultMaxConnections, defaultPerIPLimit)
	srv := NewServer(addr, "", tlsConfig, chatSrv, idleReadTimeout, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = srv.Run(ctx)
	}()

	// Give the listener time to come up.
	time.Sleep(100 * time.Millisecond)

	return addr, cancel
}

// testServerClient drives the client half of the wire handshake over a real
// TLS socket dialed at a running Server's TCP+TLS listener.
type testServerClient struct {
	conn net.Conn
	fr   *wire.FrameReader
	fw   *wire.FrameWriter
	sess *crypto.Session
}

func dialTestTLSServer(t *testing.T, addr string) *testServerClient {
	t.Helper()
	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })

	fr := wire.NewFrameReader(conn)
	fw := wire.NewFrameWriter(conn)

	if _, err := fr.ReadFrame(); err != nil {
		t.Fatalf("read server_hello: %v", err)
	}

	hello := wire.ClientHello{Version: wire.ProtocolVersion, ClientName: "test", SupportedFeatures: []string{"encryption"}}
	payload, err := json.Marshal(hello)
	if err != nil {
		t.Fatalf("marshal client_hello: %v", err)
	}
	if err := fw.WriteFrame(payload); err != nil {
		t.Fatalf("write client_hello: %v", err)
	}

	sess, err := crypto.ClientHandshake(fr, fw)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	return &testServerClient{conn: conn, fr: fr, fw: fw, sess: sess}
}

func (c *testServerClient) send(t *testing.T, env wire.Envelope) {
	t.Helper()
	frame, err := crypto.SealEnvelope(c.sess, env)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := c.fw.WriteFrame(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *testServerClient) recv(t *testing.T) wire.Envelope {
	t.Helper()
	frame, err := c.fr.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := crypto.OpenEnvelope(c.sess, frame)
	if err != nil {
		t.Fatalf("open envelope: %v", err)
	}
	return env
}

func TestServerTCPHandshakeAndAuthenticate(t *testing.T) {
	addr, cancel := startTestServer(t)
	defer cancel()

	c := dialTestTLSServer(t, addr)
	c.send(t, wire.Envelope{Type: wire.TypeAuthenticate, Authenticate: &wire.Authenticate{
		Identifier: "alice", Password: "hunter2pw", IsRegistration: true,
	}})

	resp := c.recv(t)
	if resp.Type != wire.TypeAuthResult || resp.AuthResult == nil || !resp.AuthResult.Success {
		t.Fatalf("expected successful auth_result, got %+v", resp)
	}
}

func TestServerTCPTwoClientsExchangeChat(t *testing.T) {
	addr, cancel := startTestServer(t)
	defer cancel()

	alice := dialTestTLSServer(t, addr)
	bob := dialTestTLSServer(t, addr)

	alice.send(t, wire.Envelope{Type: wire.TypeAuthenticate, Authenticate: &wire.Authenticate{Identifier: "alice", Password: "pw123456", IsRegistration: true}})
	aliceResp := alice.recv(t)
	if aliceResp.AuthResult == nil || !aliceResp.AuthResult.Success {
		t.Fatalf("alice registration should succeed, got %+v", aliceResp.AuthResult)
	}
	// Distinct registrations must not collide on synthesized placeholder
	// emails (chatserver.handleAuthenticate).
	bob.send(t, wire.Envelope{Type: wire.TypeAuthenticate, Authenticate: &wire.Authenticate{Identifier: "bob", Password: "pw123456", IsRegistration: true}})
	bobResp := bob.recv(t)
	if bobResp.AuthResult == nil || !bobResp.AuthResult.Success {
		t.Fatalf("bob registration should succeed, got %+v", bobResp.AuthResult)
	}

	alice.send(t, wire.Envelope{Type: wire.TypeSendChat, SendChat: &wire.SendChat{Room: chatserver.LobbyName, Content: "hi bob"}})

	msg := bob.recv(t)
	if msg.Type != wire.TypeChatMessage || msg.ChatMessage == nil || msg.ChatMessage.Content != "hi bob" {
		t.Fatalf("expected chat message relayed to bob, got %+v", msg)
	}
}

func TestConnLimiterRejectsOverCapacity(t *testing.T) {
	l := newConnLimiter(1, 10)
	if !l.admit("1.2.3.4:1111") {
		t.Fatal("first connection should be admitted")
	}
	if l.admit("5.6.7.8:2222") {
		t.Fatal("second connection should be rejected once global cap is hit")
	}
	l.release("1.2.3.4:1111")
	if !l.admit("5.6.7.8:2222") {
		t.Fatal("connection should be admitted after a slot is released")
	}
}

func TestConnLimiterRejectsOverPerIP(t *testing.T) {
	l := newConnLimiter(100, 1)
	if !l.admit("9.9.9.9:1") {
		t.Fatal("first connection from IP should be admitted")
	}
	if l.admit("9.9.9.9:2") {
		t.Fatal("second connection from same IP should be rejected")
	}
	if !l.admit("8.8.8.8:1") {
		t.Fatal("connection from a different IP should be admitted")
	}
}
