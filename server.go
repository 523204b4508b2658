package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lair-chat/server/chatserver"
	"lair-chat/server/transport"
)

// Server owns the two listeners a client can reach lair-chat through: a
// primary raw TCP+TLS socket carrying length-prefixed encrypted frames, and
// an alternate WebSocket upgrade path that carries the same frames inside
// binary WS messages (spec.md §9). Both hand accepted connections to the
// same chatserver.Server, which is transport-agnostic.
type Server struct {
	addr        string // TCP+TLS listen address
	wsAddr      string // WebSocket listen address (empty disables it)
	tlsConfig   *tls.Config
	chat        *chatserver.Server
	idleTimeout time.Duration
	limiter     *connLimiter

	mu   sync.Mutex
	lis  net.Listener
	http *http.Server
}

func NewServer(addr, wsAddr string, tlsConfig *tls.Config, chat *chatserver.Server, idleTimeout time.Duration, limiter *connLimiter) *Server {
	return &Server{
		addr:        addr,
		wsAddr:      wsAddr,
		tlsConfig:   tlsConfig,
		chat:        chat,
		idleTimeout: idleTimeout,
		limiter:     limiter,
	}
}

// Run starts both listeners and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.runTCP(ctx); err != nil {
			errCh <- err
		}
	}()

	if s.wsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.runWS(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// runTCP accepts raw TLS connections and hands each to the chat server's
// per-connection dispatch loop (spec.md §4.1).
func (s *Server) runTCP(ctx context.Context) error {
	lis, err := tls.Listen("tcp", s.addr, s.tlsConfig)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	log.Printf("[server] TCP+TLS listening on %s", s.addr)

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		addr := conn.RemoteAddr().String()
		if !s.limiter.admit(addr) {
			conn.Close()
			continue
		}
		go func() {
			defer s.limiter.release(addr)
			s.chat.HandleConnection(conn)
		}()
	}
}

// runWS accepts WebSocket upgrades and hands each to the same chat server
// dispatch loop via transport.WSConn (spec.md §9's WebSocket design note).
func (s *Server) runWS(ctx context.Context) error {
	mux := http.NewServeMux()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[server] websocket upgrade failed: %v", err)
			return
		}
		addr := r.RemoteAddr
		if !s.limiter.admit(addr) {
			ws.Close()
			return
		}
		defer s.limiter.release(addr)
		s.chat.HandleConnection(transport.NewWSConn(ws))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("lair-chat server"))
	})

	httpSrv := &http.Server{
		Addr:              s.wsAddr,
		Handler:           mux,
		TLSConfig:         s.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       s.idleTimeout,
	}
	s.mu.Lock()
	s.http = httpSrv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[server] ws shutdown: %v", err)
		}
	}()

	log.Printf("[server] websocket listening on %s", s.wsAddr)

	err := httpSrv.ListenAndServeTLS("", "")
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
