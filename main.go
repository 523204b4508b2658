package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"lair-chat/server/auth"
	"lair-chat/server/chatserver"
	"lair-chat/server/store"
)

func main() {
	// Check for CLI subcommands before parsing flags.
	if len(os.Args) > 1 {
		cliDB := "lair-chat.db"
		if RunCLI(os.Args[1:], cliDB) {
			return
		}
	}

	_ = godotenv.Load()

	addr := flag.String("addr", ":8443", "TCP+TLS listen address")
	wsAddr := flag.String("ws-addr", ":8444", "WebSocket listen address (empty to disable)")
	dbPath := flag.String("db", "lair-chat.db", "SQLite database path")
	idleTimeout := flag.Duration("idle-timeout", idleReadTimeout, "WebSocket listener HTTP idle timeout")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	maxConnections := flag.Int("max-connections", defaultMaxConnections, "maximum total connections across both transports")
	perIPLimit := flag.Int("per-ip-limit", defaultPerIPLimit, "maximum connections per IP address")
	flag.Parse()

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()
	seedDefaults(st)

	tlsHostname := ""
	if host, _, err := net.SplitHostPort(*addr); err == nil && host != "" {
		tlsHostname = host
	}

	tlsConfig, fingerprint, err := generateTLSConfig(*certValidity, tlsHostname)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}
	log.Printf("[server] TLS certificate fingerprint: %s", fingerprint)

	state := chatserver.NewState()
	authSvc := auth.NewService(st, st, auth.DefaultServiceConfig)
	sessCfg := chatserver.DefaultSessionConfig
	if name, ok, err := st.GetSetting("server_name"); err == nil && ok {
		sessCfg.ServerName = name
	}
	chatSrv := chatserver.NewServer(state, authSvc, sessCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	go RunMetrics(ctx, state, 5*time.Second)

	stopSweeper := make(chan struct{})
	go state.RunInvitationSweeper(stopSweeper)
	go func() {
		<-ctx.Done()
		close(stopSweeper)
	}()

	go func() {
		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := authSvc.CleanupSessions(); err != nil {
					log.Printf("[auth] cleanup sessions: %v", err)
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(storeOptimizeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.Optimize(); err != nil {
					log.Printf("[store] optimize: %v", err)
				}
			}
		}
	}()

	limiter := newConnLimiter(*maxConnections, *perIPLimit)
	srv := NewServer(*addr, *wsAddr, tlsConfig, chatSrv, *idleTimeout, limiter)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[server] %v", err)
	}
}

// seedDefaults writes factory-default settings (only server_name) when
// they have not been created yet (first-run initialisation).
func seedDefaults(st *store.Store) {
	defaults := [][2]string{
		{"server_name", "lair-chat"},
	}
	for _, kv := range defaults {
		if _, ok, err := st.GetSetting(kv[0]); err == nil && !ok {
			if err := st.SetSetting(kv[0], kv[1]); err != nil {
				log.Printf("[store] seed %q: %v", kv[0], err)
			}
		}
	}
}
