package chatserver

import (
	"log"

	"lair-chat/server/crypto"
	"lair-chat/server/errs"
	"lair-chat/server/wire"
)

// SetDisconnectHandler registers the callback invoked (outside any lock)
// when a peer's outgoing channel has been full for dropThreshold
// consecutive sends. The server loop uses this to close the underlying
// connection.
func (s *State) SetDisconnectHandler(fn func(addr string)) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

// sealForPeer stamps env with p's next sequence number and encrypts it
// under p's session, returning a ready-to-queue length-prefixed frame.
// Every peer has an independent session, so sealing happens once per
// recipient rather than once per message (spec.md §4.2, §4.3).
func sealForPeer(p *Peer, env wire.Envelope) ([]byte, error) {
	if p.Sess == nil {
		return nil, errs.New(errs.EncryptionFailed, "peer has no established session")
	}
	env.Seq = p.nextSeq()
	ciphertext, err := crypto.SealEnvelope(p.Sess, env)
	if err != nil {
		return nil, err
	}
	return wire.EncodeFrame(ciphertext), nil
}

// Broadcast delivers env to every member of room except the optional
// sender (spec.md §4.6). It never blocks: a peer whose outgoing channel is
// full is skipped for this message and charged a drop.
func (s *State) Broadcast(room string, env wire.Envelope, except string) {
	s.mu.Lock()
	r, ok := s.rooms[room]
	if !ok {
		s.mu.Unlock()
		return
	}
	peers := make([]*Peer, 0, len(r.Members))
	for member := range r.Members {
		if member == except {
			continue
		}
		if u, ok := s.usersByName[member]; ok {
			if p, ok := s.peers[u.Address]; ok {
				peers = append(peers, p)
			}
		}
	}
	s.mu.Unlock()

	for _, p := range peers {
		frame, err := sealForPeer(p, env)
		if err != nil {
			log.Printf("[chatserver] broadcast seal for %s: %v", p.Addr, err)
			continue
		}
		s.deliver(p, frame)
	}
}

// SendToUser delivers env to a single online user by username. It is a
// no-op if the user is offline (spec.md §4.6).
func (s *State) SendToUser(username string, env wire.Envelope) {
	s.mu.Lock()
	u, ok := s.usersByName[username]
	var p *Peer
	if ok {
		p, ok = s.peers[u.Address]
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	frame, err := sealForPeer(p, env)
	if err != nil {
		log.Printf("[chatserver] send_to_user seal for %s: %v", username, err)
		return
	}
	s.deliver(p, frame)
}

// SendToPeer delivers env to a connection addressed by its socket address,
// used during the pre-authentication phase before a username exists
// (spec.md §4.6).
func (s *State) SendToPeer(addr string, env wire.Envelope) error {
	s.mu.Lock()
	p, ok := s.peers[addr]
	s.mu.Unlock()
	if !ok {
		return errs.New(errs.ConnectionClosed, "peer not connected")
	}

	frame, err := sealForPeer(p, env)
	if err != nil {
		return err
	}
	s.deliver(p, frame)
	return nil
}

// deliver pushes frame onto p's outgoing channel without blocking,
// applying the circuit breaker and triggering disconnect once dropThreshold
// consecutive drops have occurred.
func (s *State) deliver(p *Peer, frame []byte) {
	if p.health.shouldSkip() {
		return
	}

	select {
	case p.Outgoing <- frame:
		p.health.recordSuccess()
	default:
		n := p.health.recordDrop()
		if n >= dropThreshold {
			s.mu.Lock()
			cb := s.onDisconnect
			s.mu.Unlock()
			if cb != nil {
				cb(p.Addr)
			}
		}
	}
}
