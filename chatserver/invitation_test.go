package chatserver

import (
	"testing"
	"time"
)

func TestInvitationSweepRemovesExpiredOnly(t *testing.T) {
	s := NewState()
	connectUser(s, "alice", "addr-1")
	if err := s.CreateRoom("general"); err != nil {
		t.Fatalf("create_room: %v", err)
	}
	if err := s.JoinRoom("alice", "general"); err != nil {
		t.Fatalf("join_room: %v", err)
	}

	inv, err := s.Invite("alice", "bob", "general")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	// Backdate the invitation past the TTL and force a sweep via a lazy
	// access (InvitationsFor sweeps before reading).
	s.mu.Lock()
	s.pendingInvitations["bob"][0].InvitedAt = time.Now().Add(-2 * invitationTTL)
	s.mu.Unlock()

	if list := s.InvitationsFor("bob"); len(list) != 0 {
		t.Fatalf("expected expired invitation swept, got %+v", list)
	}

	// A declined accept on the now-missing ID must fail cleanly.
	if err := s.AcceptInvitation("bob", inv.ID); err == nil {
		t.Fatal("expected AcceptInvitation to fail for swept invitation")
	}
}
