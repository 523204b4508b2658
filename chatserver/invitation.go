package chatserver

import (
	"time"

	"github.com/google/uuid"

	"lair-chat/server/errs"
)

// Invite creates a PendingInvitation from inviter to invitee for room,
// provided inviter is currently a member of that room and no invitation
// already exists for the (inviter, invitee, room) triple (spec.md §4.6).
func (s *State) Invite(inviter, invitee, room string) (*PendingInvitation, error) {
	now := time.Now()
	s.sweepExpired(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[room]
	if !ok || !r.Members[inviter] {
		return nil, errs.New(errs.RoomNotFound, "inviter is not a member of the room")
	}

	for _, inv := range s.pendingInvitations[invitee] {
		if inv.Inviter == inviter && inv.Room == room {
			return nil, errs.New(errs.Conflict, "invitation already pending")
		}
	}

	inv := &PendingInvitation{
		ID:        uuid.NewString(),
		Inviter:   inviter,
		Invitee:   invitee,
		Room:      room,
		InvitedAt: now,
	}
	s.pendingInvitations[invitee] = append(s.pendingInvitations[invitee], inv)
	return inv, nil
}

// InvitationsFor returns invitee's pending invitations, sweeping expired
// ones first.
func (s *State) InvitationsFor(invitee string) []PendingInvitation {
	s.sweepExpired(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.pendingInvitations[invitee]
	out := make([]PendingInvitation, len(list))
	for i, inv := range list {
		out[i] = *inv
	}
	return out
}

// AcceptInvitation moves invitee into the invited room and removes the
// invitation.
func (s *State) AcceptInvitation(invitee, id string) error {
	s.sweepExpired(time.Now())

	s.mu.Lock()
	list := s.pendingInvitations[invitee]
	idx := -1
	var room string
	for i, inv := range list {
		if inv.ID == id {
			idx = i
			room = inv.Room
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return errs.New(errs.InvitationNotFound, "invitation not found")
	}
	s.pendingInvitations[invitee] = append(list[:idx], list[idx+1:]...)
	s.mu.Unlock()

	return s.JoinRoom(invitee, room)
}

// DeclineInvitation removes an invitation without joining the room.
func (s *State) DeclineInvitation(invitee, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.pendingInvitations[invitee]
	for i, inv := range list {
		if inv.ID == id {
			s.pendingInvitations[invitee] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return errs.New(errs.InvitationNotFound, "invitation not found")
}

// sweepExpired removes invitations older than invitationTTL. It takes
// the lock itself; callers must not already hold it.
func (s *State) sweepExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for invitee, list := range s.pendingInvitations {
		kept := list[:0]
		for _, inv := range list {
			if now.Sub(inv.InvitedAt) < invitationTTL {
				kept = append(kept, inv)
			}
		}
		if len(kept) == 0 {
			delete(s.pendingInvitations, invitee)
		} else {
			s.pendingInvitations[invitee] = kept
		}
	}
}

// RunInvitationSweeper blocks, periodically sweeping expired invitations,
// until ctx-like stop channel is closed. Intended to run in its own
// goroutine from main.
func (s *State) RunInvitationSweeper(stop <-chan struct{}) {
	ticker := time.NewTicker(invitationSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepExpired(time.Now())
		case <-stop:
			return
		}
	}
}
