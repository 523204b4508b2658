package chatserver

import (
	"lair-chat/server/errs"
	"lair-chat/server/wire"
)

// CreateRoom adds a new empty room. It fails if the name is already taken
// (spec.md §4.6).
func (s *State) CreateRoom(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[name]; exists {
		return errs.New(errs.Conflict, "room already exists")
	}
	s.rooms[name] = &Room{Name: name, Members: make(map[string]bool)}
	return nil
}

// RoomNames returns a summary of every room, lobby first.
func (s *State) RoomNames() []wire.RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lobby *wire.RoomSummary
	var rest []wire.RoomSummary
	for _, r := range s.rooms {
		summary := wire.RoomSummary{Name: r.Name, MemberCount: len(r.Members), IsLobby: r.IsLobby}
		if r.IsLobby {
			lobby = &summary
			continue
		}
		rest = append(rest, summary)
	}
	out := make([]wire.RoomSummary, 0, len(rest)+1)
	if lobby != nil {
		out = append(out, *lobby)
	}
	return append(out, rest...)
}

// JoinRoom moves username into room, removing them from their previous
// room first.
func (s *State) JoinRoom(username, room string) error {
	s.mu.Lock()
	r, ok := s.rooms[room]
	if !ok {
		s.mu.Unlock()
		return errs.New(errs.RoomNotFound, "room does not exist")
	}
	u, ok := s.usersByName[username]
	if !ok {
		s.mu.Unlock()
		return errs.New(errs.UserNotFound, "user not online")
	}
	prevRoom := u.CurrentRoom
	s.mu.Unlock()

	if prevRoom != "" && prevRoom != room {
		s.removeUserFromCurrentRoom(username, true)
	}

	s.mu.Lock()
	r.Members[username] = true
	u.CurrentRoom = room
	s.mu.Unlock()
	return nil
}

// LeaveRoom removes username from room. If it was their current room, they
// are moved back to the lobby and a system message is broadcast to both
// rooms (spec.md §4.6).
func (s *State) LeaveRoom(username, room string) error {
	s.mu.Lock()
	if room == LobbyName {
		s.mu.Unlock()
		return errs.New(errs.Conflict, "cannot leave the lobby")
	}
	r, ok := s.rooms[room]
	if !ok {
		s.mu.Unlock()
		return errs.New(errs.RoomNotFound, "room does not exist")
	}
	if u, online := s.usersByName[username]; !online || u.CurrentRoom != room {
		delete(r.Members, username)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.removeUserFromCurrentRoom(username, false)
	return nil
}

// removeUserFromCurrentRoom removes username's membership in their current
// room. If dropping (peer went away, or JoinRoom is about to place the user
// in another room), the user's online record is left for the caller to
// update; otherwise they are returned to the lobby and a
// system notice is broadcast to both the vacated room and the lobby.
func (s *State) removeUserFromCurrentRoom(username string, dropping bool) {
	s.mu.Lock()
	u, ok := s.usersByName[username]
	if !ok {
		s.mu.Unlock()
		return
	}
	prevRoom := u.CurrentRoom
	if r, ok := s.rooms[prevRoom]; ok {
		delete(r.Members, username)
	}
	if dropping {
		s.mu.Unlock()
		return
	}

	lobby := s.rooms[LobbyName]
	lobby.Members[username] = true
	u.CurrentRoom = LobbyName
	s.mu.Unlock()

	if prevRoom != "" && prevRoom != LobbyName {
		s.Broadcast(prevRoom, systemMsg(prevRoom, username+" left the room"), "")
		s.Broadcast(LobbyName, systemMsg(LobbyName, username+" returned to the lobby"), "")
	}
}

func systemMsg(room, text string) wire.Envelope {
	return wire.Envelope{
		Type:   wire.TypeSystem,
		System: &wire.System{Kind: "notice", Message: text, Room: room},
	}
}
