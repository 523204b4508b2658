// Package dm implements the per-owner direct-message conversation model:
// canonical two-party conversation ids, unread-count bookkeeping, and the
// active-conversation notion that zeroes a conversation's count on focus
// (spec.md §4.7).
package dm

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ConversationId canonically identifies a two-party conversation: the pair
// is ordered lexicographically so ConversationId(a,b) == ConversationId(b,a)
// regardless of who initiated it.
type ConversationId struct {
	User1 string
	User2 string
}

// NewConversationId builds a canonical id from two usernames.
func NewConversationId(a, b string) ConversationId {
	if a <= b {
		return ConversationId{User1: a, User2: b}
	}
	return ConversationId{User1: b, User2: a}
}

// OtherParticipant returns the counterpart of current within the id, or
// ("", false) if current is not a participant.
func (id ConversationId) OtherParticipant(current string) (string, bool) {
	switch current {
	case id.User1:
		return id.User2, true
	case id.User2:
		return id.User1, true
	default:
		return "", false
	}
}

// Kind distinguishes a user-authored message from a system-generated one
// within a conversation (spec.md §3 DMMessage.kind).
type Kind string

const (
	KindText   Kind = "text"
	KindSystem Kind = "system"
)

// Message is a single message within a conversation.
type Message struct {
	ID        string
	Sender    string
	Content   string
	Kind      Kind
	Timestamp time.Time
	IsRead    bool
}

// Conversation is a direct-message thread between two users, tracked from
// one owning user's point of view.
type Conversation struct {
	ID           ConversationId
	Messages     []Message
	CreatedAt    time.Time
	LastActivity time.Time
	UnreadCount  int
}

func newConversation(id ConversationId, now time.Time) *Conversation {
	return &Conversation{ID: id, CreatedAt: now, LastActivity: now}
}

// Title returns the other participant's name relative to current.
func (c *Conversation) Title(current string) string {
	other, ok := c.ID.OtherParticipant(current)
	if !ok {
		return "unknown"
	}
	return other
}

// LastMessage returns the most recent message, or nil if the conversation
// is empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// Manager owns every conversation for one authenticated user (spec.md
// §4.7). It is not safe for concurrent use from multiple goroutines without
// external synchronization, matching the rest of the client's
// single-owner state model.
type Manager struct {
	owner              string
	conversations      map[ConversationId]*Conversation
	activeConversation *ConversationId
	now                func() time.Time
}

// NewManager returns a Manager for owner with no conversations.
func NewManager(owner string) *Manager {
	return &Manager{
		owner:         owner,
		conversations: make(map[ConversationId]*Conversation),
		now:           time.Now,
	}
}

// GetOrCreateConversation returns the conversation with other, creating it
// if absent.
func (m *Manager) GetOrCreateConversation(other string) *Conversation {
	id := NewConversationId(m.owner, other)
	conv, ok := m.conversations[id]
	if !ok {
		conv = newConversation(id, m.now())
		m.conversations[id] = conv
	}
	return conv
}

// ConversationWith returns the conversation with other, if one exists.
func (m *Manager) ConversationWith(other string) (*Conversation, bool) {
	id := NewConversationId(m.owner, other)
	conv, ok := m.conversations[id]
	return conv, ok
}

// SendMessage appends a message from the owner to the conversation with
// other. It never increments unread_count (spec.md §4.7).
func (m *Manager) SendMessage(other, content string) *Conversation {
	conv := m.GetOrCreateConversation(other)
	now := m.now()
	conv.Messages = append(conv.Messages, Message{
		ID:        uuid.NewString(),
		Sender:    m.owner,
		Content:   content,
		Kind:      KindText,
		Timestamp: now,
		IsRead:    true,
	})
	conv.LastActivity = now
	return conv
}

// ReceiveMessage appends a user-authored message from sender. unread_count
// is incremented iff the conversation is not currently active (spec.md
// §4.7).
func (m *Manager) ReceiveMessage(sender, content string) *Conversation {
	return m.receive(sender, content, KindText)
}

// ReceiveSystemMessage appends a system-generated message attributed to
// sender (e.g. a presence notice), following the same unread-count rules as
// ReceiveMessage. Grounded on original_source's messaging.rs System variant
// (spec.md §3 DMMessage.kind).
func (m *Manager) ReceiveSystemMessage(sender, content string) *Conversation {
	return m.receive(sender, content, KindSystem)
}

func (m *Manager) receive(sender, content string, kind Kind) *Conversation {
	conv := m.GetOrCreateConversation(sender)
	now := m.now()
	active := m.activeConversation != nil && *m.activeConversation == conv.ID

	conv.Messages = append(conv.Messages, Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Kind:      kind,
		Timestamp: now,
		IsRead:    active,
	})
	conv.LastActivity = now
	if !active {
		conv.UnreadCount++
	}
	return conv
}

// SetActiveConversation switches focus to other, resetting that
// conversation's unread_count to 0. Passing "" clears the active
// conversation without touching any counts.
func (m *Manager) SetActiveConversation(other string) {
	if other == "" {
		m.activeConversation = nil
		return
	}
	id := NewConversationId(m.owner, other)
	m.activeConversation = &id
	if conv, ok := m.conversations[id]; ok {
		conv.UnreadCount = 0
		for i := range conv.Messages {
			conv.Messages[i].IsRead = true
		}
	}
}

// ActiveConversationPartner returns the other participant of the active
// conversation, or ("", false) if none is active.
func (m *Manager) ActiveConversationPartner() (string, bool) {
	if m.activeConversation == nil {
		return "", false
	}
	other, ok := m.activeConversation.OtherParticipant(m.owner)
	return other, ok
}

// MarkAllRead zeroes every conversation's unread_count.
func (m *Manager) MarkAllRead() {
	for _, conv := range m.conversations {
		conv.UnreadCount = 0
		for i := range conv.Messages {
			conv.Messages[i].IsRead = true
		}
	}
}

// UnreadCountWith returns the unread count for the conversation with other,
// or 0 if no such conversation exists.
func (m *Manager) UnreadCountWith(other string) int {
	if conv, ok := m.ConversationWith(other); ok {
		return conv.UnreadCount
	}
	return 0
}

// TotalUnreadCount sums unread_count across every conversation.
func (m *Manager) TotalUnreadCount() int {
	total := 0
	for _, conv := range m.conversations {
		total += conv.UnreadCount
	}
	return total
}

// GetAllConversations returns every conversation ordered by last_activity
// descending, ties broken by ConversationId ascending (spec.md §4.7).
func (m *Manager) GetAllConversations() []*Conversation {
	out := make([]*Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return conversationIDLess(out[i].ID, out[j].ID)
	})
	return out
}

func conversationIDLess(a, b ConversationId) bool {
	if a.User1 != b.User1 {
		return a.User1 < b.User1
	}
	return a.User2 < b.User2
}
