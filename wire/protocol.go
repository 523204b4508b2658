// Package wire implements the length-prefixed JSON framing, the versioned
// handshake, and the typed client/server message union that make up the
// Lair-Chat wire protocol.
package wire

// ProtocolVersion is the current handshake version string. Version
// mismatches are a warning, not fatal, unless a required feature is
// missing (see ServerHello.EncryptionRequired).
const ProtocolVersion = "1.0"

// ServerHello is the first frame the server sends on every new connection,
// before any cryptographic handshake.
type ServerHello struct {
	Version             string   `json:"version"`
	ServerName          string   `json:"server_name"`
	Features            []string `json:"features"`
	EncryptionRequired  bool     `json:"encryption_required"`
}

// ClientHello is the client's reply to ServerHello.
type ClientHello struct {
	Version            string   `json:"version"`
	ClientName         string   `json:"client_name"`
	SupportedFeatures  []string `json:"supported_features"`
}

// MessageType discriminates the payload carried by an Envelope.
type MessageType string

const (
	// Client -> server
	TypeClientHello   MessageType = "client_hello"
	TypeAuthenticate  MessageType = "authenticate"
	TypeSendChat      MessageType = "send_chat"
	TypeSendDM        MessageType = "send_dm"
	TypeJoinRoom      MessageType = "join_room"
	TypeLeaveRoom     MessageType = "leave_room"
	TypeCreateRoom    MessageType = "create_room"
	TypeInvite        MessageType = "invite"
	TypeAcceptInvite  MessageType = "accept_invite"
	TypeDeclineInvite MessageType = "decline_invite"
	TypeListRooms     MessageType = "list_rooms"
	TypeListUsers     MessageType = "list_users"
	TypeLogout        MessageType = "logout"

	// Server -> client
	TypeServerHello MessageType = "server_hello"
	TypeAuthResult  MessageType = "auth_result"
	TypeChatMessage MessageType = "chat_message"
	TypeDMMessage   MessageType = "dm_message"
	TypeSystem      MessageType = "system"
	TypeRoomList    MessageType = "room_list"
	TypeUserList    MessageType = "user_list"
	TypeError       MessageType = "error"
	TypeInvitation  MessageType = "invitation"
)

// Envelope is the outer shape of every post-handshake JSON payload. Exactly
// one of the typed fields is populated, selected by Type. Seq is set by the
// server on every server->client envelope (spec.md §4.2); clients ignore
// envelopes whose Seq regresses.
type Envelope struct {
	Type MessageType `json:"type"`
	Seq  uint64      `json:"seq,omitempty"`

	Authenticate  *Authenticate  `json:"authenticate,omitempty"`
	SendChat      *SendChat      `json:"send_chat,omitempty"`
	SendDM        *SendDM        `json:"send_dm,omitempty"`
	JoinRoom      *JoinRoom      `json:"join_room,omitempty"`
	LeaveRoom     *LeaveRoom     `json:"leave_room,omitempty"`
	CreateRoom    *CreateRoom    `json:"create_room,omitempty"`
	Invite        *Invite        `json:"invite,omitempty"`
	AcceptInvite  *AcceptInvite  `json:"accept_invite,omitempty"`
	DeclineInvite *DeclineInvite `json:"decline_invite,omitempty"`
	Logout        *Logout        `json:"logout,omitempty"`

	AuthResult  *AuthResult  `json:"auth_result,omitempty"`
	ChatMessage *ChatMessage `json:"chat_message,omitempty"`
	DMMessage   *DMMessage   `json:"dm_message,omitempty"`
	System      *System      `json:"system,omitempty"`
	RoomList    *RoomList    `json:"room_list,omitempty"`
	UserList    *UserList    `json:"user_list,omitempty"`
	Error       *ErrorMsg    `json:"error,omitempty"`
	Invitation  *Invitation  `json:"invitation,omitempty"`
}

// --- client -> server payloads ---

type Authenticate struct {
	Identifier     string `json:"identifier"`
	Password       string `json:"password"`
	IsRegistration bool   `json:"is_registration"`
	Fingerprint    string `json:"fingerprint,omitempty"`
	// Email is only meaningful when IsRegistration is set. Clients that omit
	// it get a synthesized placeholder (chatserver.handleAuthenticate) so the
	// users.email UNIQUE constraint never rejects a second registration.
	Email string `json:"email,omitempty"`
}

type SendChat struct {
	Room    string `json:"room"`
	Content string `json:"content"`
}

type SendDM struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

type JoinRoom struct {
	Name string `json:"name"`
}

type LeaveRoom struct {
	Name string `json:"name"`
}

type CreateRoom struct {
	Name string `json:"name"`
}

type Invite struct {
	To   string `json:"to"`
	Room string `json:"room"`
}

type AcceptInvite struct {
	ID string `json:"id"`
}

type DeclineInvite struct {
	ID string `json:"id"`
}

type Logout struct {
	SessionToken string `json:"session_token"`
}

// --- server -> client payloads ---

type AuthUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type AuthResult struct {
	Success      bool     `json:"success"`
	SessionToken string   `json:"session_token,omitempty"`
	User         *AuthUser `json:"user,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

type ChatMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Room    string `json:"room"`
	Content string `json:"content"`
	Ts      int64  `json:"ts"`
}

type DMMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Content string `json:"content"`
	Ts      int64  `json:"ts"`
	// Kind distinguishes a user-authored message from a system-generated one
	// (e.g. "this user went offline"). Mirrors dm.Message.Kind. An empty Kind
	// is rendered like dm.KindText by the client.
	Kind string `json:"kind,omitempty"`
}

// System carries informational/system events, e.g. room-transfer notices
// (spec.md §4.6, §3 DMMessage.kind=System analog for room broadcasts).
type System struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Room    string `json:"room,omitempty"`
}

type RoomList struct {
	Rooms []RoomSummary `json:"rooms"`
}

type RoomSummary struct {
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
	IsLobby     bool   `json:"is_lobby"`
}

type UserList struct {
	Users []UserSummary `json:"users"`
}

type UserSummary struct {
	Username string `json:"username"`
	Room     string `json:"room,omitempty"`
}

type ErrorMsg struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type Invitation struct {
	From      string `json:"from"`
	Room      string `json:"room"`
	ID        string `json:"id"`
	Message   string `json:"message,omitempty"`
	CreatedAt int64  `json:"created_at"`
}
