// Package model defines the persisted document shape and the pure
// integrity helpers that mutate copies of it.
package model

import "time"

// ChatKind distinguishes two-party chats from group chats. It is derived
// from the participant count at creation time, never set independently.
type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
)

// CallKind is the media type requested by the caller.
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// CallStatus is a call's position in its lifecycle.
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallConnected CallStatus = "connected"
	CallEnded     CallStatus = "ended"
)

// SignalKind tags a relayed signaling event. Contents are opaque.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// User is an account record. PasswordHash is opaque to the store.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Chat is a conversation between two or more users. The encryption
// fingerprint is supplied by clients and never derived or verified here.
type Chat struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Kind                  ChatKind  `json:"kind"`
	ParticipantIDs        []string  `json:"participantIds"`
	EncryptionFingerprint string    `json:"encryptionFingerprint"`
	CreatedAt             time.Time `json:"createdAt"`
}

// Payload is the encrypted body of a message. The store moves it without
// ever decrypting it.
type Payload struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// Message is immutable once appended, except for bulk deletion when its
// chat is cleared or deleted. TS is epoch milliseconds and strictly
// increasing within a chat.
type Message struct {
	ID         string   `json:"id"`
	ChatID     string   `json:"chatId"`
	FromUserID string   `json:"fromUserId"`
	Payload    Payload  `json:"payload"`
	Mentions   []string `json:"mentions,omitempty"`
	TS         int64    `json:"ts"`
}

// Call is one ring attempt between exactly two users.
type Call struct {
	ID           string     `json:"id"`
	Kind         CallKind   `json:"kind"`
	CallerUserID string     `json:"callerUserId"`
	CalleeUserID string     `json:"calleeUserId"`
	ChatID       string     `json:"chatId,omitempty"`
	Status       CallStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// SignalingEvent is an opaque offer/answer/candidate payload relayed
// between the two participants of a call. TS is epoch milliseconds.
type SignalingEvent struct {
	CallID string     `json:"callId"`
	Kind   SignalKind `json:"kind"`
	Data   string     `json:"data"`
	TS     int64      `json:"ts"`
}

// GlobalFlags are process-wide pause switches plus the session cutoff.
type GlobalFlags struct {
	MessagesPaused bool      `json:"messagesPaused"`
	CallsPaused    bool      `json:"callsPaused"`
	SignupsPaused  bool      `json:"signupsPaused"`
	GlobalLogoutAt time.Time `json:"globalLogoutAt,omitzero"`
}

// Document is the whole persisted state and the single unit of
// consistency: callers always see and return complete documents.
type Document struct {
	SchemaVersion int                         `json:"version"`
	CreatedAt     time.Time                   `json:"createdAt"`
	Users         []User                      `json:"users"`
	Chats         []Chat                      `json:"chats"`
	Messages      map[string][]Message        `json:"messages"`
	Calls         []Call                      `json:"calls"`
	Signals       map[string][]SignalingEvent `json:"signalingEvents"`
	Flags         GlobalFlags                 `json:"globalFlags"`

	// Version is the backend's opaque token for the content this document
	// was decoded from. It is attached after each load or write and is
	// never serialized into the document itself.
	Version string `json:"-"`
}

// NewDocument returns the seed document written on first start, before
// any user has signed up.
func NewDocument(now time.Time) *Document {
	return &Document{
		SchemaVersion: 1,
		CreatedAt:     now.UTC(),
		Users:         []User{},
		Chats:         []Chat{},
		Messages:      map[string][]Message{},
		Calls:         []Call{},
		Signals:       map[string][]SignalingEvent{},
	}
}

// Clone returns a deep copy. Every document handed across the store
// boundary is a clone, so callers mutate freely without corrupting the
// cache.
func (d *Document) Clone() *Document {
	out := *d

	out.Users = make([]User, len(d.Users))
	copy(out.Users, d.Users)

	out.Chats = make([]Chat, len(d.Chats))
	for i, c := range d.Chats {
		c.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
		out.Chats[i] = c
	}

	out.Messages = make(map[string][]Message, len(d.Messages))
	for chatID, msgs := range d.Messages {
		cp := make([]Message, len(msgs))
		for i, m := range msgs {
			m.Mentions = append([]string(nil), m.Mentions...)
			cp[i] = m
		}
		out.Messages[chatID] = cp
	}

	out.Calls = make([]Call, len(d.Calls))
	copy(out.Calls, d.Calls)

	out.Signals = make(map[string][]SignalingEvent, len(d.Signals))
	for callID, evts := range d.Signals {
		out.Signals[callID] = append([]SignalingEvent(nil), evts...)
	}

	return &out
}

// FindUser returns the user with the given id, or nil.
func (d *Document) FindUser(id string) *User {
	for i := range d.Users {
		if d.Users[i].ID == id {
			return &d.Users[i]
		}
	}
	return nil
}

// FindChat returns the chat with the given id, or nil.
func (d *Document) FindChat(id string) *Chat {
	for i := range d.Chats {
		if d.Chats[i].ID == id {
			return &d.Chats[i]
		}
	}
	return nil
}

// FindCall returns the call with the given id, or nil.
func (d *Document) FindCall(id string) *Call {
	for i := range d.Calls {
		if d.Calls[i].ID == id {
			return &d.Calls[i]
		}
	}
	return nil
}
