package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sirco-team/talky/internal/errs"
)

// Helpers in this file are pure: they operate on a document copy handed
// in by the store's mutate path and never touch the cache or the write
// queue themselves.

// AddUser appends a new user. Usernames are unique case-insensitively;
// the very first user becomes an admin.
func (d *Document) AddUser(username, passwordHash string, now time.Time) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, errs.ErrInvalid
	}
	for i := range d.Users {
		if strings.EqualFold(d.Users[i].Username, username) {
			return User{}, errs.ErrAlreadyExists
		}
	}
	u := User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      len(d.Users) == 0,
		CreatedAt:    now.UTC(),
	}
	d.Users = append(d.Users, u)
	return u, nil
}

// AddChat creates a chat containing the creator plus the given
// participants. Every participant must already exist; kind is derived
// from the final participant count.
func (d *Document) AddChat(creatorID, name string, participantIDs []string, fingerprint string, now time.Time) (Chat, error) {
	if d.FindUser(creatorID) == nil {
		return Chat{}, errs.ErrNotFound
	}

	members := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, id := range participantIDs {
		if seen[id] {
			continue
		}
		if d.FindUser(id) == nil {
			return Chat{}, errs.ErrNotFound
		}
		seen[id] = true
		members = append(members, id)
	}

	kind := ChatGroup
	if len(members) == 2 {
		kind = ChatDirect
	}

	c := Chat{
		ID:                    uuid.NewString(),
		Name:                  name,
		Kind:                  kind,
		ParticipantIDs:        members,
		EncryptionFingerprint: fingerprint,
		CreatedAt:             now.UTC(),
	}
	d.Chats = append(d.Chats, c)
	d.Messages[c.ID] = []Message{}
	return c, nil
}

// IsParticipant reports whether the user belongs to the chat.
func (c *Chat) IsParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AppendMessage stores a message in a chat. The timestamp is
// max(now, last+1) so ordering stays strict even when appends outrun the
// clock's resolution.
func (d *Document) AppendMessage(chatID, fromUserID string, payload Payload, mentions []string, now time.Time) (Message, error) {
	chat := d.FindChat(chatID)
	if chat == nil {
		return Message{}, errs.ErrNotFound
	}
	if !chat.IsParticipant(fromUserID) {
		return Message{}, errs.ErrForbidden
	}

	ts := now.UnixMilli()
	if msgs := d.Messages[chatID]; len(msgs) > 0 {
		if last := msgs[len(msgs)-1].TS; ts <= last {
			ts = last + 1
		}
	}

	m := Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		FromUserID: fromUserID,
		Payload:    payload,
		Mentions:   append([]string(nil), mentions...),
		TS:         ts,
	}
	d.Messages[chatID] = append(d.Messages[chatID], m)
	return m, nil
}

// RemoveChat deletes a chat and its messages.
func (d *Document) RemoveChat(chatID string) error {
	idx := -1
	for i := range d.Chats {
		if d.Chats[i].ID == chatID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errs.ErrNotFound
	}
	d.Chats = append(d.Chats[:idx], d.Chats[idx+1:]...)
	delete(d.Messages, chatID)
	return nil
}

// RemoveCall deletes a call and its signaling events.
func (d *Document) RemoveCall(callID string) {
	for i := range d.Calls {
		if d.Calls[i].ID == callID {
			d.Calls = append(d.Calls[:i], d.Calls[i+1:]...)
			break
		}
	}
	delete(d.Signals, callID)
}

// RemoveUser deletes a user and cascades: chats the user participated in
// (with their messages) and calls the user was a party to (with their
// signaling events) go too.
func (d *Document) RemoveUser(userID string) error {
	idx := -1
	for i := range d.Users {
		if d.Users[i].ID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errs.ErrNotFound
	}
	d.Users = append(d.Users[:idx], d.Users[idx+1:]...)

	kept := d.Chats[:0]
	for _, c := range d.Chats {
		if c.IsParticipant(userID) {
			delete(d.Messages, c.ID)
			continue
		}
		kept = append(kept, c)
	}
	d.Chats = kept

	keptCalls := d.Calls[:0]
	for _, c := range d.Calls {
		if c.CallerUserID == userID || c.CalleeUserID == userID {
			delete(d.Signals, c.ID)
			continue
		}
		keptCalls = append(keptCalls, c)
	}
	d.Calls = keptCalls
	return nil
}
