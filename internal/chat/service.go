// Package chat exposes the user, chat, and message operations of the
// application core on top of the document store.
package chat

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sirco-team/talky/internal/errs"
	"github.com/sirco-team/talky/internal/model"
	"github.com/sirco-team/talky/internal/store"
)

// Service wraps the store facade with the application-level guards:
// participation checks, pause flags, admin-only switches.
type Service struct {
	store *store.Store
	log   *slog.Logger

	now func() time.Time
}

// NewService creates a chat service over the given store.
func NewService(st *store.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, log: log, now: time.Now}
}

// GetDocument returns a copy of the whole current document.
func (s *Service) GetDocument(ctx context.Context) (*model.Document, error) {
	return s.store.Load(ctx)
}

// CreateUser signs up a new account. The first account created becomes
// an admin.
func (s *Service) CreateUser(ctx context.Context, username, passwordHash string) (model.User, error) {
	var out model.User
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		if doc.Flags.SignupsPaused {
			return errs.ErrDisabled
		}
		u, err := doc.AddUser(username, passwordHash, s.now())
		if err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	s.log.Info("user created", "user_id", out.ID, "username", out.Username)
	return out, nil
}

// SetUsername changes an account's username, keeping case-insensitive
// uniqueness.
func (s *Service) SetUsername(ctx context.Context, userID, username string) (model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return model.User{}, errs.ErrInvalid
	}
	var out model.User
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		u := doc.FindUser(userID)
		if u == nil {
			return errs.ErrNotFound
		}
		for i := range doc.Users {
			if doc.Users[i].ID != userID && strings.EqualFold(doc.Users[i].Username, username) {
				return errs.ErrAlreadyExists
			}
		}
		u.Username = username
		out = *u
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	return out, nil
}

// SetPasswordHash replaces an account's password hash. The hash is
// opaque to the store.
func (s *Service) SetPasswordHash(ctx context.Context, userID, passwordHash string) error {
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		u := doc.FindUser(userID)
		if u == nil {
			return errs.ErrNotFound
		}
		u.PasswordHash = passwordHash
		return nil
	})
	return err
}

// SetAdmin grants or revokes admin. Only admins may do this.
func (s *Service) SetAdmin(ctx context.Context, targetID, byUserID string, isAdmin bool) error {
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		by := doc.FindUser(byUserID)
		if by == nil || !by.IsAdmin {
			return errs.ErrForbidden
		}
		target := doc.FindUser(targetID)
		if target == nil {
			return errs.ErrNotFound
		}
		target.IsAdmin = isAdmin
		return nil
	})
	return err
}

// RemoveUser deletes an account. Admins may delete anyone; users may
// delete themselves. Chats, messages, and calls involving the account
// are cascaded in the same mutation.
func (s *Service) RemoveUser(ctx context.Context, targetID, byUserID string) error {
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		by := doc.FindUser(byUserID)
		if by == nil {
			return errs.ErrForbidden
		}
		if targetID != byUserID && !by.IsAdmin {
			return errs.ErrForbidden
		}
		return doc.RemoveUser(targetID)
	})
	if err == nil {
		s.log.Info("user removed", "user_id", targetID, "by", byUserID)
	}
	return err
}

// CreateChat creates a chat with the creator plus the given participants.
func (s *Service) CreateChat(ctx context.Context, creatorID, name string, participantIDs []string, fingerprint string) (model.Chat, error) {
	var out model.Chat
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		c, err := doc.AddChat(creatorID, name, participantIDs, fingerprint, s.now())
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return model.Chat{}, err
	}
	return out, nil
}

// AppendMessage stores an opaque encrypted message in a chat.
func (s *Service) AppendMessage(ctx context.Context, chatID, fromUserID string, payload model.Payload, mentions []string) (model.Message, error) {
	var out model.Message
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		if doc.Flags.MessagesPaused {
			return errs.ErrDisabled
		}
		m, err := doc.AppendMessage(chatID, fromUserID, payload, mentions, s.now())
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return model.Message{}, err
	}
	return out, nil
}

// ListMessages returns a chat's messages sorted by ts. Non-participants
// get ErrNotFound, indistinguishable from a missing chat.
func (s *Service) ListMessages(ctx context.Context, chatID, forUserID string) ([]model.Message, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	chat := doc.FindChat(chatID)
	if chat == nil || !chat.IsParticipant(forUserID) {
		return nil, errs.ErrNotFound
	}

	msgs := append([]model.Message(nil), doc.Messages[chatID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].TS < msgs[j].TS })
	return msgs, nil
}

// RenameChat changes a chat's display name.
func (s *Service) RenameChat(ctx context.Context, chatID, byUserID, name string) (model.Chat, error) {
	var out model.Chat
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		chat, err := s.participantChat(doc, chatID, byUserID)
		if err != nil {
			return err
		}
		chat.Name = name
		out = *chat
		return nil
	})
	if err != nil {
		return model.Chat{}, err
	}
	return out, nil
}

// ClearChatMessages deletes every message in a chat, keeping the chat.
func (s *Service) ClearChatMessages(ctx context.Context, chatID, byUserID string) error {
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		if _, err := s.participantChat(doc, chatID, byUserID); err != nil {
			return err
		}
		doc.Messages[chatID] = []model.Message{}
		return nil
	})
	return err
}

// DeleteChat removes a chat and its messages.
func (s *Service) DeleteChat(ctx context.Context, chatID, byUserID string) error {
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		if _, err := s.participantChat(doc, chatID, byUserID); err != nil {
			return err
		}
		return doc.RemoveChat(chatID)
	})
	return err
}

// RotateChatKey replaces a chat wholesale: a new chat with the same
// participants and a fresh fingerprint, the old chat and its messages
// gone, all in one mutation so readers never observe a half-rotated
// state.
func (s *Service) RotateChatKey(ctx context.Context, chatID, byUserID, fingerprint string) (model.Chat, error) {
	var out model.Chat
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		chat, err := s.participantChat(doc, chatID, byUserID)
		if err != nil {
			return err
		}

		replacement := model.Chat{
			ID:                    uuid.NewString(),
			Name:                  chat.Name,
			Kind:                  chat.Kind,
			ParticipantIDs:        append([]string(nil), chat.ParticipantIDs...),
			EncryptionFingerprint: fingerprint,
			CreatedAt:             s.now().UTC(),
		}
		if err := doc.RemoveChat(chatID); err != nil {
			return err
		}
		doc.Chats = append(doc.Chats, replacement)
		doc.Messages[replacement.ID] = []model.Message{}
		out = replacement
		return nil
	})
	if err != nil {
		return model.Chat{}, err
	}
	s.log.Info("chat key rotated", "old_chat_id", chatID, "new_chat_id", out.ID)
	return out, nil
}

// SetMessagesPaused flips the message pause switch. Admin only.
func (s *Service) SetMessagesPaused(ctx context.Context, byUserID string, paused bool) error {
	return s.setFlag(ctx, byUserID, func(f *model.GlobalFlags) { f.MessagesPaused = paused })
}

// SetCallsPaused flips the call pause switch. Admin only.
func (s *Service) SetCallsPaused(ctx context.Context, byUserID string, paused bool) error {
	return s.setFlag(ctx, byUserID, func(f *model.GlobalFlags) { f.CallsPaused = paused })
}

// SetSignupsPaused flips the signup pause switch. Admin only.
func (s *Service) SetSignupsPaused(ctx context.Context, byUserID string, paused bool) error {
	return s.setFlag(ctx, byUserID, func(f *model.GlobalFlags) { f.SignupsPaused = paused })
}

// ForceGlobalLogout invalidates every session issued before now. Admin
// only; the session layer enforces the cutoff.
func (s *Service) ForceGlobalLogout(ctx context.Context, byUserID string) error {
	cutoff := s.now().UTC()
	return s.setFlag(ctx, byUserID, func(f *model.GlobalFlags) { f.GlobalLogoutAt = cutoff })
}

func (s *Service) setFlag(ctx context.Context, byUserID string, apply func(*model.GlobalFlags)) error {
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		by := doc.FindUser(byUserID)
		if by == nil || !by.IsAdmin {
			return errs.ErrForbidden
		}
		apply(&doc.Flags)
		return nil
	})
	return err
}

// participantChat resolves a chat and checks the acting user belongs to
// it: missing chats are ErrNotFound, outsiders get ErrForbidden.
func (s *Service) participantChat(doc *model.Document, chatID, byUserID string) (*model.Chat, error) {
	chat := doc.FindChat(chatID)
	if chat == nil {
		return nil, errs.ErrNotFound
	}
	if !chat.IsParticipant(byUserID) {
		return nil, errs.ErrForbidden
	}
	return chat, nil
}
