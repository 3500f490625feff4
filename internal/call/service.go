package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sirco-team/talky/internal/config"
	"github.com/sirco-team/talky/internal/errs"
	"github.com/sirco-team/talky/internal/model"
	"github.com/sirco-team/talky/internal/store"
)

// Service manages call records and their signaling-event log. All state
// lives in the document store; the service only decides transitions.
type Service struct {
	store     *store.Store
	log       *slog.Logger
	ringTTL   time.Duration
	retention time.Duration

	now func() time.Time
}

// NewService creates a call service over the given store.
func NewService(cfg *config.Config, st *store.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     st,
		log:       log,
		ringTTL:   cfg.RingTTL,
		retention: cfg.EndedCallRetention,
		now:       time.Now,
	}
}

// Create starts a new call in ringing state.
func (s *Service) Create(ctx context.Context, callerID, calleeID string, kind model.CallKind, chatID string) (model.Call, error) {
	if kind != model.CallAudio && kind != model.CallVideo {
		return model.Call{}, errs.ErrInvalid
	}
	if callerID == calleeID {
		return model.Call{}, errs.ErrForbidden
	}

	var out model.Call
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		if doc.Flags.CallsPaused {
			return errs.ErrDisabled
		}
		if doc.FindUser(callerID) == nil || doc.FindUser(calleeID) == nil {
			return errs.ErrNotFound
		}
		if chatID != "" {
			chat := doc.FindChat(chatID)
			if chat == nil || !chat.IsParticipant(callerID) {
				return errs.ErrNotFound
			}
		}

		now := s.now().UTC()
		out = model.Call{
			ID:           uuid.NewString(),
			Kind:         kind,
			CallerUserID: callerID,
			CalleeUserID: calleeID,
			ChatID:       chatID,
			Status:       model.CallRinging,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		doc.Calls = append(doc.Calls, out)
		doc.Signals[out.ID] = []model.SignalingEvent{}
		return nil
	})
	if err != nil {
		return model.Call{}, err
	}
	return out, nil
}

// ListPendingFor returns calls still ringing for the given callee,
// sweeping expired rings first so stale entries never surface.
func (s *Service) ListPendingFor(ctx context.Context, userID string) ([]model.Call, error) {
	doc, err := s.sweepIfNeeded(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.Call
	for _, c := range doc.Calls {
		if c.Status == model.CallRinging && c.CalleeUserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

// Get returns a call visible to the given user. Non-participants get
// ErrNotFound, never confirmation that the call exists.
func (s *Service) Get(ctx context.Context, callID, byUserID string) (model.Call, error) {
	doc, err := s.sweepIfNeeded(ctx)
	if err != nil {
		return model.Call{}, err
	}
	c := doc.FindCall(callID)
	if c == nil || !isParty(c, byUserID) {
		return model.Call{}, errs.ErrNotFound
	}
	return *c, nil
}

// Accept moves a ringing call to connected. Only the callee may accept.
func (s *Service) Accept(ctx context.Context, callID, byUserID string) (model.Call, error) {
	return s.transition(ctx, callID, byUserID, TriggerAccept)
}

// Decline ends a ringing or connected call. Either party may do so;
// hanging up a connected call goes through the same path.
func (s *Service) Decline(ctx context.Context, callID, byUserID string) (model.Call, error) {
	return s.transition(ctx, callID, byUserID, TriggerEnd)
}

func (s *Service) transition(ctx context.Context, callID, byUserID string, trigger Trigger) (model.Call, error) {
	var out model.Call
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		s.sweepDoc(doc)

		c := doc.FindCall(callID)
		if c == nil || !isParty(c, byUserID) {
			return errs.ErrNotFound
		}
		if trigger == TriggerAccept && byUserID != c.CalleeUserID {
			return errs.ErrForbidden
		}

		next, err := Transition(c.Status, trigger)
		if err != nil {
			return err
		}
		c.Status = next
		c.UpdatedAt = s.now().UTC()
		out = *c
		return nil
	})
	if err != nil {
		return model.Call{}, err
	}
	s.log.Debug("call transition", "call_id", callID, "trigger", trigger, "status", out.Status)
	return out, nil
}

// PostSignal appends an opaque signaling event to a call's log. The
// relay never inspects the payload.
func (s *Service) PostSignal(ctx context.Context, callID, byUserID string, kind model.SignalKind, data string) (model.SignalingEvent, error) {
	switch kind {
	case model.SignalOffer, model.SignalAnswer, model.SignalCandidate:
	default:
		return model.SignalingEvent{}, errs.ErrInvalid
	}

	var out model.SignalingEvent
	_, err := s.store.Mutate(ctx, func(doc *model.Document) error {
		c := doc.FindCall(callID)
		if c == nil || !isParty(c, byUserID) {
			return errs.ErrNotFound
		}
		if c.Status == model.CallEnded {
			return errs.ErrNotFound
		}

		// Strictly increasing ts keeps the since-cursor exact even when
		// two events land inside one clock tick.
		ts := s.now().UnixMilli()
		if evts := doc.Signals[callID]; len(evts) > 0 {
			if last := evts[len(evts)-1].TS; ts <= last {
				ts = last + 1
			}
		}
		out = model.SignalingEvent{CallID: callID, Kind: kind, Data: data, TS: ts}
		doc.Signals[callID] = append(doc.Signals[callID], out)
		return nil
	})
	if err != nil {
		return model.SignalingEvent{}, err
	}
	return out, nil
}

// PollSignals returns events for the call with ts greater than sinceTs,
// in non-decreasing ts order. Polling twice with the same cursor
// returns the same events.
func (s *Service) PollSignals(ctx context.Context, callID, byUserID string, sinceTs int64) ([]model.SignalingEvent, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	c := doc.FindCall(callID)
	if c == nil || !isParty(c, byUserID) {
		return nil, errs.ErrNotFound
	}

	var out []model.SignalingEvent
	for _, e := range doc.Signals[callID] {
		if e.TS > sinceTs {
			out = append(out, e)
		}
	}
	return out, nil
}

// Sweep expires rings past their TTL and prunes long-ended calls with
// their signaling events. The background ticker in cmd/talkyd calls it;
// the read paths also sweep opportunistically.
func (s *Service) Sweep(ctx context.Context) error {
	_, err := s.sweepIfNeeded(ctx)
	return err
}

// sweepIfNeeded loads the document and, only when something is stale,
// issues a mutation applying the sweep. The common case stays a pure read.
func (s *Service) sweepIfNeeded(ctx context.Context) (*model.Document, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !s.needsSweep(doc) {
		return doc, nil
	}
	return s.store.Mutate(ctx, func(d *model.Document) error {
		s.sweepDoc(d)
		return nil
	})
}

func (s *Service) needsSweep(doc *model.Document) bool {
	now := s.now()
	for i := range doc.Calls {
		c := &doc.Calls[i]
		if c.Status == model.CallRinging && now.Sub(c.CreatedAt) > s.ringTTL {
			return true
		}
		if c.Status == model.CallEnded && now.Sub(c.UpdatedAt) > s.retention {
			return true
		}
	}
	return false
}

// sweepDoc applies expiry and pruning in place.
func (s *Service) sweepDoc(doc *model.Document) {
	now := s.now()
	var prune []string
	for i := range doc.Calls {
		c := &doc.Calls[i]
		if c.Status == model.CallRinging && now.Sub(c.CreatedAt) > s.ringTTL {
			if next, err := Transition(c.Status, TriggerExpire); err == nil {
				c.Status = next
				c.UpdatedAt = now.UTC()
				s.log.Info("expired stale ringing call", "call_id", c.ID)
			}
		}
		if c.Status == model.CallEnded && now.Sub(c.UpdatedAt) > s.retention {
			prune = append(prune, c.ID)
		}
	}
	for _, id := range prune {
		doc.RemoveCall(id)
	}
}

func isParty(c *model.Call, userID string) bool {
	return c.CallerUserID == userID || c.CalleeUserID == userID
}
