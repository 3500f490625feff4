package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirco-team/talky/internal/backend"
	"github.com/sirco-team/talky/internal/config"
	"github.com/sirco-team/talky/internal/errs"
	"github.com/sirco-team/talky/internal/model"
	"github.com/sirco-team/talky/internal/store"
)

func setupService(t *testing.T) (*Service, *store.Store, model.User, model.User) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Backend = "memory"
	cfg.CacheFreshness = time.Minute
	st := store.New(cfg, backend.NewMemory(), nil)
	t.Cleanup(st.Close)

	svc := NewService(cfg, st, nil)

	var alice, bob model.User
	_, err := st.Mutate(context.Background(), func(doc *model.Document) error {
		var err error
		if alice, err = doc.AddUser("alice", "h1", time.Now()); err != nil {
			return err
		}
		bob, err = doc.AddUser("bob", "h2", time.Now())
		return err
	})
	require.NoError(t, err)
	return svc, st, alice, bob
}

func TestService_CallLifecycle(t *testing.T) {
	svc, _, alice, bob := setupService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, alice.ID, bob.ID, model.CallAudio, "")
	require.NoError(t, err)
	assert.Equal(t, model.CallRinging, c.Status)
	assert.Equal(t, alice.ID, c.CallerUserID)
	assert.Equal(t, bob.ID, c.CalleeUserID)

	pending, err := svc.ListPendingFor(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c.ID, pending[0].ID)

	// Nothing pending for the caller.
	pending, err = svc.ListPendingFor(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	accepted, err := svc.Accept(ctx, c.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallConnected, accepted.Status)

	// Accepting twice fails.
	_, err = svc.Accept(ctx, c.ID, bob.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// Either party ends a connected call.
	ended, err := svc.Decline(ctx, c.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallEnded, ended.Status)
}

func TestService_OnlyCalleeAccepts(t *testing.T) {
	svc, _, alice, bob := setupService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, alice.ID, bob.ID, model.CallVideo, "")
	require.NoError(t, err)

	_, err = svc.Accept(ctx, c.ID, alice.ID)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	got, err := svc.Get(ctx, c.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallRinging, got.Status)
}

func TestService_NonParticipantSeesNothing(t *testing.T) {
	svc, st, alice, bob := setupService(t)
	ctx := context.Background()

	var carol model.User
	_, err := st.Mutate(ctx, func(doc *model.Document) error {
		var err error
		carol, err = doc.AddUser("carol", "h3", time.Now())
		return err
	})
	require.NoError(t, err)

	c, err := svc.Create(ctx, alice.ID, bob.ID, model.CallAudio, "")
	require.NoError(t, err)

	_, err = svc.Get(ctx, c.ID, carol.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.Accept(ctx, c.ID, carol.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.PollSignals(ctx, c.ID, carol.ID, 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.PostSignal(ctx, c.ID, carol.ID, model.SignalOffer, "sdp")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestService_CreateGuards(t *testing.T) {
	svc, st, alice, bob := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, alice.ID, alice.ID, model.CallAudio, "")
	assert.ErrorIs(t, err, errs.ErrForbidden)

	_, err = svc.Create(ctx, alice.ID, "ghost", model.CallAudio, "")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = svc.Create(ctx, alice.ID, bob.ID, model.CallKind("screen"), "")
	assert.ErrorIs(t, err, errs.ErrInvalid)

	_, err = svc.Create(ctx, alice.ID, bob.ID, model.CallAudio, "no-such-chat")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// Pausing calls blocks creation.
	_, err = st.Mutate(ctx, func(doc *model.Document) error {
		doc.Flags.CallsPaused = true
		return nil
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, alice.ID, bob.ID, model.CallAudio, "")
	assert.ErrorIs(t, err, errs.ErrDisabled)
}

func TestService_RingingExpires(t *testing.T) {
	svc, _, alice, bob := setupService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, alice.ID, bob.ID, model.CallAudio, "")
	require.NoError(t, err)

	// Jump past the ring TTL.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	pending, err := svc.ListPendingFor(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// An expired call cannot be accepted.
	_, err = svc.Accept(ctx, c.ID, bob.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	got, err := svc.Get(ctx, c.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallEnded, got.Status)
}

func TestService_EndedCallsPruned(t *testing.T) {
	svc, st, alice, bob := setupService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, alice.ID, bob.ID, model.CallAudio, "")
	require.NoError(t, err)
	_, err = svc.PostSignal(ctx, c.ID, alice.ID, model.SignalOffer, "sdp")
	require.NoError(t, err)
	_, err = svc.Decline(ctx, c.ID, bob.ID)
	require.NoError(t, err)

	// Jump past the retention window and sweep.
	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	require.NoError(t, svc.Sweep(ctx))

	_, err = svc.Get(ctx, c.ID, alice.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	doc, err := st.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, doc.Signals, c.ID)
}

func TestService_SignalRelay(t *testing.T) {
	svc, _, alice, bob := setupService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, alice.ID, bob.ID, model.CallVideo, "")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, c.ID, bob.ID)
	require.NoError(t, err)

	offer, err := svc.PostSignal(ctx, c.ID, alice.ID, model.SignalOffer, "offer-sdp")
	require.NoError(t, err)
	answer, err := svc.PostSignal(ctx, c.ID, bob.ID, model.SignalAnswer, "answer-sdp")
	require.NoError(t, err)
	cand, err := svc.PostSignal(ctx, c.ID, alice.ID, model.SignalCandidate, "ice-1")
	require.NoError(t, err)

	// Strictly increasing timestamps, even inside one clock tick.
	assert.Greater(t, answer.TS, offer.TS)
	assert.Greater(t, cand.TS, answer.TS)

	events, err := svc.PollSignals(ctx, c.ID, bob.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.SignalOffer, events[0].Kind)
	assert.Equal(t, "offer-sdp", events[0].Data)

	// Polling with the same cursor is idempotent.
	again, err := svc.PollSignals(ctx, c.ID, bob.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, events, again)

	// Advancing the cursor past the answer returns only the candidate.
	tail, err := svc.PollSignals(ctx, c.ID, bob.ID, answer.TS)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, model.SignalCandidate, tail[0].Kind)

	// A cursor at the last event returns nothing.
	none, err := svc.PollSignals(ctx, c.ID, bob.ID, cand.TS)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// signalingPeer mirrors how a client consumes relayed events: offers
// and answers replace the remote description, candidates accumulate as
// a set.
type signalingPeer struct {
	remoteDescription string
	candidates        map[string]bool
}

func newSignalingPeer() *signalingPeer {
	return &signalingPeer{candidates: map[string]bool{}}
}

func (p *signalingPeer) apply(events []model.SignalingEvent) {
	for _, ev := range events {
		switch ev.Kind {
		case model.SignalOffer, model.SignalAnswer:
			p.remoteDescription = ev.Data
		case model.SignalCandidate:
			p.candidates[ev.Data] = true
		}
	}
}

func TestService_ReplayedPollLeavesPeerUnchanged(t *testing.T) {
	svc, _, alice, bob := setupService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, alice.ID, bob.ID, model.CallVideo, "")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, c.ID, bob.ID)
	require.NoError(t, err)

	_, err = svc.PostSignal(ctx, c.ID, alice.ID, model.SignalOffer, "offer-sdp")
	require.NoError(t, err)
	_, err = svc.PostSignal(ctx, c.ID, alice.ID, model.SignalCandidate, "ice-1")
	require.NoError(t, err)
	_, err = svc.PostSignal(ctx, c.ID, alice.ID, model.SignalCandidate, "ice-2")
	require.NoError(t, err)

	events, err := svc.PollSignals(ctx, c.ID, bob.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	peer := newSignalingPeer()
	peer.apply(events)
	assert.Equal(t, "offer-sdp", peer.remoteDescription)
	assert.Equal(t, map[string]bool{"ice-1": true, "ice-2": true}, peer.candidates)

	// A client that re-polls with a stale cursor gets the same batch
	// back; applying it a second time must not disturb its state.
	again, err := svc.PollSignals(ctx, c.ID, bob.ID, 0)
	require.NoError(t, err)
	peer.apply(again)
	assert.Equal(t, "offer-sdp", peer.remoteDescription)
	assert.Equal(t, map[string]bool{"ice-1": true, "ice-2": true}, peer.candidates)
}

func TestService_NoSignalsAfterEnd(t *testing.T) {
	svc, _, alice, bob := setupService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, alice.ID, bob.ID, model.CallAudio, "")
	require.NoError(t, err)
	_, err = svc.Decline(ctx, c.ID, bob.ID)
	require.NoError(t, err)

	_, err = svc.PostSignal(ctx, c.ID, alice.ID, model.SignalCandidate, "ice")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestService_UnknownSignalKind(t *testing.T) {
	svc, _, alice, bob := setupService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, alice.ID, bob.ID, model.CallAudio, "")
	require.NoError(t, err)

	_, err = svc.PostSignal(ctx, c.ID, alice.ID, model.SignalKind("renegotiate"), "x")
	assert.ErrorIs(t, err, errs.ErrInvalid)
}
