package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/core/coretest"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

type emitted struct {
	ev  protocol.Event
	sig protocol.Signal
}

type fakeSignaler struct {
	mu  sync.Mutex
	out []emitted
}

func (f *fakeSignaler) Emit(_ context.Context, ev protocol.Event, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sig, _ := payload.(protocol.Signal)
	f.out = append(f.out, emitted{ev: ev, sig: sig})
	return nil
}

func (f *fakeSignaler) of(ev protocol.Event) []protocol.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Signal
	for _, e := range f.out {
		if e.ev == ev {
			out = append(out, e.sig)
		}
	}
	return out
}

func candidate(s string) string {
	raw, _ := json.Marshal(webrtc.ICECandidateInit{Candidate: s})
	return string(raw)
}

func newTestManager(local ...core.LocalTrack) (*Manager, *coretest.PeerFactory, *fakeSignaler, *coretest.Recorder) {
	f := &coretest.PeerFactory{}
	sig := &fakeSignaler{}
	rec := &coretest.Recorder{}
	m := NewManager(f, sig, func() []core.LocalTrack { return local }, rec)
	return m, f, sig, rec
}

func TestCreateInitiatorOffers(t *testing.T) {
	m, f, sig, _ := newTestManager(&coretest.Track{TrackID: "v", TrackKind: domain.KindVideo})

	require.NoError(t, m.Create("r1", "u1", true))
	require.NoError(t, m.Create("r1", "u1", true))

	assert.Equal(t, 1, f.Created("u1"))
	offers := sig.of(protocol.EventOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.UserID("u1"), offers[0].To)
	assert.Equal(t, domain.RoomID("r1"), offers[0].Room)

	l, ok := m.Link("u1")
	require.True(t, ok)
	assert.Equal(t, domain.PeerConnecting, l.State())
}

func TestCreateResponderWaitsForOffer(t *testing.T) {
	m, _, sig, _ := newTestManager()

	require.NoError(t, m.Create("r1", "u2", false))
	assert.Empty(t, sig.of(protocol.EventOffer))

	require.NoError(t, m.HandleOffer(protocol.Signal{Room: "r1", From: "u2", SDP: "remote-offer"}))
	answers := sig.of(protocol.EventAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.UserID("u2"), answers[0].To)
	assert.Equal(t, "answer-u2", answers[0].SDP)
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	m, f, _, _ := newTestManager()
	require.NoError(t, m.Create("r1", "u1", false))
	pc := f.Last("u1")

	require.NoError(t, m.HandleCandidate(protocol.Signal{From: "u1", Candidate: candidate("c1")}))
	require.NoError(t, m.HandleCandidate(protocol.Signal{From: "u1", Candidate: candidate("c2")}))
	assert.Empty(t, pc.Candidates())

	require.NoError(t, m.HandleOffer(protocol.Signal{From: "u1", SDP: "o"}))
	require.NoError(t, m.HandleCandidate(protocol.Signal{From: "u1", Candidate: candidate("c3")}))

	got := pc.Candidates()
	require.Len(t, got, 3)
	assert.Equal(t, "c1", got[0].Candidate)
	assert.Equal(t, "c3", got[2].Candidate)
}

func TestSignalsForUnknownParticipant(t *testing.T) {
	m, _, _, _ := newTestManager()
	assert.ErrorIs(t, m.HandleOffer(protocol.Signal{From: "ghost"}), ErrNoLink)
	assert.ErrorIs(t, m.HandleAnswer(protocol.Signal{From: "ghost"}), ErrNoLink)
	assert.ErrorIs(t, m.HandleCandidate(protocol.Signal{From: "ghost", Candidate: candidate("c")}), ErrNoLink)
}

func TestFailureIsScopedToParticipant(t *testing.T) {
	m, f, _, rec := newTestManager()
	f.Fail = map[domain.UserID]error{"bad": errors.New("no ice agent")}

	err := m.Create("r1", "bad", true)
	var pe *domain.PeerError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.UserID("bad"), pe.Participant)
	assert.ErrorIs(t, err, domain.ErrPeerNegotiationFailed)

	require.NoError(t, m.Create("r1", "good", true))
	f.Last("good").FireState(domain.PeerFailed)

	errs := rec.Errors()
	require.Len(t, errs, 1)
	require.ErrorAs(t, errs[0], &pe)
	assert.Equal(t, domain.UserID("good"), pe.Participant)
	assert.Equal(t, 1, m.Len())
}

func TestRemoteTracksStayWithTheirLink(t *testing.T) {
	m, f, _, rec := newTestManager()
	require.NoError(t, m.Create("r1", "u1", false))
	require.NoError(t, m.Create("r1", "u2", false))

	f.Last("u1").FireTrack(&coretest.RemoteTrack{TrackID: "a", Stream: "s1", Codec: webrtc.RTPCodecTypeAudio})
	f.Last("u1").FireTrack(&coretest.RemoteTrack{TrackID: "a", Stream: "s1", Codec: webrtc.RTPCodecTypeAudio})
	f.Last("u2").FireTrack(&coretest.RemoteTrack{TrackID: "v", Stream: "s2", Codec: webrtc.RTPCodecTypeVideo})

	streams := rec.Streams()
	require.Len(t, streams, 2)
	assert.Equal(t, domain.UserID("u1"), streams[0].Participant)
	assert.Equal(t, "s1", streams[0].ID())
	assert.Equal(t, domain.UserID("u2"), streams[1].Participant)
}

func TestCloseIsIdempotentAndSilencesCallbacks(t *testing.T) {
	m, f, sig, rec := newTestManager()
	require.NoError(t, m.Create("r1", "u1", true))
	pc := f.Last("u1")

	m.Close("u1")
	m.Close("u1")
	m.CloseAll()

	assert.True(t, pc.Closed())
	assert.Equal(t, 0, m.Len())

	pc.FireTrack(&coretest.RemoteTrack{TrackID: "late"})
	pc.FireICE(webrtc.ICECandidateInit{Candidate: "late"})
	assert.Empty(t, rec.Streams())
	assert.Empty(t, sig.of(protocol.EventCandidate))
}

func TestAttachLocalRenegotiates(t *testing.T) {
	m, f, sig, _ := newTestManager()
	require.NoError(t, m.Create("r1", "u1", true))
	require.NoError(t, m.Create("r1", "u2", false))

	tracks := []core.LocalTrack{coretest.NewTrack("v1", domain.KindVideo)}
	m.AttachLocal(tracks)
	m.AttachLocal(tracks)

	assert.Equal(t, 2, f.Last("u1").Offers())
	assert.Equal(t, 0, f.Last("u2").Offers(), "responder must not offer before answering")
	assert.Len(t, f.Last("u2").Senders(), 1)

	// the owed offer goes out right after the answer
	require.NoError(t, m.HandleOffer(protocol.Signal{Room: "r1", From: "u2", SDP: "o"}))
	assert.Equal(t, 1, f.Last("u2").Offers())
	assert.Len(t, sig.of(protocol.EventAnswer), 1)
	assert.Len(t, sig.of(protocol.EventOffer), 3)

	// a later renegotiation from the responder needs no waiting
	m.AttachLocal([]core.LocalTrack{coretest.NewTrack("a1", domain.KindAudio)})
	assert.Equal(t, 2, f.Last("u2").Offers())
}

func TestReinitializedTracksReplaceSenders(t *testing.T) {
	m, f, _, _ := newTestManager()
	require.NoError(t, m.Create("r1", "u1", true))
	first := []core.LocalTrack{coretest.NewTrack("v1", domain.KindVideo), coretest.NewTrack("a1", domain.KindAudio)}
	m.AttachLocal(first)
	pc := f.Last("u1")
	require.Len(t, pc.Senders(), 2)
	offers := pc.Offers()

	second := []core.LocalTrack{coretest.NewTrack("v2", domain.KindVideo), coretest.NewTrack("a2", domain.KindAudio)}
	m.AttachLocal(second)

	senders := pc.Senders()
	require.Len(t, senders, 2, "no sender stacking")
	assert.Equal(t, second[0].TrackLocal(), senders[0].Track())
	assert.Equal(t, second[1].TrackLocal(), senders[1].Track())
	assert.Equal(t, 1, senders[0].Replaced())
	assert.Equal(t, offers, pc.Offers(), "replacing a track needs no offer")
}

func TestRestartReplacesLink(t *testing.T) {
	m, f, _, _ := newTestManager()
	require.NoError(t, m.Create("r1", "u1", false))
	old := f.Last("u1")
	old.FireState(domain.PeerFailed)

	require.NoError(t, m.Restart("u1"))
	assert.True(t, old.Closed())
	assert.Equal(t, 2, f.Created("u1"))
	l, ok := m.Link("u1")
	require.True(t, ok)
	assert.True(t, l.Initiator)
	assert.ErrorIs(t, m.Restart("ghost"), ErrNoLink)
}
