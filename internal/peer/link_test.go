package peer

import (
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type recordingSignaler struct {
	mu           sync.Mutex
	offers       []webrtc.SessionDescription
	answers      []webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	renegotiates []string
}

func (s *recordingSignaler) SendOffer(to string, sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, sdp)
	return nil
}

func (s *recordingSignaler) SendAnswer(to string, sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, sdp)
	return nil
}

func (s *recordingSignaler) SendCandidate(to string, cand webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, cand)
	return nil
}

func (s *recordingSignaler) SendRenegotiate(to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renegotiates = append(s.renegotiates, to)
	return nil
}

func (s *recordingSignaler) lastOffer(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.offers)
	return s.offers[len(s.offers)-1]
}

func (s *recordingSignaler) lastAnswer(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.answers)
	return s.answers[len(s.answers)-1]
}

func (s *recordingSignaler) answerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

func (s *recordingSignaler) offerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

func (s *recordingSignaler) renegotiateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.renegotiates)
}

// testLink builds a link with one audio transceiver and no async
// callbacks registered, so tests drive negotiation deterministically.
func testLink(t *testing.T, local, remote string, sig Signaler) *Link {
	t.Helper()
	l, err := newLink(local, remote, webrtc.Configuration{}, sig)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	_, err = l.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)
	return l
}

func TestPolitenessIsDeterministic(t *testing.T) {
	sig := &recordingSignaler{}

	alice, err := newLink("alice", "bob", webrtc.Configuration{}, sig)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := newLink("bob", "alice", webrtc.Configuration{}, sig)
	require.NoError(t, err)
	defer bob.Close()

	require.True(t, alice.polite, "lower name is polite")
	require.False(t, bob.polite)
}

func TestCleanOfferAnswerExchange(t *testing.T) {
	sigA, sigB := &recordingSignaler{}, &recordingSignaler{}
	alice := testLink(t, "alice", "bob", sigA) // polite
	bob := testLink(t, "bob", "alice", sigB)   // impolite

	bob.negotiate()
	require.NoError(t, alice.HandleOffer(sigB.lastOffer(t)))
	require.NoError(t, bob.HandleAnswer(sigA.lastAnswer(t)))

	require.Equal(t, webrtc.SignalingStateStable, alice.pc.SignalingState())
	require.Equal(t, webrtc.SignalingStateStable, bob.pc.SignalingState())
}

func TestGlareConvergence(t *testing.T) {
	sigA, sigB := &recordingSignaler{}, &recordingSignaler{}
	alice := testLink(t, "alice", "bob", sigA) // polite
	bob := testLink(t, "bob", "alice", sigB)   // impolite

	// Both sides want to negotiate at the same time. Only the impolite
	// side produces an offer; the polite side requests one instead, so
	// there are never two offers in flight for the pair.
	alice.negotiate()
	bob.negotiate()
	require.Equal(t, 0, sigA.offerCount(), "polite side never offers")
	require.Equal(t, []string{"bob"}, sigA.renegotiates)
	require.Equal(t, 1, sigB.offerCount())

	// Bob services the request. His offer is already in flight, so the
	// extra one supersedes it; alice answers whichever arrives.
	bob.HandleRenegotiate()
	require.NoError(t, alice.HandleOffer(sigB.lastOffer(t)))
	require.False(t, alice.ignoreOffer)
	require.NoError(t, bob.HandleAnswer(sigA.lastAnswer(t)))

	require.Equal(t, webrtc.SignalingStateStable, alice.pc.SignalingState())
	require.Equal(t, webrtc.SignalingStateStable, bob.pc.SignalingState())
	require.Equal(t, 1, sigA.answerCount()+sigB.answerCount(), "exactly one completed answer")
}

func TestPoliteSideNeverInitiates(t *testing.T) {
	sig := &recordingSignaler{}
	alice := testLink(t, "alice", "bob", sig) // polite

	alice.negotiate()
	alice.HandleRenegotiate()

	require.Equal(t, 0, sig.offerCount())
	require.Equal(t, 2, sig.renegotiateCount(), "each local change asks the peer to offer")
	require.Equal(t, webrtc.SignalingStateStable, alice.pc.SignalingState())
}

func TestRogueOfferOnImpoliteSideIsIgnored(t *testing.T) {
	// A remote that offers despite being the polite side must not derail
	// the impolite side's own offer.
	sigA, sigB := &recordingSignaler{}, &recordingSignaler{}
	alice := testLink(t, "alice", "bob", sigA) // polite
	bob := testLink(t, "bob", "alice", sigB)   // impolite

	bob.negotiate()
	alice.sendOffer()
	require.NoError(t, bob.HandleOffer(sigA.lastOffer(t)))
	require.True(t, bob.ignoreOffer)
	require.Equal(t, 0, sigB.answerCount())
	require.Equal(t, webrtc.SignalingStateHaveLocalOffer, bob.pc.SignalingState(), "own offer still stands")
}

func TestStaleAnswerDropped(t *testing.T) {
	sigA, sigB := &recordingSignaler{}, &recordingSignaler{}
	alice := testLink(t, "alice", "bob", sigA)
	bob := testLink(t, "bob", "alice", sigB)

	bob.negotiate()
	require.NoError(t, alice.HandleOffer(sigB.lastOffer(t)))
	answer := sigA.lastAnswer(t)
	require.NoError(t, bob.HandleAnswer(answer))

	// A second copy of the same answer arrives after the exchange closed.
	require.NoError(t, bob.HandleAnswer(answer))
	require.Equal(t, webrtc.SignalingStateStable, bob.pc.SignalingState())
}

func TestEarlyCandidateIsNotAnError(t *testing.T) {
	sig := &recordingSignaler{}
	alice := testLink(t, "alice", "bob", sig)

	// No remote description yet: the candidate raced the offer.
	err := alice.HandleCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"})
	require.NoError(t, err)
}

func TestIgnoredOfferDropsCandidates(t *testing.T) {
	sigA, sigB := &recordingSignaler{}, &recordingSignaler{}
	alice := testLink(t, "alice", "bob", sigA)
	bob := testLink(t, "bob", "alice", sigB)

	bob.negotiate()
	alice.sendOffer()
	require.NoError(t, bob.HandleOffer(sigA.lastOffer(t)))
	require.True(t, bob.ignoreOffer)

	err := bob.HandleCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"})
	require.NoError(t, err, "candidates for an ignored offer are discarded silently")
}

func TestStreamClassification(t *testing.T) {
	sig := &recordingSignaler{}
	l, err := newLink("alice", "bob", webrtc.Configuration{}, sig)
	require.NoError(t, err)
	defer l.Close()

	require.Equal(t, RoleCamera, l.roleForStream("stream-1"), "first stream is the camera")
	require.Equal(t, RoleCamera, l.roleForStream("stream-1"), "same identity stays camera")
	require.Equal(t, RoleScreen, l.roleForStream("stream-2"), "a distinct stream is a screen-share")
	require.Equal(t, RoleScreen, l.roleForStream("stream-3"))
	require.Equal(t, RoleCamera, l.roleForStream("stream-1"), "camera identity is pinned")
}

func TestScreenShareTeardownKeepsCamera(t *testing.T) {
	sig := &recordingSignaler{}
	l, err := newLink("alice", "bob", webrtc.Configuration{}, sig)
	require.NoError(t, err)
	defer l.Close()

	camera, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera-video", "camera-stream")
	require.NoError(t, err)
	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen-video", "screen-stream")
	require.NoError(t, err)

	cameraSender, err := l.addTrack(camera)
	require.NoError(t, err)
	require.NoError(t, l.startScreenShare([]webrtc.TrackLocal{screen}))
	require.Len(t, l.screenSenders, 1)

	l.stopScreenShare()
	require.Empty(t, l.screenSenders)
	require.NotNil(t, cameraSender.Track(), "camera sender untouched by screen teardown")
}
