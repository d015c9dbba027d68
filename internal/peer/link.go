// Package peer implements the client side of the coordinator protocol:
// one collision-safe negotiation state machine per remote member.
package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Signaler carries negotiation envelopes to a named remote member. The
// transport behind it is the coordinator relay.
type Signaler interface {
	SendOffer(to string, sdp webrtc.SessionDescription) error
	SendAnswer(to string, sdp webrtc.SessionDescription) error
	SendCandidate(to string, cand webrtc.ICECandidateInit) error
	SendRenegotiate(to string) error
}

// Link is the negotiation state machine for one remote peer. All state
// transitions for a link are serialized by its mutex; links for different
// peers interleave freely.
type Link struct {
	local  string
	remote string
	polite bool

	pc       *webrtc.PeerConnection
	signaler Signaler

	mu          sync.Mutex
	makingOffer bool
	ignoreOffer bool

	cameraStreamID string
	screenSenders  []*webrtc.RTPSender

	onTrack TrackHandler
}

// newLink builds the peer connection but registers no callbacks; start
// arms them. Politeness is fixed here: the lexicographically lower name
// is polite, so both ends agree without coordination. The impolite side
// is the sole offer initiator for the pair.
func newLink(local, remote string, cfg webrtc.Configuration, sig Signaler) (*Link, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &Link{
		local:    local,
		remote:   remote,
		polite:   local < remote,
		pc:       pc,
		signaler: sig,
	}, nil
}

func (l *Link) start() {
	l.pc.OnNegotiationNeeded(l.negotiate)

	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := l.signaler.SendCandidate(l.remote, c.ToJSON()); err != nil {
			log.Debug().Err(err).Str("module", "peer").Str("remote", l.remote).Msg("candidate send failed")
		}
	})

	l.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "peer").Str("remote", l.remote).Str("ice_state", s.String()).Msg("ICE state")
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		l.handleTrack(track, receiver)
	})
}

// negotiate runs when local media changes. Only the impolite side of a
// pair ever produces offers; the polite side asks its peer for a fresh
// offer instead, so the two ends can never be in glare with each other.
func (l *Link) negotiate() {
	if l.polite {
		if err := l.signaler.SendRenegotiate(l.remote); err != nil {
			log.Debug().Err(err).Str("module", "peer").Str("remote", l.remote).Msg("renegotiate request failed")
		}
		return
	}
	l.sendOffer()
}

// HandleRenegotiate services the polite peer's request for a fresh offer.
func (l *Link) HandleRenegotiate() {
	if l.polite {
		return
	}
	l.sendOffer()
}

// sendOffer produces and sends a local offer. makingOffer covers the
// whole window so a remote offer arriving mid-flight is seen as a
// collision.
func (l *Link) sendOffer() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.makingOffer = true
	defer func() { l.makingOffer = false }()

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", l.remote).Msg("create offer")
		return
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", l.remote).Msg("set local offer")
		return
	}
	if err := l.signaler.SendOffer(l.remote, *l.pc.LocalDescription()); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", l.remote).Msg("send offer")
	}
}

// HandleOffer applies a remote offer and answers it. A polite link never
// holds a local offer, so it can always answer directly. An offer landing
// on the impolite side means the remote violated the initiation rule; it
// is ignored and the local offer stands.
func (l *Link) HandleOffer(sdp webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	collision := l.makingOffer || l.pc.SignalingState() != webrtc.SignalingStateStable
	if collision && !l.polite {
		l.ignoreOffer = true
		log.Info().Str("module", "peer").Str("remote", l.remote).Msg("glare: ignoring remote offer (impolite)")
		return nil
	}
	l.ignoreOffer = false

	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	return l.signaler.SendAnswer(l.remote, *l.pc.LocalDescription())
}

// HandleAnswer completes the most recent local offer. An answer that
// matches no in-flight local offer is stale and dropped.
func (l *Link) HandleAnswer(sdp webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		log.Debug().Str("module", "peer").Str("remote", l.remote).Msg("stale answer dropped")
		return nil
	}
	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.ignoreOffer = false
	return nil
}

// HandleCandidate adds a remote ICE candidate. A candidate arriving before
// the remote description, or while an offer is being ignored, is a race,
// not an error.
func (l *Link) HandleCandidate(cand webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ignoreOffer || l.pc.RemoteDescription() == nil {
		log.Debug().Str("module", "peer").Str("remote", l.remote).Msg("early candidate dropped")
		return nil
	}
	if err := l.pc.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", l.remote).Msg("add candidate")
	}
	return nil
}

func (l *Link) addTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := l.pc.AddTrack(t)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	return sender, nil
}

// Close releases the peer connection. A failed close is logged and
// otherwise ignored; the link is gone either way.
func (l *Link) Close() {
	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", l.remote).Msg("close error")
	}
}
