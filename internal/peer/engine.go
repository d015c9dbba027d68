package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DefaultWebRTCConfig is the fallback ICE configuration; STUN/TURN is
// delegated, never implemented here.
func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Engine holds one Link per remote member of the joined room. Links are
// created when a remote member becomes known (roster or ready signal) and
// destroyed when it leaves; leaving the room closes everything.
type Engine struct {
	local    string
	cfg      webrtc.Configuration
	signaler Signaler

	mu           sync.Mutex
	links        map[string]*Link
	cameraTracks []webrtc.TrackLocal
	screenTracks []webrtc.TrackLocal
	onTrack      TrackHandler
}

func NewEngine(local string, cfg webrtc.Configuration, sig Signaler) *Engine {
	return &Engine{
		local:    local,
		cfg:      cfg,
		signaler: sig,
		links:    make(map[string]*Link),
	}
}

// SetTrackHandler must be called before any peer is added.
func (e *Engine) SetTrackHandler(fn TrackHandler) { e.onTrack = fn }

// PeerReady ensures a link to the remote member exists. Adding the local
// tracks kicks off negotiation on whichever side has media to send.
func (e *Engine) PeerReady(remote string) error {
	if remote == e.local {
		return nil
	}
	_, err := e.ensureLink(remote)
	return err
}

// PeerLeft tears down the link to a departed member.
func (e *Engine) PeerLeft(remote string) {
	e.mu.Lock()
	l, ok := e.links[remote]
	delete(e.links, remote)
	e.mu.Unlock()
	if ok {
		l.Close()
	}
}

// HandleOffer routes a relayed offer, creating the link on first contact.
func (e *Engine) HandleOffer(from string, sdp webrtc.SessionDescription) error {
	l, err := e.ensureLink(from)
	if err != nil {
		return err
	}
	if err := l.HandleOffer(sdp); err != nil {
		// A failed step leaves the link in place for a later retry.
		log.Error().Err(err).Str("module", "peer").Str("remote", from).Msg("offer failed")
	}
	return nil
}

func (e *Engine) HandleAnswer(from string, sdp webrtc.SessionDescription) error {
	l, ok := e.link(from)
	if !ok {
		return nil
	}
	if err := l.HandleAnswer(sdp); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", from).Msg("answer failed")
	}
	return nil
}

// HandleRenegotiate services a polite peer's request for a fresh offer.
func (e *Engine) HandleRenegotiate(from string) {
	if l, ok := e.link(from); ok {
		l.HandleRenegotiate()
	}
}

func (e *Engine) HandleCandidate(from string, cand webrtc.ICECandidateInit) error {
	l, ok := e.link(from)
	if !ok {
		return nil
	}
	return l.HandleCandidate(cand)
}

// AddCameraTrack attaches a local camera/mic track to every current and
// future link.
func (e *Engine) AddCameraTrack(t webrtc.TrackLocal) error {
	e.mu.Lock()
	e.cameraTracks = append(e.cameraTracks, t)
	links := e.snapshot()
	e.mu.Unlock()

	for _, l := range links {
		if _, err := l.addTrack(t); err != nil {
			return err
		}
	}
	return nil
}

// StartScreenShare adds the screen tracks as an independent stream on
// every link.
func (e *Engine) StartScreenShare(tracks ...webrtc.TrackLocal) error {
	e.mu.Lock()
	e.screenTracks = append(e.screenTracks, tracks...)
	links := e.snapshot()
	e.mu.Unlock()

	for _, l := range links {
		if err := l.startScreenShare(tracks); err != nil {
			return err
		}
	}
	return nil
}

// StopScreenShare removes the screen senders everywhere, leaving cameras
// running.
func (e *Engine) StopScreenShare() {
	e.mu.Lock()
	e.screenTracks = nil
	links := e.snapshot()
	e.mu.Unlock()

	for _, l := range links {
		l.stopScreenShare()
	}
}

// Close tears down every link unconditionally; leaving the room is the
// only cancellation path.
func (e *Engine) Close() {
	e.mu.Lock()
	links := e.snapshot()
	e.links = make(map[string]*Link)
	e.mu.Unlock()

	for _, l := range links {
		l.Close()
	}
}

func (e *Engine) link(remote string) (*Link, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.links[remote]
	return l, ok
}

func (e *Engine) ensureLink(remote string) (*Link, error) {
	e.mu.Lock()
	if l, ok := e.links[remote]; ok {
		e.mu.Unlock()
		return l, nil
	}
	camera := append([]webrtc.TrackLocal(nil), e.cameraTracks...)
	screen := append([]webrtc.TrackLocal(nil), e.screenTracks...)
	e.mu.Unlock()

	l, err := newLink(e.local, remote, e.cfg, e.signaler)
	if err != nil {
		return nil, err
	}
	l.onTrack = e.onTrack
	l.start()

	for _, t := range camera {
		if _, err := l.addTrack(t); err != nil {
			l.Close()
			return nil, err
		}
	}
	if len(screen) > 0 {
		if err := l.startScreenShare(screen); err != nil {
			l.Close()
			return nil, err
		}
	}

	e.mu.Lock()
	if existing, ok := e.links[remote]; ok {
		e.mu.Unlock()
		l.Close()
		return existing, nil
	}
	e.links[remote] = l
	e.mu.Unlock()

	log.Info().Str("module", "peer").Str("local", e.local).Str("remote", remote).Bool("polite", l.polite).Msg("peer link created")
	return l, nil
}

func (e *Engine) snapshot() []*Link {
	out := make([]*Link, 0, len(e.links))
	for _, l := range e.links {
		out = append(out, l)
	}
	return out
}
