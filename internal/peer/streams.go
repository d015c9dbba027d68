package peer

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// StreamRole classifies an inbound track.
type StreamRole int

const (
	RoleCamera StreamRole = iota
	RoleScreen
	RoleAudio
)

func (r StreamRole) String() string {
	switch r {
	case RoleCamera:
		return "camera"
	case RoleScreen:
		return "screen"
	default:
		return "audio"
	}
}

// TrackHandler receives classified inbound tracks.
type TrackHandler func(remote string, role StreamRole, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

// roleForStream pins the first inbound video stream identity as the
// camera; any later distinct stream from the same peer is a screen-share.
// This relies on screen-share arriving as an additional stream, never as
// a replacement of the camera track.
func (l *Link) roleForStream(streamID string) StreamRole {
	if l.cameraStreamID == "" {
		l.cameraStreamID = streamID
		return RoleCamera
	}
	if l.cameraStreamID == streamID {
		return RoleCamera
	}
	return RoleScreen
}

func (l *Link) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	role := RoleAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		l.mu.Lock()
		role = l.roleForStream(track.StreamID())
		l.mu.Unlock()
	}
	log.Info().
		Str("module", "peer").
		Str("remote", l.remote).
		Str("role", role.String()).
		Str("track_id", track.ID()).
		Str("stream_id", track.StreamID()).
		Msg("track received")
	if l.onTrack != nil {
		l.onTrack(l.remote, role, track, receiver)
	}
}

// startScreenShare attaches the screen tracks as additional senders so the
// camera and screen can be torn down independently.
func (l *Link) startScreenShare(tracks []webrtc.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range tracks {
		sender, err := l.addTrack(t)
		if err != nil {
			return err
		}
		l.screenSenders = append(l.screenSenders, sender)
	}
	return nil
}

// stopScreenShare removes only the screen senders, triggering a
// renegotiation; the camera stream is untouched.
func (l *Link) stopScreenShare() {
	l.mu.Lock()
	senders := l.screenSenders
	l.screenSenders = nil
	l.mu.Unlock()

	for _, s := range senders {
		if err := l.pc.RemoveTrack(s); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("remote", l.remote).Msg("remove screen sender")
		}
	}
}
