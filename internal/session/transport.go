package session

import (
	"context"

	"github.com/pion/webrtc/v3"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/eventbus/rpc"
)

// LocalStream bundles the local tracks a media source produced. Either
// track may be nil when the source publishes only one kind of media.
type LocalStream struct {
	Audio *webrtc.TrackLocalStaticSample
	Video *webrtc.TrackLocalStaticSample
}

// Transport is the negotiation surface of one peer connection. The rtc
// package wraps pion behind it; tests substitute fakes.
type Transport interface {
	AttachLocalTracks(stream *LocalStream) error

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// Rollback discards the pending local description, returning the
	// transport to its last stable state.
	Rollback() error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// RestartICE produces a fresh offer with new ICE credentials and
	// applies it as the local description.
	RestartICE() (webrtc.SessionDescription, error)
	Close() error

	OnICECandidate(func(candidate webrtc.ICECandidateInit))
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnConnectionStateChange(func(state webrtc.PeerConnectionState))
}

// TransportFactory builds one transport per peer link.
type TransportFactory func() (Transport, error)

// Signaler carries a negotiation payload to one remote participant over
// the signaling channel.
type Signaler interface {
	SendSignal(roomID string, to core.ParticipantID, body rpc.SignalBody) error
}

// MediaSource acquires the local media. Acquire is called once per
// session; its error is recorded but never fatal to signaling.
type MediaSource interface {
	Acquire(ctx context.Context) (*LocalStream, error)
}

// LocationSource emits periodic samples of the local position. The
// returned channel closes when ctx is cancelled.
type LocationSource interface {
	Watch(ctx context.Context) (<-chan core.LatLng, error)
}

// VideoDisplay consumes remote tracks keyed by the peer they came from.
type VideoDisplay interface {
	Upsert(id core.ParticipantID, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	Remove(id core.ParticipantID)
}

// LocationDisplay consumes peer positions keyed by participant.
type LocationDisplay interface {
	Upsert(id core.ParticipantID, loc core.LatLng)
	Remove(id core.ParticipantID)
}
