package session

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/eventbus/rpc"
)

var (
	errSelfLink     = errors.New("peer link to self")
	errNoTransport  = errors.New("peer link needs a transport")
	errLinkNotIdle  = errors.New("link is already negotiating")
	errLinkFinished = errors.New("link is closed")
)

// LinkState is the negotiation phase of one peer link.
type LinkState int

const (
	// LinkIdle: no offer sent, no remote description applied yet.
	LinkIdle LinkState = iota
	// LinkOffering: producing and applying the local offer.
	LinkOffering
	// LinkAwaitingAnswer: offer sent, waiting for the remote answer.
	LinkAwaitingAnswer
	// LinkConnected: the transport reported an established connection.
	LinkConnected
	// LinkFailed: negotiation or connectivity failed for good.
	LinkFailed
	// LinkClosed: torn down deliberately.
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkOffering:
		return "offering"
	case LinkAwaitingAnswer:
		return "awaiting_answer"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type PeerLinkOptions struct {
	LocalID  core.ParticipantID
	RemoteID core.ParticipantID
	RoomID   string

	Transport    Transport
	Signaler     Signaler
	VideoDisplay VideoDisplay

	// NegotiationTimeout bounds the wait for a remote answer. Zero
	// disables the timer.
	NegotiationTimeout time.Duration
}

// PeerLink drives the negotiation with one remote participant. All
// signaling for the pair flows through here: outgoing offers and
// answers, incoming descriptions, and trickled candidates, which are
// buffered until a remote description is applied and then flushed in
// arrival order.
//
// When both sides offer at once, the side with the lexicographically
// smaller id yields: it rolls its own offer back and answers the
// incoming one. The other side ignores the colliding offer and keeps
// waiting for its answer.
type PeerLink struct {
	localID  core.ParticipantID
	remoteID core.ParticipantID
	roomID   string

	transport    Transport
	signaler     Signaler
	videoDisplay VideoDisplay

	negotiationTimeout time.Duration

	mu                sync.Mutex
	state             LinkState
	remoteDescApplied bool
	pendingCandidates []webrtc.ICECandidateInit
	restarted         bool
	negotiationTimer  *time.Timer
	timerSeq          int
}

func NewPeerLink(options PeerLinkOptions) (*PeerLink, error) {
	if options.LocalID == options.RemoteID {
		return nil, errSelfLink
	}
	if options.Transport == nil {
		return nil, errNoTransport
	}

	link := &PeerLink{
		localID:            options.LocalID,
		remoteID:           options.RemoteID,
		roomID:             options.RoomID,
		transport:          options.Transport,
		signaler:           options.Signaler,
		videoDisplay:       options.VideoDisplay,
		negotiationTimeout: options.NegotiationTimeout,
		state:              LinkIdle,
	}

	link.transport.OnICECandidate(link.relayLocalCandidate)
	link.transport.OnTrack(link.acceptRemoteTrack)
	link.transport.OnConnectionStateChange(link.handleConnectionState)

	return link, nil
}

func (l *PeerLink) RemoteID() core.ParticipantID {
	return l.remoteID
}

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// CanOffer reports whether the link has neither sent an offer nor
// applied a remote description, i.e. offering now starts a fresh
// negotiation instead of colliding with one in flight.
func (l *PeerLink) CanOffer() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state == LinkIdle && !l.remoteDescApplied
}

// Offer starts the caller side of the negotiation: create the local
// offer, apply it, send it, and wait for the answer.
func (l *PeerLink) Offer() error {
	l.mu.Lock()
	if l.state == LinkClosed || l.state == LinkFailed {
		l.mu.Unlock()
		return errLinkFinished
	}
	if l.state != LinkIdle || l.remoteDescApplied {
		l.mu.Unlock()
		return errLinkNotIdle
	}

	l.state = LinkOffering

	offer, err := l.transport.CreateOffer()
	if err != nil {
		l.failLocked()
		l.mu.Unlock()
		l.closeTransport()
		return err
	}
	if err := l.transport.SetLocalDescription(offer); err != nil {
		l.failLocked()
		l.mu.Unlock()
		l.closeTransport()
		return err
	}

	l.state = LinkAwaitingAnswer
	l.armNegotiationTimerLocked()
	l.mu.Unlock()

	log.Debug().
		Str("service", "peer_link").
		Str("peer", l.remoteID.String()).
		Msg("sending offer")

	if err := l.signaler.SendSignal(l.roomID, l.remoteID, rpc.NewOfferBody(offer)); err != nil {
		l.mu.Lock()
		l.failLocked()
		l.mu.Unlock()
		l.closeTransport()
		return err
	}

	return nil
}

// HandleOffer applies a remote offer and replies with an answer. An
// offer that collides with our own in-flight offer is resolved by id
// order: the smaller id rolls back and answers, the larger one drops
// the incoming offer.
func (l *PeerLink) HandleOffer(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	if l.state == LinkClosed || l.state == LinkFailed {
		l.mu.Unlock()
		log.Debug().
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("offer for finished link dropped")
		return nil
	}

	if l.state == LinkOffering || l.state == LinkAwaitingAnswer {
		if !l.yields() {
			l.mu.Unlock()
			log.Debug().
				Str("service", "peer_link").
				Str("peer", l.remoteID.String()).
				Msg("glare: dropped incoming offer, our offer wins")
			return nil
		}

		if err := l.transport.Rollback(); err != nil {
			l.failLocked()
			l.mu.Unlock()
			l.closeTransport()
			return err
		}
		l.clearNegotiationTimerLocked()
		l.state = LinkIdle

		log.Debug().
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("glare: rolled back local offer")
	}

	if err := l.transport.SetRemoteDescription(desc); err != nil {
		l.failLocked()
		l.mu.Unlock()
		l.closeTransport()
		return err
	}
	l.remoteDescApplied = true
	l.flushCandidatesLocked()

	answer, err := l.transport.CreateAnswer()
	if err != nil {
		l.failLocked()
		l.mu.Unlock()
		l.closeTransport()
		return err
	}
	if err := l.transport.SetLocalDescription(answer); err != nil {
		l.failLocked()
		l.mu.Unlock()
		l.closeTransport()
		return err
	}
	l.mu.Unlock()

	log.Debug().
		Str("service", "peer_link").
		Str("peer", l.remoteID.String()).
		Msg("sending answer")

	return l.signaler.SendSignal(l.roomID, l.remoteID, rpc.NewAnswerBody(answer))
}

// HandleAnswer applies a remote answer. Answers arriving outside
// AwaitingAnswer are still applied, just logged, so a retransmitted or
// late answer cannot wedge the link.
func (l *PeerLink) HandleAnswer(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	if l.state == LinkClosed || l.state == LinkFailed {
		l.mu.Unlock()
		log.Debug().
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("answer for finished link dropped")
		return nil
	}

	if l.state != LinkAwaitingAnswer {
		log.Debug().
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Str("state", l.state.String()).
			Msg("answer in unexpected state")
	}

	if err := l.transport.SetRemoteDescription(desc); err != nil {
		l.mu.Unlock()
		log.Error().
			Err(err).
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("apply remote answer")
		return err
	}
	l.remoteDescApplied = true
	l.flushCandidatesLocked()
	l.clearNegotiationTimerLocked()
	l.mu.Unlock()

	return nil
}

// HandleCandidate adds a trickled remote candidate, or buffers it while
// no remote description is applied yet. A failing add is logged and the
// link keeps going; ICE works with whatever candidates survive.
func (l *PeerLink) HandleCandidate(candidate webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.state == LinkClosed || l.state == LinkFailed {
		l.mu.Unlock()
		return nil
	}

	if !l.remoteDescApplied {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		l.mu.Unlock()
		return nil
	}

	err := l.transport.AddICECandidate(candidate)
	l.mu.Unlock()

	if err != nil {
		log.Error().
			Err(err).
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("add ice candidate")
	}

	return nil
}

// Close tears the link down and releases the transport. Safe to call
// more than once.
func (l *PeerLink) Close() error {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return nil
	}
	l.state = LinkClosed
	l.clearNegotiationTimerLocked()
	l.pendingCandidates = nil
	l.mu.Unlock()

	return l.transport.Close()
}

// yields reports whether this side gives way on glare. Caller holds mu.
func (l *PeerLink) yields() bool {
	return l.localID < l.remoteID
}

// failLocked marks the link failed and disarms the timer. Caller holds
// mu and releases the transport afterwards.
func (l *PeerLink) failLocked() {
	l.state = LinkFailed
	l.clearNegotiationTimerLocked()
	l.pendingCandidates = nil
}

func (l *PeerLink) closeTransport() {
	if err := l.transport.Close(); err != nil {
		log.Error().
			Err(err).
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("close transport")
	}
}

// flushCandidatesLocked replays the buffered candidates in arrival
// order. Caller holds mu and has just applied a remote description.
func (l *PeerLink) flushCandidatesLocked() {
	for _, candidate := range l.pendingCandidates {
		if err := l.transport.AddICECandidate(candidate); err != nil {
			log.Error().
				Err(err).
				Str("service", "peer_link").
				Str("peer", l.remoteID.String()).
				Msg("flush ice candidate")
		}
	}
	l.pendingCandidates = nil
}

func (l *PeerLink) armNegotiationTimerLocked() {
	if l.negotiationTimeout <= 0 {
		return
	}

	l.timerSeq++
	seq := l.timerSeq
	if l.negotiationTimer != nil {
		l.negotiationTimer.Stop()
	}
	l.negotiationTimer = time.AfterFunc(l.negotiationTimeout, func() {
		l.negotiationTimedOut(seq)
	})
}

func (l *PeerLink) clearNegotiationTimerLocked() {
	l.timerSeq++
	if l.negotiationTimer != nil {
		l.negotiationTimer.Stop()
		l.negotiationTimer = nil
	}
}

func (l *PeerLink) negotiationTimedOut(seq int) {
	l.mu.Lock()
	if seq != l.timerSeq || l.state != LinkAwaitingAnswer {
		l.mu.Unlock()
		return
	}
	l.failLocked()
	l.mu.Unlock()

	log.Error().
		Str("service", "peer_link").
		Str("peer", l.remoteID.String()).
		Dur("timeout", l.negotiationTimeout).
		Msg("no answer before negotiation timeout")

	l.closeTransport()
}

func (l *PeerLink) relayLocalCandidate(candidate webrtc.ICECandidateInit) {
	if err := l.signaler.SendSignal(l.roomID, l.remoteID, rpc.NewCandidateBody(candidate)); err != nil {
		log.Error().
			Err(err).
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("send ice candidate")
	}
}

func (l *PeerLink) acceptRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	log.Info().
		Str("service", "peer_link").
		Str("peer", l.remoteID.String()).
		Str("kind", track.Kind().String()).
		Msg("remote track")

	if l.videoDisplay != nil {
		l.videoDisplay.Upsert(l.remoteID, track, receiver)
	}
}

// handleConnectionState reacts to transport connectivity. The first
// failure triggers a single ICE restart; a failure after that is
// terminal.
func (l *PeerLink) handleConnectionState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		l.mu.Lock()
		if l.state == LinkClosed || l.state == LinkFailed {
			l.mu.Unlock()
			return
		}
		l.state = LinkConnected
		l.clearNegotiationTimerLocked()
		l.mu.Unlock()

		log.Info().
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("peer connected")
	case webrtc.PeerConnectionStateDisconnected:
		log.Warn().
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("peer disconnected, ice may still recover")
	case webrtc.PeerConnectionStateFailed:
		l.restartOrFail()
	}
}

func (l *PeerLink) restartOrFail() {
	l.mu.Lock()
	if l.state == LinkClosed || l.state == LinkFailed {
		l.mu.Unlock()
		return
	}

	if l.restarted {
		l.failLocked()
		l.mu.Unlock()

		log.Error().
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("connection failed after ice restart")

		l.closeTransport()
		return
	}
	l.restarted = true

	offer, err := l.transport.RestartICE()
	if err != nil {
		l.failLocked()
		l.mu.Unlock()

		log.Error().
			Err(err).
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("ice restart")

		l.closeTransport()
		return
	}

	l.state = LinkAwaitingAnswer
	l.armNegotiationTimerLocked()
	l.mu.Unlock()

	log.Warn().
		Str("service", "peer_link").
		Str("peer", l.remoteID.String()).
		Msg("connection failed, restarting ice")

	if err := l.signaler.SendSignal(l.roomID, l.remoteID, rpc.NewOfferBody(offer)); err != nil {
		l.mu.Lock()
		l.failLocked()
		l.mu.Unlock()

		log.Error().
			Err(err).
			Str("service", "peer_link").
			Str("peer", l.remoteID.String()).
			Msg("send restart offer")

		l.closeTransport()
	}
}
