package rtc

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/iambigmarn/realtime-app/internal/config"
	"github.com/iambigmarn/realtime-app/internal/session"
)

const (
	rtcpPLIInterval            = time.Second * 3
	dtlsRetransmissionInterval = 100 * time.Millisecond
	mtu                        = 1400
	iceDisconnectedTimeout     = 10 * time.Second // compatible for ice-lite with firefox client
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

// PCTransport adapts one pion peer connection to the session.Transport
// surface a peer link drives. Candidate buffering lives in the link, so
// the transport stays a thin pass-through over the pc.
type PCTransport struct {
	pc *webrtc.PeerConnection
}

type TransportParams struct {
	EnabledCodecs []config.CodecSpec
	Config        *config.WebRTCConfig
}

// NewTransportFactory returns a factory minting one peer connection per
// peer link, all built from the same configuration.
func NewTransportFactory(params TransportParams) session.TransportFactory {
	return func() (session.Transport, error) {
		return NewPCTransport(params)
	}
}

func NewPCTransport(params TransportParams) (*PCTransport, error) {
	pc, err := newPeerConnection(params)
	if err != nil {
		return nil, err
	}

	t := &PCTransport{pc: pc}

	t.pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		if state == webrtc.ICEGathererStateComplete {
			log.Debug().Str("service", "rtc").Msg("ice gathering complete")
		}
	})

	return t, nil
}

func newPeerConnection(params TransportParams) (*webrtc.PeerConnection, error) {
	me, registry, err := createMediaEngine(params.EnabledCodecs, params.Config)
	if err != nil {
		return nil, err
	}

	se := params.Config.SettingEngine
	se.DisableMediaEngineCopy(true)
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetReceiveMTU(mtu)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(registry),
	)

	return api.NewPeerConnection(params.Config.Configuration)
}

func (t *PCTransport) AttachLocalTracks(stream *session.LocalStream) error {
	for _, track := range []*webrtc.TrackLocalStaticSample{stream.Audio, stream.Video} {
		if track == nil {
			continue
		}

		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return err
		}

		// Read incoming RTCP packets. Before these packets are returned
		// they are processed by interceptors. For things like NACK this
		// needs to be called.
		go func() {
			rtcpBuf := make([]byte, 1500)
			for {
				if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
					return
				}
			}
		}()
	}

	return nil
}

func (t *PCTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

func (t *PCTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *PCTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(desc)
}

func (t *PCTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *PCTransport) Rollback() error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *PCTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// RestartICE builds an offer with fresh ICE credentials and applies it
// locally. The caller sends it like any other offer.
func (t *PCTransport) RestartICE() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	return offer, nil
}

func (t *PCTransport) Close() error {
	return t.pc.Close()
}

func (t *PCTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if candidate == nil {
			return
		}
		f(candidate.ToJSON())
	})
}

func (t *PCTransport) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go t.sendPLI(track.SSRC())
		}

		f(track, receiver)
	})
}

func (t *PCTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(f)
}

// sendPLI asks the remote side for periodic keyframes until the peer
// connection goes away.
func (t *PCTransport) sendPLI(ssrc webrtc.SSRC) {
	ticker := time.NewTicker(rtcpPLIInterval)
	defer ticker.Stop()

	for range ticker.C {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}}
		if err := t.pc.WriteRTCP(pli); err != nil {
			return
		}
	}
}
