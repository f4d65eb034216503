package rpc

import (
	"encoding/json"
	"errors"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/pion/webrtc/v3"
)

type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
)

var (
	ErrUnknownSignalType = errors.New("unknown signal type")
	ErrEmptySignalSDP    = errors.New("signal carries no sdp")
)

// SignalParams is the routing envelope of one signaling message. The relay
// reads roomId/from/to only; Signal stays raw bytes on the server and is
// decoded into a SignalBody by the receiving client.
type SignalParams struct {
	RoomID string             `json:"roomId"`
	From   core.ParticipantID `json:"from,omitempty"`
	To     core.ParticipantID `json:"to,omitempty"`
	Signal json.RawMessage    `json:"signal"`
}

func (p SignalParams) Body() (SignalBody, error) {
	body := SignalBody{}
	if err := json.Unmarshal(p.Signal, &body); err != nil {
		return SignalBody{}, err
	}

	switch body.Type {
	case SignalTypeOffer, SignalTypeAnswer:
		if body.SDP == "" {
			return SignalBody{}, ErrEmptySignalSDP
		}
	case SignalTypeCandidate:
	default:
		return SignalBody{}, ErrUnknownSignalType
	}

	return body, nil
}

// SignalBody is the negotiation payload itself: a session description for
// offer/answer, or one trickled ICE candidate.
type SignalBody struct {
	Type             SignalType `json:"type"`
	SDP              string     `json:"sdp,omitempty"`
	Candidate        string     `json:"candidate,omitempty"`
	SDPMid           *string    `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16    `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string    `json:"usernameFragment,omitempty"`
}

func NewOfferBody(desc webrtc.SessionDescription) SignalBody {
	return SignalBody{Type: SignalTypeOffer, SDP: desc.SDP}
}

func NewAnswerBody(desc webrtc.SessionDescription) SignalBody {
	return SignalBody{Type: SignalTypeAnswer, SDP: desc.SDP}
}

func NewCandidateBody(candidate webrtc.ICECandidateInit) SignalBody {
	return SignalBody{
		Type:             SignalTypeCandidate,
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	}
}

func (b SignalBody) Description() (webrtc.SessionDescription, error) {
	if b.SDP == "" {
		return webrtc.SessionDescription{}, ErrEmptySignalSDP
	}

	switch b.Type {
	case SignalTypeOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: b.SDP}, nil
	case SignalTypeAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: b.SDP}, nil
	default:
		return webrtc.SessionDescription{}, ErrUnknownSignalType
	}
}

func (b SignalBody) ICECandidate() (webrtc.ICECandidateInit, error) {
	if b.Type != SignalTypeCandidate {
		return webrtc.ICECandidateInit{}, ErrUnknownSignalType
	}

	return webrtc.ICECandidateInit{
		Candidate:        b.Candidate,
		SDPMid:           b.SDPMid,
		SDPMLineIndex:    b.SDPMLineIndex,
		UsernameFragment: b.UsernameFragment,
	}, nil
}

type SignalRpc struct {
	jsonRpcHead
	Params SignalParams `json:"params"`
}

func NewSignalRpc(params SignalParams) *SignalRpc {
	return &SignalRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  SignalMethod,
		},
		Params: params,
	}
}

// NewSignalBodyRpc is the client-side constructor: it serializes the body
// and leaves From empty, since the relay stamps the sender id itself.
func NewSignalBodyRpc(roomID string, to core.ParticipantID, body SignalBody) (*SignalRpc, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	return NewSignalRpc(SignalParams{
		RoomID: roomID,
		To:     to,
		Signal: raw,
	}), nil
}

func (r SignalRpc) GetMethod() Method {
	return r.Method
}

func (r SignalRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
