package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/eventbus/rpc"
)

type MockTransport struct {
	mu sync.Mutex

	MockCreateOfferErr error
	MockSetRemoteErr   error
	MockRollbackErr    error

	attached    *LocalStream
	localDescs  []webrtc.SessionDescription
	remoteDescs []webrtc.SessionDescription
	added       []webrtc.ICECandidateInit
	rollbacks   int
	restarts    int
	closeCalls  int
	offerSeq    int

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState     func(webrtc.PeerConnectionState)
}

func newMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) AttachLocalTracks(stream *LocalStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attached = stream
	return nil
}

func (m *MockTransport) CreateOffer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MockCreateOfferErr != nil {
		return webrtc.SessionDescription{}, m.MockCreateOfferErr
	}
	m.offerSeq++

	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-sdp-%d", m.offerSeq)}, nil
}

func (m *MockTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (m *MockTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.localDescs = append(m.localDescs, desc)
	return nil
}

func (m *MockTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MockSetRemoteErr != nil {
		return m.MockSetRemoteErr
	}
	m.remoteDescs = append(m.remoteDescs, desc)

	return nil
}

func (m *MockTransport) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MockRollbackErr != nil {
		return m.MockRollbackErr
	}
	m.rollbacks++
	if len(m.localDescs) > 0 {
		m.localDescs = m.localDescs[:len(m.localDescs)-1]
	}

	return nil
}

func (m *MockTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.added = append(m.added, candidate)
	return nil
}

func (m *MockTransport) RestartICE() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.restarts++
	m.offerSeq++
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("restart-sdp-%d", m.offerSeq)}
	m.localDescs = append(m.localDescs, desc)

	return desc, nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++
	return nil
}

func (m *MockTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onCandidate = f
}

func (m *MockTransport) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onTrack = f
}

func (m *MockTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onState = f
}

func (m *MockTransport) ConnectionUp() {
	m.stateHandler()(webrtc.PeerConnectionStateConnected)
}

func (m *MockTransport) ConnectionFailed() {
	m.stateHandler()(webrtc.PeerConnectionStateFailed)
}

func (m *MockTransport) EmitCandidate(candidate webrtc.ICECandidateInit) {
	m.mu.Lock()
	f := m.onCandidate
	m.mu.Unlock()

	f(candidate)
}

func (m *MockTransport) stateHandler() func(webrtc.PeerConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.onState
}

func (m *MockTransport) RemoteSDPs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sdps := make([]string, 0, len(m.remoteDescs))
	for _, desc := range m.remoteDescs {
		sdps = append(sdps, desc.SDP)
	}

	return sdps
}

func (m *MockTransport) LocalSDPs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sdps := make([]string, 0, len(m.localDescs))
	for _, desc := range m.localDescs {
		sdps = append(sdps, desc.SDP)
	}

	return sdps
}

func (m *MockTransport) AddedCandidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]string, 0, len(m.added))
	for _, candidate := range m.added {
		candidates = append(candidates, candidate.Candidate)
	}

	return candidates
}

func (m *MockTransport) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rollbacks
}

func (m *MockTransport) Restarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.restarts
}

func (m *MockTransport) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeCalls
}

func (m *MockTransport) Attached() *LocalStream {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attached
}

type sentSignal struct {
	RoomID string
	To     core.ParticipantID
	Body   rpc.SignalBody
}

type MockSignaler struct {
	mu sync.Mutex

	MockErr error
	sent    []sentSignal
}

func (m *MockSignaler) SendSignal(roomID string, to core.ParticipantID, body rpc.SignalBody) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MockErr != nil {
		return m.MockErr
	}
	m.sent = append(m.sent, sentSignal{RoomID: roomID, To: to, Body: body})

	return nil
}

func (m *MockSignaler) Sent() []sentSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	sent := make([]sentSignal, len(m.sent))
	copy(sent, m.sent)

	return sent
}

func (m *MockSignaler) SentOfType(kind rpc.SignalType) []sentSignal {
	matched := []sentSignal{}
	for _, signal := range m.Sent() {
		if signal.Body.Type == kind {
			matched = append(matched, signal)
		}
	}

	return matched
}

func newTestLink(t *testing.T, localID, remoteID core.ParticipantID, timeout time.Duration) (*PeerLink, *MockTransport, *MockSignaler) {
	t.Helper()

	transport := newMockTransport()
	signaler := &MockSignaler{}

	link, err := NewPeerLink(PeerLinkOptions{
		LocalID:            localID,
		RemoteID:           remoteID,
		RoomID:             "meeting-1",
		Transport:          transport,
		Signaler:           signaler,
		NegotiationTimeout: timeout,
	})
	require.NoError(t, err)

	return link, transport, signaler
}

func candidateInit(candidate string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: candidate}
}

func TestPeerLinkRejectsSelf(t *testing.T) {
	_, err := NewPeerLink(PeerLinkOptions{
		LocalID:   "user-a",
		RemoteID:  "user-a",
		Transport: newMockTransport(),
		Signaler:  &MockSignaler{},
	})
	require.Error(t, err)
}

func TestPeerLinkOfferFlow(t *testing.T) {
	link, transport, signaler := newTestLink(t, "user-a", "user-b", 0)

	require.Equal(t, LinkIdle, link.State())
	require.True(t, link.CanOffer())

	require.NoError(t, link.Offer())
	require.Equal(t, LinkAwaitingAnswer, link.State())
	require.False(t, link.CanOffer())
	require.Equal(t, []string{"offer-sdp-1"}, transport.LocalSDPs())

	sent := signaler.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "meeting-1", sent[0].RoomID)
	require.Equal(t, core.ParticipantID("user-b"), sent[0].To)
	require.Equal(t, rpc.SignalTypeOffer, sent[0].Body.Type)
	require.Equal(t, "offer-sdp-1", sent[0].Body.SDP)

	require.ErrorIs(t, link.Offer(), errLinkNotIdle)
}

func TestPeerLinkOfferSendFailureFails(t *testing.T) {
	link, transport, signaler := newTestLink(t, "user-a", "user-b", 0)

	sendErr := errors.New("subscription gone")
	signaler.MockErr = sendErr

	require.ErrorIs(t, link.Offer(), sendErr)
	require.Equal(t, LinkFailed, link.State())
	require.Equal(t, 1, transport.CloseCalls())
}

func TestPeerLinkAnswerCompletes(t *testing.T) {
	link, transport, _ := newTestLink(t, "user-a", "user-b", 0)

	require.NoError(t, link.Offer())
	require.NoError(t, link.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "their-answer"}))
	require.Equal(t, []string{"their-answer"}, transport.RemoteSDPs())

	transport.ConnectionUp()
	require.Equal(t, LinkConnected, link.State())
}

func TestPeerLinkAnswersIncomingOffer(t *testing.T) {
	link, transport, signaler := newTestLink(t, "user-a", "user-b", 0)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "their-offer"}
	require.NoError(t, link.HandleOffer(offer))

	require.Equal(t, []string{"their-offer"}, transport.RemoteSDPs())
	answers := signaler.SentOfType(rpc.SignalTypeAnswer)
	require.Len(t, answers, 1)
	require.Equal(t, "answer-sdp", answers[0].Body.SDP)

	// The negotiation started from the remote side, so a late local
	// media transition must not offer over it.
	require.False(t, link.CanOffer())

	transport.ConnectionUp()
	require.Equal(t, LinkConnected, link.State())
}

func TestPeerLinkBuffersCandidatesUntilRemoteDescription(t *testing.T) {
	link, transport, _ := newTestLink(t, "user-a", "user-b", 0)

	require.NoError(t, link.HandleCandidate(candidateInit("candidate-1")))
	require.NoError(t, link.HandleCandidate(candidateInit("candidate-2")))
	require.NoError(t, link.HandleCandidate(candidateInit("candidate-3")))
	require.Empty(t, transport.AddedCandidates())

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "their-offer"}
	require.NoError(t, link.HandleOffer(offer))
	require.Equal(t, []string{"candidate-1", "candidate-2", "candidate-3"}, transport.AddedCandidates())

	require.NoError(t, link.HandleCandidate(candidateInit("candidate-4")))
	require.Equal(t, []string{"candidate-1", "candidate-2", "candidate-3", "candidate-4"}, transport.AddedCandidates())
}

func TestPeerLinkGlareYields(t *testing.T) {
	// user-a sorts before user-b, so this side gives way.
	link, transport, signaler := newTestLink(t, "user-a", "user-b", 0)

	require.NoError(t, link.Offer())
	require.NoError(t, link.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "their-offer"}))

	require.Equal(t, 1, transport.Rollbacks())
	require.Equal(t, []string{"their-offer"}, transport.RemoteSDPs())
	require.Len(t, signaler.SentOfType(rpc.SignalTypeAnswer), 1)

	transport.ConnectionUp()
	require.Equal(t, LinkConnected, link.State())
}

func TestPeerLinkGlareWins(t *testing.T) {
	// user-b sorts after user-a, so the colliding offer is dropped and
	// this side keeps waiting for its answer.
	link, transport, signaler := newTestLink(t, "user-b", "user-a", 0)

	require.NoError(t, link.Offer())
	require.NoError(t, link.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "their-offer"}))

	require.Zero(t, transport.Rollbacks())
	require.Empty(t, transport.RemoteSDPs())
	require.Empty(t, signaler.SentOfType(rpc.SignalTypeAnswer))
	require.Equal(t, LinkAwaitingAnswer, link.State())

	require.NoError(t, link.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "their-answer"}))
	transport.ConnectionUp()
	require.Equal(t, LinkConnected, link.State())
}

func TestPeerLinkNegotiationTimeout(t *testing.T) {
	link, transport, _ := newTestLink(t, "user-a", "user-b", 25*time.Millisecond)

	require.NoError(t, link.Offer())
	require.Eventually(t, func() bool {
		return link.State() == LinkFailed
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, transport.CloseCalls())
}

func TestPeerLinkAnswerDisarmsTimeout(t *testing.T) {
	link, _, _ := newTestLink(t, "user-a", "user-b", 40*time.Millisecond)

	require.NoError(t, link.Offer())
	require.NoError(t, link.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "their-answer"}))

	time.Sleep(120 * time.Millisecond)
	require.NotEqual(t, LinkFailed, link.State())
}

func TestPeerLinkRestartsICEOnce(t *testing.T) {
	link, transport, signaler := newTestLink(t, "user-a", "user-b", 0)

	require.NoError(t, link.Offer())
	require.NoError(t, link.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "their-answer"}))
	transport.ConnectionUp()
	require.Equal(t, LinkConnected, link.State())

	// First failure triggers a restart offer.
	transport.ConnectionFailed()
	require.Equal(t, 1, transport.Restarts())
	require.Equal(t, LinkAwaitingAnswer, link.State())

	offers := signaler.SentOfType(rpc.SignalTypeOffer)
	require.Len(t, offers, 2)
	require.Equal(t, "restart-sdp-2", offers[1].Body.SDP)

	require.NoError(t, link.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fresh-answer"}))
	transport.ConnectionUp()
	require.Equal(t, LinkConnected, link.State())

	// Second failure is terminal.
	transport.ConnectionFailed()
	require.Equal(t, 1, transport.Restarts())
	require.Equal(t, LinkFailed, link.State())
	require.Equal(t, 1, transport.CloseCalls())
}

func TestPeerLinkCloseIdempotent(t *testing.T) {
	link, transport, _ := newTestLink(t, "user-a", "user-b", 0)

	require.NoError(t, link.Offer())
	require.NoError(t, link.Close())
	require.NoError(t, link.Close())

	require.Equal(t, LinkClosed, link.State())
	require.Equal(t, 1, transport.CloseCalls())

	// A closed link ignores late signaling.
	require.NoError(t, link.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "late-offer"}))
	require.NoError(t, link.HandleCandidate(candidateInit("late-candidate")))
	require.Empty(t, transport.RemoteSDPs())
	require.Empty(t, transport.AddedCandidates())
	require.ErrorIs(t, link.Offer(), errLinkFinished)
}

func TestPeerLinkLateAnswerTolerated(t *testing.T) {
	link, transport, _ := newTestLink(t, "user-a", "user-b", 0)

	// No offer in flight, the answer is still applied.
	require.NoError(t, link.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "stray-answer"}))
	require.Equal(t, []string{"stray-answer"}, transport.RemoteSDPs())
}

func TestPeerLinkRelaysLocalCandidates(t *testing.T) {
	_, transport, signaler := newTestLink(t, "user-a", "user-b", 0)

	transport.EmitCandidate(candidateInit("local-candidate"))

	candidates := signaler.SentOfType(rpc.SignalTypeCandidate)
	require.Len(t, candidates, 1)
	require.Equal(t, "meeting-1", candidates[0].RoomID)
	require.Equal(t, core.ParticipantID("user-b"), candidates[0].To)
	require.Equal(t, "local-candidate", candidates[0].Body.Candidate)
}
