package session

import (
	"sort"
	"sync"

	"github.com/iambigmarn/realtime-app/internal/core"
)

// Session is the client's view of its room: the server-assigned local
// id, the current membership, the peers still waiting for local media,
// and one PeerLink per negotiated peer. One mutex guards it because the
// read loop, the media transition and the location watcher all touch
// the same state.
type Session struct {
	mu sync.Mutex

	localID core.ParticipantID
	roomID  string

	members map[core.ParticipantID]struct{}
	pending map[core.ParticipantID]struct{}
	peers   map[core.ParticipantID]*PeerLink

	mediaReady bool
	stream     *LocalStream
	mediaErr   error
}

func newSession() *Session {
	return &Session{
		members: make(map[core.ParticipantID]struct{}),
		pending: make(map[core.ParticipantID]struct{}),
		peers:   make(map[core.ParticipantID]*PeerLink),
	}
}

// LocalID returns the id the server assigned on connect, empty until
// the connected handshake arrives.
func (s *Session) LocalID() core.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.localID
}

// CurrentRoom returns the room the session last asked to join, empty
// when not in any room.
func (s *Session) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.roomID
}

// MediaReady reports whether local media has been acquired.
func (s *Session) MediaReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mediaReady
}

// MediaError returns the media acquisition failure, if any. The session
// stays signal-only after one.
func (s *Session) MediaError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mediaErr
}

// Link returns the peer link negotiated with the given participant.
func (s *Session) Link(id core.ParticipantID) (*PeerLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.peers[id]
	return link, ok
}

// Peers returns a snapshot of the live links keyed by remote id.
func (s *Session) Peers() map[core.ParticipantID]*PeerLink {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make(map[core.ParticipantID]*PeerLink, len(s.peers))
	for id, link := range s.peers {
		peers[id] = link
	}

	return peers
}

// Members returns the known room membership, local id excluded, sorted
// for stable output.
func (s *Session) Members() []core.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedIDs(s.members)
}

// PendingPeers returns the members seen before local media was ready,
// sorted for stable output.
func (s *Session) PendingPeers() []core.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedIDs(s.pending)
}

// takeLinksLocked empties the membership view and hands the links over
// to the caller for teardown. Caller holds mu.
func (s *Session) takeLinksLocked() map[core.ParticipantID]*PeerLink {
	links := s.peers
	s.peers = make(map[core.ParticipantID]*PeerLink)
	s.pending = make(map[core.ParticipantID]struct{})
	s.members = make(map[core.ParticipantID]struct{})

	return links
}

func sortedIDs(set map[core.ParticipantID]struct{}) []core.ParticipantID {
	ids := make([]core.ParticipantID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
