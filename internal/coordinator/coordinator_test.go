package coordinator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/eventbus/rpc"
)

type publishedMessage struct {
	To  core.ParticipantID
	Rpc rpc.Rpc
}

// MockPublisher records every client publication in order.
type MockPublisher struct {
	Published []publishedMessage
}

func (p *MockPublisher) PublishClient(id core.ParticipantID, r rpc.Rpc) error {
	p.Published = append(p.Published, publishedMessage{To: id, Rpc: r})
	return nil
}

func (p *MockPublisher) PublishServer(id core.ParticipantID, r rpc.Rpc) error {
	return nil
}

func (p *MockPublisher) Reset() {
	p.Published = nil
}

func (p *MockPublisher) sentTo(id core.ParticipantID) []rpc.Rpc {
	var rpcs []rpc.Rpc
	for _, msg := range p.Published {
		if msg.To == id {
			rpcs = append(rpcs, msg.Rpc)
		}
	}
	return rpcs
}

func newTestCoordinator() (*Coordinator, *MockPublisher) {
	bus := &MockPublisher{}
	return NewCoordinator(NewRegistry(), bus), bus
}

func connectAndJoin(t *testing.T, coord *Coordinator, room string, ids ...core.ParticipantID) {
	t.Helper()

	for _, id := range ids {
		require.NoError(t, coord.Connect(id))
		require.NoError(t, coord.JoinRoom(id, room))
	}
}

func TestCoordinatorConnect(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	require.NoError(t, coord.Connect(alice))

	require.Len(t, bus.Published, 1)
	require.Equal(t, alice, bus.Published[0].To)

	connected, ok := bus.Published[0].Rpc.(*rpc.ConnectedRpc)
	require.True(t, ok)
	require.Equal(t, alice, connected.Params.UserID)
	require.True(t, coord.registry.Connected(alice))
}

func TestCoordinatorFirstJoinGetsEmptyState(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	require.NoError(t, coord.Connect(alice))
	bus.Reset()

	require.NoError(t, coord.JoinRoom(alice, "meeting-1"))

	require.Len(t, bus.Published, 1)
	require.Equal(t, alice, bus.Published[0].To)

	state, ok := bus.Published[0].Rpc.(*rpc.RoomStateRpc)
	require.True(t, ok)
	require.NotNil(t, state.Params.Users)
	require.Empty(t, state.Params.Users)
	require.Empty(t, state.Params.Locations)
}

func TestCoordinatorJoinBroadcastsBeforeSnapshot(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	bob := core.ParticipantID("bob")
	connectAndJoin(t, coord, "meeting-1", alice)
	require.NoError(t, coord.Connect(bob))
	bus.Reset()

	require.NoError(t, coord.JoinRoom(bob, "meeting-1"))

	require.Len(t, bus.Published, 2)

	// Existing members hear about the newcomer first.
	require.Equal(t, alice, bus.Published[0].To)
	joined, ok := bus.Published[0].Rpc.(*rpc.UserEventRpc)
	require.True(t, ok)
	require.Equal(t, rpc.UserJoinedMethod, joined.GetMethod())
	require.Equal(t, bob, joined.Params.UserID)

	// Then the newcomer gets the snapshot, which never lists itself.
	require.Equal(t, bob, bus.Published[1].To)
	state, ok := bus.Published[1].Rpc.(*rpc.RoomStateRpc)
	require.True(t, ok)
	require.Equal(t, []core.ParticipantID{alice}, state.Params.Users)
	require.Empty(t, state.Params.Locations)
}

func TestCoordinatorJoinBlankRoomDropped(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	require.NoError(t, coord.Connect(alice))
	bus.Reset()

	require.NoError(t, coord.JoinRoom(alice, "   "))

	require.Empty(t, bus.Published)
	_, ok := coord.registry.RoomOf(alice)
	require.False(t, ok)
}

func TestCoordinatorJoinSwitchesRooms(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	bob := core.ParticipantID("bob")
	carol := core.ParticipantID("carol")
	connectAndJoin(t, coord, "meeting-1", alice, bob)
	connectAndJoin(t, coord, "meeting-2", carol)
	bus.Reset()

	require.NoError(t, coord.JoinRoom(bob, "meeting-2"))

	aliceEvents := bus.sentTo(alice)
	require.Len(t, aliceEvents, 1)
	left := aliceEvents[0].(*rpc.UserEventRpc)
	require.Equal(t, rpc.UserLeftMethod, left.GetMethod())
	require.Equal(t, bob, left.Params.UserID)

	carolEvents := bus.sentTo(carol)
	require.Len(t, carolEvents, 1)
	joined := carolEvents[0].(*rpc.UserEventRpc)
	require.Equal(t, rpc.UserJoinedMethod, joined.GetMethod())
	require.Equal(t, bob, joined.Params.UserID)

	bobEvents := bus.sentTo(bob)
	require.Len(t, bobEvents, 1)
	state := bobEvents[0].(*rpc.RoomStateRpc)
	require.Equal(t, []core.ParticipantID{carol}, state.Params.Users)

	require.True(t, coord.registry.RoomExists("meeting-1"))
	room, ok := coord.registry.RoomOf(bob)
	require.True(t, ok)
	require.Equal(t, "meeting-2", room)
}

func TestCoordinatorRelayBroadcast(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	bob := core.ParticipantID("bob")
	carol := core.ParticipantID("carol")
	connectAndJoin(t, coord, "meeting-1", alice, bob, carol)
	bus.Reset()

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, coord.RelaySignal(alice, rpc.SignalParams{
		RoomID: "meeting-1",
		From:   "spoofed",
		Signal: payload,
	}))

	require.Len(t, bus.Published, 2)
	for _, msg := range bus.Published {
		require.NotEqual(t, alice, msg.To)
		signal, ok := msg.Rpc.(*rpc.SignalRpc)
		require.True(t, ok)
		// The relay stamps the sender and leaves the payload alone.
		require.Equal(t, alice, signal.Params.From)
		require.JSONEq(t, string(payload), string(signal.Params.Signal))
	}
	require.ElementsMatch(t,
		[]core.ParticipantID{bob, carol},
		[]core.ParticipantID{bus.Published[0].To, bus.Published[1].To},
	)
}

func TestCoordinatorRelayTargeted(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	bob := core.ParticipantID("bob")
	carol := core.ParticipantID("carol")
	connectAndJoin(t, coord, "meeting-1", alice, bob, carol)
	bus.Reset()

	require.NoError(t, coord.RelaySignal(alice, rpc.SignalParams{
		RoomID: "meeting-1",
		To:     bob,
		Signal: json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	}))

	require.Len(t, bus.Published, 1)
	require.Equal(t, bob, bus.Published[0].To)

	signal := bus.Published[0].Rpc.(*rpc.SignalRpc)
	require.Equal(t, alice, signal.Params.From)
	require.Equal(t, bob, signal.Params.To)
}

func TestCoordinatorRelayTargetedAcrossRooms(t *testing.T) {
	// Only the sender's claimed room is validated; a targeted signal
	// reaches any live connection.
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	bob := core.ParticipantID("bob")
	connectAndJoin(t, coord, "meeting-1", alice)
	connectAndJoin(t, coord, "meeting-2", bob)
	bus.Reset()

	require.NoError(t, coord.RelaySignal(alice, rpc.SignalParams{
		RoomID: "meeting-1",
		To:     bob,
		Signal: json.RawMessage(`{"type":"candidate","candidate":"foo"}`),
	}))

	require.Len(t, bus.Published, 1)
	require.Equal(t, bob, bus.Published[0].To)
}

func TestCoordinatorRelayRoomMismatchDropped(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	bob := core.ParticipantID("bob")
	connectAndJoin(t, coord, "meeting-1", alice)
	connectAndJoin(t, coord, "meeting-2", bob)
	bus.Reset()

	// Wrong room claimed by a member of another room.
	require.NoError(t, coord.RelaySignal(alice, rpc.SignalParams{
		RoomID: "meeting-2",
		Signal: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}))
	require.Empty(t, bus.Published)

	// Roomless sender.
	require.NoError(t, coord.LeaveRoom(alice))
	require.NoError(t, coord.RelaySignal(alice, rpc.SignalParams{
		RoomID: "meeting-1",
		Signal: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}))
	require.Empty(t, bus.Published)
}

func TestCoordinatorRelayUnknownTargetDropped(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	connectAndJoin(t, coord, "meeting-1", alice)
	bus.Reset()

	require.NoError(t, coord.RelaySignal(alice, rpc.SignalParams{
		RoomID: "meeting-1",
		To:     "nobody",
		Signal: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}))

	require.Empty(t, bus.Published)
}

func TestCoordinatorLocationFanout(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	bob := core.ParticipantID("bob")
	connectAndJoin(t, coord, "meeting-1", alice, bob)
	bus.Reset()

	require.NoError(t, coord.UpdateLocation(alice, rpc.LocationParams{
		RoomID: "meeting-1",
		Lat:    59.93,
		Lng:    30.31,
	}))

	require.Len(t, bus.Published, 1)
	require.Equal(t, bob, bus.Published[0].To)

	update := bus.Published[0].Rpc.(*rpc.LocationUpdateRpc)
	require.Equal(t, alice, update.Params.UserID)
	require.Equal(t, 59.93, update.Params.Lat)
	require.Equal(t, 30.31, update.Params.Lng)

	// The stored location shows up in the next join snapshot.
	carol := core.ParticipantID("carol")
	require.NoError(t, coord.Connect(carol))
	bus.Reset()
	require.NoError(t, coord.JoinRoom(carol, "meeting-1"))

	state := bus.sentTo(carol)[0].(*rpc.RoomStateRpc)
	require.Equal(t,
		[]rpc.ParticipantLocation{{UserID: alice, Lat: 59.93, Lng: 30.31}},
		state.Params.Locations,
	)
}

func TestCoordinatorLocationFromNonMemberDropped(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	mallory := core.ParticipantID("mallory")
	connectAndJoin(t, coord, "meeting-1", alice)
	require.NoError(t, coord.Connect(mallory))
	bus.Reset()

	require.NoError(t, coord.UpdateLocation(mallory, rpc.LocationParams{
		RoomID: "meeting-1",
		Lat:    1,
		Lng:    1,
	}))
	require.Empty(t, bus.Published)

	// Nothing was stored either: a fresh join sees no locations.
	bob := core.ParticipantID("bob")
	require.NoError(t, coord.Connect(bob))
	bus.Reset()
	require.NoError(t, coord.JoinRoom(bob, "meeting-1"))

	state := bus.sentTo(bob)[0].(*rpc.RoomStateRpc)
	require.Empty(t, state.Params.Locations)
}

func TestCoordinatorDisconnectNotifiesRoom(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	bob := core.ParticipantID("bob")
	connectAndJoin(t, coord, "meeting-1", alice, bob)
	bus.Reset()

	require.NoError(t, coord.Disconnect(alice))

	events := bus.sentTo(bob)
	require.Len(t, events, 1)
	left := events[0].(*rpc.UserEventRpc)
	require.Equal(t, rpc.UserLeftMethod, left.GetMethod())
	require.Equal(t, alice, left.Params.UserID)
	require.False(t, coord.registry.Connected(alice))
}

func TestCoordinatorSoleDisconnectDeletesRoom(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	connectAndJoin(t, coord, "meeting-1", alice)
	bus.Reset()

	require.NoError(t, coord.Disconnect(alice))

	require.Empty(t, bus.Published)
	require.False(t, coord.registry.RoomExists("meeting-1"))

	// Rejoining starts from scratch.
	bob := core.ParticipantID("bob")
	require.NoError(t, coord.Connect(bob))
	bus.Reset()
	require.NoError(t, coord.JoinRoom(bob, "meeting-1"))

	state := bus.sentTo(bob)[0].(*rpc.RoomStateRpc)
	require.Empty(t, state.Params.Users)
}

func TestCoordinatorLeaveThenDisconnectLeavesOnce(t *testing.T) {
	coord, bus := newTestCoordinator()

	alice := core.ParticipantID("alice")
	bob := core.ParticipantID("bob")
	connectAndJoin(t, coord, "meeting-1", alice, bob)
	bus.Reset()

	require.NoError(t, coord.LeaveRoom(alice))
	require.Len(t, bus.sentTo(bob), 1)

	require.NoError(t, coord.Disconnect(alice))

	// No second user-left: the participant had already left its room.
	require.Len(t, bus.sentTo(bob), 1)
}
