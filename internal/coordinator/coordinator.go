package coordinator

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/eventbus"
	"github.com/iambigmarn/realtime-app/internal/eventbus/rpc"
	"github.com/iambigmarn/realtime-app/internal/telemetry"
)

// Coordinator implements the server side of the signaling protocol. It
// reacts to rpcs dispatched by the router, mutates the injected registry
// and fans resulting rpcs out to per-participant client channels. Relayed
// signal payloads are never inspected; routing metadata is all it reads.
type Coordinator struct {
	registry *Registry
	bus      eventbus.Publisher
}

func NewCoordinator(registry *Registry, bus eventbus.Publisher) *Coordinator {
	return &Coordinator{
		registry: registry,
		bus:      bus,
	}
}

// Attach registers the coordinator's operations with the router. Call it
// before the router starts.
func (c *Coordinator) Attach(router *eventbus.Router) {
	router.OnConnect(c.Connect)
	router.OnDisconnect(c.Disconnect)
	router.OnJoinRoom(c.JoinRoom)
	router.OnLeaveRoom(c.LeaveRoom)
	router.OnSignal(c.RelaySignal)
	router.OnLocationUpdate(c.UpdateLocation)
}

// Connect registers a fresh connection and tells the participant its
// assigned id. Clients hold room traffic until they receive it.
func (c *Coordinator) Connect(id core.ParticipantID) error {
	c.registry.Register(id)
	telemetry.ParticipantConnected()

	return c.bus.PublishClient(id, rpc.NewConnectedRpc(id))
}

// Disconnect runs the full leave procedure and forgets the connection.
// The websocket layer publishes it exactly once per socket teardown.
func (c *Coordinator) Disconnect(id core.ParticipantID) error {
	c.leaveCurrentRoom(id)
	c.registry.Deregister(id)
	telemetry.ParticipantDisconnected()

	return nil
}

// JoinRoom moves the participant into the named room, leaving the
// previous room first with the full user-left fan-out. Other members
// learn about the newcomer before the newcomer receives its snapshot,
// and the snapshot never lists the caller.
func (c *Coordinator) JoinRoom(id core.ParticipantID, roomID string) error {
	name := strings.TrimSpace(roomID)
	if name == "" {
		telemetry.MessageDropped(telemetry.DropMalformed)
		log.Debug().Str("service", "coordinator").Str("participant", id.String()).Msg("dropped join-room with blank room name")
		return nil
	}

	c.leaveCurrentRoom(id)

	others, locations := c.registry.Join(id, name)
	telemetry.ParticipantJoined()
	if len(others) == 0 {
		telemetry.RoomCreated()
	}

	joined := rpc.NewUserJoinedRpc(id)
	for _, member := range others {
		if err := c.bus.PublishClient(member, joined); err != nil {
			log.Error().Err(err).Str("service", "coordinator").Str("room", name).Msg("publish user-joined")
		}
	}

	locs := make([]rpc.ParticipantLocation, 0, len(locations))
	for member, loc := range locations {
		locs = append(locs, rpc.ParticipantLocation{UserID: member, Lat: loc.Lat, Lng: loc.Lng})
	}

	return c.bus.PublishClient(id, rpc.NewRoomStateRpc(others, locs))
}

// LeaveRoom removes the participant from its room without dropping the
// connection. A later disconnect finds no room and leaves exactly once.
func (c *Coordinator) LeaveRoom(id core.ParticipantID) error {
	c.leaveCurrentRoom(id)
	return nil
}

// RelaySignal forwards a webrtc-signal without reading its payload. The
// from field is always overwritten with the sender's id. Signals claiming
// a room the sender is not in are dropped, as are targeted signals to
// connections that do not exist. A targeted signal reaches its addressee
// regardless of the addressee's room.
func (c *Coordinator) RelaySignal(id core.ParticipantID, params rpc.SignalParams) error {
	room, ok := c.registry.RoomOf(id)
	if !ok || room != params.RoomID {
		telemetry.MessageDropped(telemetry.DropRoomMismatch)
		log.Debug().Str("service", "coordinator").Str("participant", id.String()).Str("room", params.RoomID).Msg("dropped signal for a room the sender is not in")
		return nil
	}

	params.From = id

	if params.To != "" {
		if !c.registry.Connected(params.To) {
			telemetry.MessageDropped(telemetry.DropUnknownTarget)
			log.Debug().Str("service", "coordinator").Str("participant", id.String()).Str("target", params.To.String()).Msg("dropped signal for unknown target")
			return nil
		}

		telemetry.SignalRelayed(telemetry.SignalTargeted)
		return c.bus.PublishClient(params.To, rpc.NewSignalRpc(params))
	}

	relay := rpc.NewSignalRpc(params)
	for _, member := range c.registry.Members(room, id) {
		if err := c.bus.PublishClient(member, relay); err != nil {
			log.Error().Err(err).Str("service", "coordinator").Str("room", room).Msg("publish signal")
		}
	}
	telemetry.SignalRelayed(telemetry.SignalBroadcast)

	return nil
}

// UpdateLocation stores the sender's location and fans it out to the
// other members, stamped with the sender's id. Updates naming a room the
// sender is not in change nothing.
func (c *Coordinator) UpdateLocation(id core.ParticipantID, params rpc.LocationParams) error {
	loc := core.LatLng{Lat: params.Lat, Lng: params.Lng}
	if !c.registry.SetLocation(id, params.RoomID, loc) {
		telemetry.MessageDropped(telemetry.DropRoomMismatch)
		log.Debug().Str("service", "coordinator").Str("participant", id.String()).Str("room", params.RoomID).Msg("dropped location update from a non-member")
		return nil
	}
	telemetry.LocationRelayed()

	params.UserID = id
	update := rpc.NewLocationUpdateRpc(params)
	for _, member := range c.registry.Members(params.RoomID, id) {
		if err := c.bus.PublishClient(member, update); err != nil {
			log.Error().Err(err).Str("service", "coordinator").Str("room", params.RoomID).Msg("publish location update")
		}
	}

	return nil
}

// leaveCurrentRoom is the shared leave procedure: drop membership and the
// stored location, delete the room when it empties, notify the members
// that remain.
func (c *Coordinator) leaveCurrentRoom(id core.ParticipantID) {
	name, remaining, ok := c.registry.Leave(id)
	if !ok {
		return
	}
	telemetry.ParticipantLeft()

	if len(remaining) == 0 {
		telemetry.RoomDeleted()
		return
	}

	left := rpc.NewUserLeftRpc(id)
	for _, member := range remaining {
		if err := c.bus.PublishClient(member, left); err != nil {
			log.Error().Err(err).Str("service", "coordinator").Str("room", name).Msg("publish user-left")
		}
	}
}
