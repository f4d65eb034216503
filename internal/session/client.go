package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/eventbus/rpc"
)

var (
	errConnectionLost = errors.New("signaling connection lost")
	errNotConnected   = errors.New("not connected to signaling")
)

type ClientOptions struct {
	// URL is the websocket endpoint, e.g. ws://localhost:3001/ws.
	URL string
	// Room is joined as soon as the server hands out the local id.
	Room string

	TransportFactory TransportFactory
	MediaSource      MediaSource
	LocationSource   LocationSource
	VideoDisplay     VideoDisplay
	LocationDisplay  LocationDisplay

	NegotiationTimeout time.Duration
}

// Client connects a session to the relay. One goroutine reads and
// dispatches server messages; media acquisition and the location
// watcher run beside it and feed back through the session mutex.
type Client struct {
	ClientOptions

	conn    *websocket.Conn
	writeMu sync.Mutex

	session *Session

	// send is swappable so tests can capture outbound rpcs.
	send func(r rpc.Rpc) error
}

func NewClient(options ClientOptions) *Client {
	c := &Client{
		ClientOptions: options,
		session:       newSession(),
	}
	c.send = c.writeRpc

	return c
}

func (c *Client) Session() *Session {
	return c.session
}

// Run dials the relay and serves the session until ctx is cancelled or
// the connection drops. Links are torn down either way; on cancellation
// the room is left and the websocket closed with a close handshake.
func (c *Client) Run(ctx context.Context) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 45 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()

	c.conn = conn
	defer conn.Close()

	log.Info().Str("service", "session").Str("url", c.URL).Msg("connected to relay")

	done := make(chan struct{})
	go func() {
		defer close(done)

		for {
			if err := c.readRpc(); err != nil {
				log.Debug().Err(err).Str("service", "session").Msg("read loop finished")
				return
			}
		}
	}()

	c.acquireMedia(ctx)
	c.watchLocation(ctx)

	select {
	case <-done:
		c.teardownLinks()
		return errConnectionLost
	case <-ctx.Done():
	}

	c.teardownLinks()

	if err := c.send(rpc.NewLeaveRoomRpc()); err != nil {
		log.Debug().Err(err).Str("service", "session").Msg("send leave-room")
	}

	// Cleanly close the connection by sending a close message and then
	// waiting (with timeout) for the server to close the connection.
	if err := c.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		return err
	}

	select {
	case <-done:
	case <-time.After(time.Second):
	}

	return nil
}

// Join switches the session into a room. Links from the previous room
// are torn down first; the relay runs its own leave procedure when it
// sees the new join-room.
func (c *Client) Join(room string) error {
	c.session.mu.Lock()
	links := c.session.takeLinksLocked()
	c.session.roomID = room
	c.session.mu.Unlock()

	c.closeLinks(links)

	return c.send(rpc.NewJoinRoomRpc(room))
}

// SendSignal implements Signaler for the links this client owns. From
// stays empty here, the relay stamps it.
func (c *Client) SendSignal(roomID string, to core.ParticipantID, body rpc.SignalBody) error {
	r, err := rpc.NewSignalBodyRpc(roomID, to, body)
	if err != nil {
		return err
	}

	return c.send(r)
}

func (c *Client) readRpc() error {
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}

	r, err := rpc.RpcFromReader(bytes.NewReader(message))
	if err != nil {
		// One bad frame doesn't kill the session.
		log.Debug().Err(err).Str("service", "session").Msg("can't parse rpc")
		return nil
	}

	c.dispatch(r)

	return nil
}

func (c *Client) dispatch(r rpc.Rpc) {
	switch msg := r.(type) {
	case *rpc.ConnectedRpc:
		c.handleConnected(msg.Params.UserID)
	case *rpc.RoomStateRpc:
		c.handleRoomState(msg.Params)
	case *rpc.UserEventRpc:
		switch msg.GetMethod() {
		case rpc.UserJoinedMethod:
			c.handleUserJoined(msg.Params.UserID)
		case rpc.UserLeftMethod:
			c.handleUserLeft(msg.Params.UserID)
		}
	case *rpc.SignalRpc:
		c.handleSignal(msg.Params)
	case *rpc.LocationUpdateRpc:
		c.handleLocationUpdate(msg.Params)
	default:
		log.Debug().
			Str("service", "session").
			Str("rpcMethod", string(r.GetMethod())).
			Msg("ignored rpc")
	}
}

func (c *Client) handleConnected(id core.ParticipantID) {
	c.session.mu.Lock()
	c.session.localID = id
	c.session.mu.Unlock()

	log.Info().
		Str("service", "session").
		Str("participant", id.String()).
		Msg("registered with relay")

	if c.Room == "" {
		return
	}
	if err := c.Join(c.Room); err != nil {
		log.Error().Err(err).Str("service", "session").Str("room", c.Room).Msg("join room")
	}
}

// handleRoomState replaces the membership view with the server's
// snapshot. With media ready each listed member gets an offer; without
// it they are parked as pending until the media transition.
func (c *Client) handleRoomState(params rpc.RoomStateParams) {
	c.session.mu.Lock()
	c.session.members = make(map[core.ParticipantID]struct{}, len(params.Users))
	for _, user := range params.Users {
		if user == c.session.localID || user == "" {
			continue
		}
		c.session.members[user] = struct{}{}

		if c.session.mediaReady {
			c.connectPeerLocked(user)
		} else {
			c.session.pending[user] = struct{}{}
		}
	}
	c.session.mu.Unlock()

	log.Info().
		Str("service", "session").
		Int("members", len(params.Users)).
		Msg("room state received")

	if c.LocationDisplay == nil {
		return
	}
	for _, loc := range params.Locations {
		c.LocationDisplay.Upsert(loc.UserID, core.LatLng{Lat: loc.Lat, Lng: loc.Lng})
	}
}

func (c *Client) handleUserJoined(id core.ParticipantID) {
	if id == "" {
		return
	}

	c.session.mu.Lock()
	c.session.members[id] = struct{}{}
	if c.session.mediaReady {
		c.connectPeerLocked(id)
	} else {
		c.session.pending[id] = struct{}{}
	}
	c.session.mu.Unlock()

	log.Info().
		Str("service", "session").
		Str("participant", id.String()).
		Msg("user joined")
}

func (c *Client) handleUserLeft(id core.ParticipantID) {
	c.session.mu.Lock()
	delete(c.session.members, id)
	delete(c.session.pending, id)
	link := c.session.peers[id]
	delete(c.session.peers, id)
	c.session.mu.Unlock()

	if link != nil {
		if err := link.Close(); err != nil {
			log.Error().Err(err).Str("service", "session").Str("participant", id.String()).Msg("close link")
		}
	}
	if c.VideoDisplay != nil {
		c.VideoDisplay.Remove(id)
	}
	if c.LocationDisplay != nil {
		c.LocationDisplay.Remove(id)
	}

	log.Info().
		Str("service", "session").
		Str("participant", id.String()).
		Msg("user left")
}

func (c *Client) handleSignal(params rpc.SignalParams) {
	body, err := params.Body()
	if err != nil {
		log.Debug().
			Err(err).
			Str("service", "session").
			Str("from", params.From.String()).
			Msg("dropped malformed signal")
		return
	}

	switch body.Type {
	case rpc.SignalTypeOffer:
		desc, err := body.Description()
		if err != nil {
			log.Debug().Err(err).Str("service", "session").Msg("dropped bad offer")
			return
		}

		// Offers may come from peers we have no link for yet: the
		// remote side got media first. Create the callee side here.
		c.session.mu.Lock()
		link := c.ensureLinkLocked(params.From)
		c.session.mu.Unlock()
		if link == nil {
			return
		}

		if err := link.HandleOffer(desc); err != nil {
			log.Error().Err(err).Str("service", "session").Str("from", params.From.String()).Msg("handle offer")
		}
	case rpc.SignalTypeAnswer:
		desc, err := body.Description()
		if err != nil {
			log.Debug().Err(err).Str("service", "session").Msg("dropped bad answer")
			return
		}

		link, ok := c.session.Link(params.From)
		if !ok {
			log.Debug().Str("service", "session").Str("from", params.From.String()).Msg("stale answer dropped")
			return
		}

		if err := link.HandleAnswer(desc); err != nil {
			log.Error().Err(err).Str("service", "session").Str("from", params.From.String()).Msg("handle answer")
		}
	case rpc.SignalTypeCandidate:
		candidate, err := body.ICECandidate()
		if err != nil {
			log.Debug().Err(err).Str("service", "session").Msg("dropped bad candidate")
			return
		}

		link, ok := c.session.Link(params.From)
		if !ok {
			log.Debug().Str("service", "session").Str("from", params.From.String()).Msg("stale candidate dropped")
			return
		}

		if err := link.HandleCandidate(candidate); err != nil {
			log.Error().Err(err).Str("service", "session").Str("from", params.From.String()).Msg("handle candidate")
		}
	}
}

func (c *Client) handleLocationUpdate(params rpc.LocationParams) {
	if c.LocationDisplay == nil || params.UserID == "" {
		return
	}

	c.LocationDisplay.Upsert(params.UserID, core.LatLng{Lat: params.Lat, Lng: params.Lng})
}

// handleMediaReady runs the media transition: every member known so
// far, pending or not, gets a link and an offer unless its negotiation
// already started from the remote side.
func (c *Client) handleMediaReady(stream *LocalStream) {
	c.session.mu.Lock()
	c.session.mediaReady = true
	c.session.stream = stream

	targets := make([]core.ParticipantID, 0, len(c.session.members))
	for id := range c.session.members {
		targets = append(targets, id)
	}
	c.session.pending = make(map[core.ParticipantID]struct{})

	for _, id := range targets {
		c.connectPeerLocked(id)
	}
	c.session.mu.Unlock()

	log.Info().
		Str("service", "session").
		Int("peers", len(targets)).
		Msg("local media ready")
}

// connectPeerLocked makes sure a link exists and offers on it when the
// negotiation hasn't started from either side. Caller holds session.mu.
func (c *Client) connectPeerLocked(id core.ParticipantID) {
	link := c.ensureLinkLocked(id)
	if link == nil || !link.CanOffer() {
		return
	}

	if err := link.Offer(); err != nil {
		log.Error().Err(err).Str("service", "session").Str("participant", id.String()).Msg("offer")
	}
}

// ensureLinkLocked returns the link for id, creating transport and link
// when the peer is new. Caller holds session.mu.
func (c *Client) ensureLinkLocked(id core.ParticipantID) *PeerLink {
	if id == "" || id == c.session.localID {
		return nil
	}
	if link, ok := c.session.peers[id]; ok {
		return link
	}

	transport, err := c.TransportFactory()
	if err != nil {
		log.Error().Err(err).Str("service", "session").Str("participant", id.String()).Msg("create transport")
		return nil
	}

	if c.session.stream != nil {
		if err := transport.AttachLocalTracks(c.session.stream); err != nil {
			log.Error().Err(err).Str("service", "session").Str("participant", id.String()).Msg("attach local tracks")
			if err := transport.Close(); err != nil {
				log.Error().Err(err).Str("service", "session").Msg("close transport")
			}
			return nil
		}
	}

	link, err := NewPeerLink(PeerLinkOptions{
		LocalID:            c.session.localID,
		RemoteID:           id,
		RoomID:             c.session.roomID,
		Transport:          transport,
		Signaler:           c,
		VideoDisplay:       c.VideoDisplay,
		NegotiationTimeout: c.NegotiationTimeout,
	})
	if err != nil {
		log.Error().Err(err).Str("service", "session").Str("participant", id.String()).Msg("create peer link")
		if err := transport.Close(); err != nil {
			log.Error().Err(err).Str("service", "session").Msg("close transport")
		}
		return nil
	}

	c.session.peers[id] = link

	return link
}

func (c *Client) acquireMedia(ctx context.Context) {
	if c.MediaSource == nil {
		return
	}

	go func() {
		stream, err := c.MediaSource.Acquire(ctx)
		if err != nil {
			c.session.mu.Lock()
			c.session.mediaErr = err
			c.session.mu.Unlock()

			log.Error().Err(err).Str("service", "session").Msg("media acquisition failed, staying signal-only")
			return
		}

		c.handleMediaReady(stream)
	}()
}

func (c *Client) watchLocation(ctx context.Context) {
	if c.LocationSource == nil {
		return
	}

	go func() {
		samples, err := c.LocationSource.Watch(ctx)
		if err != nil {
			log.Error().Err(err).Str("service", "session").Msg("location source failed")
			return
		}

		for loc := range samples {
			room := c.session.CurrentRoom()
			if room == "" {
				continue
			}

			r := rpc.NewLocationUpdateRpc(rpc.LocationParams{RoomID: room, Lat: loc.Lat, Lng: loc.Lng})
			if err := c.send(r); err != nil {
				log.Debug().Err(err).Str("service", "session").Msg("send location update")
			}
		}
	}()
}

func (c *Client) teardownLinks() {
	c.session.mu.Lock()
	links := c.session.takeLinksLocked()
	c.session.roomID = ""
	c.session.mu.Unlock()

	c.closeLinks(links)
}

func (c *Client) closeLinks(links map[core.ParticipantID]*PeerLink) {
	for id, link := range links {
		if err := link.Close(); err != nil {
			log.Error().Err(err).Str("service", "session").Str("participant", id.String()).Msg("close link")
		}
		if c.VideoDisplay != nil {
			c.VideoDisplay.Remove(id)
		}
		if c.LocationDisplay != nil {
			c.LocationDisplay.Remove(id)
		}
	}
}

func (c *Client) writeRpc(r rpc.Rpc) error {
	payload, err := r.ToJSON()
	if err != nil {
		return err
	}

	return c.writeMessage(websocket.TextMessage, payload)
}

func (c *Client) writeMessage(messageType int, payload []byte) error {
	if c.conn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteMessage(messageType, payload)
}
