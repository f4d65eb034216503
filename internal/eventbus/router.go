package eventbus

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/eventbus/rpc"
)

var (
	errConvertJoinRoom = errors.New("can't convert to join-room rpc")
	errConvertSignal   = errors.New("can't convert to webrtc-signal rpc")
	errConvertLocation = errors.New("can't convert to location-update rpc")
	errNoParticipantID = errors.New("server message carries no participant id")
	errUndefinedMethod = errors.New("undefined method")
)

// Router consumes the server channel in a single goroutine and dispatches
// each rpc to the callback registered for its method. Consuming one channel
// sequentially is what serializes all room mutations.
type Router struct {
	EventsSubscriber Subscriber
	subscription     Subscription
	done             chan struct{}

	onConnect        func(core.ParticipantID) error
	onDisconnect     func(core.ParticipantID) error
	onJoinRoom       func(core.ParticipantID, string) error
	onLeaveRoom      func(core.ParticipantID) error
	onSignal         func(core.ParticipantID, rpc.SignalParams) error
	onLocationUpdate func(core.ParticipantID, rpc.LocationParams) error
}

func NewRouter(sub Subscriber) (*Router, error) {
	router := &Router{
		EventsSubscriber: sub,
		done:             make(chan struct{}),
	}
	subscription, err := router.EventsSubscriber.SubscribeServer()
	if err != nil {
		return nil, err
	}
	router.subscription = subscription

	return router, nil
}

// Start launches the dispatch loop. All callbacks must be registered before
// calling it. The returned channel closes once the loop is consuming.
func (router *Router) Start() <-chan struct{} {
	log.Debug().Str("service", "router").Msg("start")

	ready := make(chan struct{})

	go func() {
		defer close(router.done)

		channel := router.subscription.Channel()
		close(ready)

		for msg := range channel {
			router.dispatch(msg.Payload)
		}
	}()

	return ready
}

// Stop closes the server subscription, which ends the dispatch loop. The
// returned channel closes once the loop has drained.
func (router *Router) Stop() <-chan struct{} {
	if err := router.subscription.Close(); err != nil {
		log.Error().Err(err).Str("service", "router").Msg("close server subscription")
	}
	return router.done
}

func (router *Router) dispatch(payload string) {
	id, r, err := parseRpc(payload)
	if err != nil {
		log.Error().Err(err).Str("service", "router").Msg("")
		return
	}

	switch r.GetMethod() {
	case rpc.ConnectMethod:
		if err := router.onConnect(id); err != nil {
			log.Error().Err(err).Str("service", "router").Msg("error occured in onConnect")
		}
	case rpc.DisconnectMethod:
		if err := router.onDisconnect(id); err != nil {
			log.Error().Err(err).Str("service", "router").Msg("error occured in onDisconnect")
		}
	case rpc.JoinRoomMethod:
		msg, ok := r.(*rpc.JoinRoomRpc)
		if !ok {
			log.Error().Err(errConvertJoinRoom).Str("service", "router").Msg("")
			return
		}

		if err := router.onJoinRoom(id, msg.Params.RoomID); err != nil {
			log.Error().Err(err).Str("service", "router").Msg("error occured in onJoinRoom")
		}
	case rpc.LeaveRoomMethod:
		if err := router.onLeaveRoom(id); err != nil {
			log.Error().Err(err).Str("service", "router").Msg("error occured in onLeaveRoom")
		}
	case rpc.SignalMethod:
		msg, ok := r.(*rpc.SignalRpc)
		if !ok {
			log.Error().Err(errConvertSignal).Str("service", "router").Msg("")
			return
		}

		if err := router.onSignal(id, msg.Params); err != nil {
			log.Error().Err(err).Str("service", "router").Msg("error occured in onSignal")
		}
	case rpc.LocationUpdateMethod:
		msg, ok := r.(*rpc.LocationUpdateRpc)
		if !ok {
			log.Error().Err(errConvertLocation).Str("service", "router").Msg("")
			return
		}

		if err := router.onLocationUpdate(id, msg.Params); err != nil {
			log.Error().Err(err).Str("service", "router").Msg("error occured in onLocationUpdate")
		}
	default:
		log.Error().Err(errUndefinedMethod).Str("rpcMethod", string(r.GetMethod())).Str("service", "router").Msg("")
	}
}

func parseRpc(payload string) (core.ParticipantID, rpc.Rpc, error) {
	serverMessage := ServerMessage{}
	if err := json.Unmarshal([]byte(payload), &serverMessage); err != nil {
		return "", nil, err
	}

	if serverMessage.ParticipantID == "" {
		return "", nil, errNoParticipantID
	}

	r, err := rpc.RpcFromReader(bytes.NewReader(serverMessage.Rpc))
	if err != nil {
		return "", nil, err
	}

	return serverMessage.ParticipantID, r, nil
}

func (router *Router) OnConnect(callback func(core.ParticipantID) error) {
	router.onConnect = callback
}

func (router *Router) OnDisconnect(callback func(core.ParticipantID) error) {
	router.onDisconnect = callback
}

func (router *Router) OnJoinRoom(callback func(core.ParticipantID, string) error) {
	router.onJoinRoom = callback
}

func (router *Router) OnLeaveRoom(callback func(core.ParticipantID) error) {
	router.onLeaveRoom = callback
}

func (router *Router) OnSignal(callback func(core.ParticipantID, rpc.SignalParams) error) {
	router.onSignal = callback
}

func (router *Router) OnLocationUpdate(callback func(core.ParticipantID, rpc.LocationParams) error) {
	router.onLocationUpdate = callback
}
