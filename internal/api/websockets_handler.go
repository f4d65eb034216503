package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/eventbus"
	"github.com/iambigmarn/realtime-app/internal/eventbus/rpc"
	"github.com/iambigmarn/realtime-app/internal/telemetry"
)

const (
	wsSubscriptionSessionKey  = "subscription"
	wsParticipantIDSessionKey = "participantId"
)

// WebsocketsHandler mints the connection's participant id and subscribes
// its client channel before melody takes over the socket.
func WebsocketsHandler(eventsSubscriber eventbus.Subscriber, websocket *melody.Melody) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participantID := core.NewParticipantID()

		subscription, err := eventsSubscriber.SubscribeClient(participantID)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("can't subscribe the participant to its signaling channel")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		sessKeys := make(map[string]interface{})
		sessKeys[wsParticipantIDSessionKey] = participantID
		sessKeys[wsSubscriptionSessionKey] = subscription

		if err := websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("can't handle request")
		}
	}
}

// ConnectHandler starts the pump that copies the participant's client
// channel onto the websocket, then announces the connection to the
// coordinator. The pump is consuming before the connect rpc goes out, so
// the connected reply cannot be lost.
func ConnectHandler(eventsPublisher eventbus.Publisher) func(*melody.Session) {
	return func(session *melody.Session) {
		participantID, err := getParticipantIDFromSession(session)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract participant id")
			closeWsSession(session)
			return
		}

		subscription, err := getSubscription(session)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract subscription")
			closeWsSession(session)
			return
		}

		ready := make(chan struct{})

		go func() {
			ch := subscription.Channel()

			close(ready)
			for msg := range ch {
				if err := session.Write([]byte(msg.Payload)); err != nil {
					// there's only session closed error can be
					log.Debug().Err(err).Str("service", "websockets").Str("participant", participantID.String()).Msg("write to websocket session")
					return
				}
			}
		}()

		<-ready

		if err := eventsPublisher.PublishServer(participantID, rpc.NewConnectRpc()); err != nil {
			log.Error().Err(err).Str("service", "websockets").Str("participant", participantID.String()).Msg("publish connect")
			if err := subscription.Close(); err != nil {
				log.Error().Err(err).Str("service", "websockets").Msg("close subscription")
			}
			closeWsSession(session)
		}
	}
}

// DisconnectHandler runs once per socket teardown: it stops the pump by
// closing the subscription and tells the coordinator to run the leave
// procedure. Melody guarantees a single disconnect callback per session.
func DisconnectHandler(eventsPublisher eventbus.Publisher) func(*melody.Session) {
	return func(session *melody.Session) {
		participantID, err := getParticipantIDFromSession(session)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract participant id")
			return
		}

		subscription, err := getSubscription(session)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract subscription")
			return
		}
		if err := subscription.Close(); err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("close subscription")
		}

		if err := eventsPublisher.PublishServer(participantID, rpc.NewDisconnectRpc()); err != nil {
			log.Error().Err(err).Str("service", "websockets").Str("participant", participantID.String()).Msg("publish disconnect")
		}
	}
}

// HandleMessage parses an inbound frame and hands it to the router via
// the server channel. Only room-facing methods are accepted from the
// wire; lifecycle methods are published by this package alone.
func HandleMessage(eventsPublisher eventbus.Publisher) func(*melody.Session, []byte) {
	return func(s *melody.Session, msg []byte) {
		participantID, err := getParticipantIDFromSession(s)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract participant id")
			return
		}

		reader := bytes.NewReader(msg)
		r, err := rpc.RpcFromReader(reader)
		if err != nil {
			telemetry.MessageDropped(telemetry.DropUnparseable)
			log.Debug().Err(err).Str("service", "websockets").Str("participant", participantID.String()).Msg("rpc parse error")
			return
		}

		if !clientMethodAllowed(r.GetMethod()) {
			telemetry.MessageDropped(telemetry.DropMalformed)
			log.Debug().Str("service", "websockets").Str("participant", participantID.String()).Str("rpcMethod", string(r.GetMethod())).Msg("dropped method not accepted from clients")
			return
		}

		if err := eventsPublisher.PublishServer(participantID, r); err != nil {
			log.Error().Err(err).Str("service", "websockets").Str("participant", participantID.String()).Msg("publish server rpc")
		}
	}
}

func clientMethodAllowed(method rpc.Method) bool {
	switch method {
	case rpc.JoinRoomMethod, rpc.LeaveRoomMethod, rpc.SignalMethod, rpc.LocationUpdateMethod:
		return true
	}

	return false
}

func getSubscription(s *melody.Session) (eventbus.Subscription, error) {
	value, ok := s.Keys[wsSubscriptionSessionKey]
	if !ok {
		return nil, fmt.Errorf("no subscription for given session: %+v", s)
	}
	subscription, ok := value.(eventbus.Subscription)
	if !ok {
		return nil, fmt.Errorf("can't convert subscription: %+v", value)
	}
	return subscription, nil
}

func getParticipantIDFromSession(s *melody.Session) (core.ParticipantID, error) {
	value, ok := s.Keys[wsParticipantIDSessionKey]
	if !ok {
		return "", fmt.Errorf("no participant id for given session: %+v", s)
	}
	id, ok := value.(core.ParticipantID)
	if !ok {
		return "", fmt.Errorf("can't convert participant id: %+v", value)
	}
	return id, nil
}

func closeWsSession(s *melody.Session) {
	if err := s.Close(); err != nil {
		log.Error().Err(err).Str("service", "websockets").Msg("close websocket session")
	}
}
