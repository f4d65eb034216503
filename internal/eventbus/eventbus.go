package eventbus

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/eventbus/rpc"
)

type Channel string

const (
	// ClientMessages channels are per participant; ServerMessages is a
	// single channel every connection publishes into, so the router sees
	// each connection's traffic in the order it arrived.
	ClientMessages Channel = "client_messages"
	ServerMessages Channel = "server_messages"
)

func (c Channel) buildChannel(id core.ParticipantID) string {
	if id == "" {
		return string(c)
	}
	return string(c) + ":" + string(id)
}

// ServerMessage is the envelope inbound rpcs travel in on the server
// channel, so the router knows which connection sent what.
type ServerMessage struct {
	ParticipantID core.ParticipantID `json:"participant_id"`
	Rpc           json.RawMessage    `json:"rpc"`
}

type Publisher interface {
	PublishClient(id core.ParticipantID, rpc rpc.Rpc) error
	PublishServer(id core.ParticipantID, rpc rpc.Rpc) error
}

type Subscriber interface {
	SubscribeClient(id core.ParticipantID) (Subscription, error)
	SubscribeServer() (Subscription, error)
}

type Subscription interface {
	Channel() <-chan *redis.Message
	Close() error
}

type redisSubscription struct {
	pubsub *redis.PubSub
}

func (s *redisSubscription) Channel() <-chan *redis.Message {
	return s.pubsub.Channel()
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

type Eventbus struct {
	rdb *redis.Client
}

// RedisPubSub is factory for building Eventbus based on redis pubsub
func RedisPubSub(rdb *redis.Client) *Eventbus {
	return &Eventbus{rdb: rdb}
}

func (e *Eventbus) PublishClient(id core.ParticipantID, r rpc.Rpc) error {
	msg, err := r.ToJSON()
	if err != nil {
		return err
	}
	return e.rdb.Publish(context.Background(), ClientMessages.buildChannel(id), msg).Err()
}

func (e *Eventbus) PublishServer(id core.ParticipantID, r rpc.Rpc) error {
	raw, err := r.ToJSON()
	if err != nil {
		return err
	}
	msg, err := json.Marshal(ServerMessage{ParticipantID: id, Rpc: raw})
	if err != nil {
		return err
	}
	return e.rdb.Publish(context.Background(), ServerMessages.buildChannel(""), msg).Err()
}

func (e *Eventbus) SubscribeClient(id core.ParticipantID) (Subscription, error) {
	return e.subscribe(ClientMessages.buildChannel(id))
}

func (e *Eventbus) SubscribeServer() (Subscription, error) {
	return e.subscribe(ServerMessages.buildChannel(""))
}

func (e *Eventbus) subscribe(channel string) (Subscription, error) {
	ctx := context.Background()
	pubsub := e.rdb.Subscribe(ctx, channel)
	// Wait until subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	return &redisSubscription{pubsub: pubsub}, nil
}
