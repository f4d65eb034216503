package rpc

import (
	"encoding/json"
	"errors"
	"io"
)

const jsonRpcVersion = "2.0"

type Method string

const (
	// Connect and Disconnect are published by the websocket layer itself,
	// never accepted from clients over the wire.
	ConnectMethod    Method = "connect"
	DisconnectMethod Method = "disconnect"
	ConnectedMethod  Method = "connected"

	JoinRoomMethod  Method = "join-room"
	LeaveRoomMethod Method = "leave-room"

	RoomStateMethod  Method = "room-state"
	UserJoinedMethod Method = "user-joined"
	UserLeftMethod   Method = "user-left"

	SignalMethod         Method = "webrtc-signal"
	LocationUpdateMethod Method = "location-update"
)

var (
	ErrUnknownRpcType = errors.New("unknown RPC type")
	ErrMalformedRpc   = errors.New("malformed RPC")
)

type Rpc interface {
	GetMethod() Method
	ToJSON() ([]byte, error)
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	Method  Method `json:"method"`
}

type jsonRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

func RpcFromReader(reader io.Reader) (Rpc, error) {
	rpc := &jsonRpc{}

	err := json.NewDecoder(reader).Decode(rpc)
	if err != nil {
		return nil, err
	}

	switch rpc.Method {
	case ConnectMethod:
		return NewConnectRpc(), nil
	case DisconnectMethod:
		return NewDisconnectRpc(), nil
	case ConnectedMethod:
		p := ConnectedParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewConnectedRpc(p.UserID), nil
	case JoinRoomMethod:
		p := JoinRoomParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewJoinRoomRpc(p.RoomID), nil
	case LeaveRoomMethod:
		return NewLeaveRoomRpc(), nil
	case RoomStateMethod:
		p := RoomStateParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewRoomStateRpc(p.Users, p.Locations), nil
	case UserJoinedMethod:
		p := UserParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewUserJoinedRpc(p.UserID), nil
	case UserLeftMethod:
		p := UserParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewUserLeftRpc(p.UserID), nil
	case SignalMethod:
		p := SignalParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}
		if len(p.Signal) == 0 {
			return nil, ErrMalformedRpc
		}

		return NewSignalRpc(p), nil
	case LocationUpdateMethod:
		p := LocationParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewLocationUpdateRpc(p), nil
	default:
		return nil, ErrUnknownRpcType
	}
}
