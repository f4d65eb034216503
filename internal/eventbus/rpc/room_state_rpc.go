package rpc

import (
	"encoding/json"

	"github.com/iambigmarn/realtime-app/internal/core"
)

// ParticipantLocation is one stored position inside a room snapshot.
type ParticipantLocation struct {
	UserID core.ParticipantID `json:"userId"`
	Lat    float64            `json:"lat"`
	Lng    float64            `json:"lng"`
}

// RoomStateParams is the snapshot a joining participant receives: current
// membership and known locations, both excluding the receiver itself.
type RoomStateParams struct {
	Users     []core.ParticipantID  `json:"users"`
	Locations []ParticipantLocation `json:"locations"`
}

type RoomStateRpc struct {
	jsonRpcHead
	Params RoomStateParams `json:"params"`
}

func NewRoomStateRpc(users []core.ParticipantID, locations []ParticipantLocation) *RoomStateRpc {
	if users == nil {
		users = []core.ParticipantID{}
	}
	if locations == nil {
		locations = []ParticipantLocation{}
	}

	return &RoomStateRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  RoomStateMethod,
		},
		Params: RoomStateParams{Users: users, Locations: locations},
	}
}

func (r RoomStateRpc) GetMethod() Method {
	return r.Method
}

func (r RoomStateRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
