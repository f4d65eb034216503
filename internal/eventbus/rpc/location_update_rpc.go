package rpc

import (
	"encoding/json"

	"github.com/iambigmarn/realtime-app/internal/core"
)

// LocationParams carries one position sample. Clients send it without
// UserID; the relay stamps the sender id before fanning out.
type LocationParams struct {
	RoomID string             `json:"roomId"`
	UserID core.ParticipantID `json:"userId,omitempty"`
	Lat    float64            `json:"lat"`
	Lng    float64            `json:"lng"`
}

type LocationUpdateRpc struct {
	jsonRpcHead
	Params LocationParams `json:"params"`
}

func NewLocationUpdateRpc(params LocationParams) *LocationUpdateRpc {
	return &LocationUpdateRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  LocationUpdateMethod,
		},
		Params: params,
	}
}

func (r LocationUpdateRpc) GetMethod() Method {
	return r.Method
}

func (r LocationUpdateRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
