package rpc

import "encoding/json"

type JoinRoomParams struct {
	RoomID string `json:"roomId"`
}

type JoinRoomRpc struct {
	jsonRpcHead
	Params JoinRoomParams `json:"params"`
}

func NewJoinRoomRpc(roomID string) *JoinRoomRpc {
	return &JoinRoomRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  JoinRoomMethod,
		},
		Params: JoinRoomParams{RoomID: roomID},
	}
}

func (r JoinRoomRpc) GetMethod() Method {
	return r.Method
}

func (r JoinRoomRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
