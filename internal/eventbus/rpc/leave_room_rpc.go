package rpc

import "encoding/json"

type LeaveRoomRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewLeaveRoomRpc() *LeaveRoomRpc {
	return &LeaveRoomRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  LeaveRoomMethod,
		},
		Params: nil,
	}
}

func (r LeaveRoomRpc) GetMethod() Method {
	return r.Method
}

func (r LeaveRoomRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
