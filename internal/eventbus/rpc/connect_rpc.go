package rpc

import "encoding/json"

// ConnectRpc announces a freshly accepted connection to the coordinator.
type ConnectRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewConnectRpc() *ConnectRpc {
	return &ConnectRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  ConnectMethod,
		},
		Params: nil,
	}
}

func (r ConnectRpc) GetMethod() Method {
	return r.Method
}

func (r ConnectRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// DisconnectRpc announces connection teardown. The websocket layer publishes
// it exactly once per closed session.
type DisconnectRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewDisconnectRpc() *DisconnectRpc {
	return &DisconnectRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  DisconnectMethod,
		},
		Params: nil,
	}
}

func (r DisconnectRpc) GetMethod() Method {
	return r.Method
}

func (r DisconnectRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
