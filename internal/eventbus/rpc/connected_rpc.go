package rpc

import (
	"encoding/json"

	"github.com/iambigmarn/realtime-app/internal/core"
)

type ConnectedParams struct {
	UserID core.ParticipantID `json:"userId"`
}

// ConnectedRpc tells a client the id the relay assigned to its connection.
// It is always the first message a client receives.
type ConnectedRpc struct {
	jsonRpcHead
	Params ConnectedParams `json:"params"`
}

func NewConnectedRpc(userID core.ParticipantID) *ConnectedRpc {
	return &ConnectedRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  ConnectedMethod,
		},
		Params: ConnectedParams{UserID: userID},
	}
}

func (r ConnectedRpc) GetMethod() Method {
	return r.Method
}

func (r ConnectedRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
