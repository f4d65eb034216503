package rpc

import (
	"encoding/json"

	"github.com/iambigmarn/realtime-app/internal/core"
)

type UserParams struct {
	UserID core.ParticipantID `json:"userId"`
}

// UserEventRpc carries the membership fan-out events. The receiver is never
// the named participant itself.
type UserEventRpc struct {
	jsonRpcHead
	Params UserParams `json:"params"`
}

func NewUserJoinedRpc(userID core.ParticipantID) *UserEventRpc {
	return &UserEventRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  UserJoinedMethod,
		},
		Params: UserParams{UserID: userID},
	}
}

func NewUserLeftRpc(userID core.ParticipantID) *UserEventRpc {
	return &UserEventRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  UserLeftMethod,
		},
		Params: UserParams{UserID: userID},
	}
}

func (r UserEventRpc) GetMethod() Method {
	return r.Method
}

func (r UserEventRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
