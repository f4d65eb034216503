package core

import "github.com/google/uuid"

// ParticipantID identifies one live connection to the relay. It is assigned
// by the server when the websocket is accepted and stays stable until that
// connection closes. IDs are never reused while the connection is live.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

func (id ParticipantID) String() string {
	return string(id)
}

// LatLng is the most recent reported position of a participant. Only the
// latest value is kept, there is no trail.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Environment string

const (
	DevelopmentEnv Environment = "development"
	ProductionEnv  Environment = "production"
)

func (e Environment) IsProduction() bool {
	return e == ProductionEnv
}

func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv
}
