package location

import (
	"github.com/rs/zerolog/log"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/session"
)

// LogDisplay prints peer positions, the headless stand-in for a map
// pane.
type LogDisplay struct{}

var _ session.LocationDisplay = LogDisplay{}

func (LogDisplay) Upsert(id core.ParticipantID, loc core.LatLng) {
	log.Info().
		Str("service", "location").
		Str("participant", id.String()).
		Float64("lat", loc.Lat).
		Float64("lng", loc.Lng).
		Msg("peer location")
}

func (LogDisplay) Remove(id core.ParticipantID) {
	log.Debug().
		Str("service", "location").
		Str("participant", id.String()).
		Msg("peer location cleared")
}
