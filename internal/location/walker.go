package location

import (
	"context"
	"math/rand"
	"time"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/session"
)

const (
	defaultInterval = 5 * time.Second
	defaultStep     = 0.0005
)

// Walker is a location source that wanders around an origin, one random
// step per tick. It stands in for a device GPS on headless peers.
type Walker struct {
	origin   core.LatLng
	step     float64
	interval time.Duration
}

type WalkerOptions struct {
	Origin core.LatLng
	// Step is the maximum coordinate delta per tick, in degrees.
	Step     float64
	Interval time.Duration
}

var _ session.LocationSource = (*Walker)(nil)

func NewWalker(options WalkerOptions) *Walker {
	if options.Step <= 0 {
		options.Step = defaultStep
	}
	if options.Interval <= 0 {
		options.Interval = defaultInterval
	}

	return &Walker{
		origin:   options.Origin,
		step:     options.Step,
		interval: options.Interval,
	}
}

// Watch emits the origin immediately, then one stepped sample per
// interval. The channel closes when ctx is cancelled.
func (w *Walker) Watch(ctx context.Context) (<-chan core.LatLng, error) {
	samples := make(chan core.LatLng, 1)

	go func() {
		defer close(samples)

		position := w.origin
		samples <- position

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			position.Lat += (rand.Float64() - 0.5) * 2 * w.step
			position.Lng += (rand.Float64() - 0.5) * 2 * w.step

			select {
			case samples <- position:
			case <-ctx.Done():
				return
			}
		}
	}()

	return samples, nil
}
