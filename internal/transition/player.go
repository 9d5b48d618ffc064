package transition

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/hdj/internal/audio"
)

// Player runs the audio loop: it ticks the controller once per output frame
// and emits the mixed frames at real-time rate.
type Player struct {
	ctrl    *Controller
	bus     *audio.Bus
	frameCh chan []int16
	log     *zap.Logger

	interval time.Duration
}

// NewPlayer creates a player for ctrl. bus must be the mixer the controller's
// channels render into.
func NewPlayer(ctrl *Controller, bus *audio.Bus, log *zap.Logger) *Player {
	if log == nil {
		log = zap.NewNop()
	}
	return &Player{
		ctrl:     ctrl,
		bus:      bus,
		frameCh:  make(chan []int16, 100),
		log:      log.Named("player"),
		interval: audio.FrameDuration,
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each). It is closed
// when Run returns.
func (p *Player) Frames() <-chan []int16 {
	return p.frameCh
}

// Run drives the controller until ctx is cancelled or playback stops. It
// returns nil when the queue ran out.
func (p *Player) Run(ctx context.Context) error {
	defer close(p.frameCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		p.bus.Reset()
		if err := p.ctrl.Tick(ctx, audio.FrameDuration); err != nil {
			p.log.Warn("next track unavailable, playback continues", zap.Error(err))
		}

		select {
		case p.frameCh <- p.bus.Frame():
		case <-ctx.Done():
			return ctx.Err()
		}

		if p.ctrl.State() == Stopped {
			p.log.Info("playback finished")
			return nil
		}
	}
}
