package transition

import (
	"time"

	"github.com/satindergrewal/hdj/internal/audio"
)

// Snapshot is the read-only view of the deck published after every tick.
type Snapshot struct {
	State        State           `json:"state"`
	Active       audio.ChannelID `json:"active_channel"`
	ActiveTrack  string          `json:"active_track"`
	Path         string          `json:"path,omitempty"`
	BPM          string          `json:"bpm,omitempty"`
	Key          string          `json:"key,omitempty"`
	Position     time.Duration   `json:"-"`
	Duration     time.Duration   `json:"-"`
	PositionSec  float64         `json:"position_sec"`
	DurationSec  float64         `json:"duration_sec"`
	ChannelAGain float64         `json:"channel_a_gain"`
	ChannelBGain float64         `json:"channel_b_gain"`
	// Crossfade is the ramp progress in [0, 1] while Transitioning.
	Crossfade float64 `json:"crossfade"`
	UpNext    string  `json:"up_next,omitempty"`
	Queued    int     `json:"queued"`
	Pending   bool    `json:"trigger_pending"`
}

// Snapshot returns the view as of the last tick.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// UpNext lists the tracks still queued, in play order.
func (c *Controller) UpNext() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.upNext...)
}

func (c *Controller) publish() {
	ch := c.engine.Channel(c.active)
	t := ch.Track()

	s := Snapshot{
		State:        c.state,
		Active:       c.active,
		ActiveTrack:  t.Name(),
		Path:         t.Path,
		Position:     ch.Position(),
		Duration:     ch.Duration(),
		PositionSec:  ch.Position().Seconds(),
		DurationSec:  ch.Duration().Seconds(),
		ChannelAGain: c.engine.Channel(audio.ChannelA).Gain(),
		ChannelBGain: c.engine.Channel(audio.ChannelB).Gain(),
		Pending:      c.Pending(),
	}
	if t.BPM().Known() {
		s.BPM = t.BPM().String()
	}
	if t.Key().Known() {
		s.Key = t.Key().String()
	}
	if session, ok := c.engine.Active(); ok {
		s.Crossfade = session.Progress()
	}
	// a preloaded track has left the queue but has not started yet
	var waiting []string
	if c.armed {
		waiting = append(waiting, c.engine.Channel(c.active.Other()).Track().Name())
	}
	if head, ok := c.queue.Peek(); ok {
		s.UpNext = head.Name()
	}
	if len(waiting) > 0 {
		s.UpNext = waiting[0]
	}
	s.Queued = len(waiting) + c.queue.Len()

	refresh := s.Queued != len(c.upNext)
	var upNext []string
	if refresh {
		upNext = waiting
		for _, t := range c.queue.Tracks() {
			upNext = append(upNext, t.Name())
		}
	}

	c.mu.Lock()
	c.snap = s
	if refresh {
		c.upNext = upNext
	}
	c.mu.Unlock()
}
