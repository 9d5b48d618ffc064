// Package crossfade ramps gain between the two playback channels.
package crossfade

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satindergrewal/hdj/internal/audio"
)

var (
	// ErrCrossfadeInProgress is returned by Start while a session is running.
	ErrCrossfadeInProgress = errors.New("crossfade already in progress")
	// ErrChannelNotReady is returned by Start when the incoming channel is
	// not Loaded.
	ErrChannelNotReady = errors.New("channel not ready")
)

// Session is one running crossfade.
type Session struct {
	ID        uuid.UUID
	From      audio.ChannelID
	To        audio.ChannelID
	StartedAt time.Time
	Duration  time.Duration
	Elapsed   time.Duration
}

// Progress is the ramp position in [0, 1].
func (s Session) Progress() float64 {
	if s.Duration <= 0 || s.Elapsed >= s.Duration {
		return 1
	}
	return float64(s.Elapsed) / float64(s.Duration)
}

func (s Session) done() bool {
	return s.Elapsed >= s.Duration
}

// Engine owns channels A and B and runs at most one Session at a time. Like
// the channels, it is driven from the audio loop only.
type Engine struct {
	channels [2]*audio.Channel
	target   [2]float64
	session  *Session
	log      *zap.Logger

	now func() time.Time
}

// New creates an engine over a and b with both target volumes at 1.0.
func New(a, b *audio.Channel, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		channels: [2]*audio.Channel{a, b},
		target:   [2]float64{1, 1},
		log:      log.Named("crossfade"),
		now:      time.Now,
	}
}

// Channel returns the channel in slot id.
func (e *Engine) Channel(id audio.ChannelID) *audio.Channel {
	return e.channels[id]
}

// SetTargetVolume sets the gain a channel ends on when it is faded in.
func (e *Engine) SetTargetVolume(id audio.ChannelID, v float64) {
	switch {
	case v < 0 || v != v:
		v = 0
	case v > 1:
		v = 1
	}
	e.target[id] = v
}

// TargetVolume is the gain id reaches at the end of a fade in.
func (e *Engine) TargetVolume(id audio.ChannelID) float64 {
	return e.target[id]
}

// Active returns the running session, if any.
func (e *Engine) Active() (Session, bool) {
	if e.session == nil {
		return Session{}, false
	}
	return *e.session, true
}

// Start begins fading from into to over d. The fade never outlives either
// track: d is clipped to the length of to and, when from is playing, to the
// time from has left.
func (e *Engine) Start(from, to audio.ChannelID, d time.Duration) (Session, error) {
	if e.session != nil {
		return Session{}, ErrCrossfadeInProgress
	}
	src, dst := e.channels[from], e.channels[to]
	if from == to || dst.State() != audio.Loaded {
		return Session{}, ErrChannelNotReady
	}

	d = min(d, dst.Duration())
	if src.State() == audio.Playing {
		d = min(d, src.Remaining())
	}
	if d < 0 {
		d = 0
	}

	s := &Session{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		StartedAt: e.now(),
		Duration:  d,
	}
	e.session = s

	dst.SetGain(0)
	dst.Play()
	src.SetGain(e.target[from])

	e.log.Info("crossfade started",
		zap.Stringer("session", s.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("from_track", src.Track().Name()),
		zap.String("to_track", dst.Track().Name()),
		zap.Duration("duration", d),
	)
	return *s, nil
}

// Tick advances the running session by delta and applies the linear ramp.
// It reports whether the session completed on this tick.
func (e *Engine) Tick(delta time.Duration) bool {
	s := e.session
	if s == nil {
		return false
	}
	if delta > 0 {
		s.Elapsed += delta
	}
	if s.done() {
		e.complete()
		return true
	}

	t := s.Progress()
	e.channels[s.From].SetGain(e.target[s.From] * (1 - t))
	e.channels[s.To].SetGain(e.target[s.To] * t)
	return false
}

// ForceComplete jumps the running session to its end state. It is used when
// the outgoing track ends before the ramp does.
func (e *Engine) ForceComplete() {
	if e.session == nil {
		return
	}
	e.log.Debug("crossfade forced to completion",
		zap.Stringer("session", e.session.ID),
		zap.Duration("elapsed", e.session.Elapsed),
	)
	e.complete()
}

func (e *Engine) complete() {
	s := e.session
	e.session = nil

	src, dst := e.channels[s.From], e.channels[s.To]
	src.SetGain(0)
	src.Stop()
	dst.SetGain(e.target[s.To])

	e.log.Info("crossfade complete",
		zap.Stringer("session", s.ID),
		zap.Stringer("active", s.To),
	)
}
