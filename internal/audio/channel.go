package audio

import (
	"context"
	"errors"
	"time"

	"github.com/satindergrewal/hdj/internal/track"
)

// ChannelID names one of the two playback slots.
type ChannelID int

const (
	ChannelA ChannelID = iota
	ChannelB
)

func (id ChannelID) String() string {
	if id == ChannelB {
		return "B"
	}
	return "A"
}

func (id ChannelID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// Other returns the opposite slot.
func (id ChannelID) Other() ChannelID {
	if id == ChannelA {
		return ChannelB
	}
	return ChannelA
}

// State is the playback state of a channel.
type State int

const (
	Empty State = iota
	Loaded
	Playing
	Paused
	Finished // reached the end; terminal until the next Load
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loaded:
		return "loaded"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Channel plays one track at an independent gain. It is the only writer to
// the output bus. A Channel is not safe for concurrent use; the audio loop
// owns it.
type Channel struct {
	id     ChannelID
	opener Opener
	out    Mixer

	track    track.Metadata
	stream   Stream
	state    State
	gain     float64
	position time.Duration
}

// NewChannel creates an empty channel. out may be nil, in which case nothing
// is rendered.
func NewChannel(id ChannelID, opener Opener, out Mixer) *Channel {
	return &Channel{id: id, opener: opener, out: out}
}

func (c *Channel) ID() ChannelID { return c.id }
func (c *Channel) State() State { return c.state }
func (c *Channel) Gain() float64 { return c.gain }
func (c *Channel) Position() time.Duration { return c.position }
func (c *Channel) Track() track.Metadata { return c.track }
func (c *Channel) Duration() time.Duration { return c.track.Duration }

// Remaining is the time left before end of track.
func (c *Channel) Remaining() time.Duration {
	if c.stream == nil {
		return 0
	}
	return c.track.Duration - c.position
}

// Load opens t, replacing whatever the channel held. Position and gain go to
// zero. A failure leaves the channel Empty and is returned as *DecodeError.
func (c *Channel) Load(ctx context.Context, t track.Metadata) error {
	c.release()
	c.track = track.Metadata{}
	c.state = Empty
	c.position = 0
	c.gain = 0

	s, err := c.opener.Open(ctx, t.Path)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			err = &DecodeError{Path: t.Path, Err: err}
		}
		return err
	}

	c.stream = s
	c.track = t.WithDuration(s.Duration())
	c.state = Loaded
	return nil
}

// Play starts or resumes playback. It does nothing without a resource.
func (c *Channel) Play() {
	if c.stream == nil {
		return
	}
	if c.state == Loaded || c.state == Paused {
		c.state = Playing
	}
}

// Pause holds the current position.
func (c *Channel) Pause() {
	if c.state == Playing {
		c.state = Paused
	}
}

// Stop pauses the channel and releases its resource. The track stays
// visible for display until the next Load.
func (c *Channel) Stop() {
	if c.state == Empty {
		return
	}
	c.release()
	c.state = Paused
}

// SetGain sets the output gain, clamped to [0, 1].
func (c *Channel) SetGain(g float64) {
	switch {
	case g < 0 || g != g:
		g = 0
	case g > 1:
		g = 1
	}
	c.gain = g
}

// Tick advances playback by delta and renders the covered samples. It
// returns true exactly once per load, when the end of the track is reached.
func (c *Channel) Tick(delta time.Duration) bool {
	if c.state != Playing || delta < 0 {
		return false
	}

	next := c.position + delta
	if next > c.track.Duration {
		next = c.track.Duration
	}
	if c.out != nil && c.gain > 0 {
		if samples := c.stream.Frames(frameAt(c.position), frameAt(next)); len(samples) > 0 {
			c.out.Add(samples, c.gain)
		}
	}
	c.position = next

	if c.position >= c.track.Duration {
		c.state = Finished
		return true
	}
	return false
}

func (c *Channel) release() {
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
}
