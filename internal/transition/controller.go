// Package transition decides when the two channels crossfade and which one
// plays next.
package transition

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/hdj/internal/audio"
	"github.com/satindergrewal/hdj/internal/crossfade"
	"github.com/satindergrewal/hdj/internal/library"
)

// ErrStarted is returned by LoadFirst on a controller that already left Idle.
var ErrStarted = errors.New("controller already started")

// State of the controller.
type State int

const (
	Idle State = iota
	SinglePlaying
	Transitioning
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SinglePlaying:
		return "single_playing"
	case Transitioning:
		return "transitioning"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Prefetcher decodes a track ahead of time. *audio.Prefetcher satisfies it.
type Prefetcher interface {
	Prefetch(ctx context.Context, path string)
}

// Options configure a Controller.
type Options struct {
	Crossfade time.Duration
	// Prefetch, when set, is asked to decode the queue head whenever a new
	// track becomes active.
	Prefetch Prefetcher
	Log      *zap.Logger
}

// Controller is the playback state machine. Tick is its only mutator and
// must be called from a single goroutine; Trigger, CancelTrigger, Pending,
// State and Snapshot are safe from anywhere.
type Controller struct {
	engine    *crossfade.Engine
	queue     library.Queue
	crossfade time.Duration
	prefetch  Prefetcher
	log       *zap.Logger

	state  State
	active audio.ChannelID
	// armed means the inactive channel holds the next track, loaded but not
	// yet fading in.
	armed   bool
	trigger chan struct{}

	mu     sync.RWMutex
	snap   Snapshot
	upNext []string
}

// New creates an Idle controller that plays queue through engine.
func New(engine *crossfade.Engine, queue library.Queue, opts Options) *Controller {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		engine:    engine,
		queue:     queue,
		crossfade: opts.Crossfade,
		prefetch:  opts.Prefetch,
		log:       log.Named("transition"),
		active:    audio.ChannelA,
		trigger:   make(chan struct{}, 1),
	}
	c.publish()
	return c
}

// LoadFirst starts the queue head on channel A. A failure leaves the
// controller Idle.
func (c *Controller) LoadFirst(ctx context.Context) error {
	if c.state != Idle {
		return ErrStarted
	}

	first, rest, err := c.queue.Advance()
	if err != nil {
		return err
	}
	c.queue = rest

	a := c.engine.Channel(audio.ChannelA)
	b := c.engine.Channel(audio.ChannelB)
	b.SetGain(0)
	b.Stop()
	c.armed = false

	if err := a.Load(ctx, first); err != nil {
		c.log.Error("first track failed to load", zap.String("track", first.Path), zap.Error(err))
		c.publish()
		return err
	}
	a.SetGain(c.engine.TargetVolume(audio.ChannelA))
	a.Play()

	c.active = audio.ChannelA
	c.state = SinglePlaying
	c.nowPlaying(ctx)
	c.publish()
	return nil
}

// Trigger asks for a transition to the next track on the next tick. Repeated
// calls before that tick collapse into one.
func (c *Controller) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// CancelTrigger withdraws a trigger that has not been consumed yet and
// reports whether there was one.
func (c *Controller) CancelTrigger() bool {
	select {
	case <-c.trigger:
		return true
	default:
		return false
	}
}

// Pending reports whether a trigger waits for the next tick.
func (c *Controller) Pending() bool {
	return len(c.trigger) > 0
}

// State returns the state as of the last tick.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.State
}

// Tick advances the controller by delta. Errors are per-track load failures;
// the current track keeps playing through them.
func (c *Controller) Tick(ctx context.Context, delta time.Duration) error {
	if c.state == Stopped || c.state == Idle {
		c.CancelTrigger()
		c.publish()
		return nil
	}

	var errs []error

	select {
	case <-c.trigger:
		if c.state != SinglePlaying {
			c.log.Debug("trigger dropped", zap.Stringer("state", c.state))
			break
		}
		if !c.armed && c.queue.Len() == 0 {
			c.log.Info("no next track, trigger ignored")
			break
		}
		if err := c.startNext(ctx, "manual", c.crossfade); err != nil {
			errs = append(errs, err)
		}
	default:
	}

	if c.engine.Tick(delta) {
		c.completed(ctx)
	}

	out, in := c.engine.Channel(c.active), c.engine.Channel(c.active.Other())
	outEnded := out.Tick(delta)
	inEnded := in.Tick(delta)
	if c.state == Transitioning && (outEnded || inEnded) {
		c.engine.ForceComplete()
		c.completed(ctx)
	}

	if c.state == SinglePlaying && c.engine.Channel(c.active).State() == audio.Finished {
		errs = append(errs, c.cut(ctx))
	}

	if c.state == SinglePlaying {
		if err := c.nearEnd(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.publish()
	return errors.Join(errs...)
}

// nearEnd starts the automatic transition. The next track is loaded once the
// active one is within the crossfade of its end; the fade begins when the
// active track has no more left than the fade will last, so a next track
// shorter than the crossfade waits instead of cutting the current one short.
func (c *Controller) nearEnd(ctx context.Context) error {
	cur := c.engine.Channel(c.active)
	if cur.State() != audio.Playing || cur.Remaining() > c.crossfade {
		return nil
	}
	ok, err := c.preload(ctx, "auto")
	if !ok {
		return err
	}
	lead := min(c.crossfade, c.engine.Channel(c.active.Other()).Duration())
	if cur.Remaining() > lead {
		return nil
	}
	return c.startNext(ctx, "auto", c.crossfade)
}

// preload pops the queue head into the inactive channel unless a track is
// already waiting there. It reports whether one is.
func (c *Controller) preload(ctx context.Context, reason string) (bool, error) {
	if c.armed {
		return true, nil
	}
	next, rest, err := c.queue.Advance()
	if err != nil {
		return false, nil
	}
	c.queue = rest

	if err := c.engine.Channel(c.active.Other()).Load(ctx, next); err != nil {
		c.log.Warn("skipping track",
			zap.String("track", next.Path),
			zap.String("reason", reason),
			zap.Error(err),
		)
		c.prefetchHead(ctx)
		return false, err
	}
	c.armed = true
	return true, nil
}

// startNext starts a crossfade of length d into the next track, loading it
// first if needed.
func (c *Controller) startNext(ctx context.Context, reason string, d time.Duration) error {
	ok, err := c.preload(ctx, reason)
	if !ok {
		return err
	}
	c.armed = false

	to := c.active.Other()
	next := c.engine.Channel(to).Track()
	s, err := c.engine.Start(c.active, to, d)
	if err != nil {
		c.log.DPanic("crossfade rejected",
			zap.Stringer("from", c.active),
			zap.Stringer("to", to),
			zap.Error(err),
		)
		return nil
	}

	c.state = Transitioning
	c.log.Info("transition started",
		zap.String("reason", reason),
		zap.Stringer("session", s.ID),
		zap.String("track", next.Name()),
		zap.Duration("duration", s.Duration),
	)
	return nil
}

// cut replaces a finished active track with the next loadable one, without a
// fade. With nothing left to load the controller stops.
func (c *Controller) cut(ctx context.Context) error {
	var errs []error
	for c.armed || c.queue.Len() > 0 {
		err := c.startNext(ctx, "cut", 0)
		if c.state == Transitioning {
			// a zero-length fade is complete as soon as it is ticked
			if c.engine.Tick(0) {
				c.completed(ctx)
			}
			return errors.Join(errs...)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	c.state = Stopped
	c.engine.Channel(c.active).Stop()
	c.log.Info("queue exhausted, playback stopped")
	return errors.Join(errs...)
}

func (c *Controller) completed(ctx context.Context) {
	c.active = c.active.Other()
	c.state = SinglePlaying
	c.nowPlaying(ctx)
}

func (c *Controller) nowPlaying(ctx context.Context) {
	ch := c.engine.Channel(c.active)
	t := ch.Track()
	c.log.Info("now playing",
		zap.String("track", t.Name()),
		zap.Stringer("channel", c.active),
		zap.Stringer("bpm", t.BPM()),
		zap.Stringer("key", t.Key()),
		zap.Duration("duration", ch.Duration()),
	)
	c.prefetchHead(ctx)
}

func (c *Controller) prefetchHead(ctx context.Context) {
	if c.prefetch == nil {
		return
	}
	if head, ok := c.queue.Peek(); ok {
		c.prefetch.Prefetch(ctx, head.Path)
	}
}
