package transition

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/satindergrewal/hdj/internal/audio"
	"github.com/satindergrewal/hdj/internal/audio/audiotest"
	"github.com/satindergrewal/hdj/internal/crossfade"
	"github.com/satindergrewal/hdj/internal/library"
	"github.com/satindergrewal/hdj/internal/track"
)

type entry struct {
	path   string
	bpm    float64
	length time.Duration
	broken bool
}

type fixture struct {
	opener *audiotest.Opener
	engine *crossfade.Engine
	ctrl   *Controller
	bus    *audio.Bus
}

func setup(t *testing.T, cf time.Duration, log *zap.Logger, entries ...entry) *fixture {
	t.Helper()
	o := audiotest.NewOpener()
	var tracks []track.Metadata
	for _, e := range entries {
		if e.broken {
			o.FailOn(e.path, errors.New("unsupported codec"))
		} else {
			o.AddLevel(e.path, e.length, 1000)
		}
		m, err := track.New(e.path).WithAnalysis(track.NewBPM(e.bpm), track.Key{})
		require.NoError(t, err)
		tracks = append(tracks, m)
	}
	q, err := library.Build(tracks)
	require.NoError(t, err)

	bus := audio.NewBus(audio.FrameSamples)
	a := audio.NewChannel(audio.ChannelA, o, bus)
	b := audio.NewChannel(audio.ChannelB, o, bus)
	engine := crossfade.New(a, b, log)
	return &fixture{
		opener: o,
		engine: engine,
		ctrl:   New(engine, q, Options{Crossfade: cf, Log: log}),
		bus:    bus,
	}
}

func (f *fixture) channel(id audio.ChannelID) *audio.Channel {
	return f.engine.Channel(id)
}

func TestScenarioAutoTransition(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 15*time.Second, nil,
		entry{path: "/m/a.mp3", bpm: 120, length: 30 * time.Second},
		entry{path: "/m/b.mp3", bpm: 128, length: 40 * time.Second},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))
	assert.Equal(t, SinglePlaying, f.ctrl.State())

	for sec := 1; sec <= 30; sec++ {
		require.NoError(t, f.ctrl.Tick(ctx, time.Second))
		switch {
		case sec < 15:
			assert.Equal(t, SinglePlaying, f.ctrl.State(), "t=%ds", sec)
		case sec < 30:
			assert.Equal(t, Transitioning, f.ctrl.State(), "t=%ds", sec)
		}
	}

	snap := f.ctrl.Snapshot()
	assert.Equal(t, SinglePlaying, snap.State)
	assert.Equal(t, audio.ChannelB, snap.Active)
	assert.Equal(t, "b", snap.ActiveTrack)
	assert.Equal(t, "128", snap.BPM)
	assert.Equal(t, 0.0, f.channel(audio.ChannelA).Gain())
	assert.Equal(t, audio.Paused, f.channel(audio.ChannelA).State())
	assert.Equal(t, 1.0, f.channel(audio.ChannelB).Gain())

	// B runs out 40s after it started at t=15 and nothing follows it
	for sec := 31; sec < 55; sec++ {
		require.NoError(t, f.ctrl.Tick(ctx, time.Second))
	}
	assert.Equal(t, SinglePlaying, f.ctrl.State())
	require.NoError(t, f.ctrl.Tick(ctx, time.Second))
	assert.Equal(t, Stopped, f.ctrl.State())

	require.NoError(t, f.ctrl.Tick(ctx, time.Second), "ticking a stopped controller is harmless")
	assert.Equal(t, Stopped, f.ctrl.State())
}

func TestCrossfadeEndsBeforeOutgoingTrack(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)

	rng := rand.New(rand.NewPCG(3, 9))
	var entries []entry
	for i := 0; i < 8; i++ {
		entries = append(entries, entry{
			path:   "/m/" + string(rune('a'+i)) + ".mp3",
			bpm:    float64(100 + i),
			length: 15*time.Second + time.Duration(rng.IntN(450))*100*time.Millisecond,
		})
	}
	f := setup(t, 15*time.Second, zap.New(core), entries...)
	require.NoError(t, f.ctrl.LoadFirst(ctx))

	sessions := make(map[string]bool)
	for i := 0; i < 20000 && f.ctrl.State() != Stopped; i++ {
		require.NoError(t, f.ctrl.Tick(ctx, 100*time.Millisecond))
		if s, ok := f.engine.Active(); ok {
			from := f.channel(s.From)
			assert.LessOrEqual(t, s.Duration-s.Elapsed, from.Remaining())
			assert.LessOrEqual(t, s.Duration, 15*time.Second)
			sessions[s.ID.String()] = true
		}
	}

	assert.Equal(t, Stopped, f.ctrl.State())
	assert.Len(t, sessions, len(entries)-1)
	assert.Len(t, f.opener.Opened(), len(entries))
	assert.Zero(t, logs.FilterMessage("crossfade forced to completion").Len(),
		"every fade should finish on its own before the outgoing track ends")
}

func TestShortTracksStillPlayThrough(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 15*time.Second, nil,
		entry{path: "/m/a.mp3", bpm: 100, length: 5 * time.Second},
		entry{path: "/m/b.mp3", bpm: 110, length: 8 * time.Second},
		entry{path: "/m/c.mp3", bpm: 120, length: 3 * time.Second},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))

	for i := 0; i < 1000 && f.ctrl.State() != Stopped; i++ {
		require.NoError(t, f.ctrl.Tick(ctx, 100*time.Millisecond))
		if s, ok := f.engine.Active(); ok {
			assert.LessOrEqual(t, s.Duration-s.Elapsed, f.channel(s.From).Remaining())
		}
	}
	assert.Equal(t, Stopped, f.ctrl.State())
	assert.Equal(t, []string{"/m/a.mp3", "/m/b.mp3", "/m/c.mp3"}, f.opener.Opened())
}

func TestShortIncomingTrackWaitsForLeadTime(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)
	f := setup(t, 15*time.Second, zap.New(core),
		entry{path: "/m/a.mp3", bpm: 120, length: 30 * time.Second},
		entry{path: "/m/b.mp3", bpm: 124, length: 5 * time.Second},
		entry{path: "/m/c.mp3", bpm: 128, length: time.Minute},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))
	a := f.channel(audio.ChannelA)

	var fades []time.Duration
	for i := 1; i <= 30; i++ {
		require.NoError(t, f.ctrl.Tick(ctx, time.Second))

		if s, ok := f.engine.Active(); ok && s.Elapsed == 0 {
			fades = append(fades, s.Duration)
			assert.Equal(t, 25, i, "fade starts as late as b needs")
		}
		if i < 30 {
			assert.Equal(t, "/m/a.mp3", a.Track().Path, "t=%ds", i)
			assert.Equal(t, audio.Playing, a.State(), "a keeps playing at t=%ds", i)
		}
		if i == 29 {
			assert.Equal(t, time.Second, a.Remaining())
			assert.InDelta(t, 0.2, a.Gain(), 1e-9)
		}
		if i == 15 {
			assert.Equal(t, SinglePlaying, f.ctrl.State())
			assert.Equal(t, "b", f.ctrl.Snapshot().UpNext, "b waits on channel B")
			assert.Equal(t, audio.Loaded, f.channel(audio.ChannelB).State())
		}
	}

	assert.Equal(t, []time.Duration{5 * time.Second}, fades)
	assert.Equal(t, SinglePlaying, f.ctrl.State())
	assert.Equal(t, "c", f.ctrl.Snapshot().ActiveTrack, "b ends with the fade and cuts to c")
	assert.Equal(t, 1.0, a.Gain())

	for i := 0; i < 100 && f.ctrl.State() != Stopped; i++ {
		require.NoError(t, f.ctrl.Tick(ctx, time.Second))
	}
	assert.Equal(t, Stopped, f.ctrl.State())
	assert.Equal(t, []string{"/m/a.mp3", "/m/b.mp3", "/m/c.mp3"}, f.opener.Opened())
	assert.Zero(t, logs.FilterMessage("crossfade forced to completion").Len())
}

func TestManualTriggerQueuedUntilTick(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 15*time.Second, nil,
		entry{path: "/m/a.mp3", bpm: 120, length: 60 * time.Second},
		entry{path: "/m/b.mp3", bpm: 124, length: 60 * time.Second},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))

	f.ctrl.Trigger()
	f.ctrl.Trigger()
	assert.True(t, f.ctrl.Pending())
	assert.Equal(t, audio.Empty, f.channel(audio.ChannelB).State(), "nothing happens before the tick")

	require.NoError(t, f.ctrl.Tick(ctx, time.Second))
	assert.False(t, f.ctrl.Pending())
	assert.Equal(t, Transitioning, f.ctrl.State())
	assert.Equal(t, audio.Playing, f.channel(audio.ChannelB).State())

	first, ok := f.engine.Active()
	require.True(t, ok)
	assert.Equal(t, 15*time.Second, first.Duration)

	// a trigger during the fade is dropped
	f.ctrl.Trigger()
	require.NoError(t, f.ctrl.Tick(ctx, time.Second))
	assert.False(t, f.ctrl.Pending())
	s, ok := f.engine.Active()
	require.True(t, ok)
	assert.Equal(t, first.ID, s.ID)

	for i := 0; i < 14; i++ {
		require.NoError(t, f.ctrl.Tick(ctx, time.Second))
	}
	assert.Equal(t, SinglePlaying, f.ctrl.State())
	assert.Equal(t, audio.ChannelB, f.ctrl.Snapshot().Active)
}

func TestCancelTrigger(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 15*time.Second, nil,
		entry{path: "/m/a.mp3", bpm: 120, length: 60 * time.Second},
		entry{path: "/m/b.mp3", bpm: 124, length: 60 * time.Second},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))

	assert.False(t, f.ctrl.CancelTrigger())
	f.ctrl.Trigger()
	assert.True(t, f.ctrl.CancelTrigger())
	assert.False(t, f.ctrl.Pending())

	require.NoError(t, f.ctrl.Tick(ctx, time.Second))
	assert.Equal(t, SinglePlaying, f.ctrl.State())
	assert.Equal(t, audio.Empty, f.channel(audio.ChannelB).State())
}

func TestManualTriggerSingleTrackIsNoop(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 15*time.Second, nil,
		entry{path: "/m/only.mp3", bpm: 120, length: 60 * time.Second},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))
	require.NoError(t, f.ctrl.Tick(ctx, 10*time.Second))

	f.ctrl.Trigger()
	require.NoError(t, f.ctrl.Tick(ctx, time.Second))

	a := f.channel(audio.ChannelA)
	assert.Equal(t, SinglePlaying, f.ctrl.State())
	assert.Equal(t, 1.0, a.Gain())
	assert.Equal(t, audio.Playing, a.State())
	assert.Equal(t, 11*time.Second, a.Position())
	assert.Equal(t, audio.Empty, f.channel(audio.ChannelB).State())
}

func TestDecodeErrorOnManualPreload(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 15*time.Second, nil,
		entry{path: "/m/a.mp3", bpm: 120, length: 60 * time.Second},
		entry{path: "/m/bad.mp3", bpm: 124, broken: true},
		entry{path: "/m/c.mp3", bpm: 128, length: 60 * time.Second},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))
	require.NoError(t, f.ctrl.Tick(ctx, 5*time.Second))

	a := f.channel(audio.ChannelA)
	gain, pos := a.Gain(), a.Position()

	f.ctrl.Trigger()
	err := f.ctrl.Tick(ctx, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, audio.ErrDecode)

	var de *audio.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "/m/bad.mp3", de.Path)

	assert.Equal(t, SinglePlaying, f.ctrl.State())
	assert.Equal(t, gain, a.Gain())
	assert.Equal(t, pos, a.Position())
	assert.Equal(t, audio.Playing, a.State())
	assert.Equal(t, "c", f.ctrl.Snapshot().UpNext, "broken track is skipped")

	f.ctrl.Trigger()
	require.NoError(t, f.ctrl.Tick(ctx, 0))
	assert.Equal(t, Transitioning, f.ctrl.State())
	assert.Equal(t, "/m/c.mp3", f.channel(audio.ChannelB).Track().Path)
}

func TestDecodeErrorNearEndRetriesNextTrack(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 15*time.Second, nil,
		entry{path: "/m/a.mp3", bpm: 120, length: 20 * time.Second},
		entry{path: "/m/bad.mp3", bpm: 124, broken: true},
		entry{path: "/m/c.mp3", bpm: 128, length: 30 * time.Second},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))

	err := f.ctrl.Tick(ctx, 5*time.Second)
	assert.ErrorIs(t, err, audio.ErrDecode)
	assert.Equal(t, SinglePlaying, f.ctrl.State())

	require.NoError(t, f.ctrl.Tick(ctx, time.Second))
	assert.Equal(t, Transitioning, f.ctrl.State())
	s, ok := f.engine.Active()
	require.True(t, ok)
	assert.Equal(t, 14*time.Second, s.Duration, "clipped to what is left of a")
}

func TestEndOfTrackWithFailedPreloadsCutsToNext(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 0, nil,
		entry{path: "/m/a.mp3", bpm: 120, length: 2 * time.Second},
		entry{path: "/m/bad.mp3", bpm: 124, broken: true},
		entry{path: "/m/c.mp3", bpm: 128, length: 2 * time.Second},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))

	err := f.ctrl.Tick(ctx, 2*time.Second)
	assert.ErrorIs(t, err, audio.ErrDecode)
	assert.Equal(t, SinglePlaying, f.ctrl.State())
	assert.Equal(t, "c", f.ctrl.Snapshot().ActiveTrack)
	assert.Equal(t, 1.0, f.channel(audio.ChannelB).Gain())
	assert.Equal(t, 0.0, f.channel(audio.ChannelA).Gain())

	require.NoError(t, f.ctrl.Tick(ctx, 2*time.Second))
	assert.Equal(t, Stopped, f.ctrl.State())
}

func TestLoadFirst(t *testing.T) {
	ctx := context.Background()

	f := setup(t, 15*time.Second, nil, entry{path: "/m/bad.mp3", bpm: 120, broken: true})
	assert.ErrorIs(t, f.ctrl.LoadFirst(ctx), audio.ErrDecode)
	assert.Equal(t, Idle, f.ctrl.State())

	f.ctrl.Trigger()
	require.NoError(t, f.ctrl.Tick(ctx, time.Second))
	assert.Equal(t, Idle, f.ctrl.State())
	assert.False(t, f.ctrl.Pending(), "trigger before the first track is dropped")

	f = setup(t, 15*time.Second, nil, entry{path: "/m/a.mp3", bpm: 120, length: time.Minute})
	require.NoError(t, f.ctrl.LoadFirst(ctx))
	assert.ErrorIs(t, f.ctrl.LoadFirst(ctx), ErrStarted)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, "a", snap.ActiveTrack)
	assert.Equal(t, time.Minute, snap.Duration)
	assert.Equal(t, 1.0, snap.ChannelAGain)
	assert.Equal(t, 0.0, snap.ChannelBGain)
}

func TestSnapshotDuringTransition(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10*time.Second, nil,
		entry{path: "/m/a.mp3", bpm: 120, length: time.Minute},
		entry{path: "/m/b.mp3", bpm: 122, length: time.Minute},
		entry{path: "/m/c.mp3", bpm: 124, length: time.Minute},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))
	assert.Equal(t, []string{"b", "c"}, f.ctrl.UpNext())

	f.ctrl.Trigger()
	require.NoError(t, f.ctrl.Tick(ctx, 0))
	require.NoError(t, f.ctrl.Tick(ctx, 5*time.Second))

	snap := f.ctrl.Snapshot()
	assert.Equal(t, Transitioning, snap.State)
	assert.Equal(t, "a", snap.ActiveTrack)
	assert.InDelta(t, 0.5, snap.Crossfade, 1e-9)
	assert.InDelta(t, 0.5, snap.ChannelAGain, 1e-9)
	assert.InDelta(t, 0.5, snap.ChannelBGain, 1e-9)
	assert.Equal(t, "c", snap.UpNext)
	assert.Equal(t, 1, snap.Queued)
	assert.Equal(t, []string{"c"}, f.ctrl.UpNext())
}

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) Prefetch(_ context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func TestPrefetchesQueueHead(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 5*time.Second, nil,
		entry{path: "/m/a.mp3", bpm: 120, length: 10 * time.Second},
		entry{path: "/m/b.mp3", bpm: 122, length: 10 * time.Second},
		entry{path: "/m/c.mp3", bpm: 124, length: 10 * time.Second},
	)
	rec := &recorder{}
	f.ctrl.prefetch = rec

	require.NoError(t, f.ctrl.LoadFirst(ctx))
	assert.Equal(t, []string{"/m/b.mp3"}, rec.paths)

	for i := 0; i < 10; i++ {
		require.NoError(t, f.ctrl.Tick(ctx, time.Second))
	}
	assert.Equal(t, []string{"/m/b.mp3", "/m/c.mp3"}, rec.paths)
}

// contractBreak starts a fade behind the controller's back so that its own
// Start is rejected.
func contractBreak(t *testing.T, log *zap.Logger) *fixture {
	t.Helper()
	ctx := context.Background()
	f := setup(t, 15*time.Second, log,
		entry{path: "/m/a.mp3", bpm: 120, length: time.Minute},
		entry{path: "/m/b.mp3", bpm: 122, length: time.Minute},
	)
	require.NoError(t, f.ctrl.LoadFirst(ctx))
	require.NoError(t, f.channel(audio.ChannelB).Load(ctx, track.New("/m/b.mp3")))
	_, err := f.engine.Start(audio.ChannelA, audio.ChannelB, 15*time.Second)
	require.NoError(t, err)
	f.ctrl.Trigger()
	return f
}

func TestContractViolationLoggedInRelease(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := contractBreak(t, zap.New(core))

	assert.NotPanics(t, func() {
		assert.NoError(t, f.ctrl.Tick(context.Background(), 0))
	})
	entries := logs.FilterMessage("crossfade rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.DPanicLevel, entries[0].Level)
}

func TestContractViolationPanicsInDevelopment(t *testing.T) {
	core, _ := observer.New(zap.DebugLevel)
	f := contractBreak(t, zap.New(core, zap.Development()))

	assert.Panics(t, func() {
		_ = f.ctrl.Tick(context.Background(), 0)
	})
}
