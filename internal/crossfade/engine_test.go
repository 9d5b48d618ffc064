package crossfade

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/hdj/internal/audio"
	"github.com/satindergrewal/hdj/internal/audio/audiotest"
	"github.com/satindergrewal/hdj/internal/track"
)

// deck returns an engine with a 30s track playing on A and a 40s track
// loaded on B.
func deck(t *testing.T) *Engine {
	t.Helper()
	o := audiotest.NewOpener()
	o.Add("/m/a.mp3", 30*time.Second)
	o.Add("/m/b.mp3", 40*time.Second)

	a := audio.NewChannel(audio.ChannelA, o, nil)
	b := audio.NewChannel(audio.ChannelB, o, nil)
	require.NoError(t, a.Load(context.Background(), track.New("/m/a.mp3")))
	require.NoError(t, b.Load(context.Background(), track.New("/m/b.mp3")))
	a.SetGain(1)
	a.Play()

	return New(a, b, nil)
}

func TestStartFadesIn(t *testing.T) {
	e := deck(t)
	s, err := e.Start(audio.ChannelA, audio.ChannelB, 15*time.Second)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, 15*time.Second, s.Duration)
	assert.Equal(t, audio.Playing, e.Channel(audio.ChannelB).State())
	assert.Equal(t, 0.0, e.Channel(audio.ChannelB).Gain())
	assert.Equal(t, 1.0, e.Channel(audio.ChannelA).Gain())

	active, ok := e.Active()
	require.True(t, ok)
	assert.Equal(t, s.ID, active.ID)
}

func TestLinearRamp(t *testing.T) {
	e := deck(t)
	e.SetTargetVolume(audio.ChannelB, 0.8)
	_, err := e.Start(audio.ChannelA, audio.ChannelB, 10*time.Second)
	require.NoError(t, err)

	assert.False(t, e.Tick(5*time.Second))
	assert.InDelta(t, 0.5, e.Channel(audio.ChannelA).Gain(), 1e-9)
	assert.InDelta(t, 0.4, e.Channel(audio.ChannelB).Gain(), 1e-9)

	s, _ := e.Active()
	assert.InDelta(t, 0.5, s.Progress(), 1e-9)
}

func TestCompletionIndependentOfGranularity(t *testing.T) {
	for _, tc := range []struct {
		name  string
		ticks int
		delta time.Duration
	}{
		{"one big tick", 1, 15 * time.Second},
		{"audio frames", 750, 20 * time.Millisecond},
		{"uneven overshoot", 4, 4 * time.Second},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := deck(t)
			e.SetTargetVolume(audio.ChannelB, 0.7)
			_, err := e.Start(audio.ChannelA, audio.ChannelB, 15*time.Second)
			require.NoError(t, err)

			var completed int
			for i := 0; i < tc.ticks; i++ {
				if e.Tick(tc.delta) {
					completed++
				}
			}
			assert.Equal(t, 1, completed)

			a, b := e.Channel(audio.ChannelA), e.Channel(audio.ChannelB)
			assert.Equal(t, 0.0, a.Gain())
			assert.Equal(t, audio.Paused, a.State())
			assert.Equal(t, 0.7, b.Gain())
			assert.Equal(t, audio.Playing, b.State())

			_, ok := e.Active()
			assert.False(t, ok)
			assert.False(t, e.Tick(time.Second), "no session left to complete")
		})
	}
}

func TestStartWhileActive(t *testing.T) {
	e := deck(t)
	_, err := e.Start(audio.ChannelA, audio.ChannelB, 15*time.Second)
	require.NoError(t, err)

	_, err = e.Start(audio.ChannelA, audio.ChannelB, 15*time.Second)
	assert.ErrorIs(t, err, ErrCrossfadeInProgress)
	_, err = e.Start(audio.ChannelB, audio.ChannelA, 15*time.Second)
	assert.ErrorIs(t, err, ErrCrossfadeInProgress)
}

func TestStartChannelNotReady(t *testing.T) {
	e := deck(t)

	_, err := e.Start(audio.ChannelA, audio.ChannelA, 15*time.Second)
	assert.ErrorIs(t, err, ErrChannelNotReady)

	// A is playing, not loaded
	_, err = e.Start(audio.ChannelB, audio.ChannelA, 15*time.Second)
	assert.ErrorIs(t, err, ErrChannelNotReady)

	_, ok := e.Active()
	assert.False(t, ok)
}

func TestStartClipsToRemaining(t *testing.T) {
	e := deck(t)
	a := e.Channel(audio.ChannelA)
	a.Tick(22 * time.Second)

	s, err := e.Start(audio.ChannelA, audio.ChannelB, 15*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, s.Duration)
}

func TestStartClipsToIncomingLength(t *testing.T) {
	o := audiotest.NewOpener()
	o.Add("/m/a.mp3", time.Minute)
	o.Add("/m/short.mp3", 5*time.Second)

	a := audio.NewChannel(audio.ChannelA, o, nil)
	b := audio.NewChannel(audio.ChannelB, o, nil)
	require.NoError(t, a.Load(context.Background(), track.New("/m/a.mp3")))
	require.NoError(t, b.Load(context.Background(), track.New("/m/short.mp3")))
	a.SetGain(1)
	a.Play()
	e := New(a, b, nil)

	s, err := e.Start(audio.ChannelA, audio.ChannelB, 15*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, s.Duration)

	for i := 1; i <= 5; i++ {
		done := e.Tick(time.Second)
		ended := b.Tick(time.Second)
		assert.Equal(t, i == 5, done, "t=%ds", i)
		assert.Equal(t, i == 5, ended, "incoming track ends with the fade, t=%ds", i)
	}
	_, ok := e.Active()
	assert.False(t, ok)
	assert.Equal(t, 1.0, b.Gain())
}

func TestForceComplete(t *testing.T) {
	e := deck(t)
	e.ForceComplete() // nothing running

	_, err := e.Start(audio.ChannelA, audio.ChannelB, 15*time.Second)
	require.NoError(t, err)
	e.Tick(3 * time.Second)
	e.ForceComplete()

	assert.Equal(t, 0.0, e.Channel(audio.ChannelA).Gain())
	assert.Equal(t, audio.Paused, e.Channel(audio.ChannelA).State())
	assert.Equal(t, 1.0, e.Channel(audio.ChannelB).Gain())
	_, ok := e.Active()
	assert.False(t, ok)
}

func TestTargetVolumeClamps(t *testing.T) {
	e := deck(t)
	assert.Equal(t, 1.0, e.TargetVolume(audio.ChannelA))
	e.SetTargetVolume(audio.ChannelA, 2)
	assert.Equal(t, 1.0, e.TargetVolume(audio.ChannelA))
	e.SetTargetVolume(audio.ChannelB, -0.5)
	assert.Equal(t, 0.0, e.TargetVolume(audio.ChannelB))
}
