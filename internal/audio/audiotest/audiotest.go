// Package audiotest provides in-memory streams and openers for tests.
package audiotest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/satindergrewal/hdj/internal/audio"
)

// Stream is a constant-level stream of a given length.
type Stream struct {
	Length time.Duration
	Level  int16

	mu     sync.Mutex
	closed bool
}

func (s *Stream) Duration() time.Duration { return s.Length }

func (s *Stream) Frames(from, to int) []int16 {
	total := int(int64(s.Length) * audio.SampleRate / int64(time.Second))
	if to > total {
		to = total
	}
	if from < 0 {
		from = 0
	}
	if from >= to {
		return nil
	}
	out := make([]int16, (to-from)*audio.Channels)
	for i := range out {
		out[i] = s.Level
	}
	return out
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether the stream was released.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Opener serves registered paths and fails on everything else.
type Opener struct {
	mu      sync.Mutex
	tracks  map[string]time.Duration
	levels  map[string]int16
	fail    map[string]error
	opened  []string
	streams map[string]*Stream
}

// NewOpener returns an opener with no tracks.
func NewOpener() *Opener {
	return &Opener{
		tracks:  make(map[string]time.Duration),
		levels:  make(map[string]int16),
		fail:    make(map[string]error),
		streams: make(map[string]*Stream),
	}
}

// Add registers a track of length d.
func (o *Opener) Add(path string, d time.Duration) *Opener {
	return o.AddLevel(path, d, 0)
}

// AddLevel registers a track whose samples are all level.
func (o *Opener) AddLevel(path string, d time.Duration, level int16) *Opener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracks[path] = d
	o.levels[path] = level
	return o
}

// FailOn makes opening path return err.
func (o *Opener) FailOn(path string, err error) *Opener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail[path] = err
	return o
}

func (o *Opener) Open(ctx context.Context, path string) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opened = append(o.opened, path)
	if err, ok := o.fail[path]; ok {
		return nil, err
	}
	d, ok := o.tracks[path]
	if !ok {
		return nil, fmt.Errorf("%s: no such track", path)
	}
	s := &Stream{Length: d, Level: o.levels[path]}
	o.streams[path] = s
	return s, nil
}

// Opened lists every Open call in order.
func (o *Opener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

// Stream returns the last stream opened for path.
func (o *Opener) Stream(path string) *Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streams[path]
}
