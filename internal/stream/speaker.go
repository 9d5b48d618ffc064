package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/hajimehoshi/oto/v2"
	"go.uber.org/zap"

	"github.com/satindergrewal/hdj/internal/audio"
)

// Speaker plays the broadcast through the local sound card.
type Speaker struct {
	frames *Broadcaster[[]int16]
	log    *zap.Logger
}

// NewSpeaker creates a speaker sink fed by frames.
func NewSpeaker(frames *Broadcaster[[]int16], log *zap.Logger) *Speaker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Speaker{frames: frames, log: log.Named("speaker")}
}

// Run opens the audio device and plays frames until ctx is cancelled.
func (s *Speaker) Run(ctx context.Context) error {
	otoCtx, ready, err := oto.NewContext(audio.SampleRate, audio.Channels, oto.FormatSignedInt16LE)
	if err != nil {
		return fmt.Errorf("open audio device: %w", err)
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}

	listener := s.frames.Subscribe()
	defer s.frames.Unsubscribe(listener)

	pr, pw := io.Pipe()
	player := otoCtx.NewPlayer(pr)
	defer player.Close()
	player.Play()
	s.log.Info("speaker output started")

	errCh := make(chan error, 1)
	go func() {
		errCh <- pump(ctx, listener, pw)
	}()

	select {
	case <-ctx.Done():
		pw.Close()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// pump writes frames into w as little-endian PCM until ctx is cancelled, the
// listener is dropped or the reader side goes away.
func pump(ctx context.Context, l *Listener[[]int16], w *io.PipeWriter) error {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.Done():
			return nil
		case frame := <-l.C:
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				if err == io.ErrClosedPipe {
					return nil
				}
				return fmt.Errorf("write to speaker: %w", err)
			}
		}
	}
}
