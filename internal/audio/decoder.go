package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// ErrDecode matches every *DecodeError through errors.Is.
var ErrDecode = errors.New("decode failed")

// DecodeError means a track could not be opened. It is terminal for that
// track; callers skip it rather than retry.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Stream is an opened, decoded track.
type Stream interface {
	Duration() time.Duration
	// Frames returns the interleaved samples of sample frames [from, to),
	// clipped to the stream length.
	Frames(from, to int) []int16
	Close() error
}

// Opener opens tracks for playback.
type Opener interface {
	Open(ctx context.Context, path string) (Stream, error)
}

// PCM is a fully decoded track: interleaved stereo int16 at SampleRate.
type PCM struct {
	samples []int16
}

// NewPCM wraps interleaved samples.
func NewPCM(samples []int16) *PCM {
	return &PCM{samples: samples}
}

func (p *PCM) Duration() time.Duration {
	return durationOf(len(p.samples) / Channels)
}

func (p *PCM) Frames(from, to int) []int16 {
	total := len(p.samples) / Channels
	if from < 0 {
		from = 0
	}
	if to > total {
		to = total
	}
	if from >= to {
		return nil
	}
	return p.samples[from*Channels : to*Channels]
}

func (p *PCM) Close() error {
	p.samples = nil
	return nil
}

// Decoder opens files into PCM: 48kHz/16-bit/stereo WAV natively, everything
// else through FFmpeg.
type Decoder struct {
	FFmpegPath string
}

// NewDecoder creates a decoder using the given ffmpeg binary.
func NewDecoder(ffmpegPath string) *Decoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Decoder{FFmpegPath: ffmpegPath}
}

func (d *Decoder) Open(ctx context.Context, path string) (Stream, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		samples, ok, err := decodeWAV(path)
		if err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
		if ok {
			return d.checked(path, samples)
		}
	}

	samples, err := DecodeFile(ctx, d.FFmpegPath, path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return d.checked(path, samples)
}

func (d *Decoder) checked(path string, samples []int16) (Stream, error) {
	if len(samples) < Channels {
		return nil, &DecodeError{Path: path, Err: errors.New("no audio")}
	}
	return NewPCM(samples), nil
}

// decodeWAV reads a WAV file that is already in the output format. ok is
// false when the file needs resampling or is not a WAV at all.
func decodeWAV(path string) (samples []int16, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, false, nil
	}
	if dec.SampleRate != SampleRate || dec.NumChans != Channels || dec.BitDepth != BitDepth {
		return nil, false, nil
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, true, fmt.Errorf("read wav %s: %w", path, err)
	}
	samples = make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, true, nil
}

// DecodeFile runs FFmpeg to decode an audio file to raw PCM int16 samples.
// Returns interleaved stereo samples at 48kHz.
func DecodeFile(ctx context.Context, ffmpegPath, path string) ([]int16, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}

	return samples, nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
