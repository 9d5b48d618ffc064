// Package audio holds the PCM format, decoding, the output bus and the
// playback channels that write into it.
package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// frameAt converts a playback position to a sample frame index.
func frameAt(d time.Duration) int {
	return int(int64(d) * SampleRate / int64(time.Second))
}

// durationOf converts a sample frame count to a playback length.
func durationOf(frames int) time.Duration {
	return time.Duration(int64(frames) * int64(time.Second) / SampleRate)
}
