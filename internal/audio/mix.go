package audio

// Mixer receives gain-scaled samples from playing channels.
type Mixer interface {
	Add(samples []int16, gain float64)
}

// Bus sums the output of both channels for one frame and clips the result
// to int16. It is owned by the audio loop.
type Bus struct {
	acc []float64
}

// NewBus creates a bus holding n interleaved samples.
func NewBus(n int) *Bus {
	return &Bus{acc: make([]float64, n)}
}

// Add mixes samples into the bus starting at the beginning of the frame.
// Samples beyond the bus size are dropped; missing ones stay silent.
func (b *Bus) Add(samples []int16, gain float64) {
	n := len(samples)
	if n > len(b.acc) {
		n = len(b.acc)
	}
	for i := 0; i < n; i++ {
		b.acc[i] += float64(samples[i]) * gain
	}
}

// Frame returns the mixed frame.
func (b *Bus) Frame() []int16 {
	result := make([]int16, len(b.acc))
	for i, mixed := range b.acc {
		// Clip to int16 range
		if mixed > 32767 {
			mixed = 32767
		} else if mixed < -32768 {
			mixed = -32768
		}
		result[i] = int16(mixed)
	}
	return result
}

// Reset silences the bus for the next frame.
func (b *Bus) Reset() {
	clear(b.acc)
}
