// Package track holds per-file metadata: tempo, Camelot key and duration.
package track

import (
	"errors"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrAlreadyAnalyzed is returned when analysis results would overwrite existing ones.
var ErrAlreadyAnalyzed = errors.New("track already analyzed")

// BPM is an optional tempo. The zero value means "not analyzed".
type BPM struct {
	value float64
}

// NewBPM returns a known tempo, or the absent value if v is not a positive finite number.
func NewBPM(v float64) BPM {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return BPM{}
	}
	return BPM{value: v}
}

// ParseBPM reads tag values such as "128", "127.98" or "128 BPM".
func ParseBPM(s string) BPM {
	s = strings.TrimSpace(strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "BPM"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return BPM{}
	}
	return NewBPM(v)
}

// Value returns the tempo and whether it is known.
func (b BPM) Value() (float64, bool) {
	return b.value, b.value > 0
}

// Known reports whether the tempo was assigned.
func (b BPM) Known() bool {
	return b.value > 0
}

func (b BPM) String() string {
	if !b.Known() {
		return ""
	}
	return strconv.FormatFloat(b.value, 'f', -1, 64)
}

// Metadata describes one playable file. Tempo and key can be assigned once,
// through WithAnalysis, and never change afterwards.
type Metadata struct {
	Path     string
	Duration time.Duration // zero until the resource has been opened

	bpm BPM
	key Key
}

// New returns unanalyzed metadata for path.
func New(path string) Metadata {
	return Metadata{Path: path}
}

// BPM returns the analyzed tempo.
func (m Metadata) BPM() BPM { return m.bpm }

// Key returns the analyzed Camelot key.
func (m Metadata) Key() Key { return m.key }

// WithAnalysis returns a copy carrying the analyzer output. Absent values are
// allowed; overwriting a value that is already present is not.
func (m Metadata) WithAnalysis(bpm BPM, key Key) (Metadata, error) {
	if (bpm.Known() && m.bpm.Known()) || (key.Known() && m.key.Known()) {
		return m, ErrAlreadyAnalyzed
	}
	if bpm.Known() {
		m.bpm = bpm
	}
	if key.Known() {
		m.key = key
	}
	return m, nil
}

// WithDuration returns a copy with the decoded length filled in.
func (m Metadata) WithDuration(d time.Duration) Metadata {
	m.Duration = d
	return m
}

// Name is the display name: the file name without directory or extension.
func (m Metadata) Name() string {
	if m.Path == "" {
		return ""
	}
	base := filepath.Base(m.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
