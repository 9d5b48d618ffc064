package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/hdj/internal/track"
)

// Analyzer supplies tempo and key for a file. It never fails: anything it
// cannot determine comes back as the absent value.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (track.BPM, track.Key)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, path string) (track.BPM, track.Key)

func (f AnalyzerFunc) Analyze(ctx context.Context, path string) (track.BPM, track.Key) {
	return f(ctx, path)
}

var (
	bpmFields = []string{"TBPM", "TBP", "BPM", "tmpo", "fBPM"}
	keyFields = []string{"TKEY", "TKE", "INITIALKEY", "KEY", "initial_key"}
)

// TagAnalyzer reads tempo and key written into the file's tags by DJ software
// (ID3 TBPM/TKEY, Vorbis BPM/INITIALKEY, MP4 tmpo).
type TagAnalyzer struct{}

func (TagAnalyzer) Analyze(ctx context.Context, path string) (track.BPM, track.Key) {
	f, err := os.Open(path)
	if err != nil {
		return track.BPM{}, track.Key{}
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return track.BPM{}, track.Key{}
	}
	raw := m.Raw()

	var bpm track.BPM
	if v, ok := lookup(raw, bpmFields); ok {
		switch x := v.(type) {
		case string:
			bpm = track.ParseBPM(x)
		case int:
			bpm = track.NewBPM(float64(x))
		case float64:
			bpm = track.NewBPM(x)
		}
	}

	var key track.Key
	if v, ok := lookup(raw, keyFields); ok {
		if s, ok := v.(string); ok {
			key, _ = track.ParseKey(s)
		}
	}
	return bpm, key
}

func lookup(raw map[string]interface{}, names []string) (interface{}, bool) {
	for _, n := range names {
		for k, v := range raw {
			if strings.EqualFold(k, n) {
				return v, true
			}
		}
	}
	return nil, false
}

// Override is one entry of the overrides file.
type Override struct {
	BPM float64 `yaml:"bpm"`
	Key string  `yaml:"key"`
}

// OverrideAnalyzer answers from a hand-maintained table keyed by file name:
//
//	song1.mp3:
//	  bpm: 128
//	  key: 8A
type OverrideAnalyzer struct {
	entries map[string]overrideEntry
}

type overrideEntry struct {
	bpm track.BPM
	key track.Key
}

// NewOverrideAnalyzer validates the table. An empty key is allowed, a bad one is not.
func NewOverrideAnalyzer(table map[string]Override) (*OverrideAnalyzer, error) {
	a := &OverrideAnalyzer{entries: make(map[string]overrideEntry, len(table))}
	for name, o := range table {
		e := overrideEntry{bpm: track.NewBPM(o.BPM)}
		if o.Key != "" {
			k, err := track.ParseKey(o.Key)
			if err != nil {
				return nil, fmt.Errorf("override %s: %w", name, err)
			}
			e.key = k
		}
		a.entries[name] = e
	}
	return a, nil
}

// LoadOverrides reads a YAML overrides file.
func LoadOverrides(path string) (*OverrideAnalyzer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	var table map[string]Override
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse overrides %s: %w", path, err)
	}
	return NewOverrideAnalyzer(table)
}

func (a *OverrideAnalyzer) Analyze(_ context.Context, path string) (track.BPM, track.Key) {
	e := a.entries[filepath.Base(path)]
	return e.bpm, e.key
}

// Chain asks each analyzer in turn; per field, the first known value wins.
type Chain []Analyzer

func (c Chain) Analyze(ctx context.Context, path string) (track.BPM, track.Key) {
	var bpm track.BPM
	var key track.Key
	for _, a := range c {
		if bpm.Known() && key.Known() {
			break
		}
		b, k := a.Analyze(ctx, path)
		if !bpm.Known() {
			bpm = b
		}
		if !key.Known() {
			key = k
		}
	}
	return bpm, key
}
