// Package library turns a folder of audio files into an ordered play queue.
package library

import (
	"errors"
	"sort"

	"github.com/satindergrewal/hdj/internal/track"
)

var (
	// ErrEmptyLibrary means there is nothing to play; the engine must not be started.
	ErrEmptyLibrary = errors.New("library is empty")
	// ErrQueueExhausted is the normal end of a session, not a failure.
	ErrQueueExhausted = errors.New("queue exhausted")
)

// Queue is an advance-only play order. It is a value: Advance returns the
// remaining queue and never modifies the receiver.
type Queue struct {
	tracks []track.Metadata
}

// Len returns the number of tracks left.
func (q Queue) Len() int {
	return len(q.tracks)
}

// Peek returns the head without consuming it.
func (q Queue) Peek() (track.Metadata, bool) {
	if len(q.tracks) == 0 {
		return track.Metadata{}, false
	}
	return q.tracks[0], true
}

// Advance pops the head of the queue.
func (q Queue) Advance() (track.Metadata, Queue, error) {
	if len(q.tracks) == 0 {
		return track.Metadata{}, q, ErrQueueExhausted
	}
	return q.tracks[0], Queue{tracks: q.tracks[1:]}, nil
}

// Tracks returns a copy of the remaining order.
func (q Queue) Tracks() []track.Metadata {
	out := make([]track.Metadata, len(q.tracks))
	copy(out, q.tracks)
	return out
}

// Build orders tracks into a play queue.
//
// Order: BPM ascending, tracks without BPM last as one block. Runs of equal
// BPM (and the no-BPM block) are chained by Camelot distance starting from
// the key of the previously placed track; tracks without key close the run.
// Remaining ties go by path. Duplicate paths keep the first occurrence.
// The result depends only on the set of tracks, not on input order.
func Build(tracks []track.Metadata) (Queue, error) {
	if len(tracks) == 0 {
		return Queue{}, ErrEmptyLibrary
	}

	seen := make(map[string]bool, len(tracks))
	unique := make([]track.Metadata, 0, len(tracks))
	for _, t := range tracks {
		if seen[t.Path] {
			continue
		}
		seen[t.Path] = true
		unique = append(unique, t)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		bi, iok := unique[i].BPM().Value()
		bj, jok := unique[j].BPM().Value()
		if iok != jok {
			return iok
		}
		if bi != bj {
			return bi < bj
		}
		return unique[i].Path < unique[j].Path
	})

	ordered := make([]track.Metadata, 0, len(unique))
	var prev track.Key
	for start := 0; start < len(unique); {
		end := start + 1
		for end < len(unique) && sameTempo(unique[start], unique[end]) {
			end++
		}
		run := chainByKey(unique[start:end], prev)
		ordered = append(ordered, run...)
		for i := len(run) - 1; i >= 0; i-- {
			if k := run[i].Key(); k.Known() {
				prev = k
				break
			}
		}
		start = end
	}

	return Queue{tracks: ordered}, nil
}

func sameTempo(a, b track.Metadata) bool {
	av, aok := a.BPM().Value()
	bv, bok := b.BPM().Value()
	return aok == bok && av == bv
}

// chainByKey greedily picks the closest key to the last placed one. run must
// be sorted by path so equal distances resolve by path.
func chainByKey(run []track.Metadata, prev track.Key) []track.Metadata {
	if len(run) == 1 {
		return []track.Metadata{run[0]}
	}

	var keyed, unkeyed []track.Metadata
	for _, t := range run {
		if t.Key().Known() {
			keyed = append(keyed, t)
		} else {
			unkeyed = append(unkeyed, t)
		}
	}

	out := make([]track.Metadata, 0, len(run))
	for len(keyed) > 0 {
		best := 0
		for i := 1; i < len(keyed); i++ {
			if prev.Distance(keyed[i].Key()) < prev.Distance(keyed[best].Key()) {
				best = i
			}
		}
		out = append(out, keyed[best])
		prev = keyed[best].Key()
		keyed = append(keyed[:best], keyed[best+1:]...)
	}
	return append(out, unkeyed...)
}
