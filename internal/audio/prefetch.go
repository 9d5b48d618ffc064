package audio

import (
	"context"
	"sync"
)

// Prefetcher decodes the next track on a background goroutine so that the
// audio loop finds it ready when the crossfade starts. It holds one slot:
// the loop writes requests, the decode goroutine writes the result.
type Prefetcher struct {
	opener Opener

	mu   sync.Mutex
	slot *prefetch
}

type prefetch struct {
	path   string
	done   chan struct{}
	cancel context.CancelFunc
	stream Stream
	err    error
}

// NewPrefetcher wraps opener.
func NewPrefetcher(opener Opener) *Prefetcher {
	return &Prefetcher{opener: opener}
}

// Prefetch starts decoding path unless it is already in the slot. A
// different pending prefetch is abandoned.
func (p *Prefetcher) Prefetch(ctx context.Context, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.slot != nil {
		if p.slot.path == path {
			return
		}
		p.slot.discard()
	}

	ctx, cancel := context.WithCancel(ctx)
	pf := &prefetch{path: path, done: make(chan struct{}), cancel: cancel}
	p.slot = pf

	go func() {
		defer close(pf.done)
		pf.stream, pf.err = p.opener.Open(ctx, path)
	}()
}

// Open returns the prefetched stream for path, waiting for it if the decode
// is still running, or decodes inline when nothing was prefetched.
func (p *Prefetcher) Open(ctx context.Context, path string) (Stream, error) {
	p.mu.Lock()
	pf := p.slot
	if pf != nil && pf.path == path {
		p.slot = nil
	}
	p.mu.Unlock()

	if pf == nil || pf.path != path {
		return p.opener.Open(ctx, path)
	}

	select {
	case <-pf.done:
		pf.cancel()
		return pf.stream, pf.err
	case <-ctx.Done():
		pf.discard()
		return nil, ctx.Err()
	}
}

// Close abandons any pending prefetch.
func (p *Prefetcher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slot != nil {
		p.slot.discard()
		p.slot = nil
	}
}

// discard cancels the decode and frees its result once it lands.
func (pf *prefetch) discard() {
	pf.cancel()
	go func() {
		<-pf.done
		if pf.stream != nil {
			pf.stream.Close()
		}
	}()
}
