package memory

import (
	"context"
	"sync"

	"github.com/updownlabs/updown/internal/domain"
)

// SignalBus is an in-process domain.SignalBus. Publish fans out to every
// subscriber of the channel; slow subscribers drop messages rather than block
// the publisher. Stream appends are kept in memory for inspection.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan []byte
	streams map[string][][]byte
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][][]byte),
	}
}

// Publish delivers the payload to all current subscribers of the channel.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on the given channel. The
// subscription ends, and the channel closes, when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// StreamAppend records the payload on the named stream.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

// StreamLen returns the number of entries appended to a stream. Test helper.
func (b *SignalBus) StreamLen(stream string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams[stream])
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
