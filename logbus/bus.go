// CLAUDE:SUMMARY Fire-and-forget progress log bus: non-blocking Publish, broadcaster goroutine, subscriber fan-out, [MCP] filter.
// Package logbus carries human-readable progress messages from the pipeline
// to whoever is watching (the SSE endpoint, the CLI, tests).
//
// Publish never blocks and never fails the caller: when the queue is full
// the message is dropped and counted. A single broadcaster goroutine (Run)
// fans messages out to subscribers; a slow subscriber loses messages rather
// than stalling the others.
package logbus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Publisher is the narrow interface every component logs progress through.
type Publisher interface {
	Publish(msg string)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(string)

func (f PublisherFunc) Publish(msg string) { f(msg) }

// Discard drops every message.
var Discard Publisher = PublisherFunc(func(string) {})

// MCPTag prefixes messages emitted by the MCP search provider.
const MCPTag = "[MCP]"

// Bus is the default Publisher implementation.
type Bus struct {
	queue   chan string
	logger  *slog.Logger
	filter  func(string) bool
	subBuf  int
	dropped atomic.Int64

	mu   sync.Mutex
	subs map[chan string]struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the publish queue capacity. Default: 1024.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan string, n)
		}
	}
}

// WithSubscriberBuffer sets each subscriber's channel capacity. Default: 256.
func WithSubscriberBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.subBuf = n
		}
	}
}

// WithLogger mirrors every accepted message to logger at Info level.
func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// WithFilter installs a predicate; messages for which keep returns false are
// dropped at Publish time.
func WithFilter(keep func(string) bool) Option { return func(b *Bus) { b.filter = keep } }

// HideMCP returns a filter that drops any message carrying the [MCP] tag.
func HideMCP() func(string) bool {
	return func(msg string) bool { return !strings.Contains(msg, MCPTag) }
}

// New creates a Bus. Call Run to start delivery.
func New(opts ...Option) *Bus {
	b := &Bus{
		queue:  make(chan string, 1024),
		subBuf: 256,
		subs:   make(map[chan string]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish enqueues msg without blocking.
func (b *Bus) Publish(msg string) {
	if b == nil {
		return
	}
	if b.filter != nil && !b.filter(msg) {
		return
	}
	if b.logger != nil {
		b.logger.Info("progress", "msg", msg)
	}
	select {
	case b.queue <- msg:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many messages were lost to a full queue or a slow
// subscriber.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel.
func (b *Bus) Subscribe() (<-chan string, func()) {
	ch := make(chan string, b.subBuf)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// Run delivers queued messages until ctx is done, then closes every
// subscriber channel.
func (b *Bus) Run(ctx context.Context) {
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			b.broadcast(msg)
		}
	}
}

func (b *Bus) broadcast(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
