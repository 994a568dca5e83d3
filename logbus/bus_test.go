package logbus

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return ""
}

func TestBusFanOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	// WHAT: every subscriber receives every message, in publish order.
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { b.Run(ctx); close(done) }()

	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()
	defer cancelA()
	defer cancelC()

	b.Publish("[搜索] 开始")
	b.Publish("[抓取] 3/5")

	for _, ch := range []<-chan string{a, c} {
		if got := recv(t, ch); got != "[搜索] 开始" {
			t.Fatalf("first = %q", got)
		}
		if got := recv(t, ch); got != "[抓取] 3/5" {
			t.Fatalf("second = %q", got)
		}
	}

	cancel()
	<-done
}

func TestPublishNeverBlocks(t *testing.T) {
	// WHAT: Publish on a full queue with no broadcaster returns immediately.
	// WHY: progress logging must never stall the pipeline.
	b := New(WithQueueSize(2))
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("x")
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
	if b.Dropped() != 98 {
		t.Fatalf("Dropped = %d, want 98", b.Dropped())
	}
}

func TestHideMCPFilter(t *testing.T) {
	var got []string
	b := New(WithFilter(HideMCP()), WithQueueSize(10))
	b.Publish("[MCP] 调用 search")
	b.Publish("[搜索] ok")
	close(b.queue)
	for m := range b.queue {
		got = append(got, m)
	}
	if len(got) != 1 || got[0] != "[搜索] ok" {
		t.Fatalf("got %v", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}

func TestRunClosesSubscribersOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New()
	ch, cancelSub := b.Subscribe()
	defer cancelSub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { b.Run(ctx); close(done) }()
	cancel()
	<-done
	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel closed after Run returns")
	}
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Publish("ignored")
}
