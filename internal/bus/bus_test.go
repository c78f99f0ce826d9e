package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"researchbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	b.Publish(domain.InboundMessage{ChannelID: "c1", Content: "!ask one"})
	b.Publish(domain.InboundMessage{ChannelID: "c1", Content: "!ask two"})

	ch := b.Subscribe()
	if got := (<-ch).Content; got != "!ask one" {
		t.Fatalf("expected first message, got %q", got)
	}
	if got := (<-ch).Content; got != "!ask two" {
		t.Fatalf("expected second message, got %q", got)
	}
}

func TestBus_CloseDrainsThenEnds(t *testing.T) {
	b := New(2, testLogger())
	b.Publish(domain.InboundMessage{Content: "pending"})
	b.Close()
	b.Close()

	// Publishing after close is a no-op, not a panic.
	b.Publish(domain.InboundMessage{Content: "late"})

	var got []string
	for msg := range b.Subscribe() {
		got = append(got, msg.Content)
	}
	if len(got) != 1 || got[0] != "pending" {
		t.Fatalf("expected only the pending message, got %v", got)
	}
}

func TestBus_FullBufferDropsAfterTimeout(t *testing.T) {
	b := New(1, testLogger())
	b.timeout = 20 * time.Millisecond

	b.Publish(domain.InboundMessage{Content: "first"})
	start := time.Now()
	b.Publish(domain.InboundMessage{Content: "dropped"})
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("publish should wait before dropping")
	}

	b.Close()
	var n int
	for range b.Subscribe() {
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 delivered message, got %d", n)
	}
}

func TestBus_FullBufferDeliversWhenDrained(t *testing.T) {
	b := New(1, testLogger())
	b.Publish(domain.InboundMessage{Content: "first"})

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-b.Subscribe()
	}()
	b.Publish(domain.InboundMessage{Content: "second"})

	select {
	case msg := <-b.Subscribe():
		if msg.Content != "second" {
			t.Fatalf("got %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("second message not delivered")
	}
}

func TestBus_CloseReleasesBlockedPublish(t *testing.T) {
	b := New(1, testLogger())
	b.timeout = 10 * time.Second
	b.Publish(domain.InboundMessage{Content: "fills the buffer"})

	published := make(chan struct{})
	go func() {
		defer close(published)
		b.Publish(domain.InboundMessage{Content: "waits"})
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		b.Close()
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind a waiting Publish")
	}
	<-published

	var got []string
	for m := range b.Subscribe() {
		got = append(got, m.Content)
	}
	if len(got) != 1 || got[0] != "fills the buffer" {
		t.Fatalf("expected only the buffered message, got %v", got)
	}
}
