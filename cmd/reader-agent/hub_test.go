package main

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func recvMessage(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hub message")
		return nil
	}
}

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	h := newWSHub(zerolog.Nop())
	go h.run()

	a := &wsClient{send: make(chan []byte, 4), hub: h}
	b := &wsClient{send: make(chan []byte, 4), hub: h}
	h.register <- a
	h.register <- b

	h.broadcast <- []byte(`{"type":"card_read"}`)

	for _, c := range []*wsClient{a, b} {
		if got := recvMessage(t, c.send); string(got) != `{"type":"card_read"}` {
			t.Errorf("message = %q, want card_read envelope", got)
		}
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := newWSHub(zerolog.Nop())
	go h.run()

	fast := &wsClient{send: make(chan []byte, 4), hub: h}
	slow := &wsClient{send: make(chan []byte, 1), hub: h}
	slow.send <- []byte("backlog") // full buffer, this client never drains

	h.register <- fast
	h.register <- slow

	h.broadcast <- []byte("punch")

	if got := recvMessage(t, fast.send); string(got) != "punch" {
		t.Errorf("fast client got %q, want %q", got, "punch")
	}

	// The undeliverable broadcast drops the slow client: its channel is
	// closed with only the stale backlog left in it.
	if got := recvMessage(t, slow.send); string(got) != "backlog" {
		t.Errorf("slow client got %q, want %q", got, "backlog")
	}
	select {
	case msg, ok := <-slow.send:
		if ok {
			t.Fatalf("slow client received %q after missing a broadcast", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was not dropped")
	}
}

func TestHub_UnregisterClosesClient(t *testing.T) {
	h := newWSHub(zerolog.Nop())
	go h.run()

	c := &wsClient{send: make(chan []byte, 4), hub: h}
	h.register <- c
	h.unregister <- c

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("unexpected message on unregistered client")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unregister did not close the client channel")
	}

	// A second unregister for the same client is a no-op.
	h.unregister <- c
	h.broadcast <- []byte("punch")
}
