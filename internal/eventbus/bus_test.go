package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe("block.added", received)

	bus.Publish(Event{
		Type:      "block.added",
		Account:   "did:plc:alice",
		Seq:       100,
		Timestamp: time.Now(),
		Data:      map[string]string{"subject": "did:plc:bob"},
	})

	select {
	case evt := <-received:
		if evt.Type != "block.added" {
			t.Errorf("expected block.added, got %s", evt.Type)
		}
		if evt.Seq != 100 {
			t.Errorf("expected seq 100, got %d", evt.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan Event, 10)
	ch2 := make(chan Event, 10)
	bus.Subscribe("block.added", ch1)
	bus.Subscribe("block.added", ch2)

	bus.Publish(Event{Type: "block.added", Seq: 1})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	addedCh := make(chan Event, 10)
	reconciledCh := make(chan Event, 10)
	bus.Subscribe("block.added", addedCh)
	bus.Subscribe("reconcile.completed", reconciledCh)

	bus.Publish(Event{Type: "block.added", Seq: 1})

	select {
	case <-addedCh:
	case <-time.After(time.Second):
		t.Fatal("block.added subscriber did not receive event")
	}

	select {
	case <-reconciledCh:
		t.Fatal("reconcile.completed subscriber should NOT receive block.added event")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}

func TestBus_PublishBatch(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 100)
	bus.Subscribe("block.added", received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			bus.Publish(Event{Type: "block.added", Seq: seq})
		}(int64(i))
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)
	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}
