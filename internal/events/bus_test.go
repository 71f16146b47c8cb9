package events

import (
	"fmt"
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskScheduled{
		ID:        "capture-1",
		Name:      "exposure",
		DependsOn: []string{"slew-1"},
		At:        time.Now(),
	})

	select {
	case received := <-ch:
		if received.Ref() != "capture-1" {
			t.Errorf("expected ref 'capture-1', got '%s'", received.Ref())
		}
		if received.Kind() != KindTaskScheduled {
			t.Errorf("expected kind '%s', got '%s'", KindTaskScheduled, received.Kind())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskCompleted{
		ID:    "capture-2",
		Value: "frame-0001.fits",
		At:    time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Ref() != "capture-2" {
				t.Errorf("subscriber %d: expected ref 'capture-2', got '%s'", i+1, received.Ref())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingPublish verifies that publishing doesn't block when channels are full.
func TestNonBlockingPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TaskProgress{
				ID:    fmt.Sprintf("capture-%d", i),
				Value: i,
				At:    time.Now(),
			})
		}
		done <- true
	}()

	select {
	case <-done:
		// Publisher didn't block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Publish(TaskFailed{ID: "capture-1", At: time.Now()})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
		// Channel closed, no data
	}
}

// TestTopicIsolation verifies events land only on their own topic.
func TestTopicIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	schedCh := bus.Subscribe(TopicScheduler, 10)

	bus.Publish(TaskScheduled{ID: "focus-1", Name: "autofocus", At: time.Now()})
	bus.Publish(SchedulerTick{Pending: 3, Resumed: 1, At: time.Now()})

	select {
	case received := <-taskCh:
		if received.Kind() != KindTaskScheduled {
			t.Errorf("task channel: expected task event, got %s", received.Kind())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-schedCh:
		if received.Kind() != KindSchedulerTick {
			t.Errorf("scheduler channel: expected tick event, got %s", received.Kind())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("scheduler channel: timeout waiting for event")
	}

	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case <-schedCh:
		t.Error("scheduler channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TaskScheduled{ID: "slew-1", Name: "slew", At: time.Now()})
	bus.Publish(DeviceCommand{Device: "mount", Action: "slew", Duration: time.Second, At: time.Now()})

	receivedKinds := make(map[string]bool)

	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedKinds[received.Kind()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	if !receivedKinds[KindTaskScheduled] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedKinds[KindDeviceCommand] {
		t.Error("SubscribeAll did not receive device event")
	}

	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
	}
}
