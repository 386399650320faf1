package progress

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())

	ch1, cancel1 := hub.Subscribe("job-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("job-1")
	defer cancel2()

	hub.Publish(Event{Type: EventProgress, JobID: "job-1", Progress: 33})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := recv(t, ch)
		if ev.Progress != 33 {
			t.Errorf("expected progress 33, got %d", ev.Progress)
		}
	}
}

func TestHub_TopicsAreIsolated(t *testing.T) {
	hub := NewHub(zap.NewNop())

	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	hub.Publish(Event{Type: EventProgress, JobID: "job-2", Progress: 50})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for other job: %+v", ev)
	default:
	}
}

func TestHub_LateJoinerMissesEarlierEvents(t *testing.T) {
	hub := NewHub(zap.NewNop())

	early, cancelEarly := hub.Subscribe("job-1")
	defer cancelEarly()

	hub.Publish(Event{Type: EventProgress, JobID: "job-1", Progress: 10})

	late, cancelLate := hub.Subscribe("job-1")
	defer cancelLate()

	hub.Publish(Event{Type: EventProgress, JobID: "job-1", Progress: 20})

	if ev := recv(t, early); ev.Progress != 10 {
		t.Errorf("expected early subscriber to see 10 first, got %d", ev.Progress)
	}
	if ev := recv(t, late); ev.Progress != 20 {
		t.Errorf("expected late subscriber to see only 20, got %d", ev.Progress)
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(zap.NewNop())

	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(Event{Type: EventProgress, JobID: "job-1", Progress: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	// the buffer holds the first events; the rest were dropped
	if ev := recv(t, ch); ev.Progress != 0 {
		t.Errorf("expected first buffered event, got %d", ev.Progress)
	}
}

func TestHub_TerminalEventClosesTopic(t *testing.T) {
	hub := NewHub(zap.NewNop())

	ch, _ := hub.Subscribe("job-1")

	hub.PublishTerminal(Event{Type: EventDone, JobID: "job-1", Progress: 100})

	if ev := recv(t, ch); ev.Type != EventDone {
		t.Errorf("expected done event, got %s", ev.Type)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel closed after terminal event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after terminal event")
	}
}

func TestHub_CancelAfterTerminalIsSafe(t *testing.T) {
	hub := NewHub(zap.NewNop())

	_, cancel := hub.Subscribe("job-1")
	hub.PublishTerminal(Event{Type: EventDone, JobID: "job-1"})

	// must not panic or double-close
	cancel()
}
