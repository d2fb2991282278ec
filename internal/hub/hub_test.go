package hub

import (
	"errors"
	"sync"
	"testing"
)

type fakeSub struct {
	mu       sync.Mutex
	payloads []interface{}
	fail     bool
}

func (f *fakeSub) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("peer gone")
	}
	f.payloads = append(f.payloads, v)
	return nil
}

func (f *fakeSub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New()
	a, b := &fakeSub{}, &fakeSub{}
	h.Connect("job1", a)
	h.Connect("job1", b)
	h.Connect("job2", &fakeSub{})

	h.Publish("job1", NewEvent("job1", "running", 20, "ingest", ""))
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("counts %d/%d want 1/1", a.count(), b.count())
	}
	if h.Count("job1") != 2 {
		t.Fatalf("count %d want 2", h.Count("job1"))
	}
}

func TestPublishPreservesPerSubscriberOrder(t *testing.T) {
	h := New()
	a := &fakeSub{}
	h.Connect("job1", a)
	for i := 0; i < 5; i++ {
		h.Publish("job1", i)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, v := range a.payloads {
		if v.(int) != i {
			t.Fatalf("payloads out of order: %v", a.payloads)
		}
	}
}

func TestFailedSendEvicts(t *testing.T) {
	h := New()
	good, bad := &fakeSub{}, &fakeSub{fail: true}
	h.Connect("job1", good)
	h.Connect("job1", bad)

	h.Publish("job1", "first")
	if h.Count("job1") != 1 {
		t.Fatalf("count %d want 1 after eviction", h.Count("job1"))
	}
	h.Publish("job1", "second")
	if good.count() != 2 {
		t.Fatalf("good subscriber missed events: %d", good.count())
	}
}

func TestDisconnectDropsEmptyChannel(t *testing.T) {
	h := New()
	a := &fakeSub{}
	h.Connect("job1", a)
	h.Disconnect("job1", a)
	if h.Count("job1") != 0 {
		t.Fatalf("count %d want 0", h.Count("job1"))
	}
	// Publishing into an empty channel is a no-op.
	h.Publish("job1", "nobody home")
	if a.count() != 0 {
		t.Fatalf("disconnected subscriber received event")
	}
}

func TestPublishToUnknownChannel(t *testing.T) {
	h := New()
	h.Publish("ghost", "x")
}

func TestEventTimestampIsUTC(t *testing.T) {
	ev := NewEvent("j", "running", 10, "ingest", "msg")
	if ev.Timestamp == "" || ev.Timestamp[len(ev.Timestamp)-1] != 'Z' {
		t.Fatalf("timestamp %q not UTC", ev.Timestamp)
	}
}
