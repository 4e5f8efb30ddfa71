package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kdimtricp/vproctor/internal/models"
)

type mockDeliverer struct {
	mu        sync.Mutex
	delivered []models.ViolationEvent
	err       error
	block     chan struct{}
}

func (m *mockDeliverer) RecordViolation(ctx context.Context, event models.ViolationEvent) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, event)
	return m.err
}

func (m *mockDeliverer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

func TestRecordDeliversAndNotifies(t *testing.T) {
	d := &mockDeliverer{}
	r := New(d, DefaultConfig("a1", "u1"))

	var seen []models.EventType
	sub := r.Subscribe(func(ev models.ViolationEvent) { seen = append(seen, ev.EventType) })

	r.Emit(models.TabSwitch, nil)
	r.Emit(models.CopyRestrict, map[string]any{"len": 3})
	sub.Unsubscribe()
	r.Emit(models.FocusLost, nil)

	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if d.count() != 3 {
		t.Errorf("expected 3 deliveries, got %d", d.count())
	}
	if len(seen) != 2 || seen[0] != models.TabSwitch || seen[1] != models.CopyRestrict {
		t.Errorf("unexpected observer calls %v", seen)
	}

	events := r.Events()
	if len(events) != 3 || events[0].AssessmentID != "a1" || events[0].UserID != "u1" {
		t.Errorf("unexpected local log %+v", events)
	}
	if r.Counts()[models.TabSwitch] != 1 {
		t.Errorf("unexpected counts %v", r.Counts())
	}
}

func TestRecordDoesNotBlockOnDelivery(t *testing.T) {
	d := &mockDeliverer{block: make(chan struct{})}
	r := New(d, DefaultConfig("a1", "u1"))

	done := make(chan struct{})
	go func() {
		r.Emit(models.TabSwitch, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a stalled delivery")
	}

	if len(r.Events()) != 1 {
		t.Error("event must be visible locally before delivery completes")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected close to time out on stalled delivery, got %v", err)
	}

	close(d.block)
	if err := r.Close(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestFailedDeliveryKeepsLocalEvent(t *testing.T) {
	d := &mockDeliverer{err: errors.New("connection refused")}
	r := New(d, DefaultConfig("a1", "u1"))

	for i := 0; i < 10; i++ {
		r.Emit(models.FocusLost, nil)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if d.count() != 10 {
		t.Errorf("each event should be attempted exactly once, got %d", d.count())
	}
	if len(r.Events()) != 10 {
		t.Errorf("expected local log to keep all events, got %d", len(r.Events()))
	}
}

func TestRecordAfterCloseStaysLocal(t *testing.T) {
	d := &mockDeliverer{}
	r := New(d, DefaultConfig("a1", "u1"))
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	r.Emit(models.TabSwitch, nil)
	time.Sleep(10 * time.Millisecond)

	if d.count() != 0 {
		t.Error("closed recorder must not deliver")
	}
	if len(r.Events()) != 1 {
		t.Error("closed recorder must still log locally")
	}
}

func TestObserverPanicDoesNotStopRecording(t *testing.T) {
	r := New(nil, DefaultConfig("a1", "u1"))
	r.Subscribe(func(models.ViolationEvent) { panic("ui gone") })

	r.Emit(models.TabSwitch, nil)
	r.Emit(models.TabSwitch, nil)

	if len(r.Events()) != 2 {
		t.Errorf("expected 2 events, got %d", len(r.Events()))
	}
}
