// Package recorder keeps the session's violation log and forwards each
// event to the collector without ever blocking the detector that raised it.
package recorder

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
)

// Deliverer sends one event to the backend. collector.Client satisfies it.
type Deliverer interface {
	RecordViolation(ctx context.Context, event models.ViolationEvent) error
}

type Observer func(models.ViolationEvent)

type Config struct {
	AssessmentID    string
	UserID          string
	DeliveryTimeout time.Duration
}

func DefaultConfig(assessmentID, userID string) Config {
	return Config{
		AssessmentID:    assessmentID,
		UserID:          userID,
		DeliveryTimeout: 10 * time.Second,
	}
}

type Recorder struct {
	deliverer Deliverer
	config    Config
	now       func() time.Time

	mu        sync.Mutex
	events    []models.ViolationEvent
	observers map[int]Observer
	nextID    int
	closed    bool

	inflight sync.WaitGroup
	failures rate.Sometimes
}

// New returns a recorder. A nil deliverer keeps events local only.
func New(deliverer Deliverer, config Config) *Recorder {
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 10 * time.Second
	}
	return &Recorder{
		deliverer: deliverer,
		config:    config,
		now:       time.Now,
		observers: make(map[int]Observer),
		failures:  rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
}

// Emit builds an event for the recorder's candidate and records it. Its
// signature matches detectors.Emit.
func (r *Recorder) Emit(eventType models.EventType, metadata map[string]any) {
	r.Record(models.NewViolationEvent(eventType, r.config.AssessmentID, r.config.UserID, r.now(), metadata))
}

// Record appends the event to the local log, notifies observers and starts
// delivery in the background. It returns before delivery completes.
func (r *Recorder) Record(event models.ViolationEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	observers := make([]Observer, 0, len(r.observers))
	for _, obs := range r.observers {
		observers = append(observers, obs)
	}
	deliver := r.deliverer != nil && !r.closed
	if deliver {
		r.inflight.Add(1)
	}
	r.mu.Unlock()

	log.Printf("[RECORDER] %s recorded for user %s in assessment %s", event.EventType, event.UserID, event.AssessmentID)

	for _, obs := range observers {
		notify(obs, event)
	}

	if deliver {
		go r.deliver(event)
	}
}

func notify(obs Observer, event models.ViolationEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[RECORDER] Observer panicked on %s: %v", event.EventType, r)
		}
	}()
	obs(event)
}

func (r *Recorder) deliver(event models.ViolationEvent) {
	defer r.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.config.DeliveryTimeout)
	defer cancel()

	if err := r.deliverer.RecordViolation(ctx, event); err != nil {
		r.failures.Do(func() {
			log.Printf("[RECORDER] Failed to deliver %s (%s): %v", event.EventType, event.ID, err)
		})
	}
}

// Subscribe registers an observer for events recorded from now on.
func (r *Recorder) Subscribe(obs Observer) *platform.Subscription {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = obs
	r.mu.Unlock()

	return platform.NewSubscription(func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	})
}

// Events returns a copy of the local log in recording order.
func (r *Recorder) Events() []models.ViolationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ViolationEvent(nil), r.events...)
}

func (r *Recorder) Counts() map[models.EventType]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[models.EventType]int)
	for _, ev := range r.events {
		counts[ev.EventType]++
	}
	return counts
}

// Close stops delivering new events and waits for in-flight deliveries or
// ctx, whichever comes first. Events recorded afterwards stay local.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
