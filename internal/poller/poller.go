// Package poller keeps an administrator view of a candidate's violations
// fresh without re-rendering on unchanged data.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kdimtricp/vproctor/internal/models"
)

// Source is the read side of the collector. collector.Client satisfies it.
type Source interface {
	Summary(ctx context.Context, assessmentID, userID string) (*models.Summary, error)
	Logs(ctx context.Context, assessmentID, userID string) (*models.Logs, error)
}

// Update is what observers receive when the total violation count moves.
type Update struct {
	Summary *models.Summary
	Logs    *models.Logs
}

type Config struct {
	AssessmentID string
	UserID       string
	Interval     time.Duration
	Debug        bool
}

const (
	DefaultInterval = 5 * time.Second
	DebugInterval   = time.Second
)

func (c Config) interval() time.Duration {
	switch {
	case c.Interval > 0:
		return c.Interval
	case c.Debug:
		return DebugInterval
	default:
		return DefaultInterval
	}
}

type Poller struct {
	source   Source
	config   Config
	onUpdate func(Update)

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	last      *Update
	published bool
	lastTotal int
	lastErr   error
}

func New(source Source, config Config, onUpdate func(Update)) *Poller {
	return &Poller{source: source, config: config, onUpdate: onUpdate}
}

// Start begins polling immediately and then on every interval. Starting a
// running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	log.Printf("[POLL] Polling assessment %s user %s every %s", p.config.AssessmentID, p.config.UserID, p.config.interval())
	go p.loop(ctx, p.done)
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.config.interval())
	defer ticker.Stop()

	for {
		p.Fetch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop halts polling and waits for an in-flight fetch. Stopping a stopped
// poller does nothing.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("[POLL] Stopped polling assessment %s user %s", p.config.AssessmentID, p.config.UserID)
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Fetch loads the summary and logs once. It reports whether observers were
// notified, which happens only when the total differs from the last one
// propagated. Failed fetches keep the previous data.
func (p *Poller) Fetch(ctx context.Context) bool {
	summary, err := p.source.Summary(ctx, p.config.AssessmentID, p.config.UserID)
	if err != nil {
		p.fail(ctx, "summary", err)
		return false
	}

	p.mu.Lock()
	unchanged := p.published && summary.TotalViolations == p.lastTotal
	p.mu.Unlock()
	if unchanged {
		return false
	}

	logs, err := p.source.Logs(ctx, p.config.AssessmentID, p.config.UserID)
	if err != nil {
		p.fail(ctx, "logs", err)
		return false
	}

	update := Update{Summary: summary, Logs: logs}
	p.mu.Lock()
	p.last = &update
	p.published = true
	p.lastTotal = summary.TotalViolations
	p.lastErr = nil
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(update)
	}
	return true
}

func (p *Poller) fail(ctx context.Context, what string, err error) {
	if ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	log.Printf("[POLL] Failed to fetch %s: %v", what, err)
}

// Last returns the most recently propagated update, or nil.
func (p *Poller) Last() *Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
