// Package poller runs the recurring sweeps that back up the realtime
// channel: the unread-message sweep and the queue-count sweep.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/leapmux/claimsync/internal/metrics"
)

// ErrSkip is returned by a task that had nothing to poll.
var ErrSkip = errors.New("nothing to poll")

// Task is one recurring sweep.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Poller schedules its tasks independently. Timers are armed only while the
// poller is started and visible; every arming runs each task once right away.
type Poller struct {
	tasks []Task

	mu      sync.Mutex
	started bool
	visible bool
	armed   int
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a stopped, visible poller.
func New(tasks ...Task) *Poller {
	return &Poller{tasks: tasks, visible: true}
}

// Start arms the timers. Calling Start on a started poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	if p.visible {
		p.arm()
	}
}

// Stop tears every timer down and waits for running sweeps to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	p.disarm()
}

// SetVisible pauses the poller while hidden. Becoming visible again re-runs
// every task immediately.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.visible == visible {
		return
	}
	p.visible = visible
	if !p.started {
		return
	}
	if visible {
		p.arm()
	} else {
		p.disarm()
	}
}

// Armed returns the number of armed timers.
func (p *Poller) Armed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// arm and disarm must be called with p.mu held.
func (p *Poller) arm() {
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for _, t := range p.tasks {
		p.wg.Add(1)
		go p.loop(ctx, t)
	}
	p.armed = len(p.tasks)
	metrics.PollTimersArmed.Set(float64(p.armed))
}

func (p *Poller) disarm() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.wg.Wait()
	p.armed = 0
	metrics.PollTimersArmed.Set(0)
}

func (p *Poller) loop(ctx context.Context, t Task) {
	defer p.wg.Done()

	p.run(ctx, t)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.run(ctx, t)
		}
	}
}

func (p *Poller) run(ctx context.Context, t Task) {
	err := t.Run(ctx)
	switch {
	case ctx.Err() != nil:
		// Disarmed mid-sweep; the result is discarded.
	case errors.Is(err, ErrSkip):
		metrics.PollSweepsTotal.WithLabelValues(t.Name, "skipped").Inc()
	case err != nil:
		metrics.PollSweepsTotal.WithLabelValues(t.Name, "error").Inc()
		slog.Warn("poll sweep failed", "task", t.Name, "error", err)
	default:
		metrics.PollSweepsTotal.WithLabelValues(t.Name, "ok").Inc()
	}
}
