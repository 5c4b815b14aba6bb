package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/engine"
	"github.com/retail-insights/backend/pkg/logger"
)

type pollOutcome struct {
	state    engine.Status
	errMsg   string
	timedOut bool
}

type watch struct {
	executionID string
	deadline    time.Time
	done        chan pollOutcome
	inflight    bool
	timedOut    bool
	removed     bool
}

// poller drives status polling for every in-flight execution with one
// scheduler goroutine and a small fixed pool of poll workers. Waiters
// block on a per-execution channel, so hundreds of concurrent requests
// never cost a polling goroutine each.
type poller struct {
	eng      engine.QueryEngine
	interval time.Duration
	workers  int

	mu      sync.Mutex
	watches map[string]*watch

	jobs chan *watch
	stop chan struct{}
	once sync.Once
}

func newPoller(eng engine.QueryEngine, interval time.Duration, workers int) *poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	p := &poller{
		eng:      eng,
		interval: interval,
		workers:  workers,
		watches:  make(map[string]*watch),
		jobs:     make(chan *watch, workers*4),
		stop:     make(chan struct{}),
	}
	go p.schedule()
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *poller) Stop() {
	p.once.Do(func() { close(p.stop) })
}

// watch registers an execution. The returned channel receives exactly one
// outcome: a terminal engine state or a deadline breach.
func (p *poller) watch(executionID string, deadline time.Time) <-chan pollOutcome {
	w := &watch{
		executionID: executionID,
		deadline:    deadline,
		done:        make(chan pollOutcome, 1),
	}
	p.mu.Lock()
	p.watches[executionID] = w
	p.mu.Unlock()
	return w.done
}

// unwatch drops an execution without delivering an outcome, used when the
// caller's context ends first.
func (p *poller) unwatch(executionID string) {
	p.mu.Lock()
	if w, ok := p.watches[executionID]; ok {
		w.removed = true
		delete(p.watches, executionID)
	}
	p.mu.Unlock()
}

func (p *poller) schedule() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.mu.Lock()
			for _, w := range p.watches {
				if now.After(w.deadline) {
					if w.inflight {
						// A worker holds this watch; it delivers the
						// breach once its status call returns, so no
						// poll can land after the caller cancels.
						w.timedOut = true
						continue
					}
					p.deliver(w, pollOutcome{timedOut: true})
					continue
				}
				if w.inflight {
					continue
				}
				w.inflight = true
				select {
				case p.jobs <- w:
				default:
					// Worker pool saturated; try again next tick.
					w.inflight = false
				}
			}
			p.mu.Unlock()
		}
	}
}

func (p *poller) worker() {
	for {
		select {
		case <-p.stop:
			return
		case w := <-p.jobs:
			p.poll(w)
		}
	}
}

func (p *poller) poll(w *watch) {
	info, err := p.eng.Status(context.Background(), w.executionID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if w.removed {
		return
	}
	w.inflight = false

	if err != nil {
		if errors.Is(err, engine.ErrExecutionNotFound) {
			p.deliver(w, pollOutcome{state: engine.StatusFailed, errMsg: err.Error()})
			return
		}
		if w.timedOut {
			p.deliver(w, pollOutcome{timedOut: true})
			return
		}
		// Transient poll failure; the execution stays watched.
		logger.Warn("Status poll failed",
			zap.String("execution_id", w.executionID),
			zap.Error(err),
		)
		return
	}

	if info.State.Terminal() {
		p.deliver(w, pollOutcome{state: info.State, errMsg: info.Error})
		return
	}
	if w.timedOut {
		p.deliver(w, pollOutcome{timedOut: true})
	}
}

// deliver sends the single outcome and drops the watch. Callers hold p.mu.
func (p *poller) deliver(w *watch, out pollOutcome) {
	w.removed = true
	delete(p.watches, w.executionID)
	w.done <- out
}
