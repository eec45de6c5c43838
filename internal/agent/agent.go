// Package agent runs the coordination core: an in-process event queue with
// a dispatcher, and a durable timer scheduler that feeds it.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"hitbot/internal/event"
	"hitbot/internal/reporting"
	"hitbot/internal/storage"
	"hitbot/pkg/logx"
)

// Agent owns the event queue and the scheduler. Events are consumed by a
// single goroutine, so handlers never run concurrently with each other;
// producers (handlers, timers, transports) enqueue from any goroutine.
type Agent struct {
	log      logx.Logger
	report   reporting.Reporter
	dispatch *event.Dispatcher
	sched    *scheduler

	mu      sync.Mutex
	queue   []event.Event
	started bool
	stopped bool

	ready chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

// New builds an agent. store may be nil, in which case scheduled tasks do
// not survive a restart. loc is the timezone wall-clock and cron specs are
// evaluated in; nil means the process-local zone.
func New(store storage.TaskStore, loc *time.Location, log logx.Logger, report reporting.Reporter) *Agent {
	if log.IsZero() {
		log = logx.Nop()
	}
	if report == nil {
		report = reporting.Nop()
	}
	a := &Agent{
		log:    log.With(logx.String("svc", "agent")),
		report: report,
		ready:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	a.dispatch = event.NewDispatcher(a.log, report, a.Put)
	a.sched = newScheduler(a.Put, store, loc, a.log)
	return a
}

// Proxy returns the registration facade handlers install themselves with.
func (a *Agent) Proxy() *Proxy { return &Proxy{a: a} }

// Put enqueues an event for dispatch. Safe from any goroutine; never blocks.
func (a *Agent) Put(ev event.Event) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		a.log.Debug("dropping event after stop", logx.String("topic", ev.Topic))
		return
	}
	a.queue = append(a.queue, ev)
	a.mu.Unlock()
	select {
	case a.ready <- struct{}{}:
	default:
	}
}

// Start recovers persisted tasks and begins consuming events. Handlers must
// be registered before Start so recovered and queued events find them.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("agent already started")
	}
	a.started = true
	a.mu.Unlock()

	if err := a.sched.recover(ctx); err != nil {
		return err
	}
	go a.consume()
	a.sched.start()
	a.log.Info("agent started")
	return nil
}

// Stop shuts down the scheduler and the consumer. Events already queued are
// drained before the consumer exits; new Puts are dropped.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.stopped = true
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	a.sched.shutdown()
	close(a.stop)
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.log.Info("agent stopped")
	return nil
}

func (a *Agent) consume() {
	defer close(a.done)
	for {
		for {
			ev, ok := a.pop()
			if !ok {
				break
			}
			if handled := a.dispatch.Dispatch(&ev); !handled {
				a.log.Warn("event had no handler",
					logx.String("type", ev.Type.String()), logx.String("topic", ev.Topic))
			}
		}
		select {
		case <-a.ready:
		case <-a.stop:
			// drain whatever arrived before the stop flag was set
			for {
				ev, ok := a.pop()
				if !ok {
					return
				}
				a.dispatch.Dispatch(&ev)
			}
		}
	}
}

func (a *Agent) pop() (event.Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return event.Event{}, false
	}
	ev := a.queue[0]
	a.queue = a.queue[1:]
	return ev, true
}
