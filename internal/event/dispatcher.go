package event

import (
	"fmt"
	"runtime/debug"
	"sync"

	"hitbot/internal/reporting"
	"hitbot/pkg/logx"
)

// Processor is the dispatch-side contract of a handler: react to one event
// and optionally return follow-up events for the queue.
//
// Returning an error marks this handler's processing as failed; it is
// logged and reported but never stops dispatch to the remaining handlers.
type Processor interface {
	Name() string
	Process(ev *Event) ([]Event, error)
}

// Dispatcher maps (type, topic) to an ordered handler list and fans each
// event out to every match.
//
// Contract:
//   - registration order is dispatch order
//   - wildcard-topic handlers run after topic-specific handlers
//   - a fault in one handler never aborts dispatch to the rest
//   - handlers run synchronously on the calling goroutine
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[Type]map[string][]Processor

	log    logx.Logger
	report reporting.Reporter
	emit   func(Event)
}

// NewDispatcher builds a dispatcher. emit receives follow-up events
// returned by handlers (normally the agent's queue put).
func NewDispatcher(log logx.Logger, report reporting.Reporter, emit func(Event)) *Dispatcher {
	if report == nil {
		report = reporting.Nop()
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &Dispatcher{
		handlers: map[Type]map[string][]Processor{},
		log:      log,
		report:   report,
		emit:     emit,
	}
}

// Register appends p to the handler list for (t, topic). Topic may be
// TopicWildcard. Duplicate registration is not deduplicated.
func (d *Dispatcher) Register(t Type, topic string, p Processor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byTopic, ok := d.handlers[t]
	if !ok {
		byTopic = map[string][]Processor{}
		d.handlers[t] = byTopic
	}
	byTopic[topic] = append(byTopic[topic], p)
	d.log.Debug("handler registered",
		logx.String("type", t.String()), logx.String("topic", topic), logx.String("handler", p.Name()))
}

// Dispatch delivers ev to every matching handler and reports whether at
// least one non-wildcard handler matched.
//
// The registry lock is held only while snapshotting the handler lists, so
// handler execution never blocks concurrent registration.
func (d *Dispatcher) Dispatch(ev *Event) bool {
	d.mu.Lock()
	var topical, wild []Processor
	if byTopic, ok := d.handlers[ev.Type]; ok {
		topical = append(topical, byTopic[ev.Topic]...)
		if ev.Topic != TopicWildcard {
			wild = append(wild, byTopic[TopicWildcard]...)
		}
	}
	d.mu.Unlock()

	for _, p := range topical {
		d.invoke(p, ev)
	}
	for _, p := range wild {
		d.invoke(p, ev)
	}
	return len(topical) > 0
}

// invoke runs one handler with fault isolation: a panic or error is
// captured and reported, follow-up events are emitted on success.
func (d *Dispatcher) invoke(p Processor, ev *Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("handler panicked",
				logx.String("handler", p.Name()),
				logx.String("topic", ev.Topic),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
			d.report.CapturePanic(rec, map[string]string{
				"handler": p.Name(),
				"type":    ev.Type.String(),
				"topic":   ev.Topic,
			})
		}
	}()

	followups, err := p.Process(ev)
	if err != nil {
		d.log.Error("handler failed",
			logx.String("handler", p.Name()),
			logx.String("topic", ev.Topic),
			logx.String("event_id", ev.ID),
			logx.Err(err))
		d.report.CaptureError(fmt.Errorf("%s: %w", p.Name(), err), map[string]string{
			"handler": p.Name(),
			"type":    ev.Type.String(),
			"topic":   ev.Topic,
		})
		return
	}
	for i := range followups {
		d.emit(followups[i])
	}
}
