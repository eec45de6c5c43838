package agent

import (
	"context"

	"hitbot/internal/event"
)

// Proxy is the narrow surface handlers get: register for topics, publish
// events, and manage scheduled tasks. It deliberately hides the queue and
// the dispatcher so handlers cannot consume events themselves.
type Proxy struct {
	a *Agent
}

// Register subscribes p to a topic. event.TopicWildcard subscribes to every
// topic of the type; wildcard handlers run after topic-specific ones and do
// not count as handling an event.
func (p *Proxy) Register(t event.Type, topic string, proc event.Processor) {
	p.a.dispatch.Register(t, topic, proc)
}

// Publish enqueues an event.
func (p *Proxy) Publish(ev event.Event) {
	p.a.Put(ev)
}

// Schedule arms a task that publishes ev according to spec. key identifies
// the task for Cancel and across restarts; an empty key gets a generated
// one, returned for later cancellation. Scheduling an already-armed key is
// a no-op. With repeat the task re-arms itself after every firing.
func (p *Proxy) Schedule(ctx context.Context, key string, ev event.Event, spec string, repeat bool) (string, error) {
	return p.a.sched.schedule(ctx, key, ev, spec, repeat, false)
}

// ScheduleTransient is Schedule without the write-ahead row: the task lives
// only in memory and does not survive a restart.
func (p *Proxy) ScheduleTransient(ctx context.Context, key string, ev event.Event, spec string, repeat bool) (string, error) {
	return p.a.sched.schedule(ctx, key, ev, spec, repeat, true)
}

// Cancel removes a scheduled task. It reports whether a live task was
// removed; unknown keys return false without error.
func (p *Proxy) Cancel(ctx context.Context, key string) (bool, error) {
	return p.a.sched.cancel(ctx, key)
}
