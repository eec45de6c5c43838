package agent

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/xid"

	"hitbot/internal/event"
	"hitbot/internal/storage"
	"hitbot/pkg/logx"
)

// entry is a scheduled task. Identity matters: the pending map and the heap
// both point at the same *entry, and a heap item is live only while it is
// still the entry registered under its key. Canceling or replacing a key
// drops the map reference and the stale heap item is skipped when popped.
type entry struct {
	key    string
	ev     event.Event
	spec   Spec
	fireAt time.Time
	repeat bool
	// transient tasks are never persisted and do not survive a restart.
	transient bool
}

type timerHeap []*entry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(*entry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// scheduler runs all timers on a single goroutine over a min-heap, instead
// of one goroutine per task. Tasks are persisted before they are armed and
// deleted after they fire, so a restart replays whatever was still pending.
type scheduler struct {
	mu      sync.Mutex
	pending map[string]*entry
	heap    timerHeap
	started bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	put   func(ev event.Event)
	store storage.TaskStore
	loc   *time.Location
	log   logx.Logger
	now   func() time.Time
}

func newScheduler(put func(ev event.Event), store storage.TaskStore, loc *time.Location, log logx.Logger) *scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &scheduler{
		pending: map[string]*entry{},
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		put:     put,
		store:   store,
		loc:     loc,
		log:     log,
		now:     time.Now,
	}
}

// schedule parses the spec, persists the task (unless transient), and arms
// the timer. An empty key is replaced by a generated one; the key used is
// returned. Duplicate keys are first-writer-wins: the existing task keeps
// running and the new request is dropped with a warning.
func (s *scheduler) schedule(ctx context.Context, key string, ev event.Event, rawSpec string, repeat, transient bool) (string, error) {
	spec, err := ParseSpec(rawSpec)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = xid.New().String()
	}
	err = s.arm(ctx, entry{
		key:       key,
		ev:        ev,
		spec:      spec,
		fireAt:    spec.Next(s.now(), s.loc),
		repeat:    repeat,
		transient: transient,
	}, true)
	if err != nil {
		return "", err
	}
	return key, nil
}

// arm registers and queues an entry. writeRow controls the write-ahead
// store write; recovery arms with writeRow=false because the row already
// exists.
func (s *scheduler) arm(ctx context.Context, e entry, writeRow bool) error {
	s.mu.Lock()
	if _, exists := s.pending[e.key]; exists {
		s.mu.Unlock()
		s.log.Warn("schedule key already armed, dropping",
			logx.String("key", e.key), logx.String("topic", e.ev.Topic))
		return nil
	}
	// Reserve the key before persisting so a concurrent duplicate cannot
	// slip in while the lock is released for the store write.
	live := e
	s.pending[e.key] = &live
	s.mu.Unlock()

	if writeRow && s.store != nil && !e.transient {
		data, err := json.Marshal(e.ev.Data)
		if err != nil {
			s.forget(e.key)
			return err
		}
		rec := storage.TaskRecord{
			Key:       e.key,
			EventType: int(e.ev.Type),
			Topic:     e.ev.Topic,
			Data:      data,
			Spec:      e.spec.Raw,
			Repeat:    e.repeat,
			FireAt:    e.fireAt,
		}
		if err := s.store.UpsertTask(ctx, rec); err != nil {
			s.forget(e.key)
			return err
		}
	}

	s.mu.Lock()
	heap.Push(&s.heap, &live)
	s.mu.Unlock()
	s.log.Debug("task armed",
		logx.String("key", e.key),
		logx.String("topic", e.ev.Topic),
		logx.String("spec", e.spec.Raw),
		logx.Bool("repeat", e.repeat),
		logx.Time("fire_at", e.fireAt))

	s.kick()
	return nil
}

func (s *scheduler) forget(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

// cancel removes a pending task. It reports whether a live timer was
// actually removed; canceling an unknown key deletes any stale persisted
// row and returns false.
func (s *scheduler) cancel(ctx context.Context, key string) (bool, error) {
	if s.store != nil {
		if err := s.store.DeleteTask(ctx, key); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	_, ok := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()
	if ok {
		s.log.Debug("task canceled", logx.String("key", key))
		s.kick()
	}
	return ok, nil
}

// recover loads persisted tasks and re-arms them. Tasks whose firing time is
// already past are armed to fire immediately, once, regardless of how many
// occurrences were missed. Keys that handlers re-armed during installation
// are left alone.
func (s *scheduler) recover(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	recs, err := s.store.LoadTasks(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	for _, rec := range recs {
		var data event.Payload
		if len(rec.Data) > 0 {
			if err := json.Unmarshal(rec.Data, &data); err != nil {
				s.log.Error("dropping unreadable persisted task", logx.String("key", rec.Key), logx.Err(err))
				_ = s.store.DeleteTask(ctx, rec.Key)
				continue
			}
		}
		spec, err := ParseSpec(rec.Spec)
		if err != nil {
			s.log.Error("dropping persisted task with bad spec", logx.String("key", rec.Key), logx.Err(err))
			_ = s.store.DeleteTask(ctx, rec.Key)
			continue
		}
		fireAt := rec.FireAt
		if !fireAt.After(now) {
			fireAt = now
			s.log.Info("recovered task overdue, firing now",
				logx.String("key", rec.Key), logx.Time("was_due", rec.FireAt))
		}
		e := entry{
			key:    rec.Key,
			ev:     event.New(event.Type(rec.EventType), rec.Topic, data),
			spec:   spec,
			fireAt: fireAt,
			repeat: rec.Repeat,
		}
		if err := s.arm(ctx, e, false); err != nil {
			s.log.Error("failed to re-arm recovered task", logx.String("key", rec.Key), logx.Err(err))
		}
	}
	return nil
}

func (s *scheduler) start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go s.run()
}

func (s *scheduler) shutdown() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		close(s.done)
		return
	}
	close(s.stop)
	<-s.done
}

func (s *scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := s.popDue()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if ok {
			timer.Reset(time.Until(next))
			select {
			case <-timer.C:
				continue
			case <-s.wake:
				continue
			case <-s.stop:
				return
			}
		}
		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

// popDue fires every due task and returns the firing time of the earliest
// remaining one, or ok=false when the heap is empty.
func (s *scheduler) popDue() (time.Time, bool) {
	for {
		s.mu.Lock()
		if len(s.heap) == 0 {
			s.mu.Unlock()
			return time.Time{}, false
		}
		top := s.heap[0]
		if live := s.pending[top.key]; live != top {
			// canceled or replaced while queued
			heap.Pop(&s.heap)
			s.mu.Unlock()
			continue
		}
		if top.fireAt.After(s.now()) {
			at := top.fireAt
			s.mu.Unlock()
			return at, true
		}
		heap.Pop(&s.heap)
		delete(s.pending, top.key)
		s.mu.Unlock()

		s.fire(top)
	}
}

func (s *scheduler) fire(e *entry) {
	s.log.Debug("task fired", logx.String("key", e.key), logx.String("topic", e.ev.Topic))
	s.put(e.ev)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !e.repeat {
		if s.store != nil && !e.transient {
			if err := s.store.DeleteTask(ctx, e.key); err != nil {
				s.log.Error("failed to delete fired task", logx.String("key", e.key), logx.Err(err))
			}
		}
		return
	}

	next := entry{
		key:       e.key,
		ev:        e.ev,
		spec:      e.spec,
		fireAt:    e.spec.Next(s.now(), s.loc),
		repeat:    true,
		transient: e.transient,
	}
	if err := s.arm(ctx, next, true); err != nil {
		s.log.Error("failed to re-arm repeating task", logx.String("key", e.key), logx.Err(err))
	}
}
