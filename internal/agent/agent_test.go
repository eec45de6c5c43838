package agent

import (
	"context"
	"testing"
	"time"

	"hitbot/internal/event"
	"hitbot/internal/storage"
	"hitbot/pkg/logx"
)

// recorder is a handler that forwards every event it sees to a channel.
type recorder struct {
	name string
	ch   chan event.Event
}

func newRecorder(name string) *recorder {
	return &recorder{name: name, ch: make(chan event.Event, 16)}
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Process(ev *event.Event) ([]event.Event, error) {
	r.ch <- *ev
	return nil, nil
}

func (r *recorder) wait(t *testing.T, d time.Duration) event.Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(d):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func (r *recorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event on topic %q", ev.Topic)
	case <-time.After(d):
	}
}

func startAgent(t *testing.T, store storage.TaskStore) (*Agent, *recorder) {
	t.Helper()
	a := New(store, time.UTC, logx.Nop(), nil)
	rec := newRecorder("test.recorder")
	a.Proxy().Register(event.TypeCron, event.TopicCheckFree, rec)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a, rec
}

func TestScheduleFiresOnceAndDeletes(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	a, rec := startAgent(t, store)

	_, err := a.Proxy().Schedule(context.Background(), "once", event.NewCheckFree(), "1s", false)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if store.TaskCount() != 1 {
		t.Fatalf("task not persisted before firing")
	}

	ev := rec.wait(t, 3*time.Second)
	if ev.Topic != event.TopicCheckFree {
		t.Fatalf("topic = %q", ev.Topic)
	}
	rec.expectNone(t, 1500*time.Millisecond)

	if n := store.TaskCount(); n != 0 {
		t.Fatalf("fired task still persisted, count = %d", n)
	}

	removed, err := a.Proxy().Cancel(context.Background(), "once")
	if err != nil {
		t.Fatalf("Cancel after fire: %v", err)
	}
	if removed {
		t.Fatal("Cancel reported a live task after it already fired")
	}
}

func TestCancelBeforeFire(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	a, rec := startAgent(t, store)

	if _, err := a.Proxy().Schedule(context.Background(), "doomed", event.NewCheckFree(), "2s", false); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	removed, err := a.Proxy().Cancel(context.Background(), "doomed")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !removed {
		t.Fatal("Cancel reported no live task")
	}
	if store.TaskCount() != 0 {
		t.Fatal("canceled task still persisted")
	}
	rec.expectNone(t, 3*time.Second)
}

func TestCancelUnknownKey(t *testing.T) {
	t.Parallel()
	a, _ := startAgent(t, storage.NewMemory())
	removed, err := a.Proxy().Cancel(context.Background(), "never-scheduled")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if removed {
		t.Fatal("Cancel reported a live task for an unknown key")
	}
}

func TestDuplicateKeyFirstWriterWins(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	a, rec := startAgent(t, store)

	first := event.NewCheckFree()
	first.Set("marker", "first")
	second := event.NewCheckFree()
	second.Set("marker", "second")

	if _, err := a.Proxy().Schedule(context.Background(), "dup", first, "1s", false); err != nil {
		t.Fatalf("Schedule first: %v", err)
	}
	if _, err := a.Proxy().Schedule(context.Background(), "dup", second, "1s", false); err != nil {
		t.Fatalf("Schedule duplicate should be a no-op, got %v", err)
	}

	ev := rec.wait(t, 3*time.Second)
	if ev.Str("marker") != "first" {
		t.Fatalf("fired marker = %q, want the first writer's event", ev.Str("marker"))
	}
	rec.expectNone(t, 1500*time.Millisecond)
}

func TestRepeatRearms(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	a, rec := startAgent(t, store)

	if _, err := a.Proxy().Schedule(context.Background(), "tick", event.NewCheckFree(), "1s", true); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	rec.wait(t, 3*time.Second)
	rec.wait(t, 3*time.Second)

	if _, err := a.Proxy().Cancel(context.Background(), "tick"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if store.TaskCount() != 0 {
		t.Fatal("repeating task still persisted after cancel")
	}
}

func TestScheduleGeneratesKeyWhenAbsent(t *testing.T) {
	t.Parallel()
	a, rec := startAgent(t, storage.NewMemory())

	key, err := a.Proxy().Schedule(context.Background(), "", event.NewCheckFree(), "1h", false)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if key == "" {
		t.Fatal("no key generated for anonymous task")
	}
	removed, err := a.Proxy().Cancel(context.Background(), key)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !removed {
		t.Fatal("generated key did not address the live task")
	}
	rec.expectNone(t, 200*time.Millisecond)
}

func TestScheduleTransientSkipsPersistence(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	a, rec := startAgent(t, store)

	if _, err := a.Proxy().ScheduleTransient(context.Background(), "ephemeral", event.NewCheckFree(), "1s", false); err != nil {
		t.Fatalf("ScheduleTransient: %v", err)
	}
	if store.TaskCount() != 0 {
		t.Fatal("transient task was persisted")
	}
	rec.wait(t, 3*time.Second)
}

func TestRecoveryFiresOverdueTaskOnce(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	// A task that should have fired three times while the process was down.
	err := store.UpsertTask(context.Background(), storage.TaskRecord{
		Key:       "missed",
		EventType: int(event.TypeCron),
		Topic:     event.TopicCheckFree,
		Data:      []byte(`{}`),
		Spec:      "1h",
		Repeat:    false,
		FireAt:    time.Now().Add(-3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, rec := startAgent(t, store)

	rec.wait(t, 3*time.Second)
	rec.expectNone(t, 1500*time.Millisecond)
	if store.TaskCount() != 0 {
		t.Fatal("recovered task still persisted after catch-up firing")
	}
}

func TestRecoveryRearmsOverdueRepeatingTask(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	// A repeating task that missed several occurrences while the process
	// was down: one catch-up firing, then the next occurrence is armed.
	err := store.UpsertTask(context.Background(), storage.TaskRecord{
		Key:       "pulse",
		EventType: int(event.TypeCron),
		Topic:     event.TopicCheckFree,
		Data:      []byte(`{}`),
		Spec:      "1h",
		Repeat:    true,
		FireAt:    time.Now().Add(-3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, rec := startAgent(t, store)

	rec.wait(t, 3*time.Second)
	rec.expectNone(t, 1500*time.Millisecond)
	if n := store.TaskCount(); n != 1 {
		t.Fatalf("persisted tasks = %d, want the re-armed occurrence", n)
	}
}

func TestRecoveryKeepsFutureTaskArmed(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	err := store.UpsertTask(context.Background(), storage.TaskRecord{
		Key:       "later",
		EventType: int(event.TypeCron),
		Topic:     event.TopicCheckFree,
		Data:      []byte(`{}`),
		Spec:      "1h",
		Repeat:    false,
		FireAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, rec := startAgent(t, store)

	rec.expectNone(t, 1500*time.Millisecond)
	if store.TaskCount() != 1 {
		t.Fatal("future task should stay persisted until it fires")
	}
}
