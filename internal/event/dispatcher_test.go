package event

import (
	"errors"
	"testing"

	"hitbot/pkg/logx"
)

type stubProc struct {
	name      string
	followups []Event
	err       error
	panicWith any
	calls     []Event
}

func (s *stubProc) Name() string { return s.name }

func (s *stubProc) Process(ev *Event) ([]Event, error) {
	s.calls = append(s.calls, *ev)
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	return s.followups, s.err
}

func newTestDispatcher(emit func(Event)) *Dispatcher {
	return NewDispatcher(logx.Nop(), nil, emit)
}

func TestDispatchOrderAndHandledFlag(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(nil)
	var order []string
	mk := func(name string) *orderProc { return &orderProc{name: name, order: &order} }

	d.Register(TypeGame, TopicGameStart, mk("a"))
	d.Register(TypeGame, TopicGameStart, mk("b"))
	d.Register(TypeGame, TopicWildcard, mk("wild"))

	ev := NewStartGame("g1", nil)
	if !d.Dispatch(&ev) {
		t.Fatal("Dispatch = false with a matching topical handler")
	}
	want := []string{"a", "b", "wild"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("dispatch order = %v, want %v", order, want)
	}
}

type orderProc struct {
	name  string
	order *[]string
}

func (p *orderProc) Name() string { return p.name }

func (p *orderProc) Process(*Event) ([]Event, error) {
	*p.order = append(*p.order, p.name)
	return nil, nil
}

func TestDispatchWildcardOnlyIsUnhandled(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(nil)
	wild := &stubProc{name: "wild"}
	d.Register(TypeGame, TopicWildcard, wild)

	ev := NewStartGame("g1", nil)
	if d.Dispatch(&ev) {
		t.Fatal("wildcard-only match must not count as handled")
	}
	if len(wild.calls) != 1 {
		t.Fatalf("wildcard handler calls = %d, want 1", len(wild.calls))
	}
}

func TestDispatchNoHandlers(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(nil)
	ev := NewCheckFree()
	if d.Dispatch(&ev) {
		t.Fatal("Dispatch = true with no handlers")
	}
}

func TestDispatchIsolatesFaults(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(nil)
	panicky := &stubProc{name: "panicky", panicWith: "boom"}
	failing := &stubProc{name: "failing", err: errors.New("nope")}
	healthy := &stubProc{name: "healthy"}
	d.Register(TypeGame, TopicGameStart, panicky)
	d.Register(TypeGame, TopicGameStart, failing)
	d.Register(TypeGame, TopicGameStart, healthy)

	ev := NewStartGame("g1", nil)
	if !d.Dispatch(&ev) {
		t.Fatal("Dispatch = false")
	}
	if len(healthy.calls) != 1 {
		t.Fatal("handler after a panicking one was not invoked")
	}
}

func TestDispatchEmitsFollowups(t *testing.T) {
	t.Parallel()
	var emitted []Event
	d := newTestDispatcher(func(ev Event) { emitted = append(emitted, ev) })

	d.Register(TypeGame, TopicGameStart, &stubProc{
		name:      "chainer",
		followups: []Event{NewCheckForWinner("g1"), NewAssignNextRound("g1")},
	})

	ev := NewStartGame("g1", nil)
	d.Dispatch(&ev)
	if len(emitted) != 2 {
		t.Fatalf("emitted %d follow-ups, want 2", len(emitted))
	}
	if emitted[0].Topic != TopicCheckForWinner || emitted[1].Topic != TopicAssignNextRound {
		t.Fatalf("follow-up topics = %q, %q", emitted[0].Topic, emitted[1].Topic)
	}
}

func TestDispatchSkipsFollowupsOnError(t *testing.T) {
	t.Parallel()
	var emitted []Event
	d := newTestDispatcher(func(ev Event) { emitted = append(emitted, ev) })

	d.Register(TypeGame, TopicGameStart, &stubProc{
		name:      "broken",
		followups: []Event{NewCheckForWinner("g1")},
		err:       errors.New("nope"),
	})

	ev := NewStartGame("g1", nil)
	d.Dispatch(&ev)
	if len(emitted) != 0 {
		t.Fatalf("follow-ups emitted from a failed handler: %d", len(emitted))
	}
}
