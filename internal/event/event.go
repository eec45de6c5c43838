// Package event defines the typed, topical messages flowing through the
// agent and the dispatcher that routes them to registered handlers.
package event

import "github.com/rs/xid"

// Type classifies an event. The type is fixed per concrete event kind; the
// topic distinguishes events of the same type for routing.
type Type int

const (
	TypeNull Type = iota
	TypeBase
	TypeMsg
	TypeCmd
	TypeUser
	TypeGame
	TypeCron
)

var typeNames = [...]string{"NULL", "BASE", "MSG", "CMD", "USER", "GAME", "CRON"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "UNKNOWN"
	}
	return typeNames[t]
}

// Payload is an event's untyped key/value data. Keys are unique; values are
// expected to be JSON-serializable (scheduled events round-trip through the
// task store).
type Payload map[string]any

// Event is the unit of communication between handlers. The topic stays
// mutable until the event is dispatched; events are ephemeral and live only
// on the queue, except in their scheduled (persisted) form.
type Event struct {
	// ID is a per-instance trace id; it ties dispatcher log lines for one
	// event together and is not persisted.
	ID    string
	Type  Type
	Topic string
	Data  Payload
}

// New builds an event of the given type and topic. The payload map is used
// as-is; pass nil for an empty payload.
func New(t Type, topic string, data Payload) Event {
	if data == nil {
		data = Payload{}
	}
	return Event{ID: xid.New().String(), Type: t, Topic: topic, Data: data}
}

func (e *Event) Get(key string) (any, bool) {
	v, ok := e.Data[key]
	return v, ok
}

func (e *Event) Set(key string, v any) {
	if e.Data == nil {
		e.Data = Payload{}
	}
	e.Data[key] = v
}

// Str returns the payload value for key as a string ("" when absent or not
// a string).
func (e *Event) Str(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

func (e *Event) Bool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// Strs returns a string-slice payload value. JSON round-trips decode slices
// as []any, so both representations are accepted.
func (e *Event) Strs(key string) []string {
	switch v := e.Data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone returns a shallow copy with its own payload map and a fresh ID.
func (e *Event) Clone() Event {
	data := make(Payload, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	return Event{ID: xid.New().String(), Type: e.Type, Topic: e.Topic, Data: data}
}

// Common payload accessors shared by most event kinds.

func (e *Event) User() string    { return e.Str("user") }
func (e *Event) Channel() string { return e.Str("channel") }
func (e *Event) Text() string    { return e.Str("text") }
func (e *Event) Game() string    { return e.Str("game") }
func (e *Event) Users() []string { return e.Strs("users") }
func (e *Event) Public() bool    { return e.Bool("public") }
