package event

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		kind string
		cmd  string
		args []string
	}{
		{name: "bare bang", text: "!register", kind: CmdKindBang, cmd: "register"},
		{name: "bang with args", text: "!set weapon rubber duck", kind: CmdKindBang, cmd: "set",
			args: []string{"weapon", "rubber", "duck"}},
		{name: "mention", text: "<@UBOT123> target", kind: CmdKindAt, cmd: "target"},
		{name: "mention with args", text: "<@UBOT123> set location the kitchen", kind: CmdKindAt,
			cmd: "set", args: []string{"location", "the", "kitchen"}},
		{name: "not a command", text: "hello there", kind: ""},
		{name: "too short", text: "!hi", kind: ""},
		{name: "uppercase rejected", text: "!REGISTER", kind: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, cmd, args := ParseCommand(tt.text)
			if kind != tt.kind {
				t.Fatalf("kind = %q, want %q", kind, tt.kind)
			}
			if cmd != tt.cmd {
				t.Fatalf("cmd = %q, want %q", cmd, tt.cmd)
			}
			if !reflect.DeepEqual(args, tt.args) {
				t.Fatalf("args = %v, want %v", args, tt.args)
			}
		})
	}
}

func TestValidCommand(t *testing.T) {
	t.Parallel()
	for _, cmd := range []string{CmdRegister, CmdSet, CmdReport, CmdConfirm, CmdDeny, CmdTarget, CmdHelp, CmdTest} {
		if !ValidCommand(cmd) {
			t.Errorf("ValidCommand(%q) = false", cmd)
		}
	}
	for _, cmd := range []string{"sudo", "frag", ""} {
		if ValidCommand(cmd) {
			t.Errorf("ValidCommand(%q) = true", cmd)
		}
	}
}

func TestNewCommandParsesPayload(t *testing.T) {
	t.Parallel()
	ev := NewCommand("U1", "C1", "!set weapon spoon", false)
	if ev.Type != TypeCmd || ev.Topic != TopicRawCommand {
		t.Fatalf("unexpected routing: %v/%q", ev.Type, ev.Topic)
	}
	if ev.Cmd() != "set" || ev.CmdKind() != CmdKindBang {
		t.Fatalf("cmd = %q kind = %q", ev.Cmd(), ev.CmdKind())
	}
	if got := ev.Args(); !reflect.DeepEqual(got, []string{"weapon", "spoon"}) {
		t.Fatalf("args = %v", got)
	}
}

func TestStrsHandlesJSONRoundTripShape(t *testing.T) {
	t.Parallel()
	ev := New(TypeGame, TopicGameStart, Payload{"users": []any{"U1", "U2"}})
	if got := ev.Users(); !reflect.DeepEqual(got, []string{"U1", "U2"}) {
		t.Fatalf("Users = %v", got)
	}
}
