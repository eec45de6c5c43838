package handler

import (
	"fmt"
	"strings"

	"hitbot/internal/agent"
	"hitbot/internal/event"
	"hitbot/internal/game"
	"hitbot/pkg/logx"
)

const helpText = "Commands (DM only unless noted):\n" +
	"  !register              join the player pool\n" +
	"  !set weapon <desc>     describe your weapon\n" +
	"  !set location <desc>   describe your kill location\n" +
	"  !report                report that you completed your hit\n" +
	"  !confirm               confirm you were eliminated\n" +
	"  !deny                  dispute a kill report\n" +
	"  !target                show your current assignment\n" +
	"  !help                  this text (works anywhere)\n" +
	"  !test                  liveness check (works anywhere)"

// publicCommands may be issued in a channel; everything else is DM-only.
var publicCommands = map[string]struct{}{
	event.CmdHelp: {},
	event.CmdTest: {},
}

// CommandRouter consumes raw commands and fans each out into the user or
// game flow it starts.
type CommandRouter struct {
	Base
}

func NewCommandRouter(deps Deps) *CommandRouter {
	return &CommandRouter{Base: newBase("command.router", deps)}
}

func (h *CommandRouter) Install(p *agent.Proxy) {
	p.Register(event.TypeCmd, event.TopicRawCommand, h)
}

func (h *CommandRouter) Process(ev *event.Event) ([]event.Event, error) {
	cmd := strings.ToLower(ev.Cmd())
	if !event.ValidCommand(cmd) {
		h.log.Debug("ignoring unknown command", logx.String("cmd", cmd), logx.String("user", ev.User()))
		return nil, nil
	}
	if _, public := publicCommands[cmd]; !public && ev.Public() {
		h.dm(ev.User(), "That one only works in a direct message. Secrecy matters.")
		return nil, nil
	}

	user := ev.User()
	switch cmd {
	case event.CmdRegister:
		return h.register(user)
	case event.CmdSet:
		return h.set(user, ev.Args())
	case event.CmdReport:
		return h.report(user)
	case event.CmdConfirm:
		return h.confirm(user)
	case event.CmdDeny:
		return h.deny(user)
	case event.CmdTarget:
		return h.target(user)
	case event.CmdHelp:
		return []event.Event{event.NewSendMessage(user, ev.Channel(), helpText)}, nil
	case event.CmdTest:
		return []event.Event{event.NewSendMessage(user, ev.Channel(), "Still armed and operational.")}, nil
	}
	return nil, nil
}

func (h *CommandRouter) register(user string) ([]event.Event, error) {
	ctx, cancel := opCtx()
	defer cancel()
	p, err := h.deps.Games.UserBySlack(ctx, user)
	if err != nil {
		return nil, err
	}
	if p != nil && p.UID != "" {
		h.dm(user, "You are already registered.")
		return nil, nil
	}
	if err := h.deps.Games.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	link := "the authorization site"
	if h.deps.Auth != nil {
		link = h.deps.Auth.AuthorizeURL(user)
	}
	h.dm(user, "Welcome. Authorize me here to finish signing up: "+link)
	return nil, nil
}

func (h *CommandRouter) set(user string, args []string) ([]event.Event, error) {
	if len(args) < 2 {
		h.dm(user, "Usage: !set weapon <description> or !set location <description>")
		return nil, nil
	}
	key := strings.ToLower(args[0])
	if key != "weapon" && key != "location" {
		h.dm(user, fmt.Sprintf("I can't set %q. Try weapon or location.", key))
		return nil, nil
	}
	value := strings.Join(args[1:], " ")
	return []event.Event{event.NewUpdateUser(user, key, value)}, nil
}

// report starts the kill-confirmation flow: the hitman claims the hit and
// the target gets asked to confirm.
func (h *CommandRouter) report(user string) ([]event.Event, error) {
	ctx, cancel := opCtx()
	defer cancel()
	hit, err := h.deps.Games.HitByHitman(ctx, user)
	if err != nil {
		return nil, err
	}
	if hit == nil || hit.Status != game.HitActive {
		h.dm(user, "You have no active hit to report.")
		return nil, nil
	}
	h.dm(user, "Report received. Waiting for your target to confirm.")
	return []event.Event{event.NewConfirmKill(hit.Target, hit.GameID)}, nil
}

func (h *CommandRouter) confirm(user string) ([]event.Event, error) {
	ctx, cancel := opCtx()
	defer cancel()
	hit, err := h.deps.Games.HitByTarget(ctx, user)
	if err != nil {
		return nil, err
	}
	if hit == nil || hit.Status != game.HitPending {
		h.dm(user, "There is no kill report waiting on you.")
		return nil, nil
	}
	return []event.Event{event.NewKillConfirmed(user, hit.GameID)}, nil
}

func (h *CommandRouter) deny(user string) ([]event.Event, error) {
	ctx, cancel := opCtx()
	defer cancel()
	hit, err := h.deps.Games.HitByTarget(ctx, user)
	if err != nil {
		return nil, err
	}
	if hit == nil || hit.Status != game.HitPending {
		h.dm(user, "There is no kill report waiting on you.")
		return nil, nil
	}
	if err := h.deps.Games.SetHitStatus(ctx, hit.ID, game.HitActive); err != nil {
		return nil, err
	}
	if _, err := h.deps.Proxy.Cancel(ctx, autoConfirmKey(user, hit.GameID)); err != nil {
		h.log.Warn("auto-confirm timer not canceled", logx.String("user", user), logx.Err(err))
	}
	h.dm(user, "Disputed. The hit stays open.")
	h.dm(hit.Hitman, "Your target disputes the kill. The hit is active again.")
	return nil, nil
}

func (h *CommandRouter) target(user string) ([]event.Event, error) {
	ctx, cancel := opCtx()
	defer cancel()
	hit, err := h.deps.Games.HitByHitman(ctx, user)
	if err != nil {
		return nil, err
	}
	if hit == nil || hit.Status != game.HitActive {
		h.dm(user, "You have no active assignment.")
		return nil, nil
	}
	return []event.Event{assignmentMessage(user, hit)}, nil
}
