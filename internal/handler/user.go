package handler

import (
	"fmt"

	"hitbot/internal/agent"
	"hitbot/internal/event"
	"hitbot/internal/game"
	"hitbot/pkg/logx"
)

// UserValidate consumes authorization callbacks and links the external uid
// to the chat identity.
type UserValidate struct {
	Base
}

func NewUserValidate(deps Deps) *UserValidate {
	return &UserValidate{Base: newBase("user.validate", deps)}
}

func (h *UserValidate) Install(p *agent.Proxy) {
	p.Register(event.TypeUser, event.TopicUserValidate, h)
}

func (h *UserValidate) Process(ev *event.Event) ([]event.Event, error) {
	user := ev.User()
	if ev.Failed() || !ev.Validated() {
		h.dm(user, "Authorization failed. Try !register again.")
		return nil, nil
	}
	ctx, cancel := opCtx()
	defer cancel()
	// The callback's valid flag is a claim; the uid is linked only after the
	// auth site confirms it.
	if h.deps.Auth != nil {
		ok, err := h.deps.Auth.Verify(ctx, ev.UID())
		if err != nil {
			return nil, fmt.Errorf("verify uid for %s: %w", user, err)
		}
		if !ok {
			h.log.Warn("uid rejected by auth site", logx.String("user", user))
			h.dm(user, "Authorization failed. Try !register again.")
			return nil, nil
		}
	}
	if err := h.deps.Games.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	if err := h.deps.Games.ValidateUser(ctx, user, ev.UID()); err != nil {
		return nil, err
	}
	h.log.Info("user validated", logx.String("user", user))
	return []event.Event{event.NewCollectInfo(user)}, nil
}

// UserUpdate applies a profile field change.
type UserUpdate struct {
	Base
}

func NewUserUpdate(deps Deps) *UserUpdate {
	return &UserUpdate{Base: newBase("user.update", deps)}
}

func (h *UserUpdate) Install(p *agent.Proxy) {
	p.Register(event.TypeUser, event.TopicUserUpdate, h)
}

func (h *UserUpdate) Process(ev *event.Event) ([]event.Event, error) {
	user := ev.User()
	key, value := ev.Str("key"), ev.Str("value")

	ctx, cancel := opCtx()
	defer cancel()
	p, err := h.deps.Games.UserBySlack(ctx, user)
	if err != nil {
		return nil, err
	}
	if p == nil {
		h.dm(user, "You are not registered yet. Start with !register.")
		return nil, nil
	}
	if p.Locked {
		h.dm(user, "You are in a match. Your profile is locked until it ends.")
		return nil, nil
	}

	switch key {
	case "weapon":
		err = h.deps.Games.SetWeapon(ctx, user, value)
	case "location":
		err = h.deps.Games.SetLocation(ctx, user, value)
	default:
		return nil, fmt.Errorf("unknown profile field %q", key)
	}
	if err != nil {
		return nil, err
	}
	h.dm(user, fmt.Sprintf("Your %s is now: %s", key, value))
	return []event.Event{event.NewUserUpdated(user)}, nil
}

// UserUpdated promotes a player into the free pool once the profile is
// complete and the account is authorized.
type UserUpdated struct {
	Base
}

func NewUserUpdated(deps Deps) *UserUpdated {
	return &UserUpdated{Base: newBase("user.updated", deps)}
}

func (h *UserUpdated) Install(p *agent.Proxy) {
	p.Register(event.TypeUser, event.TopicUserUpdated, h)
}

func (h *UserUpdated) Process(ev *event.Event) ([]event.Event, error) {
	user := ev.User()
	ctx, cancel := opCtx()
	defer cancel()
	complete, err := h.deps.Games.MarkComplete(ctx, user)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, nil
	}
	p, err := h.deps.Games.UserBySlack(ctx, user)
	if err != nil {
		return nil, err
	}
	if p == nil || p.UID == "" || p.Status != game.StatusNew {
		return nil, nil
	}
	if err := h.deps.Games.SetStatus(ctx, user, game.StatusFree); err != nil {
		return nil, err
	}
	return []event.Event{event.NewUserRegistered(user)}, nil
}

// CollectInfo prompts a freshly authorized player for the profile fields a
// match needs.
type CollectInfo struct {
	Base
}

func NewCollectInfo(deps Deps) *CollectInfo {
	return &CollectInfo{Base: newBase("user.collect", deps)}
}

func (h *CollectInfo) Install(p *agent.Proxy) {
	p.Register(event.TypeUser, event.TopicUserInfo, h)
}

func (h *CollectInfo) Process(ev *event.Event) ([]event.Event, error) {
	h.dm(ev.User(), "You're authorized. Two things before you can play:\n"+
		"  !set weapon <description>\n"+
		"  !set location <description>\n"+
		"Both will be handed to whoever draws the hit on you.")
	return nil, nil
}

// UserRegistered welcomes a player into the free pool.
type UserRegistered struct {
	Base
}

func NewUserRegistered(deps Deps) *UserRegistered {
	return &UserRegistered{Base: newBase("user.registered", deps)}
}

func (h *UserRegistered) Install(p *agent.Proxy) {
	p.Register(event.TypeUser, event.TopicUserRegistered, h)
}

func (h *UserRegistered) Process(ev *event.Event) ([]event.Event, error) {
	h.log.Info("player joined the pool", logx.String("user", ev.User()))
	h.dm(ev.User(), "You're in the pool. You'll hear from me when a match forms.")
	return nil, nil
}
