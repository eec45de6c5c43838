// Package handler contains the event handlers implementing the game: user
// registration, the command surface, match lifecycle, and outbound
// messaging. Handlers are installed on the agent's dispatcher and run one
// at a time on its consumer goroutine.
package handler

import (
	"context"
	"time"

	"hitbot/internal/agent"
	"hitbot/internal/event"
	"hitbot/internal/slack"
	"hitbot/internal/storage"
	"hitbot/pkg/logx"
)

// Handler is a Processor that knows how to register itself.
type Handler interface {
	event.Processor
	Install(p *agent.Proxy)
}

// GameConfig is the game-tuning view handlers see.
type GameConfig struct {
	// Size is the number of players per match.
	Size int
	// Channel is the public channel for announcements.
	Channel string
	// CheckFree is the repeat spec for polling the free-player pool.
	CheckFree string
	// AssignAt is the repeat spec for the round reassignment sweep.
	AssignAt string
	// ConfirmWindow is the delay before an unanswered kill report is
	// confirmed automatically.
	ConfirmWindow string
}

// Authorizer is the auth-site surface handlers use: the link a player opens
// to prove account ownership, and the check that a uid reported back by the
// callback is actually authorized there.
type Authorizer interface {
	AuthorizeURL(slackID string) string
	Verify(ctx context.Context, uid string) (bool, error)
}

// Deps is the dependency bundle handed to every handler.
type Deps struct {
	Proxy  *agent.Proxy
	Games  storage.GameStore
	Notify slack.Notifier
	Auth   Authorizer
	Cfg    GameConfig
	Log    logx.Logger
}

// Base carries the shared plumbing; concrete handlers embed it.
type Base struct {
	name string
	deps Deps
	log  logx.Logger
}

func newBase(name string, deps Deps) Base {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return Base{name: name, deps: deps, log: log.With(logx.String("handler", name))}
}

func (b *Base) Name() string { return b.name }

// opCtx bounds one storage or delivery operation.
func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// dm queues a direct message to a user, logging delivery refusals instead
// of failing the handler.
func (b *Base) dm(user, text string) {
	b.send(slack.Message{Channel: user, Text: text})
}

func (b *Base) send(m slack.Message) {
	if b.deps.Notify == nil {
		return
	}
	ctx, cancel := opCtx()
	defer cancel()
	if err := b.deps.Notify.Send(ctx, m); err != nil {
		b.log.Warn("message not queued", logx.String("channel", m.Channel), logx.Err(err))
	}
}

// InstallAll wires the complete handler set.
func InstallAll(deps Deps) {
	handlers := []Handler{
		NewCommandRouter(deps),
		NewUserValidate(deps),
		NewUserUpdate(deps),
		NewUserUpdated(deps),
		NewCollectInfo(deps),
		NewUserRegistered(deps),
		NewFreeMonitor(deps),
		NewGameSetup(deps),
		NewLockUsers(deps),
		NewAssignInitial(deps),
		NewGameStart(deps),
		NewConfirmKill(deps),
		NewKillConfirmed(deps),
		NewAssignNextRound(deps),
		NewCheckWinner(deps),
		NewGameEnd(deps),
		NewMessageSend(deps),
		NewStructuredSend(deps),
		NewAssignmentNotify(deps),
		NewConfirmPrompt(deps),
		NewChatterLog(deps),
	}
	for _, h := range handlers {
		h.Install(deps.Proxy)
	}
}
