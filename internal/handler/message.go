package handler

import (
	"fmt"

	"hitbot/internal/agent"
	"hitbot/internal/event"
	"hitbot/internal/game"
	"hitbot/internal/slack"
	"hitbot/pkg/logx"
)

func announceMessage(channel, text string) slack.Message {
	return slack.Message{Channel: channel, Text: text}
}

// assignmentMessage renders a hit contract as a structured DM for its
// hitman.
func assignmentMessage(hitman string, hit *game.Hit) event.Event {
	return event.NewStructuredMessage(hitman, "", event.Payload{
		"pretext": "Your assignment. Memorize and delete.",
		"fields": []event.StructuredField{
			{Title: "Target", Value: fmt.Sprintf("<@%s>", hit.Target)},
			{Title: "Weapon", Value: hit.Weapon},
			{Title: "Location", Value: hit.Location},
		},
	})
}

// MessageSend delivers plain outbound text. A channel in the payload wins
// over a user; a user alone means a DM.
type MessageSend struct {
	Base
}

func NewMessageSend(deps Deps) *MessageSend {
	return &MessageSend{Base: newBase("msg.send", deps)}
}

func (h *MessageSend) Install(p *agent.Proxy) {
	p.Register(event.TypeMsg, event.TopicSendMessage, h)
}

func (h *MessageSend) Process(ev *event.Event) ([]event.Event, error) {
	dest := ev.Channel()
	if dest == "" {
		dest = ev.User()
	}
	if dest == "" || ev.Text() == "" {
		return nil, fmt.Errorf("outbound message missing destination or text")
	}
	h.send(slack.Message{Channel: dest, Text: ev.Text()})
	return nil, nil
}

// StructuredSend delivers attachment-style outbound messages.
type StructuredSend struct {
	Base
}

func NewStructuredSend(deps Deps) *StructuredSend {
	return &StructuredSend{Base: newBase("msg.structured", deps)}
}

func (h *StructuredSend) Install(p *agent.Proxy) {
	p.Register(event.TypeMsg, event.TopicStructuredMessage, h)
}

func (h *StructuredSend) Process(ev *event.Event) ([]event.Event, error) {
	dest := ev.Channel()
	if dest == "" {
		dest = ev.User()
	}
	if dest == "" {
		return nil, fmt.Errorf("structured message missing destination")
	}
	att := slack.Attachment{Pretext: ev.Str("pretext"), Color: "#764FA5"}
	for _, f := range ev.Fields() {
		att.Fields = append(att.Fields, slack.Field{Title: f.Title, Value: f.Value, Short: true})
	}
	h.send(slack.Message{Channel: dest, Attachments: []slack.Attachment{att}})
	return nil, nil
}

// AssignmentNotify looks up a hitman's live contract and DMs it to them.
type AssignmentNotify struct {
	Base
}

func NewAssignmentNotify(deps Deps) *AssignmentNotify {
	return &AssignmentNotify{Base: newBase("msg.assignment", deps)}
}

func (h *AssignmentNotify) Install(p *agent.Proxy) {
	p.Register(event.TypeMsg, event.TopicAssignmentNotify, h)
}

func (h *AssignmentNotify) Process(ev *event.Event) ([]event.Event, error) {
	user := ev.User()
	ctx, cancel := opCtx()
	defer cancel()
	hit, err := h.deps.Games.HitByHitman(ctx, user)
	if err != nil {
		return nil, err
	}
	if hit == nil || hit.Status != game.HitActive {
		return nil, fmt.Errorf("no active contract to announce for %s", user)
	}
	return []event.Event{assignmentMessage(user, hit)}, nil
}

// ConfirmPrompt asks a reported target to settle the claim.
type ConfirmPrompt struct {
	Base
}

func NewConfirmPrompt(deps Deps) *ConfirmPrompt {
	return &ConfirmPrompt{Base: newBase("msg.confirm", deps)}
}

func (h *ConfirmPrompt) Install(p *agent.Proxy) {
	p.Register(event.TypeMsg, event.TopicConfirmKillMessage, h)
}

func (h *ConfirmPrompt) Process(ev *event.Event) ([]event.Event, error) {
	h.dm(ev.User(), "Your hitman claims the contract is done. "+
		"Reply !confirm if true, !deny if not. Silence counts as a confirmation.")
	return nil, nil
}

// ChatterLog watches plain inbound messages. It exists so untargeted
// chatter is visible at debug level rather than warned about as unhandled.
type ChatterLog struct {
	Base
}

func NewChatterLog(deps Deps) *ChatterLog {
	return &ChatterLog{Base: newBase("msg.chatter", deps)}
}

func (h *ChatterLog) Install(p *agent.Proxy) {
	p.Register(event.TypeMsg, "", h)
}

func (h *ChatterLog) Process(ev *event.Event) ([]event.Event, error) {
	h.log.Debug("chatter", logx.String("user", ev.User()), logx.String("channel", ev.Channel()))
	return nil, nil
}
