package event

import (
	"regexp"
	"strings"
)

// Topics routed by the dispatcher. TopicWildcard handlers receive every
// event of their type, after topic-specific handlers.
const (
	TopicWildcard = "*"

	TopicRawCommand = "cmd_raw"

	TopicSendMessage        = "msg_send"
	TopicStructuredMessage  = "msg_structured"
	TopicAssignmentNotify   = "msg_assignment"
	TopicConfirmKillMessage = "msg_confirmation"

	TopicUserValidate   = "user_validate"
	TopicUserUpdate     = "user_update"
	TopicUserUpdated    = "user_updated"
	TopicUserInfo       = "user_info"
	TopicUserRegistered = "user_registered"

	TopicGameSetup         = "game_setup"
	TopicLockUsers         = "cron_lock"
	TopicAssignInitialHits = "game_assign_initial"
	TopicGameStart         = "game_start"
	TopicConfirmKill       = "game_confirm"
	TopicKillConfirmed     = "game_confirmed"
	TopicAssignNextRound   = "game_assign_next"
	TopicCheckForWinner    = "game_check_winner"
	TopicGameEnd           = "game_end"

	TopicCheckFree = "cron_check_free"
)

// Commands the bot understands. A parsed command outside this set is
// ignored by the command router.
const (
	CmdRegister = "register"
	CmdSet      = "set"
	CmdReport   = "report"
	CmdConfirm  = "confirm"
	CmdDeny     = "deny"
	CmdTarget   = "target"
	CmdHelp     = "help"
	CmdTest     = "test"
)

var validCommands = map[string]struct{}{
	CmdRegister: {}, CmdSet: {}, CmdReport: {}, CmdConfirm: {},
	CmdDeny: {}, CmdTarget: {}, CmdHelp: {}, CmdTest: {},
}

// ValidCommand reports whether cmd is in the closed command set.
func ValidCommand(cmd string) bool {
	_, ok := validCommands[strings.ToLower(cmd)]
	return ok
}

// Command invocation styles: "!cmd args" anywhere, "<@BOT> cmd args" as a
// mention.
const (
	CmdKindBang = "bang"
	CmdKindAt   = "at"
)

var (
	reBangCmd = regexp.MustCompile(`^!(?P<cmd>[a-z]{3,10})(?:[ \t]+(?P<args>[\w ]+))?`)
	reAtCmd   = regexp.MustCompile(`^<@(?P<user>\w+)>\s+(?P<cmd>[a-z]{3,10})(?:[ \t]+(?P<args>[\w ]+))?`)
)

// ParseCommand extracts the command and arguments from raw message text.
// kind is "" when the text is not a command at all.
func ParseCommand(text string) (kind, cmd string, args []string) {
	if m := reBangCmd.FindStringSubmatch(text); m != nil {
		return CmdKindBang, m[reBangCmd.SubexpIndex("cmd")], splitArgs(m[reBangCmd.SubexpIndex("args")])
	}
	if m := reAtCmd.FindStringSubmatch(text); m != nil {
		return CmdKindAt, m[reAtCmd.SubexpIndex("cmd")], splitArgs(m[reAtCmd.SubexpIndex("args")])
	}
	return "", "", nil
}

func splitArgs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// ---- Message / command events ----

// NewMessage is a plain inbound chat message. It carries the empty topic,
// reaching MSG handlers registered on "" and wildcard MSG handlers.
func NewMessage(user, channel, text string, public bool) Event {
	return New(TypeMsg, "", Payload{"user": user, "channel": channel, "text": text, "public": public})
}

// NewCommand parses text as a command and produces the raw-command event
// the router consumes.
func NewCommand(user, channel, text string, public bool) Event {
	kind, cmd, args := ParseCommand(text)
	return New(TypeCmd, TopicRawCommand, Payload{
		"user": user, "channel": channel, "text": text, "public": public,
		"cmd_kind": kind, "cmd": cmd, "args": args,
	})
}

func (e *Event) Cmd() string     { return e.Str("cmd") }
func (e *Event) CmdKind() string { return e.Str("cmd_kind") }
func (e *Event) Args() []string  { return e.Strs("args") }

// NewSendMessage is an outbound plain-text message. dest semantics: user
// for a DM, channel for a channel post (channel wins when both are set).
func NewSendMessage(user, channel, text string) Event {
	return New(TypeMsg, TopicSendMessage, Payload{"user": user, "channel": channel, "text": text})
}

// StructuredField is one title/value pair of a structured message block.
type StructuredField struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// NewStructuredMessage is an outbound attachment-style message.
func NewStructuredMessage(user, channel string, data Payload) Event {
	if data == nil {
		data = Payload{}
	}
	data["user"] = user
	data["channel"] = channel
	return New(TypeMsg, TopicStructuredMessage, data)
}

// Fields returns the structured field list of a structured message event.
func (e *Event) Fields() []StructuredField {
	fs, _ := e.Data["fields"].([]StructuredField)
	return fs
}

func NewAssignmentNotify(user, gameID string) Event {
	return New(TypeMsg, TopicAssignmentNotify, Payload{"user": user, "game": gameID})
}

func NewConfirmKillMessage(user string) Event {
	return New(TypeMsg, TopicConfirmKillMessage, Payload{"user": user})
}

// ---- User events ----

// NewValidation carries the auth callback outcome for a chat user.
func NewValidation(user, uid string, valid, failed bool) Event {
	return New(TypeUser, TopicUserValidate, Payload{"user": user, "uid": uid, "valid": valid, "failed": failed})
}

func (e *Event) UID() string     { return e.Str("uid") }
func (e *Event) Validated() bool { return e.Bool("valid") }
func (e *Event) Failed() bool    { return e.Bool("failed") }

func NewUpdateUser(user, key, value string) Event {
	return New(TypeUser, TopicUserUpdate, Payload{"user": user, "key": key, "value": value})
}

func NewUserUpdated(user string) Event {
	return New(TypeUser, TopicUserUpdated, Payload{"user": user})
}

func NewCollectInfo(user string) Event {
	return New(TypeUser, TopicUserInfo, Payload{"user": user})
}

func NewUserRegistered(user string) Event {
	return New(TypeUser, TopicUserRegistered, Payload{"user": user})
}

// ---- Game events ----

func NewGameSetup() Event {
	return New(TypeGame, TopicGameSetup, nil)
}

func NewLockUsers(gameID string, users []string) Event {
	return New(TypeGame, TopicLockUsers, Payload{"game": gameID, "users": users})
}

func NewAssignInitialHits(gameID string, users []string) Event {
	return New(TypeGame, TopicAssignInitialHits, Payload{"game": gameID, "users": users})
}

func NewStartGame(gameID string, users []string) Event {
	return New(TypeGame, TopicGameStart, Payload{"game": gameID, "users": users})
}

func NewConfirmKill(user, gameID string) Event {
	return New(TypeGame, TopicConfirmKill, Payload{"user": user, "game": gameID})
}

func NewKillConfirmed(user, gameID string) Event {
	return New(TypeGame, TopicKillConfirmed, Payload{"user": user, "game": gameID})
}

func NewAssignNextRound(gameID string) Event {
	return New(TypeGame, TopicAssignNextRound, Payload{"game": gameID})
}

func NewCheckForWinner(gameID string) Event {
	return New(TypeGame, TopicCheckForWinner, Payload{"game": gameID})
}

func NewEndGame(gameID, winner string) Event {
	return New(TypeGame, TopicGameEnd, Payload{"game": gameID, "winner": winner})
}

func (e *Event) Winner() string { return e.Str("winner") }

// ---- Cron events ----

func NewCheckFree() Event {
	return New(TypeCron, TopicCheckFree, nil)
}
