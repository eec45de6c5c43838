package handler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"hitbot/internal/agent"
	"hitbot/internal/event"
	"hitbot/internal/game"
	"hitbot/internal/slack"
	"hitbot/internal/storage"
	"hitbot/pkg/logx"
)

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []slack.Message
}

func (f *fakeNotifier) Send(_ context.Context, m slack.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeNotifier) sent() []slack.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]slack.Message(nil), f.msgs...)
}

func (f *fakeNotifier) lastTo(t *testing.T, channel string) slack.Message {
	t.Helper()
	msgs := f.sent()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Channel == channel {
			return msgs[i]
		}
	}
	t.Fatalf("no message sent to %q (have %d messages)", channel, len(msgs))
	return slack.Message{}
}

// fakeAuth answers every Verify call the same way.
type fakeAuth struct {
	verified  bool
	verifyErr error
}

func (f *fakeAuth) AuthorizeURL(slackID string) string {
	return "https://game.example.com/authorize?user=" + slackID
}

func (f *fakeAuth) Verify(context.Context, string) (bool, error) {
	return f.verified, f.verifyErr
}

// testDeps builds a handler dependency bundle around an in-memory store and
// an agent whose timers are armed but never run.
func testDeps(t *testing.T) (Deps, *storage.Memory, *fakeNotifier) {
	t.Helper()
	store := storage.NewMemory()
	a := agent.New(store, time.UTC, logx.Nop(), nil)
	notify := &fakeNotifier{}
	deps := Deps{
		Proxy:  a.Proxy(),
		Games:  store,
		Notify: notify,
		Auth:   &fakeAuth{verified: true},
		Cfg: GameConfig{
			Size:          3,
			Channel:       "C-ANNOUNCE",
			CheckFree:     "1h",
			AssignAt:      "21:00",
			ConfirmWindow: "12h",
		},
		Log: logx.Nop(),
	}
	return deps, store, notify
}

func addFreePlayer(t *testing.T, store *storage.Memory, id string) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateUser(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := store.SetWeapon(ctx, id, "weapon of "+id); err != nil {
		t.Fatal(err)
	}
	if err := store.SetLocation(ctx, id, "location of "+id); err != nil {
		t.Fatal(err)
	}
	if err := store.ValidateUser(ctx, id, "uid-"+id); err != nil {
		t.Fatal(err)
	}
	if err := store.SetStatus(ctx, id, game.StatusFree); err != nil {
		t.Fatal(err)
	}
}

func process(t *testing.T, h Handler, ev event.Event) []event.Event {
	t.Helper()
	out, err := h.Process(&ev)
	if err != nil {
		t.Fatalf("%s.Process: %v", h.Name(), err)
	}
	return out
}

func TestRegisterSendsAuthLink(t *testing.T) {
	t.Parallel()
	deps, store, notify := testDeps(t)
	router := NewCommandRouter(deps)

	out := process(t, router, event.NewCommand("U1", "D1", "!register", false))
	if len(out) != 0 {
		t.Fatalf("register produced %d follow-ups", len(out))
	}
	p, err := store.UserBySlack(context.Background(), "U1")
	if err != nil || p == nil {
		t.Fatalf("player not created: %v", err)
	}
	msg := notify.lastTo(t, "U1")
	if !strings.Contains(msg.Text, "/authorize?user=U1") {
		t.Fatalf("auth link missing from %q", msg.Text)
	}
}

func TestPrivateCommandRejectedInPublic(t *testing.T) {
	t.Parallel()
	deps, _, notify := testDeps(t)
	router := NewCommandRouter(deps)

	out := process(t, router, event.NewCommand("U1", "C-GENERAL", "!report", true))
	if len(out) != 0 {
		t.Fatalf("public !report produced follow-ups")
	}
	msg := notify.lastTo(t, "U1")
	if !strings.Contains(msg.Text, "direct message") {
		t.Fatalf("expected DM-only warning, got %q", msg.Text)
	}
}

func TestHelpWorksInPublic(t *testing.T) {
	t.Parallel()
	deps, _, _ := testDeps(t)
	router := NewCommandRouter(deps)

	out := process(t, router, event.NewCommand("U1", "C-GENERAL", "!help", true))
	if len(out) != 1 || out[0].Topic != event.TopicSendMessage {
		t.Fatalf("help follow-ups = %v", out)
	}
}

func TestSetCommandEmitsUpdate(t *testing.T) {
	t.Parallel()
	deps, _, _ := testDeps(t)
	router := NewCommandRouter(deps)

	out := process(t, router, event.NewCommand("U1", "D1", "!set weapon rubber chicken", false))
	if len(out) != 1 || out[0].Topic != event.TopicUserUpdate {
		t.Fatalf("follow-ups = %v", out)
	}
	if out[0].Str("key") != "weapon" || out[0].Str("value") != "rubber chicken" {
		t.Fatalf("payload = %v", out[0].Data)
	}
}

func TestRegistrationFlowPromotesToFree(t *testing.T) {
	t.Parallel()
	deps, store, _ := testDeps(t)
	ctx := context.Background()
	if err := store.CreateUser(ctx, "U1"); err != nil {
		t.Fatal(err)
	}

	out := process(t, NewUserValidate(deps), event.NewValidation("U1", "uid-1", true, false))
	if len(out) != 1 || out[0].Topic != event.TopicUserInfo {
		t.Fatalf("validate follow-ups = %v", out)
	}

	update := NewUserUpdate(deps)
	updated := NewUserUpdated(deps)

	out = process(t, update, event.NewUpdateUser("U1", "weapon", "banana"))
	if len(out) != 1 {
		t.Fatal("weapon update produced no user_updated")
	}
	out = process(t, updated, out[0])
	if len(out) != 0 {
		t.Fatal("incomplete profile must not register")
	}

	out = process(t, update, event.NewUpdateUser("U1", "location", "roof"))
	out = process(t, updated, out[0])
	if len(out) != 1 || out[0].Topic != event.TopicUserRegistered {
		t.Fatalf("complete profile follow-ups = %v", out)
	}

	p, err := store.UserBySlack(ctx, "U1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != game.StatusFree || !p.Complete {
		t.Fatalf("player = %+v", p)
	}
}

func TestFailedValidationDoesNotLink(t *testing.T) {
	t.Parallel()
	deps, store, notify := testDeps(t)
	if err := store.CreateUser(context.Background(), "U1"); err != nil {
		t.Fatal(err)
	}

	out := process(t, NewUserValidate(deps), event.NewValidation("U1", "uid-1", false, true))
	if len(out) != 0 {
		t.Fatalf("failed validation produced follow-ups: %v", out)
	}
	p, _ := store.UserBySlack(context.Background(), "U1")
	if p.UID != "" {
		t.Fatalf("uid linked on failed validation: %q", p.UID)
	}
	msg := notify.lastTo(t, "U1")
	if !strings.Contains(msg.Text, "failed") {
		t.Fatalf("expected failure notice, got %q", msg.Text)
	}
}

func TestValidationRejectsUnverifiedUID(t *testing.T) {
	t.Parallel()
	deps, store, notify := testDeps(t)
	deps.Auth = &fakeAuth{verified: false}
	if err := store.CreateUser(context.Background(), "U1"); err != nil {
		t.Fatal(err)
	}

	out := process(t, NewUserValidate(deps), event.NewValidation("U1", "uid-1", true, false))
	if len(out) != 0 {
		t.Fatalf("unverified uid produced follow-ups: %v", out)
	}
	p, _ := store.UserBySlack(context.Background(), "U1")
	if p.UID != "" {
		t.Fatalf("unverified uid was linked: %q", p.UID)
	}
	msg := notify.lastTo(t, "U1")
	if !strings.Contains(msg.Text, "failed") {
		t.Fatalf("expected failure notice, got %q", msg.Text)
	}
}

func TestValidationSurfacesVerifyError(t *testing.T) {
	t.Parallel()
	deps, store, _ := testDeps(t)
	deps.Auth = &fakeAuth{verifyErr: fmt.Errorf("auth site unreachable")}
	if err := store.CreateUser(context.Background(), "U1"); err != nil {
		t.Fatal(err)
	}

	ev := event.NewValidation("U1", "uid-1", true, false)
	if _, err := NewUserValidate(deps).Process(&ev); err == nil {
		t.Fatal("verify failure should fail the handler")
	}
	p, _ := store.UserBySlack(context.Background(), "U1")
	if p.UID != "" {
		t.Fatalf("uid linked despite verify failure: %q", p.UID)
	}
}

// runMatchSetup drives setup -> lock -> assign -> start and returns the
// game id and its players.
func runMatchSetup(t *testing.T, deps Deps, store *storage.Memory) (string, []string) {
	t.Helper()
	out := process(t, NewGameSetup(deps), event.NewGameSetup())
	if len(out) != 1 || out[0].Topic != event.TopicLockUsers {
		t.Fatalf("setup follow-ups = %v", out)
	}
	gameID, users := out[0].Game(), out[0].Users()

	out = process(t, NewLockUsers(deps), out[0])
	if len(out) != 1 || out[0].Topic != event.TopicAssignInitialHits {
		t.Fatalf("lock follow-ups = %v", out)
	}
	out = process(t, NewAssignInitial(deps), out[0])
	if len(out) != 1 || out[0].Topic != event.TopicGameStart {
		t.Fatalf("assign follow-ups = %v", out)
	}
	out = process(t, NewGameStart(deps), out[0])
	if len(out) != len(users) {
		t.Fatalf("start produced %d notifications for %d players", len(out), len(users))
	}
	return gameID, users
}

func TestMatchSetupDealsDerangedHits(t *testing.T) {
	t.Parallel()
	deps, store, _ := testDeps(t)
	players := []string{"U1", "U2", "U3"}
	for _, u := range players {
		addFreePlayer(t, store, u)
	}

	gameID, users := runMatchSetup(t, deps, store)
	if len(users) != 3 {
		t.Fatalf("drafted %d players", len(users))
	}

	ctx := context.Background()
	targeted := map[string]bool{}
	for _, u := range users {
		p, err := store.UserBySlack(ctx, u)
		if err != nil {
			t.Fatal(err)
		}
		if p.Status != game.StatusInGame || !p.Locked {
			t.Fatalf("player %s = %+v", u, p)
		}
		hit, err := store.HitByHitman(ctx, u)
		if err != nil {
			t.Fatal(err)
		}
		if hit == nil || hit.Status != game.HitActive {
			t.Fatalf("player %s has no active hit", u)
		}
		if hit.Target == u {
			t.Fatalf("player %s was assigned their own hit", u)
		}
		if hit.GameID != gameID {
			t.Fatalf("hit game = %s, want %s", hit.GameID, gameID)
		}
		if targeted[hit.Target] {
			t.Fatalf("target %s drawn twice", hit.Target)
		}
		targeted[hit.Target] = true
	}

	// The reassignment sweep is armed and durable.
	if store.TaskCount() != 1 {
		t.Fatalf("persisted tasks = %d, want the assign-next sweep", store.TaskCount())
	}
}

func TestSetupWithoutEnoughPlayersIsQuiet(t *testing.T) {
	t.Parallel()
	deps, store, _ := testDeps(t)
	addFreePlayer(t, store, "U1")

	out := process(t, NewGameSetup(deps), event.NewGameSetup())
	if len(out) != 0 {
		t.Fatalf("setup with 1 free player produced %v", out)
	}
	if store.TaskCount() != 0 {
		t.Fatal("no timers should be armed")
	}
}

func TestKillFlow(t *testing.T) {
	t.Parallel()
	deps, store, notify := testDeps(t)
	for _, u := range []string{"U1", "U2", "U3"} {
		addFreePlayer(t, store, u)
	}
	gameID, _ := runMatchSetup(t, deps, store)
	ctx := context.Background()

	// The hitman on U-whatever reports; walk the chain by hand.
	hit, err := store.HitByTarget(ctx, "U2")
	if err != nil || hit == nil {
		t.Fatalf("no hit on U2: %v", err)
	}
	hitman := hit.Hitman

	out := process(t, NewCommandRouter(deps), event.NewCommand(hitman, "D", "!report", false))
	if len(out) != 1 || out[0].Topic != event.TopicConfirmKill {
		t.Fatalf("report follow-ups = %v", out)
	}
	if out[0].User() != "U2" {
		t.Fatalf("confirm aimed at %q, want the target U2", out[0].User())
	}

	out = process(t, NewConfirmKill(deps), out[0])
	if len(out) != 1 || out[0].Topic != event.TopicConfirmKillMessage {
		t.Fatalf("confirm-kill follow-ups = %v", out)
	}
	hit, _ = store.HitByTarget(ctx, "U2")
	if hit.Status != game.HitPending {
		t.Fatalf("hit status = %v, want PENDING", hit.Status)
	}
	// auto-confirm + assign-next sweep
	if store.TaskCount() != 2 {
		t.Fatalf("persisted tasks = %d, want 2", store.TaskCount())
	}

	out = process(t, NewKillConfirmed(deps), event.NewKillConfirmed("U2", gameID))
	topics := map[string]bool{}
	for _, ev := range out {
		topics[ev.Topic] = true
	}
	if !topics[event.TopicCheckForWinner] || !topics[event.TopicAssignNextRound] {
		t.Fatalf("confirmed follow-ups = %v", out)
	}

	p, _ := store.UserBySlack(ctx, "U2")
	if p.Status != game.StatusDead {
		t.Fatalf("target status = %v, want DEAD", p.Status)
	}
	k, _ := store.UserBySlack(ctx, hitman)
	if k.Status != game.StatusStandby {
		t.Fatalf("killer status = %v, want STANDBY", k.Status)
	}
	own, _ := store.HitByHitman(ctx, "U2")
	if own.Status != game.HitOpen {
		t.Fatalf("victim's contract = %v, want OPEN", own.Status)
	}
	if store.TaskCount() != 1 {
		t.Fatalf("auto-confirm should be canceled, tasks = %d", store.TaskCount())
	}
	notify.lastTo(t, hitman) // killer is told

	// Three players, one dead: the freed contract pool matches the one
	// standby killer, unless the only open contract targets the killer
	// themselves (then the sweep waits).
	out = process(t, NewAssignNextRound(deps), event.NewAssignNextRound(gameID))
	openAfter, _ := store.OpenHits(ctx, gameID)
	if own, _ := store.HitByHitman(ctx, "U2"); own.Target != hitman {
		if len(out) != 1 || out[0].Topic != event.TopicAssignmentNotify {
			t.Fatalf("reassignment follow-ups = %v", out)
		}
		if len(openAfter) != 0 {
			t.Fatalf("open hits after reassignment = %d", len(openAfter))
		}
		k, _ = store.UserBySlack(ctx, hitman)
		if k.Status != game.StatusInGame {
			t.Fatalf("reassigned killer status = %v", k.Status)
		}
	}
}

func TestCheckWinnerAndGameEnd(t *testing.T) {
	t.Parallel()
	deps, store, notify := testDeps(t)
	for _, u := range []string{"U1", "U2", "U3"} {
		addFreePlayer(t, store, u)
	}
	gameID, users := runMatchSetup(t, deps, store)
	ctx := context.Background()

	// Nobody dead yet: no winner.
	out := process(t, NewCheckWinner(deps), event.NewCheckForWinner(gameID))
	if len(out) != 0 {
		t.Fatalf("premature winner: %v", out)
	}

	// Kill all but one.
	for _, u := range users[1:] {
		if err := store.SetStatus(ctx, u, game.StatusDead); err != nil {
			t.Fatal(err)
		}
	}
	out = process(t, NewCheckWinner(deps), event.NewCheckForWinner(gameID))
	if len(out) != 1 || out[0].Topic != event.TopicGameEnd {
		t.Fatalf("winner follow-ups = %v", out)
	}
	if out[0].Winner() != users[0] {
		t.Fatalf("winner = %q, want %q", out[0].Winner(), users[0])
	}

	out = process(t, NewGameEnd(deps), out[0])
	if len(out) != 0 {
		t.Fatalf("end follow-ups = %v", out)
	}
	if store.TaskCount() != 0 {
		t.Fatalf("match timers survived the end, tasks = %d", store.TaskCount())
	}
	for _, u := range users {
		p, _ := store.UserBySlack(ctx, u)
		if p.Status != game.StatusFree || p.Locked {
			t.Fatalf("player %s not freed: %+v", u, p)
		}
	}
	notify.lastTo(t, users[0])
	ann := notify.lastTo(t, "C-ANNOUNCE")
	if !strings.Contains(ann.Text, fmt.Sprintf("<@%s>", users[0])) {
		t.Fatalf("announcement %q does not name the winner", ann.Text)
	}
}

func TestAssignmentNotifyRendersContract(t *testing.T) {
	t.Parallel()
	deps, store, _ := testDeps(t)
	ctx := context.Background()
	if err := store.SaveHit(ctx, game.Hit{
		GameID: "g1", Target: "U2", Weapon: "trombone", Location: "roof",
		Hitman: "U1", Status: game.HitActive,
	}); err != nil {
		t.Fatal(err)
	}

	out := process(t, NewAssignmentNotify(deps), event.NewAssignmentNotify("U1", "g1"))
	if len(out) != 1 || out[0].Topic != event.TopicStructuredMessage {
		t.Fatalf("follow-ups = %v", out)
	}
	fields := out[0].Fields()
	if len(fields) != 3 {
		t.Fatalf("fields = %v", fields)
	}
	if fields[0].Value != "<@U2>" || fields[1].Value != "trombone" || fields[2].Value != "roof" {
		t.Fatalf("contract fields = %v", fields)
	}
}

func TestStructuredSendDeliversAttachment(t *testing.T) {
	t.Parallel()
	deps, _, notify := testDeps(t)
	ev := event.NewStructuredMessage("U1", "", event.Payload{
		"pretext": "heads up",
		"fields":  []event.StructuredField{{Title: "A", Value: "B"}},
	})
	if _, err := NewStructuredSend(deps).Process(&ev); err != nil {
		t.Fatal(err)
	}
	msg := notify.lastTo(t, "U1")
	if len(msg.Attachments) != 1 || msg.Attachments[0].Pretext != "heads up" {
		t.Fatalf("attachment = %+v", msg.Attachments)
	}
}

func TestFreeMonitorInstallsRepeatingPoll(t *testing.T) {
	t.Parallel()
	deps, store, _ := testDeps(t)
	NewFreeMonitor(deps).Install(deps.Proxy)
	if store.TaskCount() != 1 {
		t.Fatalf("persisted tasks = %d, want the free-pool poll", store.TaskCount())
	}
	out := process(t, NewFreeMonitor(deps), event.NewCheckFree())
	if len(out) != 1 || out[0].Topic != event.TopicGameSetup {
		t.Fatalf("monitor follow-ups = %v", out)
	}
}
