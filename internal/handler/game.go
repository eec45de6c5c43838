package handler

import (
	"context"
	"errors"
	"fmt"

	"hitbot/internal/agent"
	"hitbot/internal/event"
	"hitbot/internal/game"
	"hitbot/pkg/logx"
)

const checkFreeKey = "game_check_free"

func assignNextKey(gameID string) string { return gameID + "_assign_next" }
func autoConfirmKey(user, gameID string) string { return user + "_" + gameID + "_auto_confirm" }

// FreeMonitor owns the repeating poll of the free-player pool. The timer
// key is fixed, so the persisted task and a fresh installation converge on
// a single armed timer.
type FreeMonitor struct {
	Base
}

func NewFreeMonitor(deps Deps) *FreeMonitor {
	return &FreeMonitor{Base: newBase("game.monitor", deps)}
}

func (h *FreeMonitor) Install(p *agent.Proxy) {
	p.Register(event.TypeCron, event.TopicCheckFree, h)
	if spec := h.deps.Cfg.CheckFree; spec != "" {
		ctx, cancel := opCtx()
		defer cancel()
		if _, err := p.Schedule(ctx, checkFreeKey, event.NewCheckFree(), spec, true); err != nil {
			h.log.Error("free-pool poll not scheduled", logx.Err(err))
		}
	}
}

func (h *FreeMonitor) Process(ev *event.Event) ([]event.Event, error) {
	return []event.Event{event.NewGameSetup()}, nil
}

// GameSetup tries to form a match from the free pool.
type GameSetup struct {
	Base
}

func NewGameSetup(deps Deps) *GameSetup {
	return &GameSetup{Base: newBase("game.setup", deps)}
}

func (h *GameSetup) Install(p *agent.Proxy) {
	p.Register(event.TypeGame, event.TopicGameSetup, h)
}

func (h *GameSetup) Process(ev *event.Event) ([]event.Event, error) {
	ctx, cancel := opCtx()
	defer cancel()
	gameID, users, err := h.deps.Games.CreateGame(ctx, h.deps.Cfg.Size)
	if err != nil {
		return nil, err
	}
	if gameID == "" {
		h.log.Debug("not enough free players", logx.Int("size", h.deps.Cfg.Size))
		return nil, nil
	}
	h.log.Info("match formed", logx.String("game", gameID), logx.Int("players", len(users)))
	return []event.Event{event.NewLockUsers(gameID, users)}, nil
}

// LockUsers freezes the profiles of a freshly drafted match.
type LockUsers struct {
	Base
}

func NewLockUsers(deps Deps) *LockUsers {
	return &LockUsers{Base: newBase("game.lock", deps)}
}

func (h *LockUsers) Install(p *agent.Proxy) {
	p.Register(event.TypeGame, event.TopicLockUsers, h)
}

func (h *LockUsers) Process(ev *event.Event) ([]event.Event, error) {
	ctx, cancel := opCtx()
	defer cancel()
	for _, u := range ev.Users() {
		if err := h.deps.Games.LockUser(ctx, u); err != nil {
			return nil, err
		}
		if err := h.deps.Games.SetStatus(ctx, u, game.StatusWaiting); err != nil {
			return nil, err
		}
	}
	return []event.Event{event.NewAssignInitialHits(ev.Game(), ev.Users())}, nil
}

// AssignInitial builds the hit contracts for a new match and deals them out.
type AssignInitial struct {
	Base
}

func NewAssignInitial(deps Deps) *AssignInitial {
	return &AssignInitial{Base: newBase("game.assign_initial", deps)}
}

func (h *AssignInitial) Install(p *agent.Proxy) {
	p.Register(event.TypeGame, event.TopicAssignInitialHits, h)
}

func (h *AssignInitial) Process(ev *event.Event) ([]event.Event, error) {
	gameID := ev.Game()
	ctx, cancel := opCtx()
	defer cancel()
	players, err := h.deps.Games.GamePlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(players) < 2 {
		return nil, h.abort(ctx, gameID, fmt.Errorf("match %s has %d players", gameID, len(players)))
	}

	users := make([]string, 0, len(players))
	weapons := make([]string, 0, len(players))
	locations := make([]string, 0, len(players))
	for _, p := range players {
		users = append(users, p.SlackID)
		weapons = append(weapons, p.Weapon)
		locations = append(locations, p.Location)
	}

	assignments, ok := game.CreateGame(users, weapons, locations)
	if !ok {
		return nil, h.abort(ctx, gameID, errors.New("no valid hit assignment exists"))
	}
	for hitman, hit := range assignments {
		hit.GameID = gameID
		hit.Hitman = hitman
		hit.Status = game.HitActive
		if err := h.deps.Games.SaveHit(ctx, hit); err != nil {
			return nil, err
		}
	}
	return []event.Event{event.NewStartGame(gameID, users)}, nil
}

func (h *AssignInitial) abort(ctx context.Context, gameID string, cause error) error {
	if err := h.deps.Games.DeleteGame(ctx, gameID); err != nil {
		h.log.Error("failed to tear down aborted match", logx.String("game", gameID), logx.Err(err))
	}
	return fmt.Errorf("aborting match %s: %w", gameID, cause)
}

// GameStart flips the match live: players go in-game, assignments go out,
// and the periodic reassignment sweep is armed.
type GameStart struct {
	Base
}

func NewGameStart(deps Deps) *GameStart {
	return &GameStart{Base: newBase("game.start", deps)}
}

func (h *GameStart) Install(p *agent.Proxy) {
	p.Register(event.TypeGame, event.TopicGameStart, h)
}

func (h *GameStart) Process(ev *event.Event) ([]event.Event, error) {
	gameID := ev.Game()
	ctx, cancel := opCtx()
	defer cancel()

	out := make([]event.Event, 0, len(ev.Users()))
	for _, u := range ev.Users() {
		if err := h.deps.Games.SetStatus(ctx, u, game.StatusInGame); err != nil {
			return nil, err
		}
		out = append(out, event.NewAssignmentNotify(u, gameID))
	}

	if spec := h.deps.Cfg.AssignAt; spec != "" {
		_, err := h.deps.Proxy.Schedule(ctx, assignNextKey(gameID), event.NewAssignNextRound(gameID), spec, true)
		if err != nil {
			return nil, err
		}
	}
	if ch := h.deps.Cfg.Channel; ch != "" {
		h.send(announceMessage(ch, fmt.Sprintf("A new match is live with %d players. Watch your backs.", len(ev.Users()))))
	}
	h.log.Info("match started", logx.String("game", gameID))
	return out, nil
}

// ConfirmKill moves a reported hit into the pending state, asks the target
// to confirm, and arms the auto-confirm fallback.
type ConfirmKill struct {
	Base
}

func NewConfirmKill(deps Deps) *ConfirmKill {
	return &ConfirmKill{Base: newBase("game.confirm", deps)}
}

func (h *ConfirmKill) Install(p *agent.Proxy) {
	p.Register(event.TypeGame, event.TopicConfirmKill, h)
}

func (h *ConfirmKill) Process(ev *event.Event) ([]event.Event, error) {
	target, gameID := ev.User(), ev.Game()
	ctx, cancel := opCtx()
	defer cancel()
	hit, err := h.deps.Games.HitByTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if hit == nil || hit.Status != game.HitActive {
		return nil, fmt.Errorf("no active hit on %s to confirm", target)
	}
	if err := h.deps.Games.SetHitStatus(ctx, hit.ID, game.HitPending); err != nil {
		return nil, err
	}
	if spec := h.deps.Cfg.ConfirmWindow; spec != "" {
		_, err := h.deps.Proxy.Schedule(ctx, autoConfirmKey(target, gameID),
			event.NewKillConfirmed(target, gameID), spec, false)
		if err != nil {
			return nil, err
		}
	}
	return []event.Event{event.NewConfirmKillMessage(target)}, nil
}

// KillConfirmed settles a kill: the target is dead, their own contract is
// freed for reassignment, and the killer goes on standby.
type KillConfirmed struct {
	Base
}

func NewKillConfirmed(deps Deps) *KillConfirmed {
	return &KillConfirmed{Base: newBase("game.confirmed", deps)}
}

func (h *KillConfirmed) Install(p *agent.Proxy) {
	p.Register(event.TypeGame, event.TopicKillConfirmed, h)
}

func (h *KillConfirmed) Process(ev *event.Event) ([]event.Event, error) {
	target, gameID := ev.User(), ev.Game()
	ctx, cancel := opCtx()
	defer cancel()

	if _, err := h.deps.Proxy.Cancel(ctx, autoConfirmKey(target, gameID)); err != nil {
		h.log.Warn("auto-confirm timer not canceled", logx.String("user", target), logx.Err(err))
	}

	hit, err := h.deps.Games.HitByTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if hit == nil || hit.Status != game.HitPending {
		// Already settled; the manual confirm and the auto-confirm raced.
		h.log.Debug("duplicate kill confirmation ignored", logx.String("user", target))
		return nil, nil
	}
	if err := h.deps.Games.SetHitStatus(ctx, hit.ID, game.HitConfirmed); err != nil {
		return nil, err
	}
	if err := h.deps.Games.SetStatus(ctx, target, game.StatusDead); err != nil {
		return nil, err
	}
	if err := h.deps.Games.SetStatus(ctx, hit.Hitman, game.StatusStandby); err != nil {
		return nil, err
	}
	// The dead player's own contract outlives them; it goes back in the
	// open pool for the next reassignment sweep.
	if own, err := h.deps.Games.HitByHitman(ctx, target); err != nil {
		return nil, err
	} else if own != nil && own.Status == game.HitActive {
		if err := h.deps.Games.SetHitStatus(ctx, own.ID, game.HitOpen); err != nil {
			return nil, err
		}
	}

	h.dm(target, "Confirmed. You are out. Thanks for playing.")
	h.dm(hit.Hitman, "Kill confirmed. Lay low; a new assignment will find you.")
	h.log.Info("kill confirmed", logx.String("game", gameID), logx.String("target", target), logx.String("hitman", hit.Hitman))

	return []event.Event{
		event.NewCheckForWinner(gameID),
		event.NewAssignNextRound(gameID),
	}, nil
}

// AssignNextRound deals open contracts to standby hitmen.
type AssignNextRound struct {
	Base
}

func NewAssignNextRound(deps Deps) *AssignNextRound {
	return &AssignNextRound{Base: newBase("game.assign_next", deps)}
}

func (h *AssignNextRound) Install(p *agent.Proxy) {
	p.Register(event.TypeGame, event.TopicAssignNextRound, h)
}

func (h *AssignNextRound) Process(ev *event.Event) ([]event.Event, error) {
	gameID := ev.Game()
	ctx, cancel := opCtx()
	defer cancel()

	actors, err := h.deps.Games.PlayersByStatus(ctx, gameID, game.StatusStandby)
	if err != nil {
		return nil, err
	}
	open, err := h.deps.Games.OpenHits(ctx, gameID)
	if err != nil {
		return nil, err
	}
	// Contracts on eliminated players are dead paper; drop them from the
	// draw so the pool matches the standby hitmen one to one.
	alive, err := h.deps.Games.RemainingPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	living := make(map[string]bool, len(alive))
	for _, u := range alive {
		living[u] = true
	}
	pool := open[:0]
	for _, hit := range open {
		if living[hit.Target] {
			pool = append(pool, hit)
		}
	}
	if len(actors) == 0 || len(pool) == 0 {
		return nil, nil
	}
	if len(actors) != len(pool) {
		h.log.Debug("reassignment pool unbalanced, waiting",
			logx.String("game", gameID), logx.Int("actors", len(actors)), logx.Int("open", len(pool)))
		return nil, nil
	}

	assignments, ok := game.Assign(actors, pool)
	if !ok {
		// A standby hitman holding only their own contract resolves once
		// another kill frees more paper.
		h.log.Debug("no valid reassignment this sweep", logx.String("game", gameID))
		return nil, nil
	}

	out := make([]event.Event, 0, len(assignments))
	for hitman, hit := range assignments {
		if err := h.deps.Games.AssignHit(ctx, hit.ID, hitman); err != nil {
			return nil, err
		}
		if err := h.deps.Games.SetStatus(ctx, hitman, game.StatusInGame); err != nil {
			return nil, err
		}
		out = append(out, event.NewAssignmentNotify(hitman, gameID))
	}
	h.log.Info("contracts reassigned", logx.String("game", gameID), logx.Int("count", len(assignments)))
	return out, nil
}

// CheckWinner ends the match when one player remains.
type CheckWinner struct {
	Base
}

func NewCheckWinner(deps Deps) *CheckWinner {
	return &CheckWinner{Base: newBase("game.check_winner", deps)}
}

func (h *CheckWinner) Install(p *agent.Proxy) {
	p.Register(event.TypeGame, event.TopicCheckForWinner, h)
}

func (h *CheckWinner) Process(ev *event.Event) ([]event.Event, error) {
	gameID := ev.Game()
	ctx, cancel := opCtx()
	defer cancel()
	remaining, err := h.deps.Games.RemainingPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(remaining) != 1 {
		return nil, nil
	}
	return []event.Event{event.NewEndGame(gameID, remaining[0])}, nil
}

// GameEnd announces the winner, disarms the match timers, and returns the
// players to the free pool.
type GameEnd struct {
	Base
}

func NewGameEnd(deps Deps) *GameEnd {
	return &GameEnd{Base: newBase("game.end", deps)}
}

func (h *GameEnd) Install(p *agent.Proxy) {
	p.Register(event.TypeGame, event.TopicGameEnd, h)
}

func (h *GameEnd) Process(ev *event.Event) ([]event.Event, error) {
	gameID, winner := ev.Game(), ev.Winner()
	ctx, cancel := opCtx()
	defer cancel()

	if _, err := h.deps.Proxy.Cancel(ctx, assignNextKey(gameID)); err != nil {
		h.log.Warn("reassignment timer not canceled", logx.String("game", gameID), logx.Err(err))
	}
	if err := h.deps.Games.DeleteGame(ctx, gameID); err != nil {
		return nil, err
	}

	h.dm(winner, "Last one standing. The match is yours.")
	if ch := h.deps.Cfg.Channel; ch != "" {
		h.send(announceMessage(ch, fmt.Sprintf("The match is over. <@%s> takes it.", winner)))
	}
	h.log.Info("match ended", logx.String("game", gameID), logx.String("winner", winner))
	return nil, nil
}
