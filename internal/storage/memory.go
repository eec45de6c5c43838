package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hitbot/internal/game"
)

// Memory is an in-process Store used by tests and the "memory" driver.
// Semantics mirror the sqlite backend.
type Memory struct {
	mu sync.Mutex

	tasks map[string]TaskRecord

	players  map[string]*game.Player
	lastGame map[string]time.Time

	games   map[string][]string // gameID -> member slack ids
	hits    []*game.Hit
	nextHit int64
}

func NewMemory() *Memory {
	return &Memory{
		tasks:    map[string]TaskRecord{},
		players:  map[string]*game.Player{},
		lastGame: map[string]time.Time{},
		games:    map[string][]string{},
		nextHit:  1,
	}
}

func (m *Memory) Close() error { return nil }

// ---- tasks ----

func (m *Memory) LoadTasks(ctx context.Context) ([]TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskRecord, 0, len(m.tasks))
	for _, rec := range m.tasks {
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) UpsertTask(ctx context.Context, rec TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[rec.Key] = rec
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, key)
	return nil
}

// TaskCount reports the number of persisted tasks (test helper).
func (m *Memory) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// ---- players ----

func (m *Memory) CreateUser(ctx context.Context, slackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.players[slackID]; ok {
		return nil
	}
	m.players[slackID] = &game.Player{SlackID: slackID, Status: game.StatusNew}
	return nil
}

func (m *Memory) UserBySlack(ctx context.Context, slackID string) (*game.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[slackID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) mutate(slackID string, fn func(*game.Player)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[slackID]
	if !ok {
		return fmt.Errorf("unknown player %q", slackID)
	}
	fn(p)
	return nil
}

func (m *Memory) SetWeapon(ctx context.Context, slackID, desc string) error {
	return m.mutate(slackID, func(p *game.Player) { p.Weapon = desc })
}

func (m *Memory) SetLocation(ctx context.Context, slackID, desc string) error {
	return m.mutate(slackID, func(p *game.Player) { p.Location = desc })
}

func (m *Memory) SetStatus(ctx context.Context, slackID string, st game.PlayerStatus) error {
	return m.mutate(slackID, func(p *game.Player) { p.Status = st })
}

func (m *Memory) ValidateUser(ctx context.Context, slackID, uid string) error {
	return m.mutate(slackID, func(p *game.Player) { p.UID = uid })
}

func (m *Memory) LockUser(ctx context.Context, slackID string) error {
	return m.mutate(slackID, func(p *game.Player) { p.Locked = true })
}

func (m *Memory) Locked(ctx context.Context, slackID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[slackID]
	if !ok {
		return false, nil
	}
	return p.Locked, nil
}

func (m *Memory) MarkComplete(ctx context.Context, slackID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[slackID]
	if !ok {
		return false, nil
	}
	if p.Weapon != "" && p.Location != "" {
		p.Complete = true
	}
	return p.Complete, nil
}

func (m *Memory) FreeUsers(ctx context.Context) ([]game.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freeLocked(), nil
}

func (m *Memory) freeLocked() []game.Player {
	var out []game.Player
	for _, p := range m.players {
		if p.Status == game.StatusFree {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := m.lastGame[out[i].SlackID], m.lastGame[out[j].SlackID]
		if ti.Equal(tj) {
			return out[i].SlackID < out[j].SlackID
		}
		return ti.Before(tj)
	})
	return out
}

// ---- games ----

func (m *Memory) CreateGame(ctx context.Context, size int) (string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	free := m.freeLocked()
	if len(free) < size {
		return "", nil, nil
	}
	id := uuid.NewString()
	now := time.Now()
	ids := make([]string, 0, size)
	for _, p := range free[:size] {
		ids = append(ids, p.SlackID)
		m.lastGame[p.SlackID] = now
	}
	m.games[id] = ids
	return id, ids, nil
}

func (m *Memory) GamePlayers(ctx context.Context, gameID string) ([]game.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, ok := m.games[gameID]
	if !ok {
		return nil, nil
	}
	out := make([]game.Player, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.players[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *Memory) DeleteGame(ctx context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.games[gameID] {
		if p, ok := m.players[id]; ok {
			p.Status = game.StatusFree
			p.Locked = false
		}
	}
	kept := m.hits[:0]
	for _, h := range m.hits {
		if h.GameID != gameID {
			kept = append(kept, h)
		}
	}
	m.hits = kept
	delete(m.games, gameID)
	return nil
}

// ---- hits ----

func (m *Memory) SaveHit(ctx context.Context, h game.Hit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = m.nextHit
	m.nextHit++
	cp := h
	m.hits = append(m.hits, &cp)
	return nil
}

func (m *Memory) AssignHit(ctx context.Context, hitID int64, hitman string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hits {
		if h.ID == hitID {
			h.Hitman = hitman
			h.Status = game.HitActive
			return nil
		}
	}
	return fmt.Errorf("unknown hit %d", hitID)
}

func (m *Memory) SetHitStatus(ctx context.Context, hitID int64, st game.HitStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hits {
		if h.ID == hitID {
			h.Status = st
			return nil
		}
	}
	return fmt.Errorf("unknown hit %d", hitID)
}

func (m *Memory) HitByHitman(ctx context.Context, slackID string) (*game.Hit, error) {
	return m.hitWhere(func(h *game.Hit) bool { return h.Hitman == slackID })
}

func (m *Memory) HitByTarget(ctx context.Context, slackID string) (*game.Hit, error) {
	return m.hitWhere(func(h *game.Hit) bool { return h.Target == slackID })
}

func (m *Memory) hitWhere(match func(*game.Hit) bool) (*game.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.hits) - 1; i >= 0; i-- {
		if match(m.hits[i]) {
			cp := *m.hits[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) OpenHits(ctx context.Context, gameID string) ([]game.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []game.Hit
	for _, h := range m.hits {
		if h.GameID == gameID && h.Status == game.HitOpen {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (m *Memory) PlayersByStatus(ctx context.Context, gameID string, st game.PlayerStatus) ([]string, error) {
	return m.members(gameID, func(p *game.Player) bool { return p.Status == st })
}

func (m *Memory) RemainingPlayers(ctx context.Context, gameID string) ([]string, error) {
	return m.members(gameID, func(p *game.Player) bool { return p.Status != game.StatusDead })
}

func (m *Memory) members(gameID string, match func(*game.Player) bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, id := range m.games[gameID] {
		if p, ok := m.players[id]; ok && match(p) {
			out = append(out, id)
		}
	}
	return out, nil
}
