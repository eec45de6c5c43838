package storage

import (
	"context"
	"errors"
	"time"

	"hitbot/internal/game"
)

// ErrDisabled is returned by Open when the configured driver is "" or
// "none".
var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process maps (tests, throwaway runs)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TaskRecord is the persisted form of a scheduled task. The row is written
// before the in-memory timer is armed, so a crash between the two leaves a
// recoverable task rather than a lost one.
type TaskRecord struct {
	Key       string
	EventType int
	Topic     string
	Data      []byte // JSON-encoded event payload
	Spec      string // original schedule spec ("2d 12h", "23:42", "cron:...")
	Repeat    bool
	FireAt    time.Time
}

// TaskStore persists scheduled tasks for crash recovery.
type TaskStore interface {
	// LoadTasks returns every persisted task. Called once at startup.
	LoadTasks(ctx context.Context) ([]TaskRecord, error)
	// UpsertTask inserts or replaces the row keyed by rec.Key.
	UpsertTask(ctx context.Context, rec TaskRecord) error
	// DeleteTask removes the row; absent keys are not an error.
	DeleteTask(ctx context.Context, key string) error
}

// GameStore is the narrow domain-persistence contract consumed by handlers.
// Lookups return (nil, nil) when the entity does not exist.
type GameStore interface {
	CreateUser(ctx context.Context, slackID string) error
	UserBySlack(ctx context.Context, slackID string) (*game.Player, error)
	SetWeapon(ctx context.Context, slackID, desc string) error
	SetLocation(ctx context.Context, slackID, desc string) error
	SetStatus(ctx context.Context, slackID string, st game.PlayerStatus) error
	// ValidateUser links the external account uid to the chat identity.
	ValidateUser(ctx context.Context, slackID, uid string) error
	LockUser(ctx context.Context, slackID string) error
	Locked(ctx context.Context, slackID string) (bool, error)
	// MarkComplete flags the profile complete once weapon and location are
	// both set, and reports the resulting completeness.
	MarkComplete(ctx context.Context, slackID string) (bool, error)
	// FreeUsers lists players with status Free, least-recently-in-a-game
	// first.
	FreeUsers(ctx context.Context) ([]game.Player, error)

	// CreateGame picks size free players (least recent game first) and
	// creates a game with them. Returns ("", nil, nil) when fewer than
	// size free players exist.
	CreateGame(ctx context.Context, size int) (gameID string, slackIDs []string, err error)
	GamePlayers(ctx context.Context, gameID string) ([]game.Player, error)
	DeleteGame(ctx context.Context, gameID string) error

	SaveHit(ctx context.Context, h game.Hit) error
	AssignHit(ctx context.Context, hitID int64, hitman string) error
	SetHitStatus(ctx context.Context, hitID int64, st game.HitStatus) error
	HitByHitman(ctx context.Context, slackID string) (*game.Hit, error)
	HitByTarget(ctx context.Context, slackID string) (*game.Hit, error)
	OpenHits(ctx context.Context, gameID string) ([]game.Hit, error)
	// PlayersByStatus lists game members currently in the given status.
	PlayersByStatus(ctx context.Context, gameID string, st game.PlayerStatus) ([]string, error)
	// RemainingPlayers lists game members that are still alive.
	RemainingPlayers(ctx context.Context, gameID string) ([]string, error)
}

// Store is the full persistence API used by the app.
type Store interface {
	TaskStore
	GameStore
	Close() error
}
