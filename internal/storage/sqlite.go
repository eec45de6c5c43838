package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"hitbot/internal/game"
	"hitbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tasks ----

func (s *sqliteStore) LoadTasks(ctx context.Context) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, event_type, topic, data, spec, repeat, fire_at FROM schedule`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var data, fireAt string
		var repeat int
		if err := rows.Scan(&rec.Key, &rec.EventType, &rec.Topic, &data, &rec.Spec, &repeat, &fireAt); err != nil {
			return nil, err
		}
		rec.Data = []byte(data)
		rec.Repeat = repeat != 0
		t, err := time.Parse(time.RFC3339Nano, fireAt)
		if err != nil {
			s.log.Warn("skipping task with bad fire_at", logx.String("key", rec.Key), logx.Err(err))
			continue
		}
		rec.FireAt = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertTask(ctx context.Context, rec TaskRecord) error {
	data := string(rec.Data)
	if data == "" {
		data = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule(key, event_type, topic, data, spec, repeat, fire_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   event_type=excluded.event_type, topic=excluded.topic, data=excluded.data,
		   spec=excluded.spec, repeat=excluded.repeat, fire_at=excluded.fire_at`,
		rec.Key, rec.EventType, rec.Topic, data, rec.Spec, boolInt(rec.Repeat),
		rec.FireAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) DeleteTask(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedule WHERE key = ?`, key)
	return err
}

// ---- players ----

func (s *sqliteStore) CreateUser(ctx context.Context, slackID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players(slack_id, status) VALUES(?, ?)
		 ON CONFLICT(slack_id) DO NOTHING`,
		slackID, int(game.StatusNew))
	return err
}

func (s *sqliteStore) UserBySlack(ctx context.Context, slackID string) (*game.Player, error) {
	var p game.Player
	var status, locked, complete int
	err := s.db.QueryRowContext(ctx,
		`SELECT slack_id, uid, weapon, location, status, locked, complete
		   FROM players WHERE slack_id = ?`, slackID).
		Scan(&p.SlackID, &p.UID, &p.Weapon, &p.Location, &status, &locked, &complete)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Status = game.PlayerStatus(status)
	p.Locked = locked != 0
	p.Complete = complete != 0
	return &p, nil
}

func (s *sqliteStore) SetWeapon(ctx context.Context, slackID, desc string) error {
	return s.setPlayerField(ctx, slackID, "weapon", desc)
}

func (s *sqliteStore) SetLocation(ctx context.Context, slackID, desc string) error {
	return s.setPlayerField(ctx, slackID, "location", desc)
}

func (s *sqliteStore) setPlayerField(ctx context.Context, slackID, col, val string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET `+col+` = ? WHERE slack_id = ?`, val, slackID)
	if err != nil {
		return err
	}
	return requireRow(res, slackID)
}

func (s *sqliteStore) SetStatus(ctx context.Context, slackID string, st game.PlayerStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET status = ? WHERE slack_id = ?`, int(st), slackID)
	if err != nil {
		return err
	}
	return requireRow(res, slackID)
}

func (s *sqliteStore) ValidateUser(ctx context.Context, slackID, uid string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET uid = ? WHERE slack_id = ?`, uid, slackID)
	if err != nil {
		return err
	}
	return requireRow(res, slackID)
}

func (s *sqliteStore) LockUser(ctx context.Context, slackID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET locked = 1 WHERE slack_id = ?`, slackID)
	if err != nil {
		return err
	}
	return requireRow(res, slackID)
}

func (s *sqliteStore) Locked(ctx context.Context, slackID string) (bool, error) {
	var locked int
	err := s.db.QueryRowContext(ctx,
		`SELECT locked FROM players WHERE slack_id = ?`, slackID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return locked != 0, err
}

func (s *sqliteStore) MarkComplete(ctx context.Context, slackID string) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET complete = 1
		  WHERE slack_id = ? AND weapon <> '' AND location <> ''`, slackID)
	if err != nil {
		return false, err
	}
	var complete int
	err = s.db.QueryRowContext(ctx,
		`SELECT complete FROM players WHERE slack_id = ?`, slackID).Scan(&complete)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return complete != 0, err
}

func (s *sqliteStore) FreeUsers(ctx context.Context) ([]game.Player, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slack_id, uid, weapon, location, status, locked, complete
		   FROM players WHERE status = ? ORDER BY last_game ASC`, int(game.StatusFree))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlayers(rows)
}

// ---- games ----

func (s *sqliteStore) CreateGame(ctx context.Context, size int) (string, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT slack_id FROM players WHERE status = ?
		  ORDER BY last_game ASC LIMIT ?`, int(game.StatusFree), size)
	if err != nil {
		return "", nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return "", nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	if len(ids) < size {
		return "", nil, nil
	}

	gameID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO games(id, created_at) VALUES(?,?)`, gameID, now); err != nil {
		return "", nil, err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO game_players(game_id, slack_id) VALUES(?,?)`, gameID, id); err != nil {
			return "", nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE players SET last_game = ? WHERE slack_id = ?`, now, id); err != nil {
			return "", nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", nil, err
	}
	return gameID, ids, nil
}

func (s *sqliteStore) GamePlayers(ctx context.Context, gameID string) ([]game.Player, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.slack_id, p.uid, p.weapon, p.location, p.status, p.locked, p.complete
		   FROM players p JOIN game_players gp ON gp.slack_id = p.slack_id
		  WHERE gp.game_id = ?`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlayers(rows)
}

func (s *sqliteStore) DeleteGame(ctx context.Context, gameID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE players SET status = ?, locked = 0
		  WHERE slack_id IN (SELECT slack_id FROM game_players WHERE game_id = ?)`,
		int(game.StatusFree), gameID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM hits WHERE game_id = ?`, gameID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM game_players WHERE game_id = ?`, gameID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, gameID); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- hits ----

func (s *sqliteStore) SaveHit(ctx context.Context, h game.Hit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hits(game_id, target, weapon, location, hitman, status)
		 VALUES(?,?,?,?,?,?)`,
		h.GameID, h.Target, h.Weapon, h.Location, h.Hitman, int(h.Status))
	return err
}

func (s *sqliteStore) AssignHit(ctx context.Context, hitID int64, hitman string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hits SET hitman = ?, status = ? WHERE id = ?`,
		hitman, int(game.HitActive), hitID)
	return err
}

func (s *sqliteStore) SetHitStatus(ctx context.Context, hitID int64, st game.HitStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hits SET status = ? WHERE id = ?`, int(st), hitID)
	return err
}

func (s *sqliteStore) HitByHitman(ctx context.Context, slackID string) (*game.Hit, error) {
	return s.hitWhere(ctx, "hitman", slackID)
}

func (s *sqliteStore) HitByTarget(ctx context.Context, slackID string) (*game.Hit, error) {
	return s.hitWhere(ctx, "target", slackID)
}

func (s *sqliteStore) hitWhere(ctx context.Context, col, slackID string) (*game.Hit, error) {
	var h game.Hit
	var status int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, game_id, target, weapon, location, hitman, status
		   FROM hits WHERE `+col+` = ? ORDER BY id DESC LIMIT 1`, slackID).
		Scan(&h.ID, &h.GameID, &h.Target, &h.Weapon, &h.Location, &h.Hitman, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h.Status = game.HitStatus(status)
	return &h, nil
}

func (s *sqliteStore) OpenHits(ctx context.Context, gameID string) ([]game.Hit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, game_id, target, weapon, location, hitman, status
		   FROM hits WHERE game_id = ? AND status = ? ORDER BY id ASC`,
		gameID, int(game.HitOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Hit
	for rows.Next() {
		var h game.Hit
		var status int
		if err := rows.Scan(&h.ID, &h.GameID, &h.Target, &h.Weapon, &h.Location, &h.Hitman, &status); err != nil {
			return nil, err
		}
		h.Status = game.HitStatus(status)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PlayersByStatus(ctx context.Context, gameID string, st game.PlayerStatus) ([]string, error) {
	return s.memberIDs(ctx, gameID, `p.status = ?`, int(st))
}

func (s *sqliteStore) RemainingPlayers(ctx context.Context, gameID string) ([]string, error) {
	return s.memberIDs(ctx, gameID, `p.status <> ?`, int(game.StatusDead))
}

func (s *sqliteStore) memberIDs(ctx context.Context, gameID, cond string, arg any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.slack_id FROM players p
		   JOIN game_players gp ON gp.slack_id = p.slack_id
		  WHERE gp.game_id = ? AND `+cond, gameID, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- helpers ----

func scanPlayers(rows *sql.Rows) ([]game.Player, error) {
	var out []game.Player
	for rows.Next() {
		var p game.Player
		var status, locked, complete int
		if err := rows.Scan(&p.SlackID, &p.UID, &p.Weapon, &p.Location, &status, &locked, &complete); err != nil {
			return nil, err
		}
		p.Status = game.PlayerStatus(status)
		p.Locked = locked != 0
		p.Complete = complete != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, slackID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("unknown player %q", slackID)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
