package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/pool"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id   INTEGER NOT NULL,
	provider   TEXT    NOT NULL,
	tier       TEXT    NOT NULL,
	active     INTEGER NOT NULL DEFAULT 0,
	public     INTEGER NOT NULL DEFAULT 0,
	use_count  INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_active   ON credentials(active);
CREATE INDEX IF NOT EXISTS idx_credentials_owner    ON credentials(owner_id);
CREATE INDEX IF NOT EXISTS idx_credentials_provider ON credentials(provider);

CREATE TABLE IF NOT EXISTS credential_last_used (
	credential_id INTEGER NOT NULL REFERENCES credentials(id) ON DELETE CASCADE,
	model_group   TEXT    NOT NULL,
	used_at       INTEGER NOT NULL,
	PRIMARY KEY (credential_id, model_group)
);

CREATE TABLE IF NOT EXISTS pool_config (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	version    INTEGER NOT NULL,
	payload    TEXT    NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quota_ledger (
	user_id     INTEGER NOT NULL,
	model_group TEXT    NOT NULL,
	day         INTEGER NOT NULL,
	reward      INTEGER NOT NULL DEFAULT 0,
	used        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, model_group, day)
);
`

// SQLite is the durable Store used by the daemon.
type SQLite struct {
	conn *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. WAL mode keeps concurrent scheduler reads cheap.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 60000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &SQLite{conn: conn}, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) Add(c *credential.Credential) (int64, error) {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.conn.Exec(
		`INSERT INTO credentials (owner_id, provider, tier, active, public, use_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.OwnerID, string(c.Provider), c.Tier.String(),
		boolToInt(c.Active), boolToInt(c.Public), c.UseCount, createdAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert credential: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: last insert id: %w", err)
	}

	for g, t := range c.LastUsed {
		if err := s.upsertLastUsed(id, g, t); err != nil {
			return 0, err
		}
	}

	return id, nil
}

func (s *SQLite) Get(id int64) (*credential.Credential, error) {
	creds, err := s.query(`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, ErrNotFound
	}
	return creds[0], nil
}

func (s *SQLite) List() ([]*credential.Credential, error) {
	return s.query(``)
}

func (s *SQLite) ListActive(provider credential.Provider) ([]*credential.Credential, error) {
	return s.query(`WHERE active = 1 AND provider = ?`, string(provider))
}

func (s *SQLite) OwnsActive(ownerID int64, provider credential.Provider) (bool, error) {
	return s.exists(
		`SELECT 1 FROM credentials WHERE owner_id = ? AND provider = ? AND active = 1 LIMIT 1`,
		ownerID, string(provider))
}

func (s *SQLite) OwnsActiveTier(ownerID int64, provider credential.Provider, tier credential.CapabilityTier) (bool, error) {
	// Tiers are stored as text; enumerate the ones at or above the floor.
	tiers := make([]any, 0, 3)
	for t := tier; t <= credential.Tier30Pro; t++ {
		tiers = append(tiers, t.String())
	}

	q := `SELECT 1 FROM credentials WHERE owner_id = ? AND provider = ? AND active = 1 AND tier IN (?`
	args := []any{ownerID, string(provider)}
	for i, t := range tiers {
		if i > 0 {
			q += `, ?`
		}
		args = append(args, t)
	}
	q += `) LIMIT 1`

	return s.exists(q, args...)
}

func (s *SQLite) MarkUsed(id int64, group credential.ModelGroup, now time.Time) error {
	res, err := s.conn.Exec(`UPDATE credentials SET use_count = use_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: mark used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return s.upsertLastUsed(id, group, now)
}

func (s *SQLite) SetActive(id int64, active bool) error {
	res, err := s.conn.Exec(`UPDATE credentials SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("store: set active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) SetPublic(id int64, public bool, lockDonate bool) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var curPublic, curActive int
	err = tx.QueryRow(`SELECT public, active FROM credentials WHERE id = ?`, id).
		Scan(&curPublic, &curActive)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: read visibility: %w", err)
	}

	if !public && curPublic == 1 && curActive == 1 && lockDonate {
		return ErrDonateLocked
	}

	if _, err := tx.Exec(`UPDATE credentials SET public = ? WHERE id = ?`, boolToInt(public), id); err != nil {
		return fmt.Errorf("store: set public: %w", err)
	}

	return tx.Commit()
}

func (s *SQLite) Delete(id int64) error {
	res, err := s.conn.Exec(`DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) PurgeInactive() (int, error) {
	res, err := s.conn.Exec(`DELETE FROM credentials WHERE active = 0`)
	if err != nil {
		return 0, fmt.Errorf("store: purge inactive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge inactive: %w", err)
	}
	return int(n), nil
}

func (s *SQLite) Stats(userID int64) (Stats, error) {
	var st Stats
	err := s.conn.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(active), 0),
		        COALESCE(SUM(public), 0),
		        COALESCE(SUM(CASE WHEN active = 1 AND owner_id = ? THEN 1 ELSE 0 END), 0)
		 FROM credentials`, userID,
	).Scan(&st.Total, &st.Active, &st.Public, &st.UserActive)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}

func (s *SQLite) SavePoolConfig(cfg *pool.Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: encode pool config: %w", err)
	}

	_, err = s.conn.Exec(
		`INSERT INTO pool_config (id, version, payload, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version,
		                               payload = excluded.payload,
		                               updated_at = excluded.updated_at`,
		cfg.Version, string(payload), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: save pool config: %w", err)
	}
	return nil
}

func (s *SQLite) LoadPoolConfig() (*pool.Config, error) {
	var payload string
	err := s.conn.QueryRow(`SELECT payload FROM pool_config WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load pool config: %w", err)
	}

	var cfg pool.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, fmt.Errorf("store: decode pool config: %w", err)
	}
	return &cfg, nil
}

func (s *SQLite) SaveQuota(userID int64, group credential.ModelGroup, day time.Time, reward, used int64) error {
	_, err := s.conn.Exec(
		`INSERT INTO quota_ledger (user_id, model_group, day, reward, used) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, model_group, day) DO UPDATE SET reward = excluded.reward,
		                                                      used = excluded.used`,
		userID, string(group), day.UnixMilli(), reward, used,
	)
	if err != nil {
		return fmt.Errorf("store: save quota entry: %w", err)
	}
	return nil
}

func (s *SQLite) LoadQuotaRows() ([]QuotaRow, error) {
	// Only the most recent day per (user, group) matters for hydration;
	// older rows are kept for audit.
	rows, err := s.conn.Query(
		`SELECT user_id, model_group, day, reward, used FROM quota_ledger q
		 WHERE day = (SELECT MAX(day) FROM quota_ledger
		              WHERE user_id = q.user_id AND model_group = q.model_group)`)
	if err != nil {
		return nil, fmt.Errorf("store: load quota rows: %w", err)
	}
	defer rows.Close()

	var out []QuotaRow
	for rows.Next() {
		var (
			row   QuotaRow
			group string
			day   int64
		)
		if err := rows.Scan(&row.UserID, &group, &day, &row.Reward, &row.Used); err != nil {
			return nil, fmt.Errorf("store: scan quota row: %w", err)
		}
		row.Group = credential.ModelGroup(group)
		row.Day = time.UnixMilli(day).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) upsertLastUsed(id int64, group credential.ModelGroup, t time.Time) error {
	_, err := s.conn.Exec(
		`INSERT INTO credential_last_used (credential_id, model_group, used_at) VALUES (?, ?, ?)
		 ON CONFLICT(credential_id, model_group) DO UPDATE SET used_at = excluded.used_at`,
		id, string(group), t.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: record last used: %w", err)
	}
	return nil
}

func (s *SQLite) query(where string, args ...any) ([]*credential.Credential, error) {
	rows, err := s.conn.Query(
		`SELECT id, owner_id, provider, tier, active, public, use_count, created_at
		 FROM credentials `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query credentials: %w", err)
	}
	defer rows.Close()

	var out []*credential.Credential
	byID := make(map[int64]*credential.Credential)

	for rows.Next() {
		var (
			c              credential.Credential
			provider, tier string
			active, public int
			createdAt      int64
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &provider, &tier, &active, &public, &c.UseCount, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan credential: %w", err)
		}

		c.Provider = credential.Provider(provider)
		c.Tier, _ = credential.ParseTier(tier)
		c.Active = active == 1
		c.Public = public == 1
		c.CreatedAt = time.UnixMilli(createdAt).UTC()
		c.LastUsed = make(map[credential.ModelGroup]time.Time)

		out = append(out, &c)
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := s.fillLastUsed(byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) fillLastUsed(byID map[int64]*credential.Credential) error {
	rows, err := s.conn.Query(`SELECT credential_id, model_group, used_at FROM credential_last_used`)
	if err != nil {
		return fmt.Errorf("store: query last used: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int64
			group  string
			usedAt int64
		)
		if err := rows.Scan(&id, &group, &usedAt); err != nil {
			return fmt.Errorf("store: scan last used: %w", err)
		}
		if c, ok := byID[id]; ok {
			c.LastUsed[credential.ModelGroup(group)] = time.UnixMilli(usedAt).UTC()
		}
	}
	return rows.Err()
}

func (s *SQLite) exists(query string, args ...any) (bool, error) {
	var one int
	err := s.conn.QueryRow(query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: exists query: %w", err)
	}
	return true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
