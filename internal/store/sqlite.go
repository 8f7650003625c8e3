package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const currentConversationKey = "current_conversation_id"

// SQLiteStore keeps the client's durable state: the persisted slice of the
// session, the selected conversation, and the refresh cookie.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS session (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        user_json TEXT,
        access_token TEXT NOT NULL DEFAULT '',
        is_authenticated BOOLEAN NOT NULL DEFAULT FALSE,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS preferences (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS cookies (
        origin TEXT NOT NULL,
        name TEXT NOT NULL,
        value TEXT NOT NULL,
        path TEXT NOT NULL DEFAULT '',
        domain TEXT NOT NULL DEFAULT '',
        expires DATETIME,
        secure BOOLEAN NOT NULL DEFAULT FALSE,
        http_only BOOLEAN NOT NULL DEFAULT FALSE,
        PRIMARY KEY (origin, name)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Session methods
func (s *SQLiteStore) SaveSession(ctx context.Context, sess PersistedSession) error {
	var userJSON sql.NullString
	if sess.User != nil {
		b, err := json.Marshal(sess.User)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}
		userJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO session (id, user_json, access_token, is_authenticated, updated_at)
        VALUES (1, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            user_json = excluded.user_json,
            access_token = excluded.access_token,
            is_authenticated = excluded.is_authenticated,
            updated_at = excluded.updated_at`,
		userJSON, sess.AccessToken, sess.IsAuthenticated, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession returns nil when nothing has been saved yet.
func (s *SQLiteStore) LoadSession(ctx context.Context) (*PersistedSession, error) {
	var userJSON sql.NullString
	var sess PersistedSession
	err := s.db.QueryRowContext(ctx, "SELECT user_json, access_token, is_authenticated FROM session WHERE id = 1").
		Scan(&userJSON, &sess.AccessToken, &sess.IsAuthenticated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if userJSON.Valid && userJSON.String != "" {
		var user User
		if err := json.Unmarshal([]byte(userJSON.String), &user); err != nil {
			return nil, fmt.Errorf("failed to unmarshal persisted user: %w", err)
		}
		sess.User = &user
	}
	return &sess, nil
}

func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session"); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return s.clearCookies()
}

// Preference methods
func (s *SQLiteStore) SaveCurrentConversationID(ctx context.Context, id string) error {
	if id == "" {
		_, err := s.db.ExecContext(ctx, "DELETE FROM preferences WHERE key = ?", currentConversationKey)
		if err != nil {
			return fmt.Errorf("failed to clear current conversation: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO preferences (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		currentConversationKey, id)
	if err != nil {
		return fmt.Errorf("failed to save current conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadCurrentConversationID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", currentConversationKey).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to query current conversation: %w", err)
	}
	return id, nil
}

// Cookie methods
type storedCookie struct {
	Origin   string
	Name     string
	Value    string
	Path     string
	Domain   string
	Expires  sql.NullTime
	Secure   bool
	HTTPOnly bool
}

func (s *SQLiteStore) saveCookie(c storedCookie) error {
	_, err := s.db.Exec(`
        INSERT INTO cookies (origin, name, value, path, domain, expires, secure, http_only)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(origin, name) DO UPDATE SET
            value = excluded.value,
            path = excluded.path,
            domain = excluded.domain,
            expires = excluded.expires,
            secure = excluded.secure,
            http_only = excluded.http_only`,
		c.Origin, c.Name, c.Value, c.Path, c.Domain, c.Expires, c.Secure, c.HTTPOnly)
	if err != nil {
		return fmt.Errorf("failed to save cookie %s: %w", c.Name, err)
	}
	return nil
}

func (s *SQLiteStore) deleteCookie(origin, name string) error {
	if _, err := s.db.Exec("DELETE FROM cookies WHERE origin = ? AND name = ?", origin, name); err != nil {
		return fmt.Errorf("failed to delete cookie %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) clearCookies() error {
	if _, err := s.db.Exec("DELETE FROM cookies"); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadCookies() ([]storedCookie, error) {
	rows, err := s.db.Query("SELECT origin, name, value, path, domain, expires, secure, http_only FROM cookies")
	if err != nil {
		return nil, fmt.Errorf("failed to query cookies: %w", err)
	}
	defer rows.Close()

	var cookies []storedCookie
	for rows.Next() {
		var c storedCookie
		if err := rows.Scan(&c.Origin, &c.Name, &c.Value, &c.Path, &c.Domain, &c.Expires, &c.Secure, &c.HTTPOnly); err != nil {
			return nil, fmt.Errorf("failed to scan cookie row: %w", err)
		}
		cookies = append(cookies, c)
	}
	return cookies, rows.Err()
}
