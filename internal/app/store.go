package app

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the persisted transcript contract. The in-memory log is
// authoritative for the UI; the store is a durable cache written
// through best-effort, so implementations must tolerate concurrent
// writes from outside the log's writer goroutine.
type Store interface {
	// GetPage returns up to limit messages, newest first.
	GetPage(limit, offset int) ([]Message, error)
	Insert(m Message) error
	UpdateByMessageID(id int64, text, session, buttonsJSON string) error
	// Search matches query as a case-insensitive substring, newest first.
	Search(query string, limit, offset int) ([]Message, error)
	Count() (int, error)
	SearchCount(query string) (int, error)
	DeleteAll() error
	Close() error
}

// SQLiteStore persists the transcript in a local SQLite database.
type SQLiteStore struct {
	Root   string
	dbPath string

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error
}

func NewSQLiteStore(root string) (*SQLiteStore, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	st := &SQLiteStore{
		Root:   root,
		dbPath: filepath.Join(root, "chat-bridge.db"),
	}
	// Initialize eagerly so callers fail fast.
	if err := st.init(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) init() error {
	s.once.Do(func() {
		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			s.err = err
			return
		}
		// Keep sqlite responsive under contention.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS messages (
				rowid_alias INTEGER PRIMARY KEY AUTOINCREMENT,
				message_id INTEGER NOT NULL,
				text TEXT NOT NULL,
				origin TEXT NOT NULL,
				session TEXT,
				buttons_json TEXT,
				created_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages(message_id);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at_ns);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				s.err = err
				return
			}
		}

		s.db = db
	})
	return s.err
}

func (s *SQLiteStore) dbConn() (*sql.DB, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("sqlite store unavailable")
	}
	return db, nil
}

func (s *SQLiteStore) GetPage(limit, offset int) ([]Message, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT message_id, text, origin, session, buttons_json, created_at_ns
		 FROM messages ORDER BY created_at_ns DESC, rowid_alias DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) Insert(m Message) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = db.Exec(
		`INSERT INTO messages(message_id, text, origin, session, buttons_json, created_at_ns)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		m.ID, m.Text, m.Origin, nullIfBlank(m.Session), encodeButtons(m.Buttons), ts.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) UpdateByMessageID(id int64, text, session, buttonsJSON string) error {
	if id == 0 {
		return errors.New("message has no stable identity")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	if session != "" {
		_, err = db.Exec(
			`UPDATE messages SET text = ?, session = ?, buttons_json = ?
			 WHERE rowid_alias = (SELECT MAX(rowid_alias) FROM messages WHERE message_id = ?)`,
			text, session, buttonsJSON, id,
		)
		return err
	}
	_, err = db.Exec(
		`UPDATE messages SET text = ?, buttons_json = ?
		 WHERE rowid_alias = (SELECT MAX(rowid_alias) FROM messages WHERE message_id = ?)`,
		text, buttonsJSON, id,
	)
	return err
}

func (s *SQLiteStore) Search(query string, limit, offset int) ([]Message, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT message_id, text, origin, session, buttons_json, created_at_ns
		 FROM messages WHERE text LIKE '%' || ? || '%'
		 ORDER BY created_at_ns DESC, rowid_alias DESC LIMIT ? OFFSET ?`,
		query, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) Count() (int, error) {
	db, err := s.dbConn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) SearchCount(query string) (int, error) {
	db, err := s.dbConn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM messages WHERE text LIKE '%' || ? || '%'`, query).Scan(&n)
	return n, err
}

func (s *SQLiteStore) DeleteAll() error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`DELETE FROM messages`)
	return err
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var (
			m       Message
			session sql.NullString
			buttons sql.NullString
			ns      int64
		)
		if err := rows.Scan(&m.ID, &m.Text, &m.Origin, &session, &buttons, &ns); err != nil {
			return nil, err
		}
		m.Session = session.String
		m.Buttons = decodeButtons(buttons.String)
		m.Timestamp = time.Unix(0, ns)
		m.Persisted = true
		out = append(out, m)
	}
	return out, rows.Err()
}

func encodeButtons(rows [][]Button) string {
	if len(rows) == 0 {
		return ""
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeButtons(raw string) [][]Button {
	if raw == "" {
		return nil
	}
	var rows [][]Button
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil
	}
	return rows
}

func nullIfBlank(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
