package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend persists the five collections as tables in a local SQLite
// database. Each flush rewrites the collections inside one transaction, so
// the on-disk state always corresponds to a single snapshot.
type SQLiteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id   TEXT PRIMARY KEY,
	seq  INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agents (
	id   TEXT PRIMARY KEY,
	seq  INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_groups (
	id   TEXT PRIMARY KEY,
	seq  INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	group_id TEXT NOT NULL,
	seq      INTEGER NOT NULL,
	data     TEXT NOT NULL,
	PRIMARY KEY (group_id, seq)
);
CREATE TABLE IF NOT EXISTS last_reads (
	key        TEXT PRIMARY KEY,
	message_id TEXT NOT NULL
);
`

// NewSQLiteBackend opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Save rewrites all collections in one transaction.
func (b *SQLiteBackend) Save(snap *Snapshot) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"workspaces", "agents", "chat_groups", "messages", "last_reads"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for i, ws := range snap.Workspaces {
		data, err := json.Marshal(ws)
		if err != nil {
			return fmt.Errorf("failed to marshal workspace: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO workspaces (id, seq, data) VALUES (?, ?, ?)", ws.ID, i, string(data)); err != nil {
			return fmt.Errorf("failed to insert workspace: %w", err)
		}
	}
	for i, a := range snap.Agents {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal agent: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO agents (id, seq, data) VALUES (?, ?, ?)", a.ID, i, string(data)); err != nil {
			return fmt.Errorf("failed to insert agent: %w", err)
		}
	}
	for i, g := range snap.Groups {
		data, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("failed to marshal group: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO chat_groups (id, seq, data) VALUES (?, ?, ?)", g.ID, i, string(data)); err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}
	}
	for groupID, msgs := range snap.Messages {
		for i, m := range msgs {
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if _, err := tx.Exec("INSERT INTO messages (group_id, seq, data) VALUES (?, ?, ?)", groupID, i, string(data)); err != nil {
				return fmt.Errorf("failed to insert message: %w", err)
			}
		}
	}
	for key, msgID := range snap.LastReads {
		if _, err := tx.Exec("INSERT INTO last_reads (key, message_id) VALUES (?, ?)", key, msgID); err != nil {
			return fmt.Errorf("failed to insert read cursor: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot.
func (b *SQLiteBackend) Load() (*Snapshot, error) {
	snap := emptySnapshot()

	rows, err := b.db.Query("SELECT data FROM workspaces ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query workspaces: %w", err)
	}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return nil, err
		}
		var ws Workspace
		if err := json.Unmarshal([]byte(data), &ws); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal workspace: %w", err)
		}
		snap.Workspaces = append(snap.Workspaces, &ws)
	}
	rows.Close()

	rows, err = b.db.Query("SELECT data FROM agents ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return nil, err
		}
		var a Agent
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal agent: %w", err)
		}
		snap.Agents = append(snap.Agents, &a)
	}
	rows.Close()

	rows, err = b.db.Query("SELECT data FROM chat_groups ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return nil, err
		}
		var g Group
		if err := json.Unmarshal([]byte(data), &g); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal group: %w", err)
		}
		snap.Groups = append(snap.Groups, &g)
	}
	rows.Close()

	rows, err = b.db.Query("SELECT group_id, data FROM messages ORDER BY group_id, seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	for rows.Next() {
		var groupID, data string
		if err := rows.Scan(&groupID, &data); err != nil {
			rows.Close()
			return nil, err
		}
		var m Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		snap.Messages[groupID] = append(snap.Messages[groupID], &m)
	}
	rows.Close()

	rows, err = b.db.Query("SELECT key, message_id FROM last_reads")
	if err != nil {
		return nil, fmt.Errorf("failed to query read cursors: %w", err)
	}
	for rows.Next() {
		var key, msgID string
		if err := rows.Scan(&key, &msgID); err != nil {
			rows.Close()
			return nil, err
		}
		snap.LastReads[key] = msgID
	}
	rows.Close()

	return snap, nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error { return b.db.Close() }
