package jobtracker

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Store is a local SQLite file the tracker flushes jobs to. It is an
// audit/history sink, not a source of truth while the process is alive.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(j Job) error {
	meta, err := json.Marshal(j.Metadata)
	if err != nil {
		meta = []byte("{}")
	}
	_, err = s.db.Exec(`
INSERT INTO jobs (id, type, status, progress, message, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	status = excluded.status,
	progress = excluded.progress,
	message = excluded.message,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at
`,
		j.ID,
		j.Type,
		string(j.Status),
		j.Progress,
		j.Message,
		string(meta),
		j.CreatedAt.Format(time.RFC3339Nano),
		j.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) LoadAll() ([]Job, error) {
	rows, err := s.db.Query(`
SELECT id, type, status, progress, message, metadata, created_at, updated_at
FROM jobs
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var status, meta, createdAt, updatedAt string
		if err := rows.Scan(&j.ID, &j.Type, &status, &j.Progress, &j.Message, &meta, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.Status = Status(status)
		if err := json.Unmarshal([]byte(meta), &j.Metadata); err != nil {
			j.Metadata = nil
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			j.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			j.UpdatedAt = t
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
