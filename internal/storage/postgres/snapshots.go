// Package postgres keeps a history of drained scenes in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Vasu1712/scenyx-hub/internal/logging"
	"github.com/Vasu1712/scenyx-hub/internal/reconcile"
)

// ErrNotFound is returned by Latest when a file has no snapshot.
var ErrNotFound = errors.New("snapshot not found")

const schema = `
CREATE TABLE IF NOT EXISTS scene_snapshots (
	id       BIGSERIAL PRIMARY KEY,
	file_id  TEXT        NOT NULL,
	elements JSONB       NOT NULL,
	files    JSONB       NOT NULL DEFAULT '{}',
	saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS scene_snapshots_file_id ON scene_snapshots (file_id, saved_at DESC);
`

// SnapshotStore appends a row per drained scene. It satisfies rooms.Persister
// so it can run alongside the document store.
type SnapshotStore struct {
	db  *sql.DB
	log *logging.Logger
}

// Open connects to dsn, verifies the connection and creates the table.
func Open(ctx context.Context, dsn string, log *logging.Logger) (*SnapshotStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := NewSnapshotStore(db, log)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Infof("connected to snapshot database")
	return s, nil
}

func NewSnapshotStore(db *sql.DB, log *logging.Logger) *SnapshotStore {
	return &SnapshotStore{db: db, log: log.With("snapshots")}
}

func (s *SnapshotStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating scene_snapshots: %w", err)
	}
	return nil
}

// Save records scene under fileID. The token is not needed here.
func (s *SnapshotStore) Save(ctx context.Context, fileID, _ string, scene reconcile.Scene) error {
	elements, err := json.Marshal(scene.Elements)
	if err != nil {
		return fmt.Errorf("encoding elements for %s: %w", fileID, err)
	}
	if scene.Elements == nil {
		elements = []byte("[]")
	}
	files := []byte("{}")
	if len(scene.Files) > 0 {
		if files, err = json.Marshal(scene.Files); err != nil {
			return fmt.Errorf("encoding files for %s: %w", fileID, err)
		}
	}

	const query = `INSERT INTO scene_snapshots (file_id, elements, files) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, fileID, elements, files); err != nil {
		return fmt.Errorf("saving snapshot for %s: %w", fileID, err)
	}
	s.log.Debugf("snapshot saved for file %s (%d elements)", fileID, len(scene.Elements))
	return nil
}

// Latest returns the newest snapshot of fileID and when it was taken.
func (s *SnapshotStore) Latest(ctx context.Context, fileID string) (reconcile.Scene, time.Time, error) {
	var (
		scene           reconcile.Scene
		elements, files []byte
		savedAt         time.Time
	)
	const query = `
		SELECT elements, files, saved_at
		FROM scene_snapshots
		WHERE file_id = $1
		ORDER BY saved_at DESC, id DESC
		LIMIT 1`
	err := s.db.QueryRowContext(ctx, query, fileID).Scan(&elements, &files, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return scene, time.Time{}, ErrNotFound
	}
	if err != nil {
		return scene, time.Time{}, fmt.Errorf("loading snapshot for %s: %w", fileID, err)
	}
	if err := json.Unmarshal(elements, &scene.Elements); err != nil {
		return scene, time.Time{}, fmt.Errorf("decoding elements for %s: %w", fileID, err)
	}
	if err := json.Unmarshal(files, &scene.Files); err != nil {
		return scene, time.Time{}, fmt.Errorf("decoding files for %s: %w", fileID, err)
	}
	return scene, savedAt, nil
}

// Close closes the database connection.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
