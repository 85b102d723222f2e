// Package persist saves and restores the device state blob. Backends only
// move opaque bytes; the codec and the saver decide what goes in them.
package persist

import (
	"bytes"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Backend loads and saves one serialized state blob.
type Backend interface {
	// Load returns the saved blob; ok is false when nothing was saved yet.
	Load() (blob []byte, ok bool, err error)
	Save(blob []byte) error
}

// DefaultKey is the row the SQLite backend stores the blob under.
const DefaultKey = "lights"

// SQLite stores the blob in the device_state table.
type SQLite struct {
	db  *sql.DB
	key string
	now func() time.Time
}

// NewSQLite creates a backend over db, which must carry the device_state
// schema.
func NewSQLite(db *sql.DB, key string) *SQLite {
	if key == "" {
		key = DefaultKey
	}
	return &SQLite{db: db, key: key, now: time.Now}
}

func (s *SQLite) Load() ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT payload FROM device_state WHERE key = ?`, s.key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *SQLite) Save(blob []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO device_state (key, payload, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, s.key, blob, s.now().UTC().Unix())
	if err == nil {
		log.Debug().Str("key", s.key).Int("bytes", len(blob)).Msg("Device state saved")
	}
	return err
}

// Version returns how many times the blob has been saved.
func (s *SQLite) Version() (int64, error) {
	var v int64
	err := s.db.QueryRow(`SELECT version FROM device_state WHERE key = ?`, s.key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// Memory keeps the blob in process memory.
type Memory struct {
	mu    sync.Mutex
	blob  []byte
	saves int
	fail  error
}

func (m *Memory) Load() ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return nil, false, nil
	}
	return bytes.Clone(m.blob), true, nil
}

func (m *Memory) Save(blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.blob = bytes.Clone(blob)
	m.saves++
	return nil
}

// Saves returns the number of successful saves.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailWith makes every following Save return err; nil clears it.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}
