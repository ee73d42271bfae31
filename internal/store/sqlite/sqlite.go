// Package sqlite persists the enrolled-device table across restarts, using
// database/sql over mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/smallorange/bolt/internal/bolt"
	"github.com/smallorange/bolt/internal/store/sqlite/query"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	uid    TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	vendor TEXT NOT NULL,
	policy INTEGER NOT NULL,
	key    BLOB
);
`

// Store is a bolt.Store backed by a single sqlite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema is current.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// The reference daemon's store is single-writer; one connection keeps
	// sqlite's locking model simple and makes WAL mode effective.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// isBusy reports whether err is worth retrying: sqlite reporting
// SQLITE_BUSY ("database is locked") because another connection or
// process holds the lock briefly, or sql.ErrTxDone.
func isBusy(err error) bool {
	return err != nil && (errors.Is(err, sql.ErrTxDone) ||
		containsBusyHint(err.Error()))
}

func containsBusyHint(msg string) bool {
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// withBusyRetry retries fn a bounded number of times on SQLITE_BUSY,
// backing off briefly between attempts. Authorization decisions never go
// through this path: only persistence writes do.
func withBusyRetry(fn func() error) error {
	return retry.Retry(func(attempt uint) error {
		err := fn()
		if err != nil && isBusy(err) {
			return err
		}
		if err != nil {
			return retry.Stop(err)
		}
		return nil
	}, strategy.Limit(5), strategy.Wait(20*time.Millisecond))
}

func (s *Store) ListUIDs(ctx context.Context) ([]string, error) {
	stmt, err := s.db.PrepareContext(ctx, "SELECT uid FROM devices")
	if err != nil {
		return nil, fmt.Errorf("sqlite: prepare list: %w", err)
	}
	defer stmt.Close()

	var uids []string
	dest := func(i int) []interface{} {
		uids = append(uids, "")
		return []interface{}{&uids[i]}
	}

	if err := query.SelectObjects(stmt, dest); err != nil {
		return nil, fmt.Errorf("sqlite: list uids: %w", err)
	}
	return uids, nil
}

func (s *Store) Get(ctx context.Context, uid string) (bolt.StoredDevice, error) {
	stmt, err := s.db.PrepareContext(ctx, "SELECT uid, name, vendor, policy, key FROM devices WHERE uid = ?")
	if err != nil {
		return bolt.StoredDevice{}, fmt.Errorf("sqlite: prepare get: %w", err)
	}
	defer stmt.Close()

	var rec bolt.StoredDevice
	var policy int
	found := false

	dest := func(i int) []interface{} {
		found = true
		return []interface{}{&rec.UID, &rec.Name, &rec.Vendor, &policy, &rec.Key}
	}

	if err := query.SelectObjects(stmt, dest, uid); err != nil {
		return bolt.StoredDevice{}, &bolt.StoreError{UID: uid, Kind: bolt.StoreIO, Err: err}
	}
	if !found {
		return bolt.StoredDevice{}, &bolt.StoreError{UID: uid, Kind: bolt.StoreNotFound, Err: sql.ErrNoRows}
	}

	rec.Policy = bolt.Policy(policy)
	return rec, nil
}

func (s *Store) Put(ctx context.Context, rec bolt.StoredDevice) error {
	return withBusyRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin put: %w", err)
		}

		_, err = query.UpsertObject(tx, "devices",
			[]string{"uid", "name", "vendor", "policy", "key"},
			[]interface{}{rec.UID, rec.Name, rec.Vendor, int(rec.Policy), rec.Key},
		)
		if err != nil {
			tx.Rollback()
			return &bolt.StoreError{UID: rec.UID, Kind: bolt.StoreIO, Err: err}
		}

		if err := tx.Commit(); err != nil {
			return &bolt.StoreError{UID: rec.UID, Kind: bolt.StoreIO, Err: err}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, uid string) error {
	return withBusyRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin delete: %w", err)
		}

		if err := query.DeleteObject(tx, "devices", "uid", uid); err != nil {
			tx.Rollback()
			return &bolt.StoreError{UID: uid, Kind: bolt.StoreIO, Err: err}
		}

		if err := tx.Commit(); err != nil {
			return &bolt.StoreError{UID: uid, Kind: bolt.StoreIO, Err: err}
		}
		return nil
	})
}

var _ bolt.Store = (*Store)(nil)
