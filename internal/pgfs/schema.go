package pgfs

import (
	"database/sql"
	"fmt"
	"time"
)

// createTableStatements is run, in order, against a freshly opened database
// the first time it is mounted. Column names and types mirror the dir/data
// tables described by the original schema: dir carries one row per inode,
// data carries one row per fixed-size block of a regular file's content.
func createTableStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS dir (
			id        BIGSERIAL PRIMARY KEY,
			parent_id BIGINT NOT NULL,
			name      VARCHAR NOT NULL,
			size      BIGINT NOT NULL DEFAULT 0,
			mode      INTEGER NOT NULL,
			uid       INTEGER NOT NULL,
			gid       INTEGER NOT NULL,
			ctime     TIMESTAMP NOT NULL,
			mtime     TIMESTAMP NOT NULL,
			atime     TIMESTAMP NOT NULL,
			UNIQUE (parent_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS data (
			dir_id   BIGINT NOT NULL REFERENCES dir (id) ON DELETE CASCADE,
			block_no BIGINT NOT NULL,
			data     BYTEA NOT NULL,
			PRIMARY KEY (dir_id, block_no)
		)`,
	}
}

// bootstrapSchema creates the dir/data tables if they are missing and seeds
// the root row (id 1, parent_id 0, name "/") that every path resolution
// walk terminates at. It is idempotent: mounting an already-initialized
// database is a no-op beyond the integer_datetimes and block size checks
// done by the caller.
func bootstrapSchema(db *sql.DB, rootMode uint32, uid, gid uint32) error {
	for _, stmt := range createTableStatements() {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("pgfs: create schema: %w", err)
		}
	}

	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM dir WHERE id = $1)`, RootID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("pgfs: check root row: %w", err)
	}
	if exists {
		return nil
	}

	now := timeNow()
	_, err = db.Exec(
		`INSERT INTO dir (id, parent_id, name, size, mode, uid, gid, ctime, mtime, atime)
		 VALUES ($1, 0, '/', 0, $2, $3, $4, $5, $5, $5)`,
		RootID, rootMode, uid, gid, now,
	)
	if err != nil {
		return fmt.Errorf("pgfs: seed root row: %w", err)
	}
	// bigserial starts its sequence at 1 already, but an explicit id=1 insert
	// above doesn't advance it; nudge it forward so the next CreateEntry
	// doesn't collide with the row we just seeded.
	if _, err := db.Exec(`SELECT setval(pg_get_serial_sequence('dir', 'id'), $1)`, RootID); err != nil {
		return fmt.Errorf("pgfs: advance id sequence: %w", err)
	}
	return nil
}

// timeNow exists so schema bootstrap and the rest of the package share one
// seam for the current time; production always uses time.Now.
var timeNow = time.Now

// checkIntegerDatetimes fails the mount if the server is not storing
// timestamps as 64-bit microsecond integers, matching the check in the
// original implementation's connection setup: pgfuse never supported the
// older floating-point datetime build of Postgres.
func checkIntegerDatetimes(db *sql.DB) error {
	var value string
	if err := db.QueryRow(`SHOW integer_datetimes`).Scan(&value); err != nil {
		return fmt.Errorf("pgfs: checking integer_datetimes: %w", err)
	}
	if value != "on" {
		return fmt.Errorf("pgfs: server is not built with integer_datetimes=on, refusing to mount")
	}
	return nil
}

// negotiateBlockSize returns the block size already committed to the data
// table, if any row exists, overriding whatever the caller asked for:
// mixing block sizes within one filesystem would make the slicing
// arithmetic in blocks.go invalid. On a fresh, empty table the requested
// size is used as-is.
func negotiateBlockSize(db *sql.DB, requested int) (int, error) {
	var size sql.NullInt64
	err := db.QueryRow(`SELECT DISTINCT octet_length(data) FROM data LIMIT 1`).Scan(&size)
	switch {
	case err == sql.ErrNoRows:
		return requested, nil
	case err != nil:
		return 0, fmt.Errorf("pgfs: negotiate block size: %w", err)
	case !size.Valid:
		return requested, nil
	}
	return int(size.Int64), nil
}
