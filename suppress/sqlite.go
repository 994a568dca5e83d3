package suppress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/rumeur/dbopen"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS suppressed_domains (
	domain         TEXT PRIMARY KEY,
	count          INTEGER NOT NULL DEFAULT 0,
	suppress_until INTEGER NOT NULL DEFAULT 0
);`

// SQLiteKV stores records in a suppressed_domains table. Several processes
// may share the file; lost updates between them are acceptable.
type SQLiteKV struct {
	db *sql.DB
}

// OpenSQLiteKV opens (creating if needed) the database at path.
func OpenSQLiteKV(path string) (*SQLiteKV, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, err
	}
	return &SQLiteKV{db: db}, nil
}

// NewSQLiteKV wraps an already open database and applies the schema.
func NewSQLiteKV(db *sql.DB) (*SQLiteKV, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("suppress: schema: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

func (k *SQLiteKV) Get(d string) (Record, bool, error) {
	var r Record
	err := k.db.QueryRow(`SELECT count, suppress_until FROM suppressed_domains WHERE domain = ?`, d).
		Scan(&r.Count, &r.SuppressUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("suppress: get %s: %w", d, err)
	}
	return r, true, nil
}

func (k *SQLiteKV) Put(d string, r Record) error {
	_, err := dbopen.Exec(context.Background(), k.db, `
		INSERT INTO suppressed_domains (domain, count, suppress_until) VALUES (?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET count = excluded.count, suppress_until = excluded.suppress_until`,
		d, r.Count, r.SuppressUntil)
	if err != nil {
		return fmt.Errorf("suppress: put %s: %w", d, err)
	}
	return nil
}

func (k *SQLiteKV) Delete(d string) error {
	if _, err := dbopen.Exec(context.Background(), k.db, `DELETE FROM suppressed_domains WHERE domain = ?`, d); err != nil {
		return fmt.Errorf("suppress: delete %s: %w", d, err)
	}
	return nil
}

func (k *SQLiteKV) All() (map[string]Record, error) {
	rows, err := k.db.Query(`SELECT domain, count, suppress_until FROM suppressed_domains`)
	if err != nil {
		return nil, fmt.Errorf("suppress: all: %w", err)
	}
	defer rows.Close()
	out := make(map[string]Record)
	for rows.Next() {
		var d string
		var r Record
		if err := rows.Scan(&d, &r.Count, &r.SuppressUntil); err != nil {
			return nil, fmt.Errorf("suppress: scan: %w", err)
		}
		out[d] = r
	}
	return out, rows.Err()
}

// Close closes the database.
func (k *SQLiteKV) Close() error { return k.db.Close() }
