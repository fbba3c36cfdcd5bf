// Package store persists changesets, review state and all supporting
// records in PostgreSQL/PostGIS and provides the query layer over
// them.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/osmcha/osmcha/log"
)

type SQLError struct {
	query         string
	originalError error
}

func (e *SQLError) Error() string {
	return fmt.Sprintf("SQL Error: %s in query %s", e.originalError.Error(), e.query)
}

func (e *SQLError) Cause() error { return e.originalError }

type Store struct {
	DB *sql.DB
}

// Open connects to the database. The connection string accepts
// lib/pq keyword/value or URL form, with an optional postgis://
// prefix.
func Open(connection string) (*Store, error) {
	if strings.HasPrefix(connection, "postgis://") {
		connection = strings.Replace(connection, "postgis", "postgres", 1)
	}
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Init creates all tables and indexes if they do not exist.
func (s *Store) Init() error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer rollbackIfTx(&tx)
	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return &SQLError{stmt, err}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tx = nil
	return nil
}

func rollbackIfTx(tx **sql.Tx) {
	if *tx != nil {
		if err := (*tx).Rollback(); err != nil && err != sql.ErrTxDone {
			log.Errorf("rollback failed: %s", err)
		}
	}
}
