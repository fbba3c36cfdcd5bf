// Package deadletter keeps changesets that repeatedly failed to
// ingest. Entries survive restarts so an operator can requeue them
// after the cause is fixed.
package deadletter

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
)

// Entry is one failed changeset with its last error.
type Entry struct {
	ChangesetID int64     `json:"changeset_id"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
	LastTry     time.Time `json:"last_try"`
}

type Log struct {
	db *badger.DB
}

// Open opens or creates the dead-letter database in dir.
func Open(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening dead-letter db in %s", dir)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

func key(changesetID int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(changesetID))
	return k
}

// Record stores or refreshes a failed changeset. The attempt count
// accumulates across records of the same id.
func (l *Log) Record(changesetID int64, cause error, attempts int) error {
	return l.db.Update(func(txn *badger.Txn) error {
		entry := Entry{ChangesetID: changesetID}
		item, err := txn.Get(key(changesetID))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		entry.Error = cause.Error()
		entry.Attempts += attempts
		entry.LastTry = time.Now().UTC()
		buf, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return txn.Set(key(changesetID), buf)
	})
}

// List returns all entries ordered by changeset id.
func (l *Log) List() ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// Remove drops one entry. Removing an unknown id is a no-op.
func (l *Log) Remove(changesetID int64) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(changesetID))
	})
}

// Purge drops all entries and returns how many were removed.
func (l *Log) Purge() (int, error) {
	entries, err := l.List()
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if err := l.Remove(entry.ChangesetID); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}
