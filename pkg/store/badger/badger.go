// Package badger implements store.Store on an embedded BadgerDB.
//
// Keys are namespaced by artefact kind:
//
//	call/<call_id>        JSON CallRecord
//	transcript/<call_id>  transcript text
//	summary/<call_id>     JSON Summary
//
// Because call ids sort by creation time, a reverse prefix scan over
// "call/" yields records newest first.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/MrWong99/callagent/pkg/store"
)

const (
	callPrefix       = "call/"
	transcriptPrefix = "transcript/"
	summaryPrefix    = "summary/"
)

var _ store.Store = (*Store)(nil)

// Options configures the Badger store.
type Options struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Used by tests.
	InMemory bool
}

// Store is a BadgerDB-backed store.Store.
type Store struct {
	db  *badgerdb.DB
	now func() time.Time
}

// Open opens (or creates) a Badger database.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger store: Dir is required for on-disk mode")
	}
	dbOpts := badgerdb.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badgerdb.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SaveCall implements store.Store.
func (s *Store) SaveCall(_ context.Context, rec *store.CallRecord) (string, error) {
	var id string
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		for {
			id = store.NewCallID(s.now())
			_, err := txn.Get([]byte(callPrefix + id))
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				break
			}
			if err != nil {
				return err
			}
		}
		out := *rec
		out.CallID = id
		data, err := json.Marshal(&out)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		return txn.Set([]byte(callPrefix+id), data)
	})
	if err != nil {
		return "", fmt.Errorf("badger store: save call: %w", err)
	}
	rec.CallID = id
	return id, nil
}

// SaveTranscript implements store.Store.
func (s *Store) SaveTranscript(_ context.Context, callID, transcript string) error {
	if err := s.set(transcriptPrefix+callID, []byte(transcript)); err != nil {
		return fmt.Errorf("badger store: save transcript %s: %w", callID, err)
	}
	return nil
}

// SaveSummary implements store.Store.
func (s *Store) SaveSummary(_ context.Context, callID string, summary store.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("badger store: marshal summary: %w", err)
	}
	if err := s.set(summaryPrefix+callID, data); err != nil {
		return fmt.Errorf("badger store: save summary %s: %w", callID, err)
	}
	return nil
}

// GetCall implements store.Store.
func (s *Store) GetCall(_ context.Context, callID string) (*store.CallRecord, error) {
	data, err := s.get(callPrefix + callID)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("badger store: get %q: %w", callID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badger store: get %q: %w", callID, err)
	}
	var rec store.CallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("badger store: decode %q: %w", callID, err)
	}
	return &rec, nil
}

// Transcript returns the stored transcript text for callID.
func (s *Store) Transcript(callID string) (string, error) {
	data, err := s.get(transcriptPrefix + callID)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return "", fmt.Errorf("badger store: transcript %q: %w", callID, store.ErrNotFound)
	}
	return string(data), err
}

// ListCalls implements store.Store.
func (s *Store) ListCalls(_ context.Context, limit int) ([]store.CallRecord, error) {
	var out []store.CallRecord
	err := s.db.View(func(txn *badgerdb.Txn) error {
		itOpts := badgerdb.DefaultIteratorOptions
		itOpts.Reverse = true
		itOpts.Prefix = []byte(callPrefix)
		it := txn.NewIterator(itOpts)
		defer it.Close()

		// In reverse mode Seek positions at the greatest key <= the seek key.
		seek := append([]byte(callPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(callPrefix)); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec store.CallRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: list: %w", err)
	}
	return out, nil
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	recs, err := s.ListCalls(ctx, 0)
	if err != nil {
		return store.Stats{}, err
	}
	return store.ComputeStats(recs), nil
}

// Ping implements store.Store.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store: database is closed")
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) set(key string, value []byte) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *Store) get(key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

// slogLogger routes badger's warnings and errors into slog and drops its
// chatty info and debug output.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any)   { slog.Error("badger: " + fmt.Sprintf(f, v...)) }
func (slogLogger) Warningf(f string, v ...any) { slog.Warn("badger: " + fmt.Sprintf(f, v...)) }
func (slogLogger) Infof(string, ...any)        {}
func (slogLogger) Debugf(string, ...any)       {}
