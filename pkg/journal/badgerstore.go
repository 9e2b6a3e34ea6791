package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/proview/fileops/pkg/fserrors"
	"gitlab.com/tozd/go/errors"
)

// Key layout:
//
//	rec/<plan-id>/<seq 10 digits>  -> Record (JSON)
//	term/<plan-id>                 -> terminal Record (JSON)
//
// The per-plan sequence keeps RecordsFor ordered under a plain prefix scan.
const (
	recPrefix  = "rec/"
	termPrefix = "term/"
)

// BadgerStore is the embedded-KV journal backend, for installations where
// the journal outgrows a flat file. Opened with SyncWrites so Append is
// durable before it returns.
type BadgerStore struct {
	db *badger.DB

	mu   sync.Mutex
	seqs map[string]uint64
}

// NewBadgerStore opens the journal database under dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Errorf("opening journal database: %w", err)
	}
	return &BadgerStore{db: db, seqs: map[string]uint64{}}, nil
}

// Append implements Store.
func (s *BadgerStore) Append(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Errorf("%w: encoding record: %s", fserrors.ErrJournalWrite, err.Error())
	}

	var key []byte
	if rec.Terminal() {
		key = []byte(termPrefix + rec.PlanID)
	} else {
		seq, err := s.nextSeq(rec.PlanID)
		if err != nil {
			return err
		}
		key = []byte(fmt.Sprintf("%s%s/%010d", recPrefix, rec.PlanID, seq))
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return errors.Errorf("%w: %s", fserrors.ErrJournalWrite, err.Error())
	}
	return nil
}

// nextSeq hands out monotonically increasing per-plan sequence numbers,
// recovering the high-water mark from the database on first use.
func (s *BadgerStore) nextSeq(planID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seqs[planID]; !ok {
		var high uint64
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(recPrefix + planID + "/")
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				high++
			}
			return nil
		})
		if err != nil {
			return 0, errors.Errorf("%w: scanning sequence: %s", fserrors.ErrJournalWrite, err.Error())
		}
		s.seqs[planID] = high
	}
	s.seqs[planID]++
	return s.seqs[planID], nil
}

// RecordsFor implements Store.
func (s *BadgerStore) RecordsFor(ctx context.Context, planID string) ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recPrefix + planID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec Record
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}

		item, err := txn.Get([]byte(termPrefix + planID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("reading journal records: %w", err)
	}
	return out, nil
}

// Interrupted implements Store.
func (s *BadgerStore) Interrupted(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	finished := map[string]bool{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().KeyCopy(nil))
			switch {
			case strings.HasPrefix(key, recPrefix):
				rest := strings.TrimPrefix(key, recPrefix)
				if idx := strings.IndexByte(rest, '/'); idx > 0 {
					seen[rest[:idx]] = true
				}
			case strings.HasPrefix(key, termPrefix):
				finished[strings.TrimPrefix(key, termPrefix)] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("scanning journal: %w", err)
	}

	var out []string
	for id := range seen {
		if !finished[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Prune implements Store.
func (s *BadgerStore) Prune(ctx context.Context, planID string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(recPrefix + planID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return errors.Errorf("scanning journal: %w", err)
	}
	keys = append(keys, []byte(termPrefix+planID))

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Errorf("pruning journal: %w", err)
	}

	s.mu.Lock()
	delete(s.seqs, planID)
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
