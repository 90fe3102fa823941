// Package catalog is the durable key-value catalog behind the change
// request and live edit services. Records are JSON documents under
// prefixed keys:
//
//	cr/<id>            change request
//	crevt/<cr>/<seq>   change request event (append-only)
//	sess/<id>          live edit session
//	upload/<id>        pending upload metadata
//	dsopt/<proj>/<ds>  dataset options (row identity column, primary keys)
package catalog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Store is a Badger-backed catalog.
type Store struct {
	db *badger.DB

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

// Options configures the store.
type Options struct {
	Dir      string
	InMemory bool
}

// Open opens (or creates) the catalog database.
func Open(opts Options) (*Store, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Dir)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return &Store{db: db, seqs: map[string]*badger.Sequence{}}, nil
}

// Close releases sequences and the database.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, seq := range s.seqs {
		seq.Release()
	}
	s.seqs = map[string]*badger.Sequence{}
	s.mu.Unlock()
	return s.db.Close()
}

// Put stores v as JSON under key.
func (s *Store) Put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Get loads the JSON document at key into out. The boolean reports
// whether the key exists.
func (s *Store) Get(key string, out interface{}) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// List iterates all values under prefix in key order.
func (s *Store) List(prefix string, each func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error {
				buf := make([]byte, len(val))
				copy(buf, val)
				return each(key, buf)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// NextSeq returns the next value of a named monotonic sequence. Used to
// order append-only event records.
func (s *Store) NextSeq(name string) (uint64, error) {
	s.mu.Lock()
	seq, ok := s.seqs[name]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte("seq/"+name), 64)
		if err != nil {
			s.mu.Unlock()
			return 0, err
		}
		s.seqs[name] = seq
	}
	s.mu.Unlock()
	return seq.Next()
}
