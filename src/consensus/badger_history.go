package consensus

import (
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger"
)

const (
	recordPrefix = "record"
	indexPrefix  = "index"
)

// BadgerHistory is a History backed by a Badger database. It wraps an
// InmemHistory which serves reads for the most recent records, while the
// database keeps the full archive across restarts.
type BadgerHistory struct {
	l       sync.Mutex
	inmem   *InmemHistory
	db      *badger.DB
	path    string
	nextSeq uint64
}

// NewBadgerHistory opens (or creates) a Badger database at path and loads any
// previously archived records into the in-memory mirror.
func NewBadgerHistory(path string, limit int) (*BadgerHistory, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts = opts.WithSyncWrites(false)
	opts = opts.WithLogger(nil)

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	history := &BadgerHistory{
		inmem: NewInmemHistory(limit),
		db:    handle,
		path:  path,
	}

	if err := history.bootstrap(); err != nil {
		handle.Close()
		return nil, err
	}

	return history, nil
}

// bootstrap replays the database, oldest first, into the in-memory mirror.
func (h *BadgerHistory) bootstrap() error {
	return h.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(recordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				record := new(Record)
				if err := record.Unmarshal(val); err != nil {
					return err
				}
				h.nextSeq++
				return h.inmem.Append(record)
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", recordPrefix, seq))
}

func indexKey(id string) []byte {
	return []byte(fmt.Sprintf("%s_%s", indexPrefix, id))
}

// Append implements History. The record is written to the database and
// mirrored in memory.
func (h *BadgerHistory) Append(record *Record) error {
	h.l.Lock()
	defer h.l.Unlock()

	data, err := record.Marshal()
	if err != nil {
		return err
	}

	key := recordKey(h.nextSeq)

	err = h.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(indexKey(record.ID), key)
	})
	if err != nil {
		return err
	}

	h.nextSeq++

	return h.inmem.Append(record)
}

// Get implements History. It serves from the in-memory mirror first, falling
// back to the database for records that have been evicted from it.
func (h *BadgerHistory) Get(id string) (*Record, error) {
	record, err := h.inmem.Get(id)
	if err != nil || record != nil {
		return record, err
	}

	err = h.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get(indexKey(id))
		if err != nil {
			return err
		}

		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			record = new(Record)
			return record.Unmarshal(val)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

// List implements History. It returns the in-memory mirror, which holds the
// most recent records up to the configured limit.
func (h *BadgerHistory) List() ([]*Record, error) {
	return h.inmem.List()
}

// Len implements History.
func (h *BadgerHistory) Len() int {
	return h.inmem.Len()
}

// Close implements History.
func (h *BadgerHistory) Close() error {
	return h.db.Close()
}
