package consensus

import (
	"sync"
)

// History archives completed consensus records. Records are immutable once
// archived; implementations keep at most a bounded number of them and evict
// the oldest first.
type History interface {
	// Append archives a completed record.
	Append(record *Record) error

	// Get returns the record with the given ID, or nil if it was never
	// archived or has been evicted.
	Get(id string) (*Record, error)

	// List returns the archived records, oldest first.
	List() ([]*Record, error)

	// Len returns the number of archived records.
	Len() int

	// Close releases any underlying resources.
	Close() error
}

// InmemHistory is the default History, backed by a bounded in-memory list.
type InmemHistory struct {
	sync.RWMutex
	records []*Record
	byID    map[string]*Record
	limit   int
}

// NewInmemHistory creates an InmemHistory keeping at most limit records.
func NewInmemHistory(limit int) *InmemHistory {
	return &InmemHistory{
		records: []*Record{},
		byID:    make(map[string]*Record),
		limit:   limit,
	}
}

// Append implements History.
func (h *InmemHistory) Append(record *Record) error {
	h.Lock()
	defer h.Unlock()

	cp := record.copy()

	h.records = append(h.records, cp)
	h.byID[cp.ID] = cp

	for h.limit > 0 && len(h.records) > h.limit {
		evicted := h.records[0]
		h.records = h.records[1:]
		delete(h.byID, evicted.ID)
	}

	return nil
}

// Get implements History.
func (h *InmemHistory) Get(id string) (*Record, error) {
	h.RLock()
	defer h.RUnlock()

	record, ok := h.byID[id]
	if !ok {
		return nil, nil
	}

	return record.copy(), nil
}

// List implements History.
func (h *InmemHistory) List() ([]*Record, error) {
	h.RLock()
	defer h.RUnlock()

	out := make([]*Record, len(h.records))
	for i, record := range h.records {
		out[i] = record.copy()
	}

	return out, nil
}

// Len implements History.
func (h *InmemHistory) Len() int {
	h.RLock()
	defer h.RUnlock()

	return len(h.records)
}

// Close implements History.
func (h *InmemHistory) Close() error {
	return nil
}
