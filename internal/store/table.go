package store

import "github.com/roach88/kudosync/internal/record"

// table is one published collection. Once a table is visible through the
// store it is never mutated again; writers work on clones.
type table[T record.Record] struct {
	version int64
	order   []record.ID
	rows    map[record.ID]T
}

func newTable[T record.Record]() *table[T] {
	return &table[T]{rows: make(map[record.ID]T)}
}

func (t *table[T]) clone() *table[T] {
	c := &table[T]{
		version: t.version,
		order:   make([]record.ID, len(t.order)),
		rows:    make(map[record.ID]T, len(t.rows)),
	}
	copy(c.order, t.order)
	for id, row := range t.rows {
		c.rows[id] = row
	}
	return c
}

// put inserts or replaces a row. New rows go to the end of the order.
func (t *table[T]) put(row T) {
	id := row.RecordID()
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = row
}

func (t *table[T]) remove(id record.ID) bool {
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	kept := t.order[:0]
	for _, o := range t.order {
		if o != id {
			kept = append(kept, o)
		}
	}
	t.order = kept
	return true
}

// fill builds a fresh table holding rows in the given order.
// A repeated id keeps its first position and its last value.
func fill[T record.Record](version int64, rows []T) *table[T] {
	t := &table[T]{
		version: version,
		order:   make([]record.ID, 0, len(rows)),
		rows:    make(map[record.ID]T, len(rows)),
	}
	for _, row := range rows {
		t.put(row)
	}
	return t
}

type cloner[T any] interface {
	Clone() T
}

func detach[T record.Record](row T) T {
	if c, ok := any(row).(cloner[T]); ok {
		return c.Clone()
	}
	return row
}

// Snapshot is an immutable view of one collection at one version.
// Rows returned from a Snapshot are copies.
type Snapshot[T record.Record] struct {
	t *table[T]
}

// Version returns the collection version this snapshot was taken at.
func (s Snapshot[T]) Version() int64 { return s.t.version }

// Len returns the number of rows.
func (s Snapshot[T]) Len() int { return len(s.t.order) }

// Get returns the row with the given id.
func (s Snapshot[T]) Get(id record.ID) (T, bool) {
	row, ok := s.t.rows[id]
	if !ok {
		var zero T
		return zero, false
	}
	return detach(row), true
}

// Has reports whether a row with the given id exists.
func (s Snapshot[T]) Has(id record.ID) bool {
	_, ok := s.t.rows[id]
	return ok
}

// All returns every row in store order.
func (s Snapshot[T]) All() []T {
	out := make([]T, 0, len(s.t.order))
	for _, id := range s.t.order {
		out = append(out, detach(s.t.rows[id]))
	}
	return out
}

// IDs returns every id in store order.
func (s Snapshot[T]) IDs() []record.ID {
	return append([]record.ID(nil), s.t.order...)
}
