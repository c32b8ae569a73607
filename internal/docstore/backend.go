package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"google.golang.org/api/iterator"
)

// ErrAlreadyExists is returned by Create when the document id is taken
var ErrAlreadyExists = errors.New("document already exists")

// Path addresses a collection: root collection, namespace document, subcollection.
type Path struct {
	Root       string
	Namespace  string
	Collection string
}

func (p Path) String() string {
	return p.Root + "/" + p.Namespace + "/" + p.Collection
}

// Snapshot is a document read back from a backend
type Snapshot struct {
	ID        string
	Data      Document
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Op is a filter comparison operator
type Op string

const (
	OpEqual        Op = "=="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// Filter restricts a query to documents whose top-level Field compares to Value
type Filter struct {
	Field string
	Op    Op
	Value Value
}

// Matches reports whether doc satisfies the filter. Missing fields never match.
func (f Filter) Matches(doc Document) bool {
	v, ok := doc[f.Field]
	if !ok {
		return false
	}
	if f.Op == OpEqual {
		return v.Equal(f.Value)
	}

	cmp, ok := v.Compare(f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	}
	return false
}

// Query selects documents from one collection.
// An empty OrderBy orders by write (creation) time.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int // 0 means no limit
}

// Validate rejects unknown operators and negative limits
func (q Query) Validate() error {
	for _, f := range q.Filters {
		switch f.Op {
		case OpEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		default:
			return fmt.Errorf("unsupported filter operator %q on %s", f.Op, f.Field)
		}
		if f.Field == "" {
			return errors.New("filter field is empty")
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("negative limit %d", q.Limit)
	}
	return nil
}

func (q Query) matches(doc Document) bool {
	for _, f := range q.Filters {
		if !f.Matches(doc) {
			return false
		}
	}
	return true
}

// Iterator walks query results lazily. Next returns iterator.Done once the results are
// exhausted; Stop releases backend resources and may be called more than once.
type Iterator interface {
	Next() (Snapshot, error)
	Stop()
}

// Backend is a document database holding collections of documents.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Create writes a new document and fails with ErrAlreadyExists if id is taken.
	Create(ctx context.Context, coll Path, id string, doc Document) error
	// Set writes doc under id, replacing any existing document entirely.
	Set(ctx context.Context, coll Path, id string, doc Document) error
	// Get returns the document and true, or false when no document exists.
	Get(ctx context.Context, coll Path, id string) (Document, bool, error)
	Delete(ctx context.Context, coll Path, id string) error
	Query(ctx context.Context, coll Path, q Query) Iterator
	Ping(ctx context.Context) error
	Close() error
}

// sliceIterator serves results that were already materialized
type sliceIterator struct {
	items []Snapshot
	err   error
	pos   int
}

func newSliceIterator(items []Snapshot) *sliceIterator {
	return &sliceIterator{items: items}
}

// errIterator yields err once, then iterator.Done
func errIterator(err error) *sliceIterator {
	return &sliceIterator{err: err}
}

func (it *sliceIterator) Next() (Snapshot, error) {
	if it.err != nil {
		err := it.err
		it.err = nil
		it.items = nil
		return Snapshot{}, err
	}
	if it.pos >= len(it.items) {
		return Snapshot{}, iterator.Done
	}
	s := it.items[it.pos]
	it.pos++
	return s, nil
}

func (it *sliceIterator) Stop() {
	it.items = nil
	it.err = nil
}

// sortSnapshots orders snapshots by a document field; snapshots lacking the field or
// holding an incomparable value are dropped. The sort is stable so write order breaks ties.
func sortSnapshots(items []Snapshot, field string, descending bool) []Snapshot {
	kept := items[:0]
	var kind Kind
	for _, s := range items {
		v, ok := s.Data[field]
		if !ok || v.IsNull() {
			continue
		}
		if len(kept) == 0 {
			kind = v.Kind()
		} else if v.Kind() != kind {
			continue
		}
		if _, ok := v.Compare(v); !ok {
			continue
		}
		kept = append(kept, s)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		cmp, _ := kept[i].Data[field].Compare(kept[j].Data[field])
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
	return kept
}
