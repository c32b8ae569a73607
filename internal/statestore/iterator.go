package statestore

import (
	"errors"

	"google.golang.org/api/iterator"

	"github.com/amats/amats/internal/docstore"
)

// TradeIterator walks the results of a trade history query. Results are fetched lazily
// and the sequence cannot be restarted: once Next has returned iterator.Done or an error,
// or Stop was called, every later Next returns iterator.Done.
type TradeIterator struct {
	it         docstore.Iterator
	collection string
	done       bool
}

// Next returns the next record, or iterator.Done when there are no more
func (t *TradeIterator) Next() (TradeRecord, error) {
	if t.done {
		return TradeRecord{}, iterator.Done
	}

	snap, err := t.it.Next()
	if errors.Is(err, iterator.Done) {
		t.Stop()
		return TradeRecord{}, iterator.Done
	}
	if err != nil {
		t.Stop()
		return TradeRecord{}, &ReadError{Op: opQueryTradeHistory, Collection: t.collection, Cause: err}
	}

	r, err := tradeFromSnapshot(snap)
	if err != nil {
		t.Stop()
		return TradeRecord{}, &ReadError{Op: opQueryTradeHistory, Collection: t.collection, DocID: snap.ID, Cause: err}
	}
	return r, nil
}

// Stop releases the underlying query. Safe to call more than once.
func (t *TradeIterator) Stop() {
	if t.done {
		return
	}
	t.done = true
	t.it.Stop()
}

// All drains the iterator
func (t *TradeIterator) All() ([]TradeRecord, error) {
	defer t.Stop()

	var out []TradeRecord
	for {
		r, err := t.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
}
