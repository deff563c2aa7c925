// Package mem implements an in-memory store with cheap staging layers.
//
// A trie keeps only its own updates and falls back to its parent for
// anything else, so creating a layer costs nothing and throwing one away is
// a matter of dropping the reference. The host stages every invocation in a
// child layer and adopts it only when the execution succeeds, which gives
// the all-or-nothing semantics contracts rely on.
package mem

import (
	"github.com/custos-ledger/custos/core/store"
)

// Trie is an in-memory layered store. Reads look up the local layer first
// and then follow the parent chain. Deletions are recorded as tombstones so
// that a deleted key shadows the value of an ancestor layer.
//
// - implements store.Snapshot
type Trie struct {
	parent *Trie
	layer  map[string][]byte
	dels   map[string]struct{}
}

// NewTrie creates a new empty root trie.
func NewTrie() *Trie {
	return &Trie{
		layer: make(map[string][]byte),
		dels:  make(map[string]struct{}),
	}
}

// Get implements store.Readable. It returns the value of the key, or nil if
// the key is not set or has been deleted in this layer or an ancestor.
func (t *Trie) Get(key []byte) ([]byte, error) {
	str := string(key)

	for cur := t; cur != nil; cur = cur.parent {
		if _, ok := cur.dels[str]; ok {
			return nil, nil
		}

		if val, ok := cur.layer[str]; ok {
			return val, nil
		}
	}

	return nil, nil
}

// Set implements store.Writable. It stores the value in the local layer.
func (t *Trie) Set(key, value []byte) error {
	str := string(key)

	delete(t.dels, str)
	t.layer[str] = value

	return nil
}

// Delete implements store.Writable. It records a tombstone so the key is
// reported as missing even if an ancestor layer holds a value.
func (t *Trie) Delete(key []byte) error {
	str := string(key)

	delete(t.layer, str)
	t.dels[str] = struct{}{}

	return nil
}

// Stage creates a child layer, passes it to the callback and returns it if
// the callback succeeds. On error the child is discarded and the error
// returned, leaving the current trie untouched.
func (t *Trie) Stage(fn func(store.Snapshot) error) (*Trie, error) {
	child := &Trie{
		parent: t,
		layer:  make(map[string][]byte),
		dels:   make(map[string]struct{}),
	}

	err := fn(child)
	if err != nil {
		return nil, err
	}

	return child, nil
}

// Flush applies the updates of this layer only, deletions included, to the
// given store. It is used to spill a committed layer to a durable backend.
func (t *Trie) Flush(out store.Writable) error {
	for key := range t.dels {
		err := out.Delete([]byte(key))
		if err != nil {
			return err
		}
	}

	for key, value := range t.layer {
		err := out.Set([]byte(key), value)
		if err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of updates recorded in this layer, tombstones
// included.
func (t *Trie) Len() int {
	return len(t.layer) + len(t.dels)
}
