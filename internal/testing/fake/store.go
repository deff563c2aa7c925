package fake

import "github.com/custos-ledger/custos/core/store"

// InMemorySnapshot is a fake implementation of a store snapshot.
//
// - implements store.Snapshot
type InMemorySnapshot struct {
	store.Snapshot

	values    map[string][]byte
	ErrRead   error
	ErrWrite  error
	ErrDelete error
	delay     int
	useDelay  bool
}

// NewSnapshot creates a new empty snapshot.
func NewSnapshot() *InMemorySnapshot {
	return &InMemorySnapshot{
		values: make(map[string][]byte),
	}
}

// NewBadSnapshot creates a new empty snapshot that will always return an
// error.
func NewBadSnapshot() *InMemorySnapshot {
	return &InMemorySnapshot{
		values:    make(map[string][]byte),
		ErrRead:   fakeErr,
		ErrWrite:  fakeErr,
		ErrDelete: fakeErr,
	}
}

// NewBadSnapshotWithDelay creates a snapshot that starts returning errors
// after a given number of successful operations.
func NewBadSnapshotWithDelay(delay int) *InMemorySnapshot {
	return &InMemorySnapshot{
		values:   make(map[string][]byte),
		delay:    delay,
		useDelay: true,
	}
}

// Get implements store.Snapshot.
func (snap *InMemorySnapshot) Get(key []byte) ([]byte, error) {
	return snap.values[string(key)], snap.errOrDelay(snap.ErrRead)
}

// Set implements store.Snapshot.
func (snap *InMemorySnapshot) Set(key, value []byte) error {
	snap.values[string(key)] = value

	return snap.errOrDelay(snap.ErrWrite)
}

// Delete implements store.Snapshot.
func (snap *InMemorySnapshot) Delete(key []byte) error {
	delete(snap.values, string(key))

	return snap.errOrDelay(snap.ErrDelete)
}

func (snap *InMemorySnapshot) errOrDelay(err error) error {
	if !snap.useDelay {
		return err
	}

	if snap.delay > 0 {
		snap.delay--
		return nil
	}

	return fakeErr
}
