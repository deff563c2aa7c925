// Package store defines the primitives of the key/value storage that backs a
// contract instance.
//
// A contract execution never touches a database directly: it receives a
// snapshot scoped to the invocation and reads and writes through it. The
// host decides what the snapshot is made of, typically a staging layer over
// the committed state so that a failed invocation leaves no trace.
package store

// Readable is the interface for a readable store. A missing key yields a nil
// value and no error.
type Readable interface {
	Get(key []byte) ([]byte, error)
}

// Writable is the interface for a writable store.
type Writable interface {
	Set(key []byte, value []byte) error

	Delete(key []byte) error
}

// Snapshot is a state of the store that can be read and written
// independently of the committed state. Writes are applied only to the
// snapshot reference and become visible to others when the host commits it.
type Snapshot interface {
	Readable
	Writable
}

// Transaction is a generic interface that store implementations can use to
// provide atomicity.
type Transaction interface {
	// OnCommit adds a callback to be executed after the transaction
	// successfully commits.
	OnCommit(func())
}
