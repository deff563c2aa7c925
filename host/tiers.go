package host

import (
	"encoding/binary"

	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/store/prefixed"
	"golang.org/x/xerrors"
)

// DefaultTemporaryTTL is the number of ledgers a fresh temporary entry lives
// for, the current one included.
const DefaultTemporaryTTL = 16

// tier namespaces
const (
	persistentPrefix = "custos:tier:p"
	instancePrefix   = "custos:tier:i"
	temporaryPrefix  = "custos:tier:t"
	expiryPrefix     = "custos:tier:ttl"
)

// Tiers exposes the three durability classes of an invocation snapshot.
// Persistent entries survive as long as the state does, instance entries
// share the lifetime of the contract instance, and temporary entries expire
// after a number of ledgers unless their TTL is extended.
type Tiers struct {
	Persistent store.Snapshot
	Instance   store.Snapshot
	Temporary  *TemporaryTier
}

// NewTiers wraps the snapshot into the three tier views, with expiry
// decisions made against the given sequence number.
func NewTiers(snap store.Snapshot, seq uint32) Tiers {
	return Tiers{
		Persistent: prefixed.NewSnapshot(persistentPrefix, snap),
		Instance:   prefixed.NewSnapshot(instancePrefix, snap),
		Temporary: &TemporaryTier{
			data: prefixed.NewSnapshot(temporaryPrefix, snap),
			ttls: prefixed.NewSnapshot(expiryPrefix, snap),
			seq:  seq,
		},
	}
}

// TemporaryTier is the expiring tier. Every entry records the sequence of
// the last ledger it lives in, a read past that sequence misses, and the
// expiry can be pushed back while the entry is live. The entries of an
// expired key are not reclaimed, they only become unreachable.
//
// - implements store.Snapshot
type TemporaryTier struct {
	data store.Snapshot
	ttls store.Snapshot
	seq  uint32
}

// Get implements store.Readable. It returns nil when the entry is missing or
// has expired.
func (t *TemporaryTier) Get(key []byte) ([]byte, error) {
	liveUntil, found, err := t.liveUntil(key)
	if err != nil {
		return nil, err
	}

	if !found || t.seq > liveUntil {
		return nil, nil
	}

	return t.data.Get(key)
}

// Set implements store.Writable. It writes the value, giving the entry the
// default TTL when it is new or expired and keeping the current expiry
// otherwise.
func (t *TemporaryTier) Set(key, value []byte) error {
	liveUntil, found, err := t.liveUntil(key)
	if err != nil {
		return err
	}

	if !found || liveUntil < t.seq {
		err = t.setLiveUntil(key, t.seq+DefaultTemporaryTTL-1)
		if err != nil {
			return err
		}
	}

	return t.data.Set(key, value)
}

// Delete implements store.Writable. It removes the entry and its expiry.
func (t *TemporaryTier) Delete(key []byte) error {
	err := t.ttls.Delete(key)
	if err != nil {
		return err
	}

	return t.data.Delete(key)
}

// TTL returns the number of ledgers the entry still lives for, the current
// one included. An expired or missing entry has no TTL left.
func (t *TemporaryTier) TTL(key []byte) (uint32, error) {
	liveUntil, found, err := t.liveUntil(key)
	if err != nil {
		return 0, err
	}

	if !found || t.seq > liveUntil {
		return 0, nil
	}

	return liveUntil - t.seq + 1, nil
}

// ExtendTTL pushes the expiry of the entry so that it lives for extendTo
// ledgers from now, provided its remaining TTL is at or below the threshold.
// An entry that already lives longer than extendTo is left alone, and an
// expired entry cannot be revived.
func (t *TemporaryTier) ExtendTTL(key []byte, threshold, extendTo uint32) error {
	ttl, err := t.TTL(key)
	if err != nil {
		return err
	}

	if ttl == 0 {
		return xerrors.Errorf("entry '%s' has expired", key)
	}

	if ttl > threshold || ttl >= extendTo {
		return nil
	}

	return t.setLiveUntil(key, t.seq+extendTo-1)
}

func (t *TemporaryTier) liveUntil(key []byte) (uint32, bool, error) {
	value, err := t.ttls.Get(key)
	if err != nil {
		return 0, false, xerrors.Errorf("failed to read expiry: %v", err)
	}

	if len(value) == 0 {
		return 0, false, nil
	}

	if len(value) != 4 {
		return 0, false, xerrors.Errorf("malformed expiry of %d bytes", len(value))
	}

	return binary.BigEndian.Uint32(value), true, nil
}

func (t *TemporaryTier) setLiveUntil(key []byte, seq uint32) error {
	buffer := make([]byte, 4)
	binary.BigEndian.PutUint32(buffer, seq)

	err := t.ttls.Set(key, buffer)
	if err != nil {
		return xerrors.Errorf("failed to write expiry: %v", err)
	}

	return nil
}
