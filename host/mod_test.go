package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/custos-ledger/custos/core/access"
	"github.com/custos-ledger/custos/core/clock"
	"github.com/custos-ledger/custos/core/event"
	"github.com/custos-ledger/custos/core/execution"
	"github.com/custos-ledger/custos/core/execution/native"
	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/store/kv"
	"github.com/custos-ledger/custos/core/txn"
	"github.com/custos-ledger/custos/core/txn/signed"
	"github.com/custos-ledger/custos/crypto"
	"github.com/custos-ledger/custos/crypto/schnorr"
	"github.com/custos-ledger/custos/internal/testing/fake"
	"github.com/stretchr/testify/require"
)

func TestLedger_Invoke(t *testing.T) {
	ledger, c := makeLedger(t, testExec{key: []byte("state")})

	signer := schnorr.NewSigner()
	mgr := signed.NewManager(signer, ledger)

	tx, err := mgr.Make(txn.Arg{Key: native.ContractArg, Value: []byte("test")})
	require.NoError(t, err)

	res, err := ledger.Invoke(tx)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, uint32(1), c.Sequence())

	value, err := ledger.Read([]byte("state"))
	require.NoError(t, err)
	require.Equal(t, []byte("written"), value)

	events := ledger.Events()
	require.Len(t, events, 1)
	require.Equal(t, []string{"test"}, events[0].Topics)

	nonce, err := ledger.GetNonce(signer.GetPublicKey())
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	// A second transaction from the manager carries the next nonce.
	tx, err = mgr.Make(txn.Arg{Key: native.ContractArg, Value: []byte("test")})
	require.NoError(t, err)

	res, err = ledger.Invoke(tx)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, uint32(2), c.Sequence())
}

func TestLedger_Invoke_Rollback(t *testing.T) {
	ledger, _ := makeLedger(t, testExec{key: []byte("state"), err: fake.GetError()})

	signer := schnorr.NewSigner()
	mgr := signed.NewManager(signer, ledger)

	tx, err := mgr.Make(txn.Arg{Key: native.ContractArg, Value: []byte("test")})
	require.NoError(t, err)

	res, err := ledger.Invoke(tx)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, "fake error", res.Message)

	// The staged write and the buffered event are discarded, and the nonce
	// is not consumed.
	value, err := ledger.Read([]byte("state"))
	require.NoError(t, err)
	require.Nil(t, value)

	require.Empty(t, ledger.Events())

	nonce, err := ledger.GetNonce(signer.GetPublicKey())
	require.NoError(t, err)
	require.Equal(t, uint64(0), nonce)

	// The manager burnt its nonce on the rejection, a sync realigns it.
	require.NoError(t, mgr.Sync())

	tx, err = mgr.Make(txn.Arg{Key: native.ContractArg, Value: []byte("test")})
	require.NoError(t, err)
	require.Equal(t, uint64(0), tx.GetNonce())
}

func TestLedger_Invoke_Reject(t *testing.T) {
	ledger, _ := makeLedger(t, testExec{key: []byte("state")})

	res, err := ledger.Invoke(fakeTx{identity: fake.PublicKey{}})
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, "transaction is not signed", res.Message)

	_, err = ledger.Invoke(fakeSigned{
		fakeTx: fakeTx{identity: fake.NewBadPublicKey()},
	})
	require.EqualError(t, err,
		"failed to resolve identity: failed to marshal public key: fake error")

	res, err = ledger.Invoke(fakeSigned{
		fakeTx: fakeTx{identity: fake.PublicKey{}, nonce: 5},
	})
	require.NoError(t, err)
	require.Equal(t, "nonce '5' is invalid, expected '0'", res.Message)

	res, err = ledger.Invoke(fakeSigned{
		fakeTx: fakeTx{identity: fake.PublicKey{}},
	})
	require.NoError(t, err)
	require.Equal(t, "transaction is not signed", res.Message)

	res, err = ledger.Invoke(fakeSigned{
		fakeTx: fakeTx{identity: fake.NewInvalidPublicKey()},
		sig:    fake.Signature{},
	})
	require.NoError(t, err)
	require.Equal(t, "invalid signature: fake error", res.Message)

	res, err = ledger.Invoke(fakeSigned{
		fakeTx: fakeTx{identity: fake.PublicKey{}},
		sig:    fake.Signature{},
		cosigs: []signed.Cosignature{
			{Signer: fake.NewInvalidPublicKey(), Signature: fake.Signature{}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "invalid cosignature: fake error", res.Message)
}

func TestLedger_Invoke_UnknownContract(t *testing.T) {
	ledger, _ := makeLedger(t, testExec{key: []byte("state")})

	signer := schnorr.NewSigner()
	mgr := signed.NewManager(signer, ledger)

	tx, err := mgr.Make(txn.Arg{Key: native.ContractArg, Value: []byte("none")})
	require.NoError(t, err)

	_, err = ledger.Invoke(tx)
	require.EqualError(t, err, "failed to execute: unknown contract 'none'")
}

func TestLedger_Invoke_RequireAuth(t *testing.T) {
	exec := native.NewExecution()
	exec.Set("test", authExec{account: "other"})

	ledger, err := NewLedger(exec, clock.NewManual(1000))
	require.NoError(t, err)

	signer := schnorr.NewSigner()
	mgr := signed.NewManager(signer, ledger)

	tx, err := mgr.Make(txn.Arg{Key: native.ContractArg, Value: []byte("test")})
	require.NoError(t, err)

	res, err := ledger.Invoke(tx)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, "account 'other' did not sign the invocation", res.Message)
}

func TestLedger_Watch(t *testing.T) {
	ledger, _ := makeLedger(t, testExec{key: []byte("state")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := ledger.Watch(ctx)

	signer := schnorr.NewSigner()
	mgr := signed.NewManager(signer, ledger)

	tx, err := mgr.Make(txn.Arg{Key: native.ContractArg, Value: []byte("test")})
	require.NoError(t, err)

	_, err = ledger.Invoke(tx)
	require.NoError(t, err)

	evt := <-ch
	require.Equal(t, []string{"test"}, evt.Topics)
}

func TestLedger_Restore(t *testing.T) {
	dir, err := os.MkdirTemp(os.TempDir(), "custos-host")
	require.NoError(t, err)

	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "test.db")

	db, err := kv.New(path)
	require.NoError(t, err)

	exec := native.NewExecution()
	exec.Set("test", testExec{key: []byte("state")})

	ledger, err := NewLedger(exec, clock.NewManual(1000), WithDB(db))
	require.NoError(t, err)

	signer := schnorr.NewSigner()
	mgr := signed.NewManager(signer, ledger)

	tx, err := mgr.Make(txn.Arg{Key: native.ContractArg, Value: []byte("test")})
	require.NoError(t, err)

	res, err := ledger.Invoke(tx)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	require.NoError(t, db.Close())

	// A fresh ledger over the same database sees the committed state.
	db, err = kv.New(path)
	require.NoError(t, err)

	defer db.Close()

	restored, err := NewLedger(exec, clock.NewManual(2000), WithDB(db))
	require.NoError(t, err)

	value, err := restored.Read([]byte("state"))
	require.NoError(t, err)
	require.Equal(t, []byte("written"), value)
}

func TestLedger_GetNonce(t *testing.T) {
	ledger, _ := makeLedger(t, testExec{})

	_, err := ledger.GetNonce(fake.NewBadPublicKey())
	require.EqualError(t, err,
		"failed to resolve identity: failed to marshal public key: fake error")
}

// -----------------------------------------------------------------------------
// Utility functions

func makeLedger(t *testing.T, contract native.Contract) (*Ledger, *clock.Manual) {
	exec := native.NewExecution()
	exec.Set("test", contract)

	c := clock.NewManual(1000)

	ledger, err := NewLedger(exec, c)
	require.NoError(t, err)

	return ledger, c
}

// testExec writes a key and emits an event, then returns the configured
// error.
//
// - implements native.Contract
type testExec struct {
	key []byte
	err error
}

func (e testExec) Execute(snap store.Snapshot, step execution.Step) error {
	err := snap.Set(e.key, []byte("written"))
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{Topics: []string{"test"}})

	return e.err
}

func (e testExec) UID() string {
	return "test"
}

// authExec demands the identity proof of a fixed account.
//
// - implements native.Contract
type authExec struct {
	account access.Account
}

func (e authExec) Execute(snap store.Snapshot, step execution.Step) error {
	return step.Auth.RequireAuth(e.account)
}

func (e authExec) UID() string {
	return "auth"
}

// fakeTx is a bare transaction without a signature surface.
//
// - implements txn.Transaction
type fakeTx struct {
	txn.Transaction

	nonce    uint64
	identity crypto.PublicKey
}

func (tx fakeTx) GetID() []byte {
	return []byte{0xab}
}

func (tx fakeTx) GetNonce() uint64 {
	return tx.nonce
}

func (tx fakeTx) GetIdentity() crypto.PublicKey {
	return tx.identity
}

func (tx fakeTx) GetArg(key string) []byte {
	return []byte("test")
}

// fakeSigned is a transaction with a configurable signature surface.
//
// - implements host.Signed
type fakeSigned struct {
	fakeTx

	sig    crypto.Signature
	cosigs []signed.Cosignature
}

func (tx fakeSigned) GetSignature() crypto.Signature {
	return tx.sig
}

func (tx fakeSigned) GetCosignatures() []signed.Cosignature {
	return tx.cosigs
}
