// Package signed is an implementation of the transaction abstraction.
//
// It uses a signature to make sure the identity owns the transaction. The
// nonce is a monotonically increasing number that is used to prevent a replay
// attack of an existing transaction.
//
// A transaction can carry co-signers next to the main identity. Every
// co-signer signs the same digest, so that a single invocation can prove the
// control of several accounts at once.
package signed

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core/txn"
	"github.com/custos-ledger/custos/crypto"
	"golang.org/x/xerrors"
)

// Cosignature is the signature of one of the co-signers of a transaction,
// emitted over the transaction digest.
type Cosignature struct {
	Signer    crypto.PublicKey
	Signature crypto.Signature
}

// Transaction is a signed transaction using a nonce to protect itself
// against replay attack.
//
// - implements txn.Transaction
type Transaction struct {
	nonce     uint64
	args      map[string][]byte
	pubkey    crypto.PublicKey
	sig       crypto.Signature
	cosigners []crypto.PublicKey
	cosigs    []crypto.Signature
	hash      []byte
}

type template struct {
	Transaction

	hashFactory crypto.HashFactory
}

// TransactionOption is the type of options to create a transaction.
type TransactionOption func(*template)

// WithArg is an option to set an argument with the key and the value.
func WithArg(key string, value []byte) TransactionOption {
	return func(tmpl *template) {
		tmpl.args[key] = value
	}
}

// WithSignature is an option to set a valid signature. The signature will be
// verified against the identity.
func WithSignature(sig crypto.Signature) TransactionOption {
	return func(tmpl *template) {
		tmpl.sig = sig
	}
}

// WithCosigner is an option to declare an additional identity that will
// co-sign the transaction. The declaration is part of the digest, so the
// co-signer set cannot change after creation.
func WithCosigner(pk crypto.PublicKey) TransactionOption {
	return func(tmpl *template) {
		tmpl.cosigners = append(tmpl.cosigners, pk)
	}
}

// WithHashFactory is an option to set a different hash factory when creating
// a transaction.
func WithHashFactory(f crypto.HashFactory) TransactionOption {
	return func(tmpl *template) {
		tmpl.hashFactory = f
	}
}

// NewTransaction creates a new transaction with the provided nonce.
func NewTransaction(nonce uint64, pk crypto.PublicKey, opts ...TransactionOption) (*Transaction, error) {
	tmpl := template{
		Transaction: Transaction{
			nonce:  nonce,
			pubkey: pk,
			args:   make(map[string][]byte),
		},
		hashFactory: crypto.NewSha256Factory(),
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	tmpl.cosigs = make([]crypto.Signature, len(tmpl.cosigners))

	h := tmpl.hashFactory.New()
	err := tmpl.Fingerprint(h)
	if err != nil {
		return nil, xerrors.Errorf("couldn't fingerprint tx: %v", err)
	}

	tmpl.hash = h.Sum(nil)

	if tmpl.sig != nil {
		err := tmpl.pubkey.Verify(tmpl.hash, tmpl.sig)
		if err != nil {
			return nil, xerrors.Errorf("invalid signature: %v", err)
		}
	}

	return &tmpl.Transaction, nil
}

// GetID implements txn.Transaction. It returns the ID of the transaction.
func (t *Transaction) GetID() []byte {
	return t.hash
}

// GetNonce implements txn.Transaction. It returns the nonce of the
// transaction.
func (t *Transaction) GetNonce() uint64 {
	return t.nonce
}

// GetIdentity implements txn.Transaction. It returns the identity that
// created the transaction.
func (t *Transaction) GetIdentity() crypto.PublicKey {
	return t.pubkey
}

// GetSignature returns the signature of the transaction.
func (t *Transaction) GetSignature() crypto.Signature {
	return t.sig
}

// GetCosigners returns the declared co-signers of the transaction.
func (t *Transaction) GetCosigners() []crypto.PublicKey {
	return append([]crypto.PublicKey{}, t.cosigners...)
}

// GetCosignatures returns the co-signatures collected so far.
func (t *Transaction) GetCosignatures() []Cosignature {
	sigs := make([]Cosignature, 0, len(t.cosigners))
	for i, pk := range t.cosigners {
		sigs = append(sigs, Cosignature{
			Signer:    pk,
			Signature: t.cosigs[i],
		})
	}

	return sigs
}

// GetArgs returns the list of arguments available.
func (t *Transaction) GetArgs() []string {
	args := make([]string, 0, len(t.args))
	for key := range t.args {
		args = append(args, key)
	}

	return args
}

// GetArg implements txn.Transaction. It returns the value of the argument if
// it is set, otherwise nil.
func (t *Transaction) GetArg(key string) []byte {
	return t.args[key]
}

// Sign signs the transaction and stores the signature.
func (t *Transaction) Sign(signer crypto.Signer) error {
	if len(t.hash) == 0 {
		return xerrors.New("missing digest in transaction")
	}

	if !signer.GetPublicKey().Equal(t.pubkey) {
		return xerrors.New("mismatch signer and identity")
	}

	sig, err := signer.Sign(t.hash)
	if err != nil {
		return xerrors.Errorf("signer: %v", err)
	}

	t.sig = sig

	return nil
}

// Cosign signs the transaction digest with one of the declared co-signers
// and stores the signature.
func (t *Transaction) Cosign(signer crypto.Signer) error {
	if len(t.hash) == 0 {
		return xerrors.New("missing digest in transaction")
	}

	for i, pk := range t.cosigners {
		if signer.GetPublicKey().Equal(pk) {
			sig, err := signer.Sign(t.hash)
			if err != nil {
				return xerrors.Errorf("signer: %v", err)
			}

			t.cosigs[i] = sig

			return nil
		}
	}

	return xerrors.New("signer is not a declared cosigner")
}

// Fingerprint writes a deterministic binary representation of the
// transaction.
func (t *Transaction) Fingerprint(w io.Writer) error {
	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, t.nonce)

	_, err := w.Write(buffer)
	if err != nil {
		return xerrors.Errorf("couldn't write nonce: %v", err)
	}

	// Sort the argument to deterministically write them to the hash.
	args := make(sort.StringSlice, 0, len(t.args))
	for key := range t.args {
		args = append(args, key)
	}

	sort.Sort(args)

	for _, key := range args {
		_, err = w.Write(append([]byte(key), t.args[key]...))
		if err != nil {
			return xerrors.Errorf("couldn't write arg: %v", err)
		}
	}

	buffer, err = t.pubkey.MarshalBinary()
	if err != nil {
		return xerrors.Errorf("failed to marshal public key: %v", err)
	}

	_, err = w.Write(buffer)
	if err != nil {
		return xerrors.Errorf("couldn't write public key: %v", err)
	}

	for _, pk := range t.cosigners {
		buffer, err = pk.MarshalBinary()
		if err != nil {
			return xerrors.Errorf("failed to marshal cosigner: %v", err)
		}

		_, err = w.Write(buffer)
		if err != nil {
			return xerrors.Errorf("couldn't write cosigner: %v", err)
		}
	}

	return nil
}

// Client is the interface the manager is using to get the nonce of an
// identity. It allows a local implementation, or through a network client.
type Client interface {
	GetNonce(crypto.PublicKey) (uint64, error)
}

// TransactionManager is a manager to create signed transactions. It manages
// the nonce by itself, except if the transaction is refused by the ledger. In
// that case the manager should be synchronized before creating a new one.
//
// - implements txn.Manager
type TransactionManager struct {
	client  Client
	signer  crypto.Signer
	nonce   uint64
	hashFac crypto.HashFactory
}

// NewManager creates a new transaction manager.
func NewManager(signer crypto.Signer, client Client) *TransactionManager {
	return &TransactionManager{
		client:  client,
		signer:  signer,
		nonce:   0,
		hashFac: crypto.NewSha256Factory(),
	}
}

// Make implements txn.Manager. It creates a transaction populated with the
// arguments.
func (mgr *TransactionManager) Make(args ...txn.Arg) (txn.Transaction, error) {
	opts := make([]TransactionOption, len(args), len(args)+1)
	for i, arg := range args {
		opts[i] = WithArg(arg.Key, arg.Value)
	}

	opts = append(opts, WithHashFactory(mgr.hashFac))

	tx, err := NewTransaction(mgr.nonce, mgr.signer.GetPublicKey(), opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to create tx: %v", err)
	}

	err = tx.Sign(mgr.signer)
	if err != nil {
		return nil, xerrors.Errorf("failed to sign: %v", err)
	}

	mgr.nonce++

	return tx, nil
}

// Sync implements txn.Manager. It fetches the latest nonce of the signer to
// create valid transactions.
func (mgr *TransactionManager) Sync() error {
	nonce, err := mgr.client.GetNonce(mgr.signer.GetPublicKey())
	if err != nil {
		return xerrors.Errorf("client: %v", err)
	}

	mgr.nonce = nonce

	custos.Logger.Debug().Uint64("nonce", nonce).Msg("manager synchronized")

	return nil
}
