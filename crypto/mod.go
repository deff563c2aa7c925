// Package crypto defines the cryptographic primitives needed to identify the
// participants of a ledger and to authenticate their transactions.
//
// Concrete implementations live in the subpackages, like crypto/schnorr for
// signatures over the Edwards 25519 curve.
package crypto

import (
	"encoding"
	"hash"
)

// HashFactory is an interface to produce a hash digest.
type HashFactory interface {
	New() hash.Hash
}

// RandGenerator is an interface to generate random values with a defined
// upper bound of error probability.
type RandGenerator interface {
	Read(buffer []byte) (int, error)
}

// PublicKey is a public identity that can be used to verify a signature.
type PublicKey interface {
	encoding.BinaryMarshaler
	encoding.TextMarshaler

	// Verify returns nil if the signature matches the message for this
	// public key.
	Verify(msg []byte, signature Signature) error

	// Equal returns true when the other object represents the same public
	// key.
	Equal(other interface{}) bool
}

// PublicKeyFactory is a factory to decode public keys.
type PublicKeyFactory interface {
	// FromBytes returns the public key unmarshaled from the bytes.
	FromBytes(data []byte) (PublicKey, error)
}

// Signature is a verifiable proof that an identity signed a message.
type Signature interface {
	encoding.BinaryMarshaler

	// Equal returns true when the other object represents the same
	// signature.
	Equal(other Signature) bool
}

// SignatureFactory is a factory to decode signatures.
type SignatureFactory interface {
	// FromBytes returns the signature unmarshaled from the bytes.
	FromBytes(data []byte) (Signature, error)
}

// Signer provides the primitives to sign and verify messages.
type Signer interface {
	// GetPublicKeyFactory returns a factory that can decode public keys of
	// the same scheme as the signer.
	GetPublicKeyFactory() PublicKeyFactory

	// GetSignatureFactory returns a factory that can decode signatures of
	// the same scheme as the signer.
	GetSignatureFactory() SignatureFactory

	// GetPublicKey returns the public key of the signer.
	GetPublicKey() PublicKey

	// Sign returns a signature over the given message.
	Sign(msg []byte) (Signature, error)
}
