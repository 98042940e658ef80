// Package txsign supplies the externally-provided signature machinery
// SPEC_FULL.md's engine deliberately excludes from its core: key
// generation, transaction digest hashing, and the pure Verify(tx) bool
// predicate engine.Config.Verify expects. The engine never imports this
// package — it is wired the other way, by an embedder like cmd/blockstm-cli.
package txsign

import (
	"encoding/binary"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/mnohosten/blockstm/pkg/engine"
)

// KeyPair is a generated signer: a private key and the account Address
// derived from its public key.
type KeyPair struct {
	Private *secp256k1.PrivateKey
	Address engine.Address
}

// GenerateKeyPair creates a fresh secp256k1 key pair and derives its
// Address the Ethereum way: the low 20 bytes of Keccak-256 over the
// uncompressed public key's X||Y coordinates.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Address: AddressFromPublicKey(priv.PubKey())}, nil
}

// KeyPairFromSeed derives a deterministic key pair from a 32-byte seed,
// for callers (such as pkg/workload) that need reproducible keys instead
// of GenerateKeyPair's crypto/rand-backed randomness. ok is false if seed
// reduces to zero modulo the curve order (a seed at or above the order is
// reduced, not rejected); the caller should draw a fresh seed and retry.
func KeyPairFromSeed(seed [32]byte) (*KeyPair, bool) {
	priv := secp256k1.PrivKeyFromBytes(seed[:])
	if priv.Key.IsZero() {
		return nil, false
	}
	return &KeyPair{Private: priv, Address: AddressFromPublicKey(priv.PubKey())}, true
}

// AddressFromPublicKey derives an engine.Address from a secp256k1 public
// key.
func AddressFromPublicKey(pub *secp256k1.PublicKey) engine.Address {
	full := pub.SerializeUncompressed() // 0x04 || X(32) || Y(32)

	h := sha3.NewLegacyKeccak256()
	h.Write(full[1:])
	sum := h.Sum(nil)

	var addr engine.Address
	copy(addr[:], sum[len(sum)-20:])
	return addr
}

// Digest computes the canonical 32-byte hash of a transaction's signed
// fields. A workload generator calls this to populate Transaction.Digest
// before calling Sign.
func Digest(from, to engine.Address, value *uint256.Int, nonce uint64) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(from[:])
	h.Write(to[:])

	valBytes := value.Bytes32()
	h.Write(valBytes[:])

	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	h.Write(nonceBuf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sign produces a 65-byte recoverable compact signature over digest.
func Sign(priv *secp256k1.PrivateKey, digest [32]byte) [65]byte {
	sig := ecdsa.SignCompact(priv, digest[:], true)
	var out [65]byte
	copy(out[:], sig)
	return out
}

// Verify is the pure predicate engine.Config.Verify expects: it recovers
// the signer's public key from tx.Signature over tx.Digest and checks that
// the derived address matches tx.From. The core never calls this directly
// — only through the embedder-supplied VerifyFunc when VerifySignatures is
// enabled.
func Verify(tx engine.Transaction) bool {
	pub, _, err := ecdsa.RecoverCompact(tx.Signature[:], tx.Digest[:])
	if err != nil {
		return false
	}
	return AddressFromPublicKey(pub) == tx.From
}

// SignTransaction computes tx's digest and signature in place from kp,
// leaving From/To/Value/Nonce untouched. A convenience for workload
// generators that hold the signer's key pair.
func SignTransaction(kp *KeyPair, tx *engine.Transaction) {
	tx.Digest = Digest(tx.From, tx.To, &tx.Value, tx.Nonce)
	tx.Signature = Sign(kp.Private, tx.Digest)
}
