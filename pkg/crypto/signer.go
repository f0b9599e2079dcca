// Package crypto holds the node's signing machinery: secp256k1 keys and
// EIP-712 typed-data hashing for user order flow, BLS aggregation for
// consensus votes, and address helpers. Everything user-facing is
// Ethereum-compatible so any stock wallet produces signatures the verifier
// accepts.
package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer wraps one secp256k1 key pair and its derived address.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: key is not secp256k1")
	}
	return &Signer{key: key, addr: crypto.PubkeyToAddress(*pub)}, nil
}

// GenerateKey creates a Signer around a fresh random key pair.
func GenerateKey() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return newSigner(key)
}

// FromPrivateKeyHex loads a Signer from a 64-char hex private key, with or
// without the 0x prefix.
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return newSigner(key)
}

// Address returns the Ethereum address derived from the public key.
func (s *Signer) Address() common.Address { return s.addr }

// PrivateKeyHex exports the raw private key as hex, no 0x prefix. Handle
// with the care the name implies.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.key))
}

// PublicKeyHex returns the uncompressed public key as hex.
func (s *Signer) PublicKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSAPub(&s.key.PublicKey))
}

// Sign produces a 65-byte [R || S || V] signature over a 32-byte digest.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("crypto: digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

// SignMessage keccak-hashes an arbitrary message and signs the digest.
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	digest := crypto.Keccak256Hash(message)
	return s.Sign(digest.Bytes())
}

// RecoverAddress recovers the address that produced signature over digest.
func RecoverAddress(digest, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(signature))
	}
	if len(digest) != 32 {
		return common.Address{}, fmt.Errorf("crypto: digest must be 32 bytes, got %d", len(digest))
	}
	pubBytes, err := crypto.Ecrecover(digest, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: unmarshal recovered key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature reports whether signature over digest recovers to addr.
func VerifySignature(addr common.Address, digest, signature []byte) bool {
	recovered, err := RecoverAddress(digest, signature)
	return err == nil && recovered == addr
}
