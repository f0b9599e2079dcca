// Package consensus implements the two-chain HotStuff-style BFT engine that
// sequences signed order flow into blocks. The engine is deliberately thin:
// it agrees on a payload and on the application state hash that executing
// the payload produced, and leaves transaction semantics entirely to the
// application behind the AppHook seam.
package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// NodeID names one validator. IDs are operator-assigned strings; the
// round-robin elector indexes into the configured ID list by view.
type NodeID string

// View is the consensus round number; Height counts committed blocks.
type View uint64
type Height uint64

// Quorum describes the validator set size N = 3T+1 and its fault bound T.
// A certificate needs 2T+1 matching votes.
type Quorum struct{ N, T int }

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Block carries one view's proposed payload. AppHash is filled in at commit
// time, once a quorum has agreed on the post-execution state; the consensus
// hash (HashOfBlock) deliberately excludes it.
type Block struct {
	Height   Height
	View     View
	Parent   Hash
	AppHash  Hash
	Payload  []byte
	Proposer NodeID
	Time     time.Time
}

// Certificate is a quorum certificate for one view: 2T+1 votes on the same
// block hash and the same post-execution application state.
type Certificate struct {
	View    View
	H       Hash
	AppHash Hash
	Sig     []byte
}

// Vote commits a validator to a block hash and to the state executing that
// block produced. Binding both means a certificate can never form over
// validators whose books diverged.
type Vote struct {
	View     View
	H        Hash
	AppHash  Hash
	SigShare []byte
	From     NodeID
}

// Locked is the safety lock: the highest certified block a validator has
// observed, below which it refuses to vote.
type Locked struct {
	Block Block
	Cert  Certificate
}

// HashOfBlock derives the consensus hash over the fields fixed at proposal
// time. The proposer stamps Time before broadcast, so every validator
// hashes identical bytes; AppHash is excluded because it is only known
// after execution and is agreed separately through the votes.
func HashOfBlock(b Block) Hash {
	var fixed [8 * 3]byte
	binary.BigEndian.PutUint64(fixed[0:8], uint64(b.Height))
	binary.BigEndian.PutUint64(fixed[8:16], uint64(b.View))
	binary.BigEndian.PutUint64(fixed[16:24], uint64(b.Time.UnixNano()))

	h := sha256.New()
	h.Write(fixed[:])
	h.Write(b.Parent[:])
	h.Write([]byte(b.Proposer))
	h.Write(b.Payload)

	var out Hash
	copy(out[:], h.Sum(nil))
	return sha256.Sum256(out[:])
}

// BlockStore persists blocks, certificates, and the committed head. The
// Pebble and in-memory implementations live in pkg/storage.
type BlockStore interface {
	SaveBlock(b Block)
	GetBlock(h Hash) (Block, bool)
	SaveCert(c Certificate)
	GetCert(v View) (Certificate, bool)
	SetCommitted(h Hash)
	GetCommitted() (Hash, bool)
}

// WAL records propose/commit checkpoints for post-mortem inspection. It is
// advisory: recovery state lives in the BlockStore.
type WAL interface {
	Append(line string)
}
