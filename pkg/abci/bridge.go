// Package abci is the seam between the consensus engine and the matching
// application, shaped after the ABCI++ proposal/finalize flow: the engine
// asks the application for a payload when leading, and replays committed
// payloads through FinalizeBlock on every validator.
package abci

import (
	"encoding/binary"

	"github.com/clobcore/matchbook/pkg/consensus"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }

type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64
	Txs       [][]byte
}
type ResponseFinalizeBlock struct {
	Events  []string
	AppHash consensus.Hash
}

// Application is the matching engine's consensus-facing surface;
// pkg/app/clob implements it.
type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

// Bridge adapts an Application to the engine's AppHook: it frames the
// proposal's transactions into one block payload and unframes them again
// at commit time.
type Bridge struct{ App Application }

var _ consensus.AppHook = (*Bridge)(nil)

func (b *Bridge) PreparePayload(_ consensus.Block, next consensus.Height) []byte {
	resp := b.App.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: 1 << 24})
	return framePayload(resp.Txs)
}

func (b *Bridge) OnCommit(committed consensus.Block) consensus.Hash {
	resp := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    int64(committed.Height),
		Timestamp: committed.Time.Unix(),
		Txs:       unframePayload(committed.Payload),
	})
	return resp.AppHash
}

// framePayload packs transactions as uvarint-length-prefixed records, so a
// payload survives arbitrary tx bytes without a reserved delimiter.
func framePayload(txs [][]byte) []byte {
	var size int
	for _, tx := range txs {
		size += binary.MaxVarintLen32 + len(tx)
	}
	out := make([]byte, 0, size)
	var lenBuf [binary.MaxVarintLen32]byte
	for _, tx := range txs {
		n := binary.PutUvarint(lenBuf[:], uint64(len(tx)))
		out = append(out, lenBuf[:n]...)
		out = append(out, tx...)
	}
	return out
}

func unframePayload(p []byte) [][]byte {
	var out [][]byte
	for len(p) > 0 {
		length, n := binary.Uvarint(p)
		if n <= 0 || uint64(len(p)-n) < length {
			// Truncated or malformed frame: drop the remainder rather than
			// apply a half-read transaction.
			return out
		}
		p = p[n:]
		out = append(out, append([]byte(nil), p[:length]...))
		p = p[length:]
	}
	return out
}
