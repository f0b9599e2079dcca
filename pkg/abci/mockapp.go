package abci

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// MockApp is a stand-in Application for consensus tests: it proposes
// whatever was pushed into it and applies nothing, hashing only height and
// tx count so every honest validator agrees on the result.
type MockApp struct {
	mu      sync.Mutex
	pending [][]byte
	commits int
}

func NewMockApp() *MockApp { return &MockApp{} }

var _ Application = (*MockApp)(nil)

func (m *MockApp) PushTx(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, append([]byte(nil), b...))
}

func (m *MockApp) PrepareProposal(req RequestPrepareProposal) ResponsePrepareProposal {
	m.mu.Lock()
	defer m.mu.Unlock()

	var txs [][]byte
	var used int64
	for len(m.pending) > 0 {
		tx := m.pending[0]
		if req.MaxTxBytes > 0 && used+int64(len(tx)) > req.MaxTxBytes {
			break
		}
		txs = append(txs, tx)
		used += int64(len(tx))
		m.pending = m.pending[1:]
	}
	return ResponsePrepareProposal{Txs: txs}
}

func (m *MockApp) ProcessProposal(_ RequestProcessProposal) ResponseProcessProposal {
	return ResponseProcessProposal{Accept: true}
}

func (m *MockApp) FinalizeBlock(req RequestFinalizeBlock) ResponseFinalizeBlock {
	m.mu.Lock()
	m.commits++
	m.mu.Unlock()

	var in [16]byte
	binary.BigEndian.PutUint64(in[0:8], uint64(req.Height))
	binary.BigEndian.PutUint64(in[8:16], uint64(len(req.Txs)))
	return ResponseFinalizeBlock{
		Events:  []string{"commit"},
		AppHash: sha256.Sum256(in[:]),
	}
}

func (m *MockApp) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}
