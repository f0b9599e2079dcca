package clob

import (
	"encoding/json"
	"sync"
)

// mempoolTxType classifies a raw transaction into the priority buckets a
// proposer drains in order: cancels before new orders, so a resting order
// can never out-race its own cancellation into the same block.
type mempoolTxType int

const (
	txCancel mempoolTxType = iota
	txOrder
)

// classifyRaw inspects a raw mempool entry's JSON envelope to bucket it
// without fully parsing (and re-validating) the payload twice.
func classifyRaw(b []byte) mempoolTxType {
	if len(b) == 0 || b[0] != '{' {
		return txOrder
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return txOrder
	}
	if envelope.Type == string(TxTypeCancel) {
		return txCancel
	}
	return txOrder
}

// Mempool holds pending transactions in two FIFO buckets, cancel then
// order, and hands a proposer back txs in that priority order.
type Mempool struct {
	mu     sync.Mutex
	cancel [][]byte
	orders [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch classifyRaw(b) {
	case txCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.orders = append(m.orders, cp)
	}
}

// SelectForProposal returns up to maxBytes worth of txs, cancel bucket
// first, removing selected txs from the mempool.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64

	pull := func(q *[][]byte) {
		for len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.cancel)
	pull(&m.orders)

	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancel) + len(m.orders)
}
