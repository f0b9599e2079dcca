// Package storage persists the node's durable state in Pebble: consensus
// blocks and certificates, the committed head, open-order snapshots, and
// trade history. Consensus records are gob-encoded (node-internal, never a
// wire format); application projections are JSON so operators can inspect
// them with stock tooling.
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/clobcore/matchbook/pkg/consensus"
)

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// viewKey renders a view as 8 big-endian bytes so certificate keys sort in
// view order.
func viewKey(v consensus.View) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(v))
	return k[:]
}
