// Package p2p carries consensus traffic over libp2p: proposals and
// prepares ride gossipsub topics, votes go leader-ward over a dedicated
// stream protocol. Consensus structs are gob-encoded into opaque envelope
// fields so this package never tracks their evolution.
package p2p

import (
	"bytes"
	"encoding/gob"
)

type proposalEnvelope struct {
	Block    []byte // gob consensus.Block
	HighCert []byte // gob consensus.Certificate
}

type prepareEnvelope struct {
	Cert  []byte // gob consensus.Certificate
	Block []byte // gob consensus.Block, empty when the sender has none
}

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
