package crypto

// DummySigner stands in where the consensus engine wants a signer but the
// deployment doesn't need real vote signatures (single-node devnets, unit
// tests). Shares are placeholders and verification always passes; the
// quorum count alone gates progress.
type DummySigner struct{}

func (DummySigner) Sign(_ []byte) []byte      { return []byte("s") }
func (DummySigner) Verify(_, _ []byte) bool   { return true }
func (DummySigner) Combine(_ [][]byte) []byte { return []byte("agg") }
