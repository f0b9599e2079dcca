package crypto

import (
	bls "github.com/cloudflare/circl/sign/bls"
)

// Consensus votes sign the same block hash, so the leader can fold all the
// shares into one aggregate signature on the certificate. Keys live on G1,
// signatures on G2.
type blsScheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[blsScheme]

// BLSSigner holds one validator's BLS key pair.
type BLSSigner struct {
	sk *bls.PrivateKey[blsScheme]
	pk *BLSPubKey
}

// NewBLSSignerFromSeed derives a deterministic key pair from seed, giving
// tests and devnets stable validator identities.
func NewBLSSignerFromSeed(seed []byte) *BLSSigner {
	sk, _ := bls.KeyGen[blsScheme](seed, nil, nil)
	return &BLSSigner{sk: sk, pk: sk.PublicKey()}
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

func (s *BLSSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

// Verify checks a single share against one public key.
func Verify(pk *BLSPubKey, sigBytes, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}

// Aggregate folds same-message signature shares into one signature. Empty
// shares are skipped; nil is returned if aggregation fails outright.
func Aggregate(shares [][]byte) []byte {
	sigs := make([]bls.Signature, 0, len(shares))
	for _, sh := range shares {
		if len(sh) > 0 {
			sigs = append(sigs, bls.Signature(sh))
		}
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil
	}
	return agg
}

// VerifyAggregateSameMsg checks an aggregate signature where every signer
// signed the same message, the certificate case.
func VerifyAggregateSameMsg(pks []*BLSPubKey, msg []byte, aggSig []byte) bool {
	return bls.VerifyAggregate(pks, [][]byte{msg}, bls.Signature(aggSig))
}
