package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Address helpers for contexts that only hand us raw public key bytes (the
// signed-transaction path goes through go-ethereum's own derivation).

// AddressFromUncompressedPub derives the EIP-55 checksummed address from a
// 65-byte uncompressed secp256k1 public key (0x04 || X || Y). Returns ""
// for malformed input.
func AddressFromUncompressedPub(pub []byte) string {
	if len(pub) != 65 || pub[0] != 0x04 {
		return ""
	}
	sum := keccak(pub[1:])
	return EIP55(sum[12:])
}

// EIP55 renders a 20-byte address as checksummed hex: a hex letter is
// uppercased when the matching nibble of keccak(lowercase-hex-address) is
// 8 or more.
func EIP55(addr20 []byte) string {
	lower := hex.EncodeToString(addr20)
	mask := keccak([]byte(lower))

	out := []byte("0x" + lower)
	for i := 0; i < len(lower); i++ {
		c := out[2+i]
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := mask[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[2+i] = c - ('a' - 'A')
		}
	}
	return string(out)
}

func keccak(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return h.Sum(nil)
}
