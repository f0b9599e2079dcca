package clob

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clobcore/matchbook/pkg/crypto"
)

// Verifier checks a SignedTransaction's EIP-712 signature and recovers the
// owner address it was signed by.
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// VerifyOrderTransaction verifies a signed order transaction and returns
// the owner address the signature recovers to.
func (v *Verifier) VerifyOrderTransaction(tx *SignedTransaction) (common.Address, bool, error) {
	if tx.Type != TxTypeOrder || tx.Order == nil {
		return common.Address{}, false, fmt.Errorf("not an order transaction")
	}

	order, err := tx.Order.ToEIP712Order()
	if err != nil {
		return common.Address{}, false, fmt.Errorf("invalid order format: %w", err)
	}

	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("invalid signature: %w", err)
	}

	valid, err := v.eip712Signer.VerifyOrderSignature(order, sigBytes)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("signature verification failed: %w", err)
	}
	if !valid {
		return common.Address{}, false, fmt.Errorf("signature invalid")
	}
	return order.Owner, true, nil
}

// VerifyCancelTransaction verifies a signed cancel transaction and returns
// the owner address the signature recovers to.
func (v *Verifier) VerifyCancelTransaction(tx *SignedTransaction) (common.Address, bool, error) {
	if tx.Type != TxTypeCancel || tx.Cancel == nil {
		return common.Address{}, false, fmt.Errorf("not a cancel transaction")
	}

	owner := common.HexToAddress(tx.Cancel.Owner)
	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("invalid signature: %w", err)
	}

	nonce, ok := new(big.Int).SetString(tx.Cancel.Nonce, 10)
	if !ok {
		nonce = big.NewInt(0)
	}
	cancel := &crypto.CancelEIP712{
		OrderID: fmt.Sprintf("%d:%d", tx.Cancel.OrderIDHi, tx.Cancel.OrderIDLo),
		Symbol:  tx.Cancel.Symbol,
		Nonce:   nonce,
		Owner:   owner,
	}

	valid, err := v.eip712Signer.VerifyCancelSignature(cancel, sigBytes)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("signature verification failed: %w", err)
	}
	if !valid {
		return common.Address{}, false, fmt.Errorf("invalid cancel signature")
	}

	// VerifyCancelSignature recovers against cancel.Owner, so a match here
	// already means the claimed owner signed this exact cancel request.
	return owner, true, nil
}

func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}
