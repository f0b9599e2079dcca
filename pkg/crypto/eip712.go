package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the typed-data domain separator. Binding the chain id and
// protocol name into every digest stops a signature from one deployment
// replaying against another.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain is the matchbook devnet domain: chain id 1337, zero
// verifying contract since signatures are checked off-chain by the node.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "Matchbook",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// OrderEIP712 is the typed struct a user signs to place an order. Side and
// Type use the wire encoding (1=Buy/Limit, 2=Sell/Market); Price and Qty
// are raw integers at the market's tick decimals.
type OrderEIP712 struct {
	Symbol   string
	Side     uint8
	Type     uint8
	Price    *big.Int
	Qty      *big.Int
	Nonce    *big.Int
	Deadline *big.Int
	Owner    common.Address
}

// CancelEIP712 is the typed struct a user signs to cancel a resting order.
type CancelEIP712 struct {
	OrderID string
	Symbol  string
	Nonce   *big.Int
	Owner   common.Address
}

// EIP712Signer hashes and verifies typed order/cancel payloads under one
// domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var orderType = []apitypes.Type{
	{Name: "symbol", Type: "string"},
	{Name: "side", Type: "uint8"},
	{Name: "type", Type: "uint8"},
	{Name: "price", Type: "uint256"},
	{Name: "qty", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
	{Name: "owner", Type: "address"},
}

var cancelType = []apitypes.Type{
	{Name: "orderId", Type: "string"},
	{Name: "symbol", Type: "string"},
	{Name: "nonce", Type: "uint256"},
	{Name: "owner", Type: "address"},
}

// digest computes keccak256("\x19\x01" || domainSeparator || structHash)
// for one primary type and message under the signer's domain.
func (e *EIP712Signer) digest(primary string, fields []apitypes.Type, message apitypes.TypedDataMessage) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: message,
	}

	domainSep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("eip712: hash domain: %w", err)
	}
	structHash, err := td.HashStruct(primary, message)
	if err != nil {
		return nil, fmt.Errorf("eip712: hash %s: %w", primary, err)
	}

	raw := make([]byte, 0, 2+len(domainSep)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSep...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

// HashOrder returns the signable digest of an order.
func (e *EIP712Signer) HashOrder(order *OrderEIP712) ([]byte, error) {
	return e.digest("Order", orderType, apitypes.TypedDataMessage{
		"symbol":   order.Symbol,
		"side":     fmt.Sprintf("%d", order.Side),
		"type":     fmt.Sprintf("%d", order.Type),
		"price":    order.Price.String(),
		"qty":      order.Qty.String(),
		"nonce":    order.Nonce.String(),
		"deadline": order.Deadline.String(),
		"owner":    order.Owner.Hex(),
	})
}

// HashCancel returns the signable digest of a cancel request.
func (e *EIP712Signer) HashCancel(cancel *CancelEIP712) ([]byte, error) {
	return e.digest("CancelOrder", cancelType, apitypes.TypedDataMessage{
		"orderId": cancel.OrderID,
		"symbol":  cancel.Symbol,
		"nonce":   cancel.Nonce.String(),
		"owner":   cancel.Owner.Hex(),
	})
}

// SignOrder hashes order and signs the digest with signer.
func (e *EIP712Signer) SignOrder(signer *Signer, order *OrderEIP712) ([]byte, error) {
	digest, err := e.HashOrder(order)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest)
}

// SignCancel hashes cancel and signs the digest with signer.
func (e *EIP712Signer) SignCancel(signer *Signer, cancel *CancelEIP712) ([]byte, error) {
	digest, err := e.HashCancel(cancel)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest)
}

// VerifyOrderSignature reports whether signature recovers to order.Owner.
func (e *EIP712Signer) VerifyOrderSignature(order *OrderEIP712, signature []byte) (bool, error) {
	digest, err := e.HashOrder(order)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return false, err
	}
	return recovered == order.Owner, nil
}

// VerifyCancelSignature reports whether signature recovers to cancel.Owner.
func (e *EIP712Signer) VerifyCancelSignature(cancel *CancelEIP712, signature []byte) (bool, error) {
	digest, err := e.HashCancel(cancel)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return false, err
	}
	return recovered == cancel.Owner, nil
}
