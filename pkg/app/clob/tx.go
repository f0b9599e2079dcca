// Package clob is the ABCI application that applies signed order and cancel
// transactions against the matching engine: it is the seam between the
// consensus layer's finalized transaction payloads and pkg/orderbook's
// in-process Book, resolving markets through pkg/market.Registry and
// escrowing collateral through pkg/coin.Bank before ever touching the book.
package clob

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clobcore/matchbook/pkg/crypto"
	"github.com/clobcore/matchbook/pkg/orderbook"
)

// TxType represents the type of transaction.
type TxType string

const (
	TxTypeOrder  TxType = "order"  // Place order (signed)
	TxTypeCancel TxType = "cancel" // Cancel order (signed)
)

// SignedTransaction is the wire format every order/cancel takes through the
// mempool: a typed payload plus its EIP-712 signature.
type SignedTransaction struct {
	Type      TxType         `json:"type"`
	Order     *OrderPayload  `json:"order,omitempty"`
	Cancel    *CancelPayload `json:"cancel,omitempty"`
	Signature string         `json:"signature"`
}

// OrderPayload carries an order for EIP-712 signing. Price and Qty are
// base-10 integer strings at the market's price and quantity decimals
// (200000 at 4 decimals is 20.0000), so no precision is lost crossing the
// JSON boundary. MaxCollateral bounds how much quote collateral a market buy
// may draw down; it is ignored for limit orders and market sells, whose
// escrow is computed from price and qty.
type OrderPayload struct {
	Symbol        string `json:"symbol"`
	Side          uint8  `json:"side"` // 1=Buy, 2=Sell
	Type          uint8  `json:"type"` // 1=Limit, 2=Market
	Price         string `json:"price"`
	Qty           string `json:"qty"`
	MaxCollateral string `json:"maxCollateral,omitempty"`
	Nonce         string `json:"nonce"`
	Deadline      string `json:"deadline"`
	Owner         string `json:"owner"`
}

// CancelPayload cancels a still-resting order.
type CancelPayload struct {
	OrderIDHi uint64 `json:"orderIdHi"`
	OrderIDLo uint64 `json:"orderIdLo"`
	Symbol    string `json:"symbol"`
	Nonce     string `json:"nonce"`
	Owner     string `json:"owner"`
}

// ToEIP712Order converts the wire payload into the typed struct the
// signer/verifier hash and sign.
func (o *OrderPayload) ToEIP712Order() (*crypto.OrderEIP712, error) {
	price, err := parseBigDecimal(o.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price: %w", err)
	}
	qty, err := parseBigDecimal(o.Qty)
	if err != nil {
		return nil, fmt.Errorf("invalid qty: %w", err)
	}
	nonce, err := parseBigDecimal(o.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	deadline, err := parseBigDecimal(o.Deadline)
	if err != nil {
		return nil, fmt.Errorf("invalid deadline: %w", err)
	}
	return &crypto.OrderEIP712{
		Symbol:   o.Symbol,
		Side:     o.Side,
		Type:     o.Type,
		Price:    price,
		Qty:      qty,
		Nonce:    nonce,
		Deadline: deadline,
		Owner:    common.HexToAddress(o.Owner),
	}, nil
}

// FromEIP712Order converts a typed signing struct back into its wire
// payload, the inverse of ToEIP712Order.
func FromEIP712Order(o *crypto.OrderEIP712) *OrderPayload {
	return &OrderPayload{
		Symbol:   o.Symbol,
		Side:     o.Side,
		Type:     o.Type,
		Price:    o.Price.String(),
		Qty:      o.Qty.String(),
		Nonce:    o.Nonce.String(),
		Deadline: o.Deadline.String(),
		Owner:    o.Owner.Hex(),
	}
}

// orderbookSide converts the wire side byte to orderbook.Side.
func (o *OrderPayload) orderbookSide() (orderbook.Side, error) {
	switch o.Side {
	case 1:
		return orderbook.Buy, nil
	case 2:
		return orderbook.Sell, nil
	default:
		return 0, fmt.Errorf("invalid side %d", o.Side)
	}
}

// Serialize converts SignedTransaction to JSON bytes.
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into a SignedTransaction.
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs structural validation, independent of signature checks.
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	switch tx.Type {
	case TxTypeOrder:
		if tx.Order == nil {
			return fmt.Errorf("order type requires order payload")
		}
		if tx.Order.Symbol == "" {
			return fmt.Errorf("missing order symbol")
		}
		if tx.Order.Side == 0 {
			return fmt.Errorf("invalid order side")
		}
		if tx.Order.Owner == "" {
			return fmt.Errorf("missing order owner")
		}
	case TxTypeCancel:
		if tx.Cancel == nil {
			return fmt.Errorf("cancel type requires cancel payload")
		}
		if tx.Cancel.Symbol == "" {
			return fmt.Errorf("missing cancel symbol")
		}
		if tx.Cancel.Owner == "" {
			return fmt.Errorf("missing cancel owner")
		}
	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	return nil
}

// ParseTransaction decodes and structurally validates a raw mempool entry.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

func parseBigDecimal(s string) (*big.Int, error) {
	if s == "" {
		s = "0"
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %q", s)
	}
	return v, nil
}

func parseUint64(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
