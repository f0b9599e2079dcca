// Package coin is the asset custody runtime the order book escrows against
// and settles into. It is intentionally outside the matching engine's own
// concerns (the book only ever asks for a balance to be debited into escrow
// or credited out of it) so the same Bank interface can back an in-memory
// test double or the Pebble-persisted implementation here.
package coin

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Bank is the minimal asset-custody contract the rest of the system needs:
// move a coin's balance into or out of an account, and report how many
// decimal places the coin's raw integer balances carry.
type Bank interface {
	Decimals() uint8
	Balance(owner common.Address) uint64
	// Escrow debits amount from owner's available balance, failing if the
	// balance is insufficient. Called before an order is admitted to a
	// book, to fund Order.BuyCollateral/SellCollateral.
	Escrow(owner common.Address, amount uint64) error
	// Release credits amount back to owner's available balance, the
	// inverse of Escrow. Called by orderbook.Settlement on a trade credit
	// or an order's residual-collateral refund.
	Release(owner common.Address, amount uint64)
}

// MemBank is an in-memory Bank, used by tests and by any deployment that
// doesn't need balances to survive a restart.
type MemBank struct {
	mu       sync.Mutex
	decimals uint8
	balances map[common.Address]uint64
}

func NewMemBank(decimals uint8) *MemBank {
	return &MemBank{decimals: decimals, balances: make(map[common.Address]uint64)}
}

func (b *MemBank) Decimals() uint8 { return b.decimals }

func (b *MemBank) Balance(owner common.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[owner]
}

// Credit adds amount to owner's balance directly, used to fund test
// accounts or record an external deposit; it is not part of the Bank
// interface since escrow/release is the only movement the matching engine
// itself drives.
func (b *MemBank) Credit(owner common.Address, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[owner] += amount
}

func (b *MemBank) Escrow(owner common.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[owner] < amount {
		return fmt.Errorf("coin: insufficient balance for %s: have %d, need %d", owner.Hex(), b.balances[owner], amount)
	}
	b.balances[owner] -= amount
	return nil
}

func (b *MemBank) Release(owner common.Address, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[owner] += amount
}

// PebbleBank persists balances in a Pebble key-value store, one coin per
// database, keyed by the owning address. Writes use pebble.Sync so a
// crash immediately after Escrow/Release never loses the movement.
type PebbleBank struct {
	mu       sync.Mutex
	decimals uint8
	symbol   string
	db       *pebble.DB
}

// NewPebbleBank opens (creating if absent) a Pebble database at dbPath to
// back a coin with the given symbol and decimal precision.
func NewPebbleBank(dbPath, symbol string, decimals uint8) (*PebbleBank, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MaxConcurrentCompactions: func() int { return 2 },
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("coin: open pebble store for %s: %w", symbol, err)
	}
	return &PebbleBank{decimals: decimals, symbol: symbol, db: db}, nil
}

func (b *PebbleBank) Close() error { return b.db.Close() }

func (b *PebbleBank) Decimals() uint8 { return b.decimals }

func balanceKey(symbol string, owner common.Address) []byte {
	key := make([]byte, 0, len(symbol)+1+len(owner))
	key = append(key, []byte(symbol)...)
	key = append(key, ':')
	key = append(key, owner.Bytes()...)
	return key
}

func (b *PebbleBank) loadLocked(owner common.Address) uint64 {
	val, closer, err := b.db.Get(balanceKey(b.symbol, owner))
	if err == pebble.ErrNotFound {
		return 0
	}
	if err != nil {
		return 0
	}
	defer closer.Close()
	if len(val) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(val)
}

func (b *PebbleBank) saveLocked(owner common.Address, amount uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, amount)
	return b.db.Set(balanceKey(b.symbol, owner), buf, pebble.Sync)
}

func (b *PebbleBank) Balance(owner common.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadLocked(owner)
}

func (b *PebbleBank) Escrow(owner common.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	have := b.loadLocked(owner)
	if have < amount {
		return fmt.Errorf("coin: insufficient %s balance for %s: have %d, need %d", b.symbol, owner.Hex(), have, amount)
	}
	return b.saveLocked(owner, have-amount)
}

func (b *PebbleBank) Release(owner common.Address, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	have := b.loadLocked(owner)
	_ = b.saveLocked(owner, have+amount)
}

// Credit adds amount to owner's balance directly, for deposits from
// outside the matching engine (a bridge, an admin mint).
func (b *PebbleBank) Credit(owner common.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	have := b.loadLocked(owner)
	return b.saveLocked(owner, have+amount)
}
