package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/clobcore/matchbook/pkg/consensus"
	"github.com/clobcore/matchbook/pkg/orderbook"
)

// Key schema. Consensus and application records share one database under
// distinct prefixes:
//
//	blk:<32-byte hash>                  gob consensus.Block
//	crt:<8-byte big-endian view>        gob consensus.Certificate
//	head                                committed block hash
//	ord:<symbol>:<orderID>              JSON PersistedOrder
//	trd:<symbol>:<20-digit ts>:<id>     JSON PersistedTrade
const (
	prefixBlock = "blk:"
	prefixCert  = "crt:"
	prefixOrder = "ord:"
	prefixTrade = "trd:"
	keyHead     = "head"
)

// PebbleStore is the durable node store. Consensus writes are synced;
// trade-history writes are not, since history is a rebuildable read model.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

var _ consensus.BlockStore = (*PebbleStore)(nil)

// ---- consensus records ----
//
// The BlockStore interface has no error returns (the engine treats the
// store as infallible local state), so a failed write or a corrupt record
// is a panic: a node that cannot trust its own store must not keep voting.

func blockKey(h consensus.Hash) []byte { return append([]byte(prefixBlock), h[:]...) }
func certKey(v consensus.View) []byte  { return append([]byte(prefixCert), viewKey(v)...) }

func (s *PebbleStore) mustPut(key []byte, v any) {
	val, err := gobEncode(v)
	if err != nil {
		panic(fmt.Errorf("storage: encode %q: %w", key, err))
	}
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		panic(fmt.Errorf("storage: write %q: %w", key, err))
	}
}

// mustGet loads key into out, returning false when absent and panicking on
// a corrupt record.
func (s *PebbleStore) mustGet(key []byte, out any) bool {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false
	}
	if err != nil {
		panic(fmt.Errorf("storage: read %q: %w", key, err))
	}
	defer closer.Close()
	if err := gobDecode(val, out); err != nil {
		panic(fmt.Errorf("storage: decode %q: %w", key, err))
	}
	return true
}

func (s *PebbleStore) SaveBlock(b consensus.Block) {
	s.mustPut(blockKey(consensus.HashOfBlock(b)), b)
}

func (s *PebbleStore) GetBlock(h consensus.Hash) (consensus.Block, bool) {
	var out consensus.Block
	ok := s.mustGet(blockKey(h), &out)
	return out, ok
}

func (s *PebbleStore) SaveCert(c consensus.Certificate) {
	s.mustPut(certKey(c.View), c)
}

func (s *PebbleStore) GetCert(v consensus.View) (consensus.Certificate, bool) {
	var out consensus.Certificate
	ok := s.mustGet(certKey(v), &out)
	return out, ok
}

func (s *PebbleStore) SetCommitted(h consensus.Hash) {
	if err := s.db.Set([]byte(keyHead), h[:], pebble.Sync); err != nil {
		panic(fmt.Errorf("storage: write head: %w", err))
	}
}

func (s *PebbleStore) GetCommitted() (consensus.Hash, bool) {
	val, closer, err := s.db.Get([]byte(keyHead))
	if err == pebble.ErrNotFound {
		return consensus.Hash{}, false
	}
	if err != nil {
		panic(fmt.Errorf("storage: read head: %w", err))
	}
	defer closer.Close()
	var out consensus.Hash
	copy(out[:], val)
	return out, true
}

// ---- application projections ----

// PersistedOrder is the durable snapshot of a resting order: enough to
// rehydrate a market's open orders after a restart without replaying the
// event log. Written on admission, deleted on finalization.
type PersistedOrder struct {
	Symbol   string
	ID       orderbook.OrderID
	Owner    string
	Metadata orderbook.OrderMetadata
}

// PersistedTrade is the durable projection of one fill, keyed so a
// symbol's history range-scans newest-last.
type PersistedTrade struct {
	Symbol    string
	Timestamp int64
	ID        string
	Price     string
	Qty       string
	Side      string
	Buyer     string
	Seller    string
}

func orderKey(symbol, orderID string) []byte {
	return []byte(prefixOrder + symbol + ":" + orderID)
}

func orderPrefix(symbol string) []byte {
	return []byte(prefixOrder + symbol + ":")
}

// tradeKey zero-pads the timestamp to 20 digits so lexicographic key order
// is chronological order.
func tradeKey(symbol string, timestamp int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, symbol, timestamp, tradeID))
}

func tradePrefix(symbol string) []byte {
	return []byte(prefixTrade + symbol + ":")
}

// prefixUpperBound is the exclusive upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	bound := append([]byte(nil), prefix...)
	bound[len(bound)-1]++
	return bound
}

// SaveOrder persists a resting order, overwriting any prior snapshot.
func (s *PebbleStore) SaveOrder(o PersistedOrder) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("storage: marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.Symbol, o.ID.String()), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: save order: %w", err)
	}
	return nil
}

// DeleteOrder drops an order's snapshot once it finalizes.
func (s *PebbleStore) DeleteOrder(symbol string, id orderbook.OrderID) error {
	if err := s.db.Delete(orderKey(symbol, id.String()), pebble.Sync); err != nil {
		return fmt.Errorf("storage: delete order: %w", err)
	}
	return nil
}

// LoadOpenOrders returns every resting-order snapshot for a market.
// Records that fail to decode are skipped rather than aborting the scan.
func (s *PebbleStore) LoadOpenOrders(symbol string) ([]PersistedOrder, error) {
	prefix := orderPrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []PersistedOrder
	for iter.First(); iter.Valid(); iter.Next() {
		var o PersistedOrder
		if json.Unmarshal(iter.Value(), &o) == nil {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// SaveTrade appends a fill to a market's trade history.
func (s *PebbleStore) SaveTrade(t PersistedTrade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("storage: marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(t.Symbol, t.Timestamp, t.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("storage: save trade: %w", err)
	}
	return nil
}

// LoadRecentTrades returns up to limit of a symbol's most recent fills,
// newest first.
func (s *PebbleStore) LoadRecentTrades(symbol string, limit int) ([]PersistedTrade, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []PersistedTrade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t PersistedTrade
		if json.Unmarshal(iter.Value(), &t) == nil {
			trades = append(trades, t)
		}
	}
	return trades, nil
}
