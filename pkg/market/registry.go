package market

import (
	"fmt"
	"sync"

	"github.com/clobcore/matchbook/pkg/orderbook"
)

// Registry manages every market in a thread-safe manner: registration,
// lookup, and status transitions for all trading pairs.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

// Register adds m to the registry. Reports BookExists if a market with the
// same symbol is already registered.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.markets[m.Symbol]; exists {
		return &orderbook.Error{Code: orderbook.BookExists, Msg: "market " + m.Symbol + " already registered"}
	}
	r.markets[m.Symbol] = m
	return nil
}

// Get resolves a symbol to its market, reporting BookNotExists when the
// symbol was never registered.
func (r *Registry) Get(symbol string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, exists := r.markets[symbol]
	if !exists {
		return nil, &orderbook.Error{Code: orderbook.BookNotExists, Msg: "market " + symbol + " not found"}
	}
	return m, nil
}

// GetTyped resolves a symbol and asserts its book type, reporting
// InvalidType when the registered market runs a different discipline.
func (r *Registry) GetTyped(symbol string, bt BookType) (*Market, error) {
	m, err := r.Get(symbol)
	if err != nil {
		return nil, err
	}
	if m.Type != bt {
		return nil, &orderbook.Error{Code: orderbook.InvalidType,
			Msg: "market " + symbol + " is " + m.Type.String() + ", not " + bt.String()}
	}
	return m, nil
}

// List returns every registered market.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

// ListActive returns only markets currently accepting orders.
func (r *Registry) ListActive() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0)
	for _, m := range r.markets {
		if m.Status == Active {
			out = append(out, m)
		}
	}
	return out
}

// UpdateStatus transitions symbol's status, rejecting any change once a
// market has reached Settled.
func (r *Registry) UpdateStatus(symbol string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, exists := r.markets[symbol]
	if !exists {
		return &orderbook.Error{Code: orderbook.BookNotExists, Msg: "market " + symbol + " not found"}
	}
	if m.Status == Settled {
		return fmt.Errorf("cannot change status from settled (terminal state)")
	}
	m.Status = status
	return nil
}

// Remove deletes symbol from the registry. Only a settled market may be
// removed, as a safety check against dropping a market with live orders.
func (r *Registry) Remove(symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, exists := r.markets[symbol]
	if !exists {
		return &orderbook.Error{Code: orderbook.BookNotExists, Msg: "market " + symbol + " not found"}
	}
	if m.Status != Settled {
		return fmt.Errorf("cannot remove market %s with status %s (must be settled)", symbol, m.Status)
	}
	delete(r.markets, symbol)
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.markets[symbol]
	return exists
}
