package clob

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clobcore/matchbook/pkg/abci"
	"github.com/clobcore/matchbook/pkg/coin"
	"github.com/clobcore/matchbook/pkg/consensus"
	"github.com/clobcore/matchbook/pkg/crypto"
	"github.com/clobcore/matchbook/pkg/fixedpoint"
	"github.com/clobcore/matchbook/pkg/market"
	"github.com/clobcore/matchbook/pkg/orderbook"
	"github.com/clobcore/matchbook/pkg/storage"
	"github.com/clobcore/matchbook/pkg/util"
)

// TradeHook is invoked once per execution, after FinalizeBlock has applied
// it to the book, so a caller (the API server's websocket hub) can fan the
// fill out to subscribers without the matching engine itself depending on
// any transport concern.
type TradeHook func(symbol string, price, qty fixedpoint.FixedPoint, side orderbook.Side, height int64)

// MarketBanks is the pair of custody accounts a market settles trades
// against: quote collateral for buys, instrument collateral for sells.
type MarketBanks struct {
	Quote      coin.Bank
	Instrument coin.Bank
}

// App is the ABCI application wiring signed order/cancel transactions into
// the matching engine. It owns the market registry and the bank pair for
// each market; the book itself holds no notion of consensus height or
// transaction replay.
type App struct {
	mu sync.Mutex

	Registry *market.Registry
	Banks    map[string]MarketBanks // market symbol -> its quote/instrument banks
	Mempool  *Mempool

	verifier *Verifier
	nonces   map[common.Address]uint64

	Log util.Logger

	// OnTrade, if set, is called for every execution FinalizeBlock applies.
	OnTrade TradeHook

	// Store, if set, durably tracks each market's open orders and trade
	// history alongside the in-memory book.
	Store *storage.PebbleStore

	// Validators is the size of the consensus validator set, reported on
	// the chain status endpoint.
	Validators int

	height int64
}

func NewApp(registry *market.Registry, banks map[string]MarketBanks, log util.Logger) *App {
	return &App{
		Registry: registry,
		Banks:    banks,
		Mempool:  NewMempool(),
		verifier: NewVerifier(crypto.DefaultDomain()),
		nonces:   make(map[common.Address]uint64),
		Log:      log,
	}
}

// PushTx validates and enqueues a raw transaction for the next proposal.
func (a *App) PushTx(raw []byte) error {
	if _, err := ParseTransaction(raw); err != nil {
		return err
	}
	a.Mempool.PushRaw(raw)
	return nil
}

// tradeSink forwards executions to the owning App's OnTrade hook, letting a
// market's Book be constructed with a sink that reaches back out to
// whatever transport (the API server's websocket hub) is listening.
type tradeSink struct {
	app    *App
	symbol string
}

// TradeSinkFor returns an EventSink suitable for market.Init that reports
// every fill on symbol through a.OnTrade.
func (a *App) TradeSinkFor(symbol string) orderbook.EventSink {
	return tradeSink{app: a, symbol: symbol}
}

func (s tradeSink) Create(e orderbook.CreateEvent) {
	if s.app.Store == nil {
		return
	}
	_ = s.app.Store.SaveOrder(storage.PersistedOrder{
		Symbol:   s.symbol,
		ID:       e.OrderID,
		Owner:    e.Owner.Hex(),
		Metadata: e.Metadata,
	})
}

func (s tradeSink) Execution(e orderbook.ExecutionEvent) {
	// The book reports each trade twice, once per participant; persist and
	// fan out only the buyer-perspective copy so a fill is one trade, not
	// two.
	if e.Metadata.Side != orderbook.Buy {
		return
	}
	if s.app.OnTrade != nil {
		s.app.OnTrade(s.symbol, e.Price, e.Qty, e.Metadata.Side, s.app.Height())
	}
	if s.app.Store == nil {
		return
	}
	buyer, seller := e.Owner, e.OppositeOwner
	_ = s.app.Store.SaveTrade(storage.PersistedTrade{
		Symbol:    s.symbol,
		Timestamp: s.app.Height(),
		ID:        e.OrderID.String() + ":" + e.OppositeOrderID.String(),
		Price:     e.Price.String(),
		Qty:       e.Qty.String(),
		Side:      e.Metadata.Side.String(),
		Buyer:     buyer.Hex(),
		Seller:    seller.Hex(),
	})
}

func (s tradeSink) Finalize(e orderbook.FinalizeEvent) {
	if s.app.Store == nil {
		return
	}
	_ = s.app.Store.DeleteOrder(s.symbol, e.OrderID)
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.Mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts any proposal whose transactions are individually
// well-formed; FinalizeBlock is the only stage that touches book state, so a
// malformed tx here is rejected without other validators diverging.
func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	for _, raw := range req.Txs {
		if _, err := ParseTransaction(raw); err != nil {
			return abci.ResponseProcessProposal{Accept: false}
		}
	}
	return abci.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.height = req.Height

	events := make([]string, 0, len(req.Txs))
	for _, raw := range req.Txs {
		tx, err := ParseTransaction(raw)
		if err != nil {
			events = append(events, fmt.Sprintf("reject:parse:%v", err))
			continue
		}
		if err := a.apply(tx); err != nil {
			events = append(events, fmt.Sprintf("reject:%v", err))
			continue
		}
		events = append(events, fmt.Sprintf("applied:%s", tx.Type))
	}

	return abci.ResponseFinalizeBlock{
		Events:  events,
		AppHash: a.computeStateHash(req.Height, req.Timestamp),
	}
}

func (a *App) apply(tx *SignedTransaction) error {
	switch tx.Type {
	case TxTypeOrder:
		return a.applyOrder(tx)
	case TxTypeCancel:
		return a.applyCancel(tx)
	default:
		return fmt.Errorf("unknown tx type %s", tx.Type)
	}
}

func (a *App) applyOrder(tx *SignedTransaction) error {
	owner, valid, err := a.verifier.VerifyOrderTransaction(tx)
	if err != nil || !valid {
		return fmt.Errorf("signature: %w", err)
	}

	nonce, err := parseUint64(tx.Order.Nonce)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	if nonce <= a.nonces[owner] {
		return fmt.Errorf("replayed nonce %d (last seen %d)", nonce, a.nonces[owner])
	}

	m, err := a.Registry.Get(tx.Order.Symbol)
	if err != nil {
		return err
	}
	if m.Status != market.Active {
		return fmt.Errorf("market %s is not active", m.Symbol)
	}

	side, err := tx.Order.orderbookSide()
	if err != nil {
		return err
	}
	if tx.Order.Type != 1 && tx.Order.Type != 2 {
		return fmt.Errorf("invalid order type %d", tx.Order.Type)
	}

	// Wire prices and quantities are integers interpreted at the market's
	// declared decimals, so rescaling to fixed-point is exact.
	qtyRaw, err := parseUint64(tx.Order.Qty)
	if err != nil {
		return fmt.Errorf("qty: %w", err)
	}
	qty, err := fixedpoint.FromU64(qtyRaw, m.IDecimals)
	if err != nil {
		return fmt.Errorf("qty: %w", err)
	}

	quoteBank, instrumentBank, err := a.marketBanks(m)
	if err != nil {
		return err
	}

	var buyCollateral, sellCollateral uint64
	if side == orderbook.Buy {
		buyCollateral, err = a.requiredQuoteCollateral(tx, m, qty, quoteBank.Decimals())
		if err != nil {
			return err
		}
		if err := quoteBank.Escrow(owner, buyCollateral); err != nil {
			return err
		}
	} else {
		sellCollateral, err = fixedpoint.ToU64(qty, instrumentBank.Decimals(), fixedpoint.RoundUp)
		if err != nil {
			return err
		}
		if err := instrumentBank.Escrow(owner, sellCollateral); err != nil {
			return err
		}
	}

	orderType := orderbook.OrderType(tx.Order.Type - 1)
	var placedID orderbook.OrderID
	var placeErr error
	if orderType == orderbook.Market {
		placedID, placeErr = m.Book.AddMarketOrder(owner, side, qty, buyCollateral, sellCollateral)
	} else {
		price, perr := a.limitPrice(tx, m)
		if perr != nil {
			return perr
		}
		placedID, placeErr = m.Book.AddLimitOrder(owner, side, price, qty, buyCollateral, sellCollateral)
	}
	if placeErr != nil {
		if placedID.IsZero() {
			// Rejected before admission: the book never touched the
			// escrow, give it back rather than leaving it stranded.
			if side == orderbook.Buy {
				quoteBank.Release(owner, buyCollateral)
			} else {
				instrumentBank.Release(owner, sellCollateral)
			}
		} else if a.Log != nil {
			// The matching pipeline itself failed after admission. The
			// hosting runtime owns rollback of the whole block in that
			// case; flag it loudly rather than guessing at a refund.
			a.Log.Errorw("matching_pipeline_failed", "order", placedID.String(), "err", placeErr)
		}
		return placeErr
	}

	a.nonces[owner] = nonce
	return nil
}

// limitPrice parses and rescales a limit order's wire price.
func (a *App) limitPrice(tx *SignedTransaction, m *market.Market) (fixedpoint.FixedPoint, error) {
	priceRaw, err := parseUint64(tx.Order.Price)
	if err != nil {
		return fixedpoint.Zero, fmt.Errorf("price: %w", err)
	}
	price, err := fixedpoint.FromU64(priceRaw, m.QDecimals)
	if err != nil {
		return fixedpoint.Zero, fmt.Errorf("price: %w", err)
	}
	return price, nil
}

// requiredQuoteCollateral computes how much quote collateral a buy order
// needs escrowed up front, at the quote coin's native decimals. A limit buy
// needs price*qty rounded up so the escrow can never under-fund the order's
// own limit price; a market buy is bounded instead by the caller's declared
// MaxCollateral, since it has no price to multiply against.
func (a *App) requiredQuoteCollateral(tx *SignedTransaction, m *market.Market, qty fixedpoint.FixedPoint, quoteCoinDecimals uint8) (uint64, error) {
	if orderbook.OrderType(tx.Order.Type-1) == orderbook.Market {
		if tx.Order.MaxCollateral == "" {
			return 0, fmt.Errorf("market buy requires maxCollateral")
		}
		return parseUint64(tx.Order.MaxCollateral)
	}
	price, err := a.limitPrice(tx, m)
	if err != nil {
		return 0, err
	}
	notional, err := fixedpoint.Mul(price, qty, fixedpoint.RoundUp)
	if err != nil {
		return 0, err
	}
	return fixedpoint.ToU64(notional, quoteCoinDecimals, fixedpoint.RoundUp)
}

func (a *App) applyCancel(tx *SignedTransaction) error {
	owner, valid, err := a.verifier.VerifyCancelTransaction(tx)
	if err != nil || !valid {
		return fmt.Errorf("signature: %w", err)
	}

	nonce, err := parseUint64(tx.Cancel.Nonce)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	if nonce <= a.nonces[owner] {
		return fmt.Errorf("replayed nonce %d (last seen %d)", nonce, a.nonces[owner])
	}

	m, err := a.Registry.Get(tx.Cancel.Symbol)
	if err != nil {
		return err
	}

	id := orderbook.OrderID{Hi: tx.Cancel.OrderIDHi, Lo: tx.Cancel.OrderIDLo}
	if err := m.Book.CancelOrder(owner, id); err != nil {
		return err
	}
	a.nonces[owner] = nonce
	return nil
}

func (a *App) marketBanks(m *market.Market) (quote, instrument coin.Bank, err error) {
	banks, ok := a.Banks[m.Symbol]
	if !ok {
		return nil, nil, fmt.Errorf("no banks configured for market %s", m.Symbol)
	}
	return banks.Quote, banks.Instrument, nil
}

// computeStateHash derives a deterministic digest over every registered
// market's current book depth, so validators can cheaply compare state
// without shipping the full book across the wire.
func (a *App) computeStateHash(height int64, timestamp int64) consensus.Hash {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%d", height, timestamp)

	markets := a.Registry.List()
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })
	for _, m := range markets {
		fmt.Fprintf(h, ":%s", m.Symbol)
		for _, lvl := range m.Book.BidLevels() {
			fmt.Fprintf(h, ":b%s:%d", lvl.Price, lvl.Count)
		}
		for _, lvl := range m.Book.AskLevels() {
			fmt.Fprintf(h, ":a%s:%d", lvl.Price, lvl.Count)
		}
	}

	var out consensus.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (a *App) GetMarket(symbol string) (*market.Market, error) { return a.Registry.Get(symbol) }
func (a *App) ListMarkets() []*market.Market                   { return a.Registry.List() }
func (a *App) MempoolSize() int                                { return a.Mempool.Len() }
func (a *App) Height() int64                                   { return a.height }
func (a *App) ValidatorCount() int                             { return a.Validators }

// CoinBanks returns every coin the node custodies, keyed by coin symbol.
// Banks are shared across markets (FMA-FMB and FMA-FMC share the FMA bank),
// so the map is deduplicated by symbol.
func (a *App) CoinBanks() map[string]coin.Bank {
	out := make(map[string]coin.Bank)
	for symbol, banks := range a.Banks {
		m, err := a.Registry.Get(symbol)
		if err != nil {
			continue
		}
		i, q := splitSymbol(m.Symbol)
		out[i] = banks.Instrument
		out[q] = banks.Quote
	}
	return out
}

// splitSymbol breaks an "FMA-FMB" market symbol into its coin symbols.
func splitSymbol(symbol string) (instrument, quote string) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '-' {
			return symbol[:i], symbol[i+1:]
		}
	}
	return symbol, symbol
}

// OpenOrders returns owner's resting orders on symbol, read from the live
// book; the durable store is not consulted.
func (a *App) OpenOrders(symbol string, owner common.Address) []orderbook.Order {
	m, err := a.Registry.Get(symbol)
	if err != nil {
		return nil
	}
	return m.Book.OrdersOwnedBy(owner)
}

// RecentTrades returns up to limit of symbol's most recent fills, newest
// first. Without a durable store the history is empty: the book itself
// retains no trade log.
func (a *App) RecentTrades(symbol string, limit int) ([]storage.PersistedTrade, error) {
	if a.Store == nil {
		return nil, nil
	}
	return a.Store.LoadRecentTrades(symbol, limit)
}
