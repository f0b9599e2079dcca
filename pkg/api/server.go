package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/clobcore/matchbook/pkg/app/clob"
	"github.com/clobcore/matchbook/pkg/fees"
	"github.com/clobcore/matchbook/pkg/market"
	"github.com/clobcore/matchbook/pkg/orderbook"
	"github.com/clobcore/matchbook/pkg/util"
)

// Server exposes the node's read surface (markets, depth, trades, balances)
// and the signed-transaction write surface (orders, cancels) over REST and
// WebSocket. All writes go through the mempool; the API never touches a
// book directly.
type Server struct {
	app    *clob.App
	fees   *fees.Schedule
	router *mux.Router
	hub    *Hub
	log    util.Logger
}

// NewServer creates an API server over app. schedule may be nil, in which
// case the fee endpoint reports an empty table.
func NewServer(app *clob.App, schedule *fees.Schedule, log util.Logger) *Server {
	s := &Server{
		app:    app,
		fees:   schedule,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{symbol}/fees", s.handleGetFees).Methods("GET")

	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")

	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	api.HandleFunc("/orders", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the HTTP server on addr, blocking until it fails.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST Handlers
// ==============================

func marketInfo(m *market.Market) MarketInfo {
	instrument, quote := m.Symbol, ""
	if i := strings.IndexByte(m.Symbol, '-'); i >= 0 {
		instrument, quote = m.Symbol[:i], m.Symbol[i+1:]
	}
	return MarketInfo{
		Symbol:     m.Symbol,
		Instrument: instrument,
		Quote:      quote,
		Status:     m.Status.String(),
		IDecimals:  m.IDecimals,
		QDecimals:  m.QDecimals,
		TickSize:   m.TickSize().String(),
		LotSize:    m.LotSize().String(),
	}
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.app.ListMarkets()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.app.GetMarket(mux.Vars(r)["symbol"])
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	respondJSON(w, marketInfo(m))
}

func depthLevels(levels []orderbook.DepthLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, lvl := range levels {
		out[i] = PriceLevel{Price: lvl.Price.String(), Qty: lvl.Qty.String(), Count: lvl.Count}
	}
	return out
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	m, err := s.app.GetMarket(symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	respondJSON(w, OrderbookSnapshot{
		Symbol:    symbol,
		Bids:      depthLevels(m.Book.BidDepth()),
		Asks:      depthLevels(m.Book.AskDepth()),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	trades, err := s.app.RecentTrades(symbol, 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade query failed", err.Error())
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = TradeInfo{
			ID:        t.ID,
			Symbol:    t.Symbol,
			Price:     t.Price,
			Qty:       t.Qty,
			Side:      t.Side,
			Buyer:     t.Buyer,
			Seller:    t.Seller,
			Timestamp: t.Timestamp,
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	if s.fees == nil {
		respondJSON(w, []FeeTierInfo{})
		return
	}
	tiers := s.fees.Tiers()
	out := make([]FeeTierInfo, len(tiers))
	for i, t := range tiers {
		out[i] = FeeTierInfo{
			MinHolding: t.MinHolding,
			Maker:      t.Maker.String(),
			Taker:      t.Taker.String(),
			Protocol:   t.Protocol.String(),
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)

	balances := make([]BalanceInfo, 0)
	for symbol, bank := range s.app.CoinBanks() {
		balances = append(balances, BalanceInfo{Symbol: symbol, Balance: bank.Balance(addr)})
	}
	respondJSON(w, AccountInfo{Address: addr.Hex(), Balances: balances})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)

	out := make([]OrderInfo, 0)
	for _, m := range s.app.ListMarkets() {
		for _, o := range s.app.OpenOrders(m.Symbol, addr) {
			out = append(out, OrderInfo{
				ID:        o.ID.String(),
				Symbol:    m.Symbol,
				Owner:     o.Owner.Hex(),
				Side:      o.Metadata.Side.String(),
				Type:      o.Metadata.Type.String(),
				Price:     o.Metadata.Price.String(),
				Original:  o.Metadata.OriginalQty.String(),
				Remaining: o.Metadata.RemainingQty.String(),
				Status:    o.Metadata.Status.String(),
			})
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ChainStatus{
		Height:      s.app.Height(),
		MempoolSize: s.app.MempoolSize(),
		Validators:  s.app.ValidatorCount(),
	})
}

// handleSubmitTx accepts any signed transaction (order or cancel), checks
// it parses, and enqueues it for the next proposal. Signature verification
// happens deterministically in FinalizeBlock, not here: the API is not a
// trust boundary, consensus is.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if err := s.app.PushTx(body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	}
	s.log.Debugw("tx_submitted", "bytes", len(body))
	respondJSON(w, SubmitTxResponse{Status: "submitted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods
// ==============================

// BroadcastOrderbook pushes a depth snapshot to every subscriber of
// orderbook:<symbol>. Called by the node on block commit.
func (s *Server) BroadcastOrderbook(symbol string, height int64) {
	m, err := s.app.GetMarket(symbol)
	if err != nil {
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+symbol, OrderbookUpdate{
		Type:      "orderbook",
		Symbol:    symbol,
		Bids:      depthLevels(m.Book.BidDepth()),
		Asks:      depthLevels(m.Book.AskDepth()),
		Timestamp: time.Now().UnixMilli(),
		Height:    height,
	})
}

// BroadcastTrade pushes one execution to every subscriber of
// trades:<symbol>. Called by the app's trade hook.
func (s *Server) BroadcastTrade(symbol, price, qty, side string, height int64) {
	s.hub.BroadcastToChannel("trades:"+symbol, TradeUpdate{
		Type:      "trade",
		Symbol:    symbol,
		Price:     price,
		Qty:       qty,
		Side:      side,
		Timestamp: time.Now().UnixMilli(),
		Height:    height,
	})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}
