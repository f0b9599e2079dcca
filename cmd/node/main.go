// Command node runs one matchbook validator: Pebble-backed coin custody,
// the FMA-FMB spot market and its matching book, HotStuff consensus over
// libp2p, and the REST/WebSocket API surface.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clobcore/matchbook/params"
	"github.com/clobcore/matchbook/pkg/abci"
	"github.com/clobcore/matchbook/pkg/api"
	"github.com/clobcore/matchbook/pkg/app/clob"
	"github.com/clobcore/matchbook/pkg/coin"
	"github.com/clobcore/matchbook/pkg/consensus"
	"github.com/clobcore/matchbook/pkg/crypto"
	"github.com/clobcore/matchbook/pkg/fees"
	"github.com/clobcore/matchbook/pkg/fixedpoint"
	"github.com/clobcore/matchbook/pkg/market"
	"github.com/clobcore/matchbook/pkg/orderbook"
	"github.com/clobcore/matchbook/pkg/p2p"
	"github.com/clobcore/matchbook/pkg/storage"
	"github.com/clobcore/matchbook/pkg/util"
)

// The devnet market: instrument FMA priced in quote FMB, both coins at 8
// native decimals, book ticks at 4+4.
const (
	marketSymbol   = "FMA-FMB"
	coinDecimals   = 8
	marketDecimals = 4
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	app, cleanup := buildApp(cfg, sugar)
	defer cleanup()

	schedule := defaultFeeSchedule()
	engine := buildConsensus(cfg, app, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(app, schedule, sugar)
	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// Push book and trade updates out to subscribers as blocks commit.
	engine.OnCommit = func(height consensus.Height) {
		apiServer.BroadcastOrderbook(marketSymbol, int64(height))
	}
	app.OnTrade = func(symbol string, price, qty fixedpoint.FixedPoint, side orderbook.Side, height int64) {
		apiServer.BroadcastTrade(symbol, price.String(), qty.String(), side.String(), height)
	}

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Fatalw("engine_failed", "err", err)
		}
	}()

	sugar.Infow("node_started",
		"market", marketSymbol,
		"validators", len(cfg.Consensus.Validators),
		"single_node", cfg.Node.SingleNode,
		"api_addr", cfg.Node.APIAddr)

	watchProgress(ctx, engine.State, sugar)
}

// buildApp stands up coin custody, the market registry, and the matching
// application. The returned cleanup closes every store it opened.
func buildApp(cfg params.Config, sugar *zap.SugaredLogger) (*clob.App, func()) {
	dataDir := cfg.Node.DataDir

	instrumentBank, err := coin.NewPebbleBank(dataDir+"/coin-fma", "FMA", coinDecimals)
	if err != nil {
		sugar.Fatalw("coin_bank_init_failed", "coin", "FMA", "err", err)
	}
	quoteBank, err := coin.NewPebbleBank(dataDir+"/coin-fmb", "FMB", coinDecimals)
	if err != nil {
		sugar.Fatalw("coin_bank_init_failed", "coin", "FMB", "err", err)
	}

	registry := market.NewRegistry()
	banks := map[string]clob.MarketBanks{
		marketSymbol: {Quote: quoteBank, Instrument: instrumentBank},
	}
	app := clob.NewApp(registry, banks, sugar)
	app.Validators = len(cfg.Consensus.Validators)

	settle := &coin.BankSettlement{Quote: quoteBank, Instrument: instrumentBank, Log: sugar}
	mkt, err := market.Init(marketSymbol, instrumentBank, quoteBank,
		marketDecimals, marketDecimals, app.TradeSinkFor(marketSymbol), settle)
	if err != nil {
		sugar.Fatalw("market_init_failed", "symbol", marketSymbol, "err", err)
	}
	if err := registry.Register(mkt); err != nil {
		sugar.Fatalw("market_register_failed", "symbol", marketSymbol, "err", err)
	}

	store, err := storage.NewPebbleStore(dataDir + "/chain")
	if err != nil {
		sugar.Warnw("chain_store_unavailable", "err", err)
	} else {
		app.Store = store
	}

	return app, func() {
		if store != nil {
			store.Close()
		}
		quoteBank.Close()
		instrumentBank.Close()
	}
}

// defaultFeeSchedule seeds the devnet tier table: 30/20/5 bps maker/taker/
// protocol at the zero-holding tier. The matching core settles fee-free;
// the schedule feeds the fee endpoint.
func defaultFeeSchedule() *fees.Schedule {
	schedule := fees.NewSchedule()
	maker, err := fees.Rate(30)
	if err != nil {
		return schedule
	}
	taker, _ := fees.Rate(20)
	protocol, _ := fees.Rate(5)
	schedule.SetTier(fees.Tier{MinHolding: 0, Maker: maker, Taker: taker, Protocol: protocol})
	return schedule
}

func buildConsensus(cfg params.Config, app *clob.App, sugar *zap.SugaredLogger) *consensus.Engine {
	ids := make([]consensus.NodeID, 0, len(cfg.Consensus.Validators))
	for _, v := range cfg.Consensus.Validators {
		ids = append(ids, consensus.NodeID(v))
	}
	selfID := ids[0]
	if cfg.Node.SingleNode {
		ids = ids[:1]
	}

	// N = 3t+1 validators, 2t+1 votes to certify. N=1 degenerates to a
	// single-vote devnet.
	n := len(ids)
	t := (n - 1) / 3

	state := &consensus.State{
		Q:       consensus.Quorum{N: n, T: t},
		SelfID:  selfID,
		Genesis: consensus.GenesisBlock(),
	}
	safety := consensus.NewSafety(state)
	pm := consensus.NewPacemaker(
		consensus.PacemakerTimers{
			ProposeWait: cfg.Consensus.ProposeWait,
			NetDelta:    cfg.Consensus.NetDelta,
		},
		util.RealClock{},
		state,
	)

	net, err := p2p.NewLibp2pNet(context.Background(), p2p.Libp2pConfig{
		ListenAddr: cfg.Node.ListenAddr,
		SelfID:     selfID,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("libp2p_init_failed", "err", err)
	}

	engine := consensus.NewEngine(state, safety, pm, &abci.Bridge{App: app},
		net, consensus.RoundRobinElector{IDs: ids}, crypto.DummySigner{})
	engine.Logger = sugar
	engine.VerboseLogging = cfg.Node.Verbose
	engine.MinBlockTime = cfg.Node.MinBlockTime
	engine.Store = storage.NewMemBlockStore()
	if wal, err := storage.NewFileWAL(cfg.Node.DataDir + "/consensus.wal"); err == nil {
		engine.WAL = wal
	} else {
		sugar.Warnw("wal_unavailable", "err", err)
	}
	return engine
}

// watchProgress logs chain height periodically: every block early on, then
// every 100 blocks once the chain is moving.
func watchProgress(ctx context.Context, state *consensus.State, sugar *zap.SugaredLogger) {
	const logEvery = consensus.Height(100)
	var lastLogged consensus.Height

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if state.Height-lastLogged >= logEvery || state.Height <= 5 {
				sugar.Infow("consensus_progress", "height", state.Height, "view", state.View)
				lastLogged = state.Height
			}
		}
	}
}
