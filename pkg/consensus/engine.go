package consensus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clobcore/matchbook/pkg/crypto"
)

// Engine drives one validator through the two-chain HotStuff loop. A view
// has three legs: the leader broadcasts a proposal, every validator
// executes it and votes on both the block hash and the resulting state
// hash, and the leader folds a vote quorum into a certificate it broadcasts
// as a prepare. A block is final once two consecutive certificates chain
// over it.
type Engine struct {
	State   *State
	Safety  *Safety
	PM      *Pacemaker
	App     AppHook
	Net     Network
	Elector LeaderElector
	ID      NodeID

	// Signer is *crypto.BLSSigner when EnableBLS is set; otherwise votes
	// carry placeholder shares and the quorum count alone gates progress.
	Signer    interface{}
	EnableBLS bool
	PubKeys   map[NodeID]*crypto.BLSPubKey

	Logger         *zap.SugaredLogger
	VerboseLogging bool

	// OnCommit fires after every commit with the new height; the node uses
	// it to push book snapshots to API subscribers.
	OnCommit func(Height)

	// MinBlockTime throttles a leader's proposals so a single-node devnet
	// doesn't spin out empty blocks as fast as the loop can turn.
	MinBlockTime time.Duration
	lastPropose  time.Time

	Store BlockStore
	WAL   WAL
}

func NewEngine(state *State, safety *Safety, pm *Pacemaker, app AppHook, net Network, elec LeaderElector, signer interface{}) *Engine {
	e := &Engine{
		State: state, Safety: safety, PM: pm,
		App: app, Net: net, Elector: elec, Signer: signer,
		ID: state.SelfID,
	}
	net.SetHandlers(Handlers{
		OnPropose: e.onPropose,
		OnPrepare: e.onPrepare,
	})
	return e
}

// Run loops views until ctx is cancelled. In views this validator leads it
// proposes; otherwise it parks on the pacemaker and lets the inbound
// propose/prepare handlers do the work.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		v := e.State.View + 1
		leader := e.Elector.LeaderOf(v)
		e.debugw("enter_view", "view", v, "leader", leader, "is_leader", leader == e.ID)

		if leader != e.ID {
			if err := e.PM.WaitForViewAdvance(ctx, v); err != nil {
				return err
			}
			continue
		}
		if err := e.leaderRound(ctx, v); err != nil {
			return err
		}
		e.State.View = v
	}
}

// onPropose handles an inbound proposal. The block is executed before
// voting: the vote commits to the post-execution AppHash, so a certificate
// can only form among validators whose application state agrees.
func (e *Engine) onPropose(ctx context.Context, p Propose) {
	if e.Store != nil {
		e.Store.SaveBlock(p.Block)
	}
	if !e.Safety.CanVote(p) {
		e.debugw("vote_withheld", "view", p.Block.View)
		return
	}

	appHash := e.App.OnCommit(p.Block)
	v := Vote{
		View:    p.Block.View,
		H:       HashOfBlock(p.Block),
		AppHash: appHash,
		From:    e.ID,
	}
	v.SigShare = e.signShare(v.H[:])

	to := e.Elector.LeaderOf(p.Block.View)
	_ = e.Net.SendVote(ctx, to, v)
	e.debugw("vote_sent", "view", p.Block.View, "to", to, "apphash", fmt.Sprintf("0x%x", appHash[:8]))
}

// onPrepare ingests a certificate, then applies the two-chain commit rule:
// when certificates for views v-1 and v are known and the view-v block's
// parent is the view-(v-1) certificate, the block certified at v-1 is
// final.
func (e *Engine) onPrepare(ctx context.Context, cert Certificate, blk Block) {
	if e.Store != nil {
		e.Store.SaveCert(cert)
		if !blockIsEmpty(blk) {
			e.Store.SaveBlock(blk)
		}
	}
	e.Safety.OnPrepare(cert, blk)
	e.PM.SignalViewAdvance(cert.View)

	if cert.View == 0 || e.Store == nil {
		return
	}
	prevCert, ok := e.Store.GetCert(cert.View - 1)
	if !ok {
		return
	}

	child := blk
	if blockIsEmpty(child) {
		if b, found := e.Store.GetBlock(cert.H); found {
			child = b
		}
	}
	if blockIsEmpty(child) || child.Parent != prevCert.H {
		return
	}

	committed, ok := e.Store.GetBlock(prevCert.H)
	if !ok {
		return
	}

	// The certificate's AppHash was agreed by 2T+1 voters when the block
	// was executed; stamp it onto the block before persisting the head.
	if committed.AppHash == (Hash{}) {
		committed.AppHash = prevCert.AppHash
	}

	e.Safety.UpdateLock(prevCert, committed)
	e.State.Height++
	e.Store.SaveBlock(committed)
	e.Store.SetCommitted(HashOfBlock(committed))
	e.walf("commit height=%d view=%d apphash=0x%x", e.State.Height, committed.View, prevCert.AppHash[:])

	if e.Logger != nil {
		e.Logger.Infow("commit", "height", e.State.Height, "committed_view", committed.View,
			"apphash", fmt.Sprintf("0x%x", prevCert.AppHash[:]))
	}
	if e.OnCommit != nil {
		e.OnCommit(e.State.Height)
	}
}

func (e *Engine) leaderRound(ctx context.Context, v View) error {
	if err := e.throttle(ctx); err != nil {
		return err
	}

	ldr := &Leader{ID: e.ID, Net: e.Net, Safety: e.Safety, App: e.App}
	block, prop, err := ldr.Propose(ctx, v, e.State.Height)
	if err != nil {
		return fmt.Errorf("propose: %w", err)
	}
	e.debugw("propose_broadcasted", "height", block.Height, "view", v, "parent", prop.HighCert.H.String())
	if e.Store != nil {
		e.Store.SaveBlock(block)
	}
	e.walf("propose v=%d h=%d", v, block.Height)

	// The leader's own vote arrives through onPropose like everyone
	// else's; here it only waits for the quorum.
	need := 2*e.State.Q.T + 1
	votes, err := e.Net.CollectVotes(ctx, v, HashOfBlock(block), need)
	if err != nil {
		return fmt.Errorf("collect votes: %w", err)
	}
	agreed, err := agreedAppHash(votes)
	if err != nil {
		return err
	}
	e.debugw("apphash_agreed", "view", v, "apphash", fmt.Sprintf("0x%x", agreed[:8]), "votes", len(votes))

	cert := Certificate{
		View:    v,
		H:       HashOfBlock(block),
		AppHash: agreed,
		Sig:     e.aggregateShares(votes),
	}
	if e.Store != nil {
		e.Store.SaveCert(cert)
	}
	if err := e.Net.BroadcastPrepare(ctx, cert); err != nil {
		return fmt.Errorf("broadcast prepare: %w", err)
	}
	e.Safety.OnPrepare(cert, block)
	return nil
}

// agreedAppHash asserts every vote reached the same post-execution state.
// A mismatch means some validator's book diverged, which no certificate
// may paper over.
func agreedAppHash(votes []Vote) (Hash, error) {
	if len(votes) == 0 {
		return Hash{}, fmt.Errorf("no votes collected")
	}
	agreed := votes[0].AppHash
	for i, vt := range votes[1:] {
		if vt.AppHash != agreed {
			return Hash{}, fmt.Errorf("apphash mismatch: %s has 0x%x, %s has 0x%x (vote %d)",
				votes[0].From, agreed[:8], vt.From, vt.AppHash[:8], i+1)
		}
	}
	return agreed, nil
}

func (e *Engine) signShare(msg []byte) []byte {
	if e.EnableBLS {
		if s, ok := e.Signer.(*crypto.BLSSigner); ok {
			return s.Sign(msg)
		}
	}
	return []byte("s")
}

func (e *Engine) aggregateShares(votes []Vote) []byte {
	if !e.EnableBLS {
		return []byte("agg")
	}
	shares := make([][]byte, 0, len(votes))
	for _, vt := range votes {
		if len(vt.SigShare) > 0 {
			shares = append(shares, vt.SigShare)
		}
	}
	return crypto.Aggregate(shares)
}

func (e *Engine) throttle(ctx context.Context) error {
	if e.MinBlockTime <= 0 {
		return nil
	}
	if wait := e.MinBlockTime - time.Since(e.lastPropose); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	e.lastPropose = time.Now()
	return nil
}

func (e *Engine) debugw(msg string, kv ...interface{}) {
	if e.Logger != nil && e.VerboseLogging {
		e.Logger.Debugw(msg, kv...)
	}
}

func (e *Engine) walf(format string, args ...interface{}) {
	if e.WAL != nil {
		e.WAL.Append(fmt.Sprintf(format, args...))
	}
}
