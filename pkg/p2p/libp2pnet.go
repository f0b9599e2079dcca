package p2p

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/clobcore/matchbook/pkg/consensus"
)

const (
	topicPropose = "mb-consensus-propose"
	topicPrepare = "mb-consensus-prepare"
	protoVote    = protocol.ID("/matchbook/vote/1.0.0")

	voteCollectTimeout = 3 * time.Second
)

// Libp2pConfig wires one validator onto the gossip mesh.
type Libp2pConfig struct {
	// ListenAddr is the multiaddr to listen on; empty picks a random port.
	ListenAddr string
	// Bootstrap multiaddrs are dialed at startup to join the mesh.
	Bootstrap []string
	// PeerAddrs optionally maps validator IDs to full multiaddrs (with
	// /p2p/<id> suffix) so votes can be unicast straight to the leader.
	// Validators absent from the map receive votes via fan-out instead.
	PeerAddrs map[consensus.NodeID]string
	SelfID    consensus.NodeID
	Quorum    consensus.Quorum
	Logger    *zap.SugaredLogger
}

// Libp2pNet implements consensus.Network: proposals and prepares broadcast
// on gossipsub topics, votes travel as unicast streams to the view leader,
// where a ledger accumulates them until the quorum threshold is hit.
type Libp2pNet struct {
	h    host.Host
	ps   *pubsub.PubSub
	log  *zap.SugaredLogger
	self consensus.NodeID

	peerAddrs map[consensus.NodeID]string

	tPropose, tPrepare     *pubsub.Topic
	subPropose, subPrepare *pubsub.Subscription

	votes voteLedger

	// certBlocks records, per view, the certificate and block that arrived
	// with a received prepare. BroadcastPrepare attaches that block only when
	// a prepare for the same certificate was already received, so the first
	// broadcast of a new certificate carries no block.
	muCert     sync.Mutex
	certBlocks map[consensus.View]certEntry

	muH      sync.RWMutex
	handlers consensus.Handlers
}

type certEntry struct {
	cert  consensus.Certificate
	block consensus.Block
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	n := &Libp2pNet{
		h:          h,
		ps:         ps,
		log:        cfg.Logger,
		self:       cfg.SelfID,
		peerAddrs:  cfg.PeerAddrs,
		certBlocks: make(map[consensus.View]certEntry),
	}
	n.votes.init()

	for _, addr := range cfg.Bootstrap {
		if err := n.dial(ctx, addr); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_dial_failed", "addr", addr, "err", err)
		}
	}
	if err := n.joinTopics(ctx); err != nil {
		return nil, err
	}

	h.SetStreamHandler(protoVote, n.readVoteStream)
	go n.consumePropose(ctx)
	go n.consumePrepare(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return n, nil
}

// Host exposes the underlying libp2p host for tests that wire peers
// together manually.
func (n *Libp2pNet) Host() host.Host { return n.h }

func (n *Libp2pNet) SetHandlers(h consensus.Handlers) {
	n.muH.Lock()
	n.handlers = h
	n.muH.Unlock()
}

func (n *Libp2pNet) dial(ctx context.Context, addr string) error {
	info, err := addrInfo(addr)
	if err != nil {
		return err
	}
	return n.h.Connect(ctx, *info)
}

func addrInfo(addr string) (*peer.AddrInfo, error) {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return nil, err
	}
	return peer.AddrInfoFromP2pAddr(m)
}

func (n *Libp2pNet) joinTopics(ctx context.Context) error {
	var err error
	if n.tPropose, err = n.ps.Join(topicPropose); err != nil {
		return err
	}
	if n.tPrepare, err = n.ps.Join(topicPrepare); err != nil {
		return err
	}
	if n.subPropose, err = n.tPropose.Subscribe(); err != nil {
		return err
	}
	n.subPrepare, err = n.tPrepare.Subscribe()
	return err
}

// ---- outbound ----

func (n *Libp2pNet) BroadcastPropose(ctx context.Context, p consensus.Propose) error {
	bb, err := gobEncode(p.Block)
	if err != nil {
		return err
	}
	cb, err := gobEncode(p.HighCert)
	if err != nil {
		return err
	}
	data, err := gobEncode(proposalEnvelope{Block: bb, HighCert: cb})
	if err != nil {
		return err
	}
	return n.tPropose.Publish(ctx, data)
}

func (n *Libp2pNet) BroadcastPrepare(ctx context.Context, cert consensus.Certificate) error {
	n.muCert.Lock()
	var blk consensus.Block
	if entry, ok := n.certBlocks[cert.View]; ok && entry.cert.H == cert.H {
		blk = entry.block
	}
	n.muCert.Unlock()

	cb, err := gobEncode(cert)
	if err != nil {
		return err
	}
	bb, err := gobEncode(blk)
	if err != nil {
		return err
	}
	data, err := gobEncode(prepareEnvelope{Cert: cb, Block: bb})
	if err != nil {
		return err
	}
	return n.tPrepare.Publish(ctx, data)
}

// SendVote delivers v to the leader: locally when voting for our own
// proposal, by direct stream when the leader's address is configured, and
// by fan-out to every connected peer otherwise (non-leaders simply never
// collect what lands on them).
func (n *Libp2pNet) SendVote(ctx context.Context, to consensus.NodeID, v consensus.Vote) error {
	if to == n.self {
		n.votes.add(v)
		return nil
	}

	data, err := gobEncode(v)
	if err != nil {
		return err
	}

	if addr, ok := n.peerAddrs[to]; ok {
		info, err := addrInfo(addr)
		if err == nil {
			return n.writeVoteStream(ctx, info.ID, data)
		}
		if n.log != nil {
			n.log.Warnw("peer_addr_unparseable", "to", to, "addr", addr, "err", err)
		}
	}

	peers := n.h.Network().Peers()
	if len(peers) == 0 {
		return errors.New("p2p: no peers connected")
	}
	var lastErr error
	for _, p := range peers {
		if err := n.writeVoteStream(ctx, p, data); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (n *Libp2pNet) writeVoteStream(ctx context.Context, to peer.ID, data []byte) error {
	stream, err := n.h.NewStream(ctx, to, protoVote)
	if err != nil {
		return err
	}
	defer stream.Close()
	_, err = stream.Write(data)
	return err
}

// CollectVotes blocks until need votes for (view, h) have arrived or the
// collection window closes. Wake-ups are edge-triggered by vote arrival,
// not polled.
func (n *Libp2pNet) CollectVotes(ctx context.Context, view consensus.View, h consensus.Hash, need int) ([]consensus.Vote, error) {
	deadline := time.NewTimer(voteCollectTimeout)
	defer deadline.Stop()

	for {
		if got, ok := n.votes.take(view, h, need); ok {
			return got, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			if got, ok := n.votes.take(view, h, need); ok {
				return got, nil
			}
			return nil, errors.New("p2p: timeout collecting votes")
		case <-n.votes.arrived:
		}
	}
}

// ---- inbound ----

func (n *Libp2pNet) consumePropose(ctx context.Context) {
	for {
		msg, err := n.subPropose.Next(ctx)
		if err != nil {
			return
		}
		var env proposalEnvelope
		if err := gobDecode(msg.Data, &env); err != nil {
			continue
		}
		var blk consensus.Block
		var cert consensus.Certificate
		if gobDecode(env.Block, &blk) != nil || gobDecode(env.HighCert, &cert) != nil {
			continue
		}
		if h := n.snapshotHandlers(); h.OnPropose != nil {
			h.OnPropose(ctx, consensus.Propose{Block: blk, HighCert: cert})
		}
	}
}

func (n *Libp2pNet) consumePrepare(ctx context.Context) {
	for {
		msg, err := n.subPrepare.Next(ctx)
		if err != nil {
			return
		}
		var env prepareEnvelope
		if err := gobDecode(msg.Data, &env); err != nil {
			continue
		}
		var cert consensus.Certificate
		if gobDecode(env.Cert, &cert) != nil {
			continue
		}
		var blk consensus.Block
		if len(env.Block) > 0 {
			_ = gobDecode(env.Block, &blk)
		}

		n.muCert.Lock()
		n.certBlocks[cert.View] = certEntry{cert: cert, block: blk}
		n.muCert.Unlock()

		if h := n.snapshotHandlers(); h.OnPrepare != nil {
			h.OnPrepare(ctx, cert, blk)
		}
	}
}

func (n *Libp2pNet) readVoteStream(s network.Stream) {
	defer s.Close()
	data, err := io.ReadAll(s)
	if err != nil {
		return
	}
	var v consensus.Vote
	if err := gobDecode(data, &v); err != nil {
		return
	}
	n.votes.add(v)
}

func (n *Libp2pNet) snapshotHandlers() consensus.Handlers {
	n.muH.RLock()
	defer n.muH.RUnlock()
	return n.handlers
}

// voteLedger accumulates votes per (view, block hash) and pulses arrived
// on every insert so a waiting collector wakes immediately.
type voteLedger struct {
	mu      sync.Mutex
	byView  map[consensus.View]map[consensus.Hash][]consensus.Vote
	arrived chan struct{}
}

func (l *voteLedger) init() {
	l.byView = make(map[consensus.View]map[consensus.Hash][]consensus.Vote)
	// Buffered: a missed pulse is recovered by the collector's deadline.
	l.arrived = make(chan struct{}, 64)
}

func (l *voteLedger) add(v consensus.Vote) {
	l.mu.Lock()
	if l.byView[v.View] == nil {
		l.byView[v.View] = make(map[consensus.Hash][]consensus.Vote)
	}
	l.byView[v.View][v.H] = append(l.byView[v.View][v.H], v)
	l.mu.Unlock()

	select {
	case l.arrived <- struct{}{}:
	default:
	}
}

func (l *voteLedger) take(view consensus.View, h consensus.Hash, need int) ([]consensus.Vote, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	got := l.byView[view][h]
	if len(got) < need {
		return nil, false
	}
	out := make([]consensus.Vote, need)
	copy(out, got[:need])
	return out, true
}
