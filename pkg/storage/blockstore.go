package storage

import (
	"sync"

	"github.com/clobcore/matchbook/pkg/consensus"
)

// MemBlockStore keeps consensus state in maps, for tests and throwaway
// devnets.
type MemBlockStore struct {
	mu        sync.Mutex
	blocks    map[consensus.Hash]consensus.Block
	certs     map[consensus.View]consensus.Certificate
	committed *consensus.Hash
}

func NewMemBlockStore() *MemBlockStore {
	return &MemBlockStore{
		blocks: make(map[consensus.Hash]consensus.Block),
		certs:  make(map[consensus.View]consensus.Certificate),
	}
}

var _ consensus.BlockStore = (*MemBlockStore)(nil)

func (s *MemBlockStore) SaveBlock(b consensus.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[consensus.HashOfBlock(b)] = b
}

func (s *MemBlockStore) GetBlock(h consensus.Hash) (consensus.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok
}

func (s *MemBlockStore) SaveCert(c consensus.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[c.View] = c
}

func (s *MemBlockStore) GetCert(v consensus.View) (consensus.Certificate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.certs[v]
	return c, ok
}

func (s *MemBlockStore) SetCommitted(h consensus.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = &h
}

func (s *MemBlockStore) GetCommitted() (consensus.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed == nil {
		return consensus.Hash{}, false
	}
	return *s.committed, true
}
