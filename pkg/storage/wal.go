package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/clobcore/matchbook/pkg/consensus"
)

// FileWAL appends one line per consensus checkpoint to a plain text file.
// Advisory only: recovery reads the block store, not the WAL.
type FileWAL struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.f, line)
}

func (w *FileWAL) Close() error { return w.f.Close() }

// NopWAL discards every checkpoint.
type NopWAL struct{}

func NewNopWAL() *NopWAL          { return &NopWAL{} }
func (w *NopWAL) Append(_ string) {}

var (
	_ consensus.WAL = (*FileWAL)(nil)
	_ consensus.WAL = (*NopWAL)(nil)
)
