package device

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Mem is an in-memory device. Blocks that were never written read as zeros.
// It counts every accepted call so tests can assert on the exact I/O a cache issues.
type Mem struct {
	blockSize int
	numBlocks int64 // 0 means unbounded

	mu     sync.Mutex
	blocks map[int64][]byte

	reads  atomic.Int64
	writes atomic.Int64
}

func NewMem(blockSize int, numBlocks int64) *Mem {
	return &Mem{
		blockSize: blockSize,
		numBlocks: numBlocks,
		blocks:    make(map[int64][]byte),
	}
}

func (m *Mem) BlockSize() int { return m.blockSize }

func (m *Mem) check(blockID int64, buf []byte) error {
	if len(buf) != m.blockSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBlockSize, len(buf), m.blockSize)
	}
	if blockID < 0 || (m.numBlocks > 0 && blockID >= m.numBlocks) {
		return fmt.Errorf("%w: %d", ErrOutOfRange, blockID)
	}
	return nil
}

func (m *Mem) ReadBlock(blockID int64, dst []byte) error {
	if err := m.check(blockID, dst); err != nil {
		return err
	}
	m.reads.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocks[blockID]
	if !ok {
		clear(dst)
		return nil
	}
	copy(dst, b)
	return nil
}

func (m *Mem) WriteBlock(blockID int64, src []byte) error {
	if err := m.check(blockID, src); err != nil {
		return err
	}
	m.writes.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocks[blockID]
	if !ok {
		b = make([]byte, m.blockSize)
		m.blocks[blockID] = b
	}
	copy(b, src)
	return nil
}

// Peek returns a copy of what the device holds for blockID without counting
// it as a read.
func (m *Mem) Peek(blockID int64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]byte, m.blockSize)
	copy(out, m.blocks[blockID])
	return out
}

func (m *Mem) Reads() int64  { return m.reads.Load() }
func (m *Mem) Writes() int64 { return m.writes.Load() }

// ResetCounters zeroes the read and write counters. Stored blocks are kept.
func (m *Mem) ResetCounters() {
	m.reads.Store(0)
	m.writes.Store(0)
}
