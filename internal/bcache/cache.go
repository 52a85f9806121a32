package bcache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/tuannm99/blockcache/pkg/clockx"
)

var (
	ErrInvalidConfig   = errors.New("bcache: invalid config")
	ErrInvalidArgument = errors.New("bcache: invalid argument")
	ErrRawRead         = errors.New("bcache: raw read failed")
	ErrRawWrite        = errors.New("bcache: raw write failed")

	// ErrNoVictim means the replacement scan came back empty after a full
	// write-back. It signals a broken invariant, not a full cache.
	ErrNoVictim = clockx.ErrNoVictim
)

// WriteBackError reports one block that could not be written back to the
// device. It matches ErrRawWrite and unwraps to the device error.
type WriteBackError struct {
	BlockID int64
	Err     error
}

func (e *WriteBackError) Error() string {
	return fmt.Sprintf("%v: block %d: %v", ErrRawWrite, e.BlockID, e.Err)
}

func (e *WriteBackError) Unwrap() error { return e.Err }

func (e *WriteBackError) Is(target error) bool { return target == ErrRawWrite }

var _ BlockCache = (*Cache)(nil)

// Cache is a write-back cache of fixed-size blocks in front of a Device.
//
// Slots live in one arena: slot i owns arena[i*blockSize:(i+1)*blockSize].
// Occupancy, reference and dirty bits are kept by the clock; ids[i] is only
// meaningful while the clock reports slot i as used.
//
// Every public method holds mu for its whole duration, device I/O included.
type Cache struct {
	dev       Device
	blockSize int
	log       *slog.Logger

	mu    sync.Mutex
	clock *clockx.Clock
	ids   []int64
	arena []byte
	stats Stats
}

type Option func(*Cache)

// WithLogger routes the cache's debug tracing to l.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

func New(dev Device, blockSize, capacity int, opts ...Option) (*Cache, error) {
	if blockSize < 1 {
		return nil, fmt.Errorf("%w: block size must be > 0, got %d", ErrInvalidConfig, blockSize)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("%w: capacity must be > 0, got %d", ErrInvalidConfig, capacity)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidConfig)
	}

	c := &Cache{
		dev:       dev,
		blockSize: blockSize,
		log:       slog.New(slog.DiscardHandler),
		clock:     clockx.New(capacity),
		ids:       make([]int64, capacity),
		arena:     make([]byte, capacity*blockSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TableSize returns the number of slots.
func (c *Cache) TableSize() int { return len(c.ids) }

func (c *Cache) BlockSize() int { return c.blockSize }

func (c *Cache) block(idx int) []byte {
	off := idx * c.blockSize
	return c.arena[off : off+c.blockSize : off+c.blockSize]
}

func (c *Cache) checkArgs(blockID int64, buf []byte) error {
	if blockID < 0 {
		return fmt.Errorf("%w: negative block id %d", ErrInvalidArgument, blockID)
	}
	if len(buf) != c.blockSize {
		return fmt.Errorf("%w: buffer is %d bytes, block size is %d", ErrInvalidArgument, len(buf), c.blockSize)
	}
	return nil
}

// Read copies block blockID into dst, loading it from the device on a miss.
// On a failed device read no slot is left claiming the block.
func (c *Cache) Read(blockID int64, dst []byte) error {
	if err := c.checkArgs(blockID, dst); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 1) HIT
	if idx, ok := c.lookup(blockID); ok {
		copy(dst, c.block(idx))
		c.clock.Touch(idx)
		c.stats.Hits++
		return nil
	}
	c.stats.Misses++

	// 2) Free slot or victim
	idx, err := c.claim()
	if err != nil {
		return err
	}

	// 3) Load requested block
	buf := c.block(idx)
	c.stats.RawReads++
	if err := c.dev.ReadBlock(blockID, buf); err != nil {
		c.clock.Release(idx)
		c.log.Debug("bcache: raw read failed, slot released",
			"block", blockID,
			"slot", idx,
			"err", err,
		)
		return fmt.Errorf("%w: block %d: %w", ErrRawRead, blockID, err)
	}

	c.ids[idx] = blockID
	c.clock.Occupy(idx, false)
	copy(dst, buf)
	return nil
}

// Write stores src as the content of blockID. The device is only touched
// when a dirty victim has to be written back to make room.
func (c *Cache) Write(blockID int64, src []byte) error {
	if err := c.checkArgs(blockID, src); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 1) HIT
	if idx, ok := c.lookup(blockID); ok {
		copy(c.block(idx), src)
		c.clock.Occupy(idx, true)
		c.stats.Hits++
		return nil
	}
	c.stats.Misses++

	// 2) Free slot or victim
	idx, err := c.claim()
	if err != nil {
		return err
	}

	c.ids[idx] = blockID
	copy(c.block(idx), src)
	c.clock.Occupy(idx, true)
	return nil
}

// Sync writes every dirty slot back to the device. Slots stay cached and
// keep their reference bits. A slot whose write fails stays dirty; all
// failures are reported together.
func (c *Cache) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.syncLocked()
}

// Flush drops every slot without writing anything back. Call Sync first to
// keep modifications.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dirty := c.clock.DirtyCount(); dirty > 0 {
		c.log.Debug("bcache: flush discards dirty slots", "dirty", dirty)
	}
	c.clock.Reset()
}

// lookup scans all slots starting at the hand. It changes neither bits nor
// the hand.
func (c *Cache) lookup(blockID int64) (int, bool) {
	n := len(c.ids)
	start := c.clock.Hand()
	for i := range n {
		idx := (start + i) % n
		if c.clock.Used(idx) && c.ids[idx] == blockID {
			return idx, true
		}
	}
	return -1, false
}

// claim returns a slot ready to be overwritten: a free one if any, otherwise
// a victim whose content is already safe on the device.
func (c *Cache) claim() (int, error) {
	if idx, ok := c.clock.FindFree(); ok {
		return idx, nil
	}

	idx, err := c.clock.Victim(func() error {
		c.stats.SyncEscapes++
		c.log.Debug("bcache: every slot dirty, syncing before eviction")
		return c.syncLocked()
	})
	if errors.Is(err, ErrNoVictim) {
		c.log.Error("bcache: no victim after write-back",
			"slots", c.clock.Capacity(),
			"dirty", c.clock.DirtyCount(),
		)
	}
	if err != nil {
		return -1, err
	}

	if !c.clock.Used(idx) {
		return idx, nil
	}

	if c.clock.Dirty(idx) {
		if err := c.writeBack(idx); err != nil {
			return -1, err
		}
	}

	c.stats.Evictions++
	c.log.Debug("bcache: evict",
		"slot", idx,
		"block", c.ids[idx],
	)
	return idx, nil
}

func (c *Cache) writeBack(idx int) error {
	blockID := c.ids[idx]
	c.stats.WriteBacks++
	if err := c.dev.WriteBlock(blockID, c.block(idx)); err != nil {
		c.log.Debug("bcache: write-back failed",
			"slot", idx,
			"block", blockID,
			"err", err,
		)
		return &WriteBackError{BlockID: blockID, Err: err}
	}
	c.clock.SetDirty(idx, false)
	return nil
}

func (c *Cache) syncLocked() error {
	var errs error
	for idx := range c.ids {
		if !c.clock.Dirty(idx) {
			continue
		}
		errs = multierr.Append(errs, c.writeBack(idx))
	}
	return errs
}
