package device

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// FaultConfig sets random failure probabilities, 0.0 (never) to 1.0 (always).
type FaultConfig struct {
	ReadFailRate  float64
	WriteFailRate float64
}

// blockIO is what Faulty forwards to once a call survives fault injection.
type blockIO interface {
	ReadBlock(blockID int64, dst []byte) error
	WriteBlock(blockID int64, src []byte) error
}

// Faulty wraps a device and fails selected calls before they reach it.
//
// Failures are either sticky per block (FailRead / FailWrite, like a bad
// sector) or drawn from FaultConfig with a seeded generator so runs are
// reproducible. Every injected error matches ErrInjected.
type Faulty struct {
	dev blockIO

	mu        sync.Mutex
	rng       *rand.Rand
	config    FaultConfig
	badReads  map[int64]struct{}
	badWrites map[int64]struct{}

	readFails  atomic.Int64
	writeFails atomic.Int64
}

func NewFaulty(dev blockIO, seed uint64, config FaultConfig) *Faulty {
	return &Faulty{
		dev:       dev,
		rng:       rand.New(rand.NewPCG(seed, seed)),
		config:    config,
		badReads:  make(map[int64]struct{}),
		badWrites: make(map[int64]struct{}),
	}
}

// FailRead makes every read of the given blocks fail until Heal.
func (f *Faulty) FailRead(ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.badReads[id] = struct{}{}
	}
}

// FailWrite makes every write of the given blocks fail until Heal.
func (f *Faulty) FailWrite(ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.badWrites[id] = struct{}{}
	}
}

// Heal drops all sticky failures and random rates.
func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.badReads)
	clear(f.badWrites)
	f.config = FaultConfig{}
}

func (f *Faulty) shouldFail(write bool, id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	bad, rate := f.badReads, f.config.ReadFailRate
	if write {
		bad, rate = f.badWrites, f.config.WriteFailRate
	}
	if _, ok := bad[id]; ok {
		return true
	}
	return rate > 0 && f.rng.Float64() < rate
}

func (f *Faulty) ReadBlock(blockID int64, dst []byte) error {
	if f.shouldFail(false, blockID) {
		f.readFails.Add(1)
		return fmt.Errorf("%w: read block %d", ErrInjected, blockID)
	}
	return f.dev.ReadBlock(blockID, dst)
}

func (f *Faulty) WriteBlock(blockID int64, src []byte) error {
	if f.shouldFail(true, blockID) {
		f.writeFails.Add(1)
		return fmt.Errorf("%w: write block %d", ErrInjected, blockID)
	}
	return f.dev.WriteBlock(blockID, src)
}

// ReadFails returns how many reads were failed on purpose.
func (f *Faulty) ReadFails() int64 { return f.readFails.Load() }

// WriteFails returns how many writes were failed on purpose.
func (f *Faulty) WriteFails() int64 { return f.writeFails.Load() }
