// Package workload replays the classic buffer-cache traffic patterns against
// any block device: every pattern writes a set of blocks, reads them back and
// checks the content.
package workload

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/tuannm99/blockcache/internal/bcache"
	"github.com/tuannm99/blockcache/pkg/bx"
)

var (
	ErrMismatch       = errors.New("workload: read back different content")
	ErrUnknownPattern = errors.New("workload: unknown pattern")
	ErrBlockTooSmall  = errors.New("workload: block size too small for header")
)

type Pattern int

const (
	Random Pattern = iota + 1
	Localized
	Mixed
	Adversary
)

// All lists every pattern in the order the "all" run uses.
var All = []Pattern{Random, Localized, Mixed, Adversary}

func (p Pattern) String() string {
	switch p {
	case Random:
		return "random"
	case Localized:
		return "localized"
	case Mixed:
		return "mixed"
	case Adversary:
		return "adversary"
	default:
		return "unknown"
	}
}

func ParsePattern(s string) (Pattern, error) {
	switch s {
	case "random":
		return Random, nil
	case "localized":
		return Localized, nil
	case "mixed":
		return Mixed, nil
	case "adversary":
		return Adversary, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownPattern, s)
	}
}

const (
	// Block ids of one run stay below IDSpan, so parallel workers offset by
	// multiples of it never share a block.
	IDSpan = 1024

	randomRange = 512
	accesses    = 200
	rounds      = 20

	// header: block id (8) + generation (4)
	headerSize = 12
)

type Options struct {
	BlockSize int
	Seed      uint64
	Base      int64 // added to every block id
}

type Result struct {
	Pattern  Pattern
	Reads    int
	Writes   int
	Elapsed  time.Duration
	AvgRead  time.Duration
	AvgWrite time.Duration
}

type runner struct {
	dev     bcache.Device
	opts    Options
	rng     *rand.Rand
	wbuf    []byte
	rbuf    []byte
	gen     uint32
	lastGen map[int64]uint32

	res       Result
	readTime  time.Duration
	writeTime time.Duration
}

// Run executes one pattern against dev.
func Run(dev bcache.Device, p Pattern, opts Options) (Result, error) {
	if opts.BlockSize < headerSize {
		return Result{}, fmt.Errorf("%w: %d < %d", ErrBlockTooSmall, opts.BlockSize, headerSize)
	}
	r := &runner{
		dev:     dev,
		opts:    opts,
		rng:     rand.New(rand.NewPCG(opts.Seed, uint64(p))),
		wbuf:    make([]byte, opts.BlockSize),
		rbuf:    make([]byte, opts.BlockSize),
		lastGen: make(map[int64]uint32),
		res:     Result{Pattern: p},
	}

	start := time.Now()
	var err error
	switch p {
	case Random:
		err = r.writeThenVerify(r.randomIDs())
	case Localized:
		err = r.localized()
	case Mixed:
		err = r.writeThenVerify(r.mixedIDs())
	case Adversary:
		err = r.writeThenVerify(adversaryIDs())
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownPattern, int(p))
	}
	r.res.Elapsed = time.Since(start)
	if err != nil {
		return r.res, err
	}

	if r.res.Reads > 0 {
		r.res.AvgRead = r.readTime / time.Duration(r.res.Reads)
	}
	if r.res.Writes > 0 {
		r.res.AvgWrite = r.writeTime / time.Duration(r.res.Writes)
	}
	slog.Debug("workload: done",
		"pattern", p.String(),
		"base", opts.Base,
		"reads", r.res.Reads,
		"writes", r.res.Writes,
		"elapsed", r.res.Elapsed,
	)
	return r.res, nil
}

func (r *runner) randomIDs() []int64 {
	ids := make([]int64, accesses)
	for i := range ids {
		ids[i] = r.rng.Int64N(randomRange)
	}
	return ids
}

// mixedIDs is 90% a hot set of ten blocks and 10% random blocks.
func (r *runner) mixedIDs() []int64 {
	ids := make([]int64, accesses)
	for i := range ids {
		if r.rng.IntN(10) > 8 {
			ids[i] = r.rng.Int64N(randomRange)
		} else {
			ids[i] = r.rng.Int64N(10)
		}
	}
	return ids
}

// adversaryIDs touches every block once, so nothing is ever reused.
func adversaryIDs() []int64 {
	ids := make([]int64, 0, rounds*10)
	for i := range rounds {
		for j := range 10 {
			ids = append(ids, int64(i*10+j))
		}
	}
	return ids
}

// localized rewrites and rereads the same ten blocks every round.
func (r *runner) localized() error {
	ids := make([]int64, 0, 10)
	for j := 0; j < 1000; j += 100 {
		ids = append(ids, int64(j))
	}
	for range rounds {
		if err := r.writeThenVerify(ids); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) writeThenVerify(ids []int64) error {
	r.gen++
	for _, id := range ids {
		if err := r.write(id); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if err := r.readAndCheck(id); err != nil {
			return err
		}
	}
	return nil
}

// fill stamps the block header and a generation-dependent body into buf.
func fill(buf []byte, blockID int64, gen uint32) {
	bx.PutU64At(buf, 0, uint64(blockID))
	bx.PutU32At(buf, 8, gen)
	for j := headerSize; j < len(buf); j++ {
		buf[j] = byte(uint32(j) + gen)
	}
}

func (r *runner) write(id int64) error {
	blockID := r.opts.Base + id
	fill(r.wbuf, blockID, r.gen)

	start := time.Now()
	err := r.dev.WriteBlock(blockID, r.wbuf)
	r.writeTime += time.Since(start)
	if err != nil {
		return fmt.Errorf("write block %d: %w", blockID, err)
	}
	r.res.Writes++
	r.lastGen[blockID] = r.gen
	return nil
}

func (r *runner) readAndCheck(id int64) error {
	blockID := r.opts.Base + id

	start := time.Now()
	err := r.dev.ReadBlock(blockID, r.rbuf)
	r.readTime += time.Since(start)
	if err != nil {
		return fmt.Errorf("read block %d: %w", blockID, err)
	}
	r.res.Reads++

	if got := int64(bx.U64At(r.rbuf, 0)); got != blockID {
		return fmt.Errorf("%w: block %d carries header of block %d", ErrMismatch, blockID, got)
	}
	if got, want := bx.U32At(r.rbuf, 8), r.lastGen[blockID]; got != want {
		return fmt.Errorf("%w: block %d generation %d, want %d", ErrMismatch, blockID, got, want)
	}
	fill(r.wbuf, blockID, r.lastGen[blockID])
	for j := headerSize; j < len(r.rbuf); j++ {
		if r.rbuf[j] != r.wbuf[j] {
			return fmt.Errorf("%w: block %d byte %d", ErrMismatch, blockID, j)
		}
	}
	return nil
}

// RunParallel runs the same pattern on workers goroutines at once. Worker w
// uses block ids starting at opts.Base + w*IDSpan and seed opts.Seed + w.
func RunParallel(dev bcache.Device, p Pattern, workers int, opts Options) ([]Result, error) {
	if workers < 1 {
		workers = 1
	}
	wp := pool.NewWithResults[Result]().WithErrors().WithMaxGoroutines(workers)
	for w := range workers {
		o := opts
		o.Base = opts.Base + int64(w)*IDSpan
		o.Seed = opts.Seed + uint64(w)
		wp.Go(func() (Result, error) {
			return Run(dev, p, o)
		})
	}
	return wp.Wait()
}
