package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	// SegmentSize caps a single backing file at 1 GiB.
	SegmentSize int64 = 1 << 30

	FileMode0644 = 0o644
	FileMode0755 = 0o755
)

// File stores blocks in a set of segment files on an afero filesystem.
// Segments are named Base, Base.1, Base.2, ...; each holds
// SegmentSize/blockSize blocks.
type File struct {
	fs        afero.Fs
	dir       string
	base      string
	blockSize int
	perSeg    int64
}

func NewFile(fs afero.Fs, dir, base string, blockSize int) (*File, error) {
	if blockSize < 1 || int64(blockSize) > SegmentSize {
		return nil, fmt.Errorf("%w: %d", ErrBlockSize, blockSize)
	}
	if err := fs.MkdirAll(dir, FileMode0755); err != nil {
		return nil, err
	}
	return &File{
		fs:        fs,
		dir:       dir,
		base:      base,
		blockSize: blockSize,
		perSeg:    SegmentSize / int64(blockSize),
	}, nil
}

// NewOSFile is NewFile on the host filesystem.
func NewOSFile(dir, base string, blockSize int) (*File, error) {
	return NewFile(afero.NewOsFs(), dir, base, blockSize)
}

func (d *File) BlockSize() int { return d.blockSize }

func (d *File) segmentPath(segNo int64) string {
	name := d.base
	if segNo > 0 {
		name = fmt.Sprintf("%s.%d", d.base, segNo)
	}
	return filepath.Join(d.dir, name)
}

func (d *File) openSegment(segNo int64) (afero.File, error) {
	// RDWR | CREATE (no truncate)
	return d.fs.OpenFile(d.segmentPath(segNo), os.O_RDWR|os.O_CREATE, FileMode0644)
}

func (d *File) locate(blockID int64) (segNo, offset int64) {
	segNo = blockID / d.perSeg
	offset = (blockID % d.perSeg) * int64(d.blockSize)
	return segNo, offset
}

func (d *File) check(blockID int64, buf []byte) error {
	if len(buf) != d.blockSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBlockSize, len(buf), d.blockSize)
	}
	if blockID < 0 {
		return fmt.Errorf("%w: %d", ErrOutOfRange, blockID)
	}
	return nil
}

// ReadBlock reads exactly one block into dst. Whatever lies past the end of
// the segment reads as zeros, so blocks never written are valid and empty.
func (d *File) ReadBlock(blockID int64, dst []byte) error {
	if err := d.check(blockID, dst); err != nil {
		return err
	}
	segNo, off := d.locate(blockID)
	f, err := d.openSegment(segNo)
	if err != nil {
		return err
	}
	defer closeFile(f)

	n, err := f.ReadAt(dst, off)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	clear(dst[n:])
	return nil
}

// WriteBlock writes exactly one block from src at blockID's location.
func (d *File) WriteBlock(blockID int64, src []byte) error {
	if err := d.check(blockID, src); err != nil {
		return err
	}
	segNo, off := d.locate(blockID)
	f, err := d.openSegment(segNo)
	if err != nil {
		return err
	}
	defer closeFile(f)

	n, err := f.WriteAt(src, off)
	if err != nil {
		return err
	}
	if n != len(src) {
		return io.ErrShortWrite
	}
	return nil
}

// CountBlocks sums whole blocks over all existing segments.
func (d *File) CountBlocks() (int64, error) {
	var total int64
	for segNo := int64(0); ; segNo++ {
		info, err := d.fs.Stat(d.segmentPath(segNo))
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return 0, err
		}
		total += info.Size() / int64(d.blockSize)
	}
	return total, nil
}

func closeFile(f afero.File) {
	if err := f.Close(); err != nil {
		slog.Warn("device: close segment", "file", f.Name(), "err", err)
	}
}
