package device

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T, blockSize int) (*File, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	d, err := NewFile(fs, "/data", "disk", blockSize)
	require.NoError(t, err)
	return d, fs
}

func TestFile_ReadPastEOF_ZeroFilled(t *testing.T) {
	d, _ := newTestFile(t, 8)

	buf := bytes.Repeat([]byte{1}, 8)
	require.NoError(t, d.ReadBlock(42, buf))
	require.Equal(t, make([]byte, 8), buf)
}

func TestFile_WriteThenRead(t *testing.T) {
	d, fs := newTestFile(t, 8)

	src := []byte("abcdefgh")
	require.NoError(t, d.WriteBlock(3, src))

	dst := make([]byte, 8)
	require.NoError(t, d.ReadBlock(3, dst))
	require.Equal(t, src, dst)

	// Blocks before the written one exist as zeros.
	require.NoError(t, d.ReadBlock(1, dst))
	require.Equal(t, make([]byte, 8), dst)

	info, err := fs.Stat("/data/disk")
	require.NoError(t, err)
	require.Equal(t, int64(4*8), info.Size())

	n, err := d.CountBlocks()
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

func TestFile_LocateAcrossSegments(t *testing.T) {
	d, _ := newTestFile(t, 4096)

	seg, off := d.locate(d.perSeg + 2)
	require.Equal(t, int64(1), seg)
	require.Equal(t, int64(2*4096), off)
	require.Equal(t, "/data/disk.1", d.segmentPath(1))
	require.Equal(t, "/data/disk", d.segmentPath(0))
}

func TestFile_SecondSegmentWrite(t *testing.T) {
	d, fs := newTestFile(t, 4096)

	src := bytes.Repeat([]byte{7}, 4096)
	require.NoError(t, d.WriteBlock(d.perSeg, src))

	ok, err := afero.Exists(fs, "/data/disk.1")
	require.NoError(t, err)
	require.True(t, ok)

	dst := make([]byte, 4096)
	require.NoError(t, d.ReadBlock(d.perSeg, dst))
	require.Equal(t, src, dst)
}

func TestFile_Errors(t *testing.T) {
	_, err := NewFile(afero.NewMemMapFs(), "/x", "disk", 0)
	require.ErrorIs(t, err, ErrBlockSize)

	d, _ := newTestFile(t, 8)
	require.ErrorIs(t, d.ReadBlock(0, make([]byte, 7)), ErrBlockSize)
	require.ErrorIs(t, d.WriteBlock(-1, make([]byte, 8)), ErrOutOfRange)
}

func TestFile_OnHostFilesystem(t *testing.T) {
	d, err := NewOSFile(t.TempDir(), "disk", 16)
	require.NoError(t, err)

	src := bytes.Repeat([]byte{3}, 16)
	require.NoError(t, d.WriteBlock(2, src))

	dst := make([]byte, 16)
	require.NoError(t, d.ReadBlock(2, dst))
	require.Equal(t, src, dst)
}
