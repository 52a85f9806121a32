package bcache

// Device is the raw block device behind the cache. Both calls move exactly
// one block of the device's block size and are expected to be synchronous.
type Device interface {
	ReadBlock(blockID int64, dst []byte) error
	WriteBlock(blockID int64, src []byte) error
}

type BlockCache interface {
	Read(blockID int64, dst []byte) error
	Write(blockID int64, src []byte) error
	Sync() error
	Flush()
	TableSize() int
}
