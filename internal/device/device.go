// Package device provides raw block devices: the layer under the cache that
// physically moves one fixed-size block at a time.
package device

import "errors"

var (
	ErrBlockSize  = errors.New("device: buffer length does not match block size")
	ErrOutOfRange = errors.New("device: block number out of range")
	ErrInjected   = errors.New("device: injected fault")
)
