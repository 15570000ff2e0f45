// Package backingstore defines the narrow BlockDevice collaborator the
// recovery pipeline and depot need to read and write fixed-size physical
// blocks. The full block-layer glue (request submission, bio plumbing)
// is explicitly out of scope (spec §1); this package only specifies the
// minimal surface the core depends on, plus reference implementations
// good enough to make the depot/repair code runnable and testable.
package backingstore

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/vdo-go/depot/pkg/vdoerr"
)

// BlockDevice is the collaborator interface the slab depot and recovery
// pipeline use for all physical I/O.
type BlockDevice interface {
	ReadBlockAt(pbn uint64) ([]byte, error)
	WriteBlockAt(pbn uint64, data []byte) error
	Flush() error
	BlockSize() int
}

// File is a plain os.File-backed BlockDevice: block pbn lives at byte
// offset pbn*blockSize.
type File struct {
	f         *os.File
	blockSize int
	mu        sync.Mutex
}

// OpenFile opens (or creates) path as a File-backed block device with
// the given block size.
func OpenFile(path string, blockSize int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening backing file %s", path)
	}
	return &File{f: f, blockSize: blockSize}, nil
}

// BlockSize implements BlockDevice.
func (d *File) BlockSize() int { return d.blockSize }

// ReadBlockAt implements BlockDevice.
func (d *File) ReadBlockAt(pbn uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]byte, d.blockSize)
	_, err := d.f.ReadAt(buf, int64(pbn)*int64(d.blockSize))
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "reading block %d", pbn)
	}
	return buf, nil
}

// WriteBlockAt implements BlockDevice.
func (d *File) WriteBlockAt(pbn uint64, data []byte) error {
	if len(data) != d.blockSize {
		return errors.Wrapf(vdoerr.ErrBadConfiguration, "write of %d bytes does not match block size %d", len(data), d.blockSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.WriteAt(data, int64(pbn)*int64(d.blockSize)); err != nil {
		return errors.Wrapf(err, "writing block %d", pbn)
	}
	return nil
}

// Flush implements BlockDevice.
func (d *File) Flush() error {
	return d.f.Sync()
}

// Close releases the underlying file handle.
func (d *File) Close() error { return d.f.Close() }
