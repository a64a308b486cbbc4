// Package buffer holds response payloads of unknown size: bytes accumulate
// in memory up to a limit, then overflow into an unlinked-on-Close temp
// file so a large download never pins its whole body in RAM.
package buffer

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/corehttp/corehttp/pkg/errors"
)

// DefaultLimit is the in-memory threshold used when a Buffer is built with
// a non-positive limit.
const DefaultLimit = 4 << 20

// Buffer is an append-only byte sink with disk overflow. All methods are
// safe for concurrent use.
type Buffer struct {
	mu     sync.Mutex
	limit  int64
	mem    []byte
	spill  *os.File
	size   int64
	closed bool
}

// New returns an empty Buffer that spills to disk past limit bytes.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Buffer{limit: limit}
}

// FromBytes returns a Buffer pre-loaded with data, using the default limit.
func FromBytes(data []byte) *Buffer {
	b := New(0)
	b.mem = append(b.mem, data...)
	b.size = int64(len(data))
	return b
}

// Write appends p, moving everything written so far to a temp file the
// first time the memory limit is crossed.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.NewIOError("write to closed buffer", nil)
	}

	if b.spill == nil && b.size+int64(len(p)) > b.limit {
		if err := b.spillToDisk(); err != nil {
			return 0, err
		}
	}

	if b.spill != nil {
		n, err := b.spill.Write(p)
		b.size += int64(n)
		if err != nil {
			return n, errors.NewIOError("writing spill file", err)
		}
		return n, nil
	}

	b.mem = append(b.mem, p...)
	b.size += int64(len(p))
	return len(p), nil
}

func (b *Buffer) spillToDisk() error {
	f, err := os.CreateTemp("", "corehttp-body-")
	if err != nil {
		return errors.NewIOError("creating spill file", err)
	}
	if _, err := f.Write(b.mem); err != nil {
		f.Close()
		os.Remove(f.Name())
		return errors.NewIOError("seeding spill file", err)
	}
	b.spill = f
	b.mem = nil
	return nil
}

// Size is the total number of bytes written.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Spilled reports whether the payload has overflowed to disk.
func (b *Buffer) Spilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spill != nil
}

// Bytes returns the payload while it still fits in memory; once spilled it
// returns nil and the data must be consumed through Reader or ReadAll.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spill != nil {
		return nil
	}
	return b.mem
}

// Reader returns an independent reader over the full payload, wherever it
// lives. The caller owns closing it.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.NewIOError("read from closed buffer", nil)
	}
	if b.spill == nil {
		return io.NopCloser(bytes.NewReader(b.mem)), nil
	}
	if err := b.spill.Sync(); err != nil {
		return nil, errors.NewIOError("syncing spill file", err)
	}
	f, err := os.Open(b.spill.Name())
	if err != nil {
		return nil, errors.NewIOError("reopening spill file", err)
	}
	return f, nil
}

// ReadAll drains the full payload into one slice regardless of where it is
// stored.
func (b *Buffer) ReadAll() ([]byte, error) {
	r, err := b.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Close releases the spill file, if any. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.spill == nil {
		return nil
	}
	name := b.spill.Name()
	err := b.spill.Close()
	if rmErr := os.Remove(name); rmErr != nil && err == nil {
		err = rmErr
	}
	b.spill = nil
	if err != nil {
		return errors.NewIOError("closing spill file", err)
	}
	return nil
}
