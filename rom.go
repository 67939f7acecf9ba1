package spritepal

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/zeebo/blake3"
)

// ErrOutOfRange is returned when an offset or window lies outside the
// ROM payload. Requests are never silently clamped.
var ErrOutOfRange = errors.New("spritepal: offset out of range")

// copierHeader is the size of the optional copier header prefix. ROM
// payloads are always a multiple of 1 KiB, so a file that is 512 bytes
// over is carrying a header, which all offset arithmetic skips.
const copierHeader = 512

// ROM is an immutable cartridge image. All core components borrow its
// bytes read-only; nothing ever copies the full image.
type ROM struct {
	data   []byte
	path   string
	header int64

	hashOnce sync.Once
	hash     string
}

// LoadROM reads a cartridge image from disk. I/O failures are fatal to
// the caller's request.
func LoadROM(path string) (*ROM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := NewROM(data)
	r.path = path
	return r, nil
}

// NewROM wraps an in-memory cartridge image. The caller must not modify
// data afterwards.
func NewROM(data []byte) *ROM {
	var header int64
	if len(data)%1024 == copierHeader {
		header = copierHeader
	}
	return &ROM{data: data, header: header}
}

// Path returns the file the ROM was loaded from, if any.
func (r *ROM) Path() string {
	return r.path
}

// Size returns the payload size in bytes, excluding any copier header.
func (r *ROM) Size() int64 {
	return int64(len(r.data)) - r.header
}

// HeaderOffset returns the detected copier header size, 0 or 512.
func (r *ROM) HeaderOffset() int64 {
	return r.header
}

// ContentHash returns the hex BLAKE3 digest of the full file contents,
// header included. It is computed once and memoized.
func (r *ROM) ContentHash() string {
	r.hashOnce.Do(func() {
		sum := blake3.Sum256(r.data)
		r.hash = fmt.Sprintf("%x", sum)
	})
	return r.hash
}

// Window returns a read-only view of length bytes at offset, both
// relative to the payload. Out-of-bounds requests fail with
// ErrOutOfRange.
func (r *ROM) Window(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > r.Size() {
		return nil, fmt.Errorf("%w: [%#x, %#x) in %#x-byte ROM", ErrOutOfRange, offset, offset+length, r.Size())
	}
	return r.data[r.header+offset : r.header+offset+length : r.header+offset+length], nil
}

// From returns the payload suffix starting at offset.
func (r *ROM) From(offset int64) ([]byte, error) {
	if offset < 0 || offset >= r.Size() {
		return nil, fmt.Errorf("%w: %#x in %#x-byte ROM", ErrOutOfRange, offset, r.Size())
	}
	return r.data[r.header+offset:], nil
}

// payload is the full header-stripped image.
func (r *ROM) payload() []byte {
	return r.data[r.header:]
}
