/*
Package hal implements the HAL Laboratory tile-block compression format as
used by the exhal and inhal reference tools.

A compressed stream is a sequence of commands terminated by 0xFF. The top
three bits of a command byte select the method, the low five bits hold the
run length minus one. Method 7 is the long form: the real method moves to
bits 4..2 and the length grows to ten bits, allowing runs up to 1024.
Back-references address already decompressed output by absolute big-endian
position and may overlap the write position.
*/
package hal

import "errors"

const (
	// MaxOutput is the decompressed size ceiling shared with the
	// reference tools. Decoding never produces more than this, which
	// bounds the cost of probing a hostile offset.
	MaxOutput = 64 * 1024

	shortRun   = 32
	longRun    = 1024
	terminator = 0xff
)

// Compression methods.
const (
	cmdLiteral     = iota // raw bytes from the input
	cmdRLE8               // one byte repeated
	cmdRLE16              // a byte pair repeated
	cmdRLESeq             // an incrementing byte sequence
	cmdCopy               // back-reference
	cmdCopyRotate         // back-reference, bytes bit-reversed
	cmdCopyReverse        // back-reference read backwards
	cmdLong               // escape for the two-byte command form
)

var (
	// ErrInvalidOpcode is returned when a command byte does not decode
	// to any known method.
	ErrInvalidOpcode = errors.New("hal: invalid opcode")

	// ErrTruncated is returned when a command needs more input than
	// remains, or a back-reference addresses output that does not exist.
	ErrTruncated = errors.New("hal: truncated stream")

	// ErrOverflow is returned when the decoded data would exceed the
	// caller's output limit.
	ErrOverflow = errors.New("hal: output limit exceeded")

	// ErrTooLarge is returned by Encode for inputs over MaxOutput.
	ErrTooLarge = errors.New("hal: input exceeds 64 KiB")
)

// rotate mirrors the bit order of every byte value, matching the table
// used by the reference tools for method 5.
var rotate = func() (t [256]byte) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		b = b>>4 | b<<4
		b = b>>2&0x33 | b<<2&0xcc
		b = b>>1&0x55 | b<<1&0xaa
		t[i] = b
	}
	return
}()

// Decode decompresses the stream starting at src[0] and returns the
// decoded bytes along with the number of input bytes consumed, including
// the terminator. maxOut caps the decoded size; values outside (0,
// MaxOutput] are clamped to MaxOutput.
func Decode(src []byte, maxOut int) ([]byte, int, error) {
	if maxOut <= 0 || maxOut > MaxOutput {
		maxOut = MaxOutput
	}

	out := make([]byte, 0, 256)
	pos := 0

	for {
		if pos >= len(src) {
			return nil, pos, ErrTruncated
		}
		b := src[pos]
		pos++

		if b == terminator {
			return out, pos, nil
		}

		cmd := int(b >> 5)
		var n int
		if cmd == cmdLong {
			cmd = int(b>>2) & 0x07
			if cmd == cmdLong {
				return nil, pos, ErrInvalidOpcode
			}
			if pos >= len(src) {
				return nil, pos, ErrTruncated
			}
			n = int(b&0x03)<<8 | int(src[pos])
			pos++
			n++
		} else {
			n = int(b&0x1f) + 1
		}

		switch cmd {
		case cmdLiteral:
			if pos+n > len(src) {
				return nil, pos, ErrTruncated
			}
			if len(out)+n > maxOut {
				return nil, pos, ErrOverflow
			}
			out = append(out, src[pos:pos+n]...)
			pos += n

		case cmdRLE8:
			if pos >= len(src) {
				return nil, pos, ErrTruncated
			}
			if len(out)+n > maxOut {
				return nil, pos, ErrOverflow
			}
			v := src[pos]
			pos++
			for i := 0; i < n; i++ {
				out = append(out, v)
			}

		case cmdRLE16:
			if pos+2 > len(src) {
				return nil, pos, ErrTruncated
			}
			if len(out)+2*n > maxOut {
				return nil, pos, ErrOverflow
			}
			lo, hi := src[pos], src[pos+1]
			pos += 2
			for i := 0; i < n; i++ {
				out = append(out, lo, hi)
			}

		case cmdRLESeq:
			if pos >= len(src) {
				return nil, pos, ErrTruncated
			}
			if len(out)+n > maxOut {
				return nil, pos, ErrOverflow
			}
			v := src[pos]
			pos++
			for i := 0; i < n; i++ {
				out = append(out, v)
				v++
			}

		case cmdCopy, cmdCopyRotate, cmdCopyReverse:
			if pos+2 > len(src) {
				return nil, pos, ErrTruncated
			}
			ref := int(src[pos])<<8 | int(src[pos+1])
			pos += 2
			if ref >= len(out) {
				return nil, pos, ErrTruncated
			}
			if len(out)+n > maxOut {
				return nil, pos, ErrOverflow
			}
			switch cmd {
			case cmdCopy:
				// Bytewise so a reference may overlap the write
				// position, RLE-style.
				for i := 0; i < n; i++ {
					out = append(out, out[ref+i])
				}
			case cmdCopyRotate:
				for i := 0; i < n; i++ {
					out = append(out, rotate[out[ref+i]])
				}
			case cmdCopyReverse:
				if n > ref+1 {
					return nil, pos, ErrTruncated
				}
				for i := 0; i < n; i++ {
					out = append(out, out[ref-i])
				}
			}
		}
	}
}
