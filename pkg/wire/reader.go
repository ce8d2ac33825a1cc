// Package wire implements the little-endian primitives the HCI codec is
// built on: fixed-width unsigned integers, length-prefixed sequences, and
// bitfield pack/unpack helpers.
package wire

import "errors"

// ErrInsufficientBytes is returned by every read that would need to consume
// more bytes than remain. The cursor is left unchanged on failure.
var ErrInsufficientBytes = errors.New("wire: insufficient bytes")

// Reader is a little-endian cursor over a byte slice.
type Reader struct {
	b []byte
}

// NewReader wraps b for reading. The returned Reader does not copy b.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Len reports the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.b)
}

// Rest returns the unread remainder without advancing the cursor.
func (r *Reader) Rest() []byte {
	return r.b
}

// ReadU8 reads one byte.
func (r *Reader) ReadU8() (uint8, error) {
	if len(r.b) < 1 {
		return 0, ErrInsufficientBytes
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v, nil
}

// ReadU16 reads a 2-byte little-endian unsigned integer.
func (r *Reader) ReadU16() (uint16, error) {
	v, err := r.readUintN(2)
	return uint16(v), err
}

// ReadU24 reads a 3-byte little-endian unsigned integer, zero-extended into
// a uint32 carrier.
func (r *Reader) ReadU24() (uint32, error) {
	return r.readUintN(3)
}

// ReadU32 reads a 4-byte little-endian unsigned integer.
func (r *Reader) ReadU32() (uint32, error) {
	return r.readUintN(4)
}

func (r *Reader) readUintN(n int) (uint32, error) {
	if len(r.b) < n {
		return 0, ErrInsufficientBytes
	}
	var v uint32
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint32(r.b[i])
	}
	r.b = r.b[n:]
	return v, nil
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if len(r.b) < n {
		return nil, ErrInsufficientBytes
	}
	v := make([]byte, n)
	copy(v, r.b[:n])
	r.b = r.b[n:]
	return v, nil
}

// ReadLenPrefixed reads a single-byte count followed by that many bytes.
func (r *Reader) ReadLenPrefixed() ([]byte, error) {
	if len(r.b) < 1 || len(r.b) < 1+int(r.b[0]) {
		return nil, ErrInsufficientBytes
	}
	n, _ := r.ReadU8()
	return r.ReadBytes(int(n))
}

// ReadSlice reads a single-byte count followed by that many elements parsed
// by elem. Any element failure aborts the whole sequence, leaving the
// cursor wherever the failing element stopped reading (no rewind, matching
// the "recoverable at the packet boundary, not byte-exact mid element"
// failure model of the codec layer above this one).
func ReadSlice[T any](r *Reader, elem func(*Reader) (T, error)) ([]T, error) {
	n, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := 0; i < int(n); i++ {
		v, err := elem(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// BitField is one (value, width) entry for Pack/Unpack, width in bits.
type BitField struct {
	Value uint32
	Width uint
}

// UnpackU16 splits v into fields of the given bit widths, taken from the
// least-significant bits upward, in the order the widths are given.
func UnpackU16(v uint16, widths ...uint) []uint16 {
	out := make([]uint16, len(widths))
	var shift uint
	for i, w := range widths {
		mask := uint16(1)<<w - 1
		out[i] = (v >> shift) & mask
		shift += w
	}
	return out
}

// PackU16 packs fields least-significant first into a uint16. It panics if
// any value does not fit its declared width.
func PackU16(fields ...BitField) uint16 {
	var v uint16
	var shift uint
	for _, f := range fields {
		mask := uint32(1)<<f.Width - 1
		if f.Value > mask {
			panic("wire: value does not fit field width")
		}
		v |= uint16(f.Value&mask) << shift
		shift += f.Width
	}
	return v
}
