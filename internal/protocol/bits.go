package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Bits is a bit sequence stored least-significant-bit first within each
// byte, which is how LIFX lays little-endian integers and sub-byte fields
// onto the wire.
type Bits struct {
	data []byte
	n    int
}

// BitsFromBytes wraps b as a bit sequence of len(b)*8 bits. The slice is copied.
func BitsFromBytes(b []byte) Bits {
	data := make([]byte, len(b))
	copy(data, b)
	return Bits{data: data, n: len(b) * 8}
}

// BitsFromHex decodes a hex string into a bit sequence.
func BitsFromHex(s string) (Bits, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Bits{}, &BadConversion{Reason: "invalid hex data", Err: err}
	}
	return Bits{data: raw, n: len(raw) * 8}, nil
}

// Len returns the number of bits.
func (b Bits) Len() int {
	return b.n
}

// Bit reports the value of bit i.
func (b Bits) Bit(i int) bool {
	return b.data[i/8]&(1<<(uint(i)%8)) != 0
}

// AppendBit appends a single bit.
func (b *Bits) AppendBit(v bool) {
	if b.n%8 == 0 {
		b.data = append(b.data, 0)
	}
	if v {
		b.data[b.n/8] |= 1 << (uint(b.n) % 8)
	}
	b.n++
}

// AppendUint appends the low width bits of v, least significant first.
func (b *Bits) AppendUint(v uint64, width int) {
	if b.n%8 == 0 && width%8 == 0 {
		for i := 0; i < width/8; i++ {
			if i < 8 {
				b.data = append(b.data, byte(v>>(8*uint(i))))
			} else {
				b.data = append(b.data, 0)
			}
		}
		b.n += width
		return
	}
	for i := 0; i < width; i++ {
		b.AppendBit(i < 64 && v&(1<<uint(i)) != 0)
	}
}

// AppendBytes appends every bit of raw.
func (b *Bits) AppendBytes(raw []byte) {
	if b.n%8 == 0 {
		b.data = append(b.data, raw...)
		b.n += len(raw) * 8
		return
	}
	for _, c := range raw {
		b.AppendUint(uint64(c), 8)
	}
}

// AppendBits appends another bit sequence.
func (b *Bits) AppendBits(o Bits) {
	if o.n%8 == 0 {
		b.AppendBytes(o.data[:o.n/8])
		return
	}
	for i := 0; i < o.n; i++ {
		b.AppendBit(o.Bit(i))
	}
}

// Slice returns bits [from, to) as a new sequence.
func (b Bits) Slice(from, to int) Bits {
	if from%8 == 0 && to%8 == 0 {
		return BitsFromBytes(b.data[from/8 : to/8])
	}
	var out Bits
	for i := from; i < to; i++ {
		out.AppendBit(b.Bit(i))
	}
	return out
}

// Uint reads width bits starting at from as an unsigned integer.
// Widths above 64 bits are truncated to the low 64.
func (b Bits) Uint(from, width int) uint64 {
	var v uint64
	for i := 0; i < width && i < 64; i++ {
		if b.Bit(from + i) {
			v |= 1 << uint(i)
		}
	}
	return v
}

// Bytes returns the sequence as bytes, zero padding the final byte.
func (b Bits) Bytes() []byte {
	out := make([]byte, (b.n+7)/8)
	copy(out, b.data)
	if rem := b.n % 8; rem != 0 {
		out[len(out)-1] &= byte(1<<uint(rem)) - 1
	}
	return out
}

// String renders the bits as 0/1 characters in wire order.
func (b Bits) String() string {
	var sb strings.Builder
	for i := 0; i < b.n; i++ {
		if b.Bit(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// toBits converts the accepted raw data forms (bytes, hex string, Bits)
// into a bit sequence.
func toBits(data any) (Bits, error) {
	switch v := data.(type) {
	case Bits:
		return v, nil
	case *Bits:
		return *v, nil
	case []byte:
		return BitsFromBytes(v), nil
	case string:
		return BitsFromHex(v)
	default:
		return Bits{}, &BadConversion{Reason: fmt.Sprintf("cannot get bits from %T", data)}
	}
}
