package events

import (
	"errors"

	"github.com/metafs/metafs/mdj/util"
)

var errShortBuffer = errors.New("short buffer")

// decoder reads little-endian fields sequentially, latching the first error.
type decoder struct {
	b   []byte
	off int
	err error
}

func newDecoder(b []byte) *decoder {
	return &decoder{b: b}
}

func (d *decoder) remaining() int {
	return len(d.b) - d.off
}

func (d *decoder) rest() []byte {
	out := make([]byte, d.remaining())
	copy(out, d.b[d.off:])
	d.off = len(d.b)
	return out
}

func (d *decoder) u8() uint8 {
	if d.err != nil {
		return 0
	}
	if d.remaining() < 1 {
		d.err = errShortBuffer
		return 0
	}
	v := d.b[d.off]
	d.off++
	return v
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	if d.remaining() < 4 {
		d.err = errShortBuffer
		return 0
	}
	v := util.BytesToUint32(d.b[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u64() uint64 {
	if d.err != nil {
		return 0
	}
	if d.remaining() < 8 {
		d.err = errShortBuffer
		return 0
	}
	v := util.BytesToUint64(d.b[d.off:])
	d.off += 8
	return v
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if d.remaining() < int(n) {
		d.err = errShortBuffer
		return ""
	}
	v := string(d.b[d.off : d.off+int(n)])
	d.off += int(n)
	return v
}

func (d *decoder) skip(n int) {
	if d.err != nil {
		return
	}
	if d.remaining() < n {
		d.err = errShortBuffer
		return
	}
	d.off += n
}

// encoder appends little-endian fields.
type encoder struct {
	b []byte
}

func newEncoder() *encoder {
	return &encoder{}
}

func (e *encoder) bytes() []byte {
	return e.b
}

func (e *encoder) u8(v uint8) {
	e.b = append(e.b, v)
}

func (e *encoder) u32(v uint32) {
	var buf [4]byte
	util.Uint32toBytes(buf[:], v)
	e.b = append(e.b, buf[:]...)
}

func (e *encoder) u64(v uint64) {
	var buf [8]byte
	util.Uint64toBytes(buf[:], v)
	e.b = append(e.b, buf[:]...)
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.b = append(e.b, s...)
}

func (e *encoder) raw(b []byte) {
	e.b = append(e.b, b...)
}

func (e *encoder) pad(n int) {
	e.b = append(e.b, make([]byte, n)...)
}
