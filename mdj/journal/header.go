package journal

import (
	"fmt"

	"github.com/metafs/metafs/mdj/util"
)

const (
	// OnDiskMagic tags every journal header written by a metadata server.
	OnDiskMagic = "metafs ondisk v001"

	// Sentinel marks the start of every framed event in the journal stream.
	Sentinel = uint64(0xFEEDFACEDEADBEEF)

	// Frame overhead around an event payload: sentinel + entry size in
	// front, start pointer behind.
	SentinelSize  = 8
	EntrySizeSize = 4
	StartPtrSize  = 8
	FrameOverhead = SentinelSize + EntrySizeSize + StartPtrSize

	headerVersion = uint8(1)
	headerCompat  = uint8(1)
)

// Header is the bookkeeping record in the journal's segment-0 object.
// Offsets always satisfy TrimmedPos <= ExpirePos <= WritePos on a sane
// journal; replay starts at ExpirePos and stops at WritePos.
type Header struct {
	Magic      string
	TrimmedPos uint64
	ExpirePos  uint64
	WritePos   uint64
	Layout     FileLayout
}

// Encode serializes the header in its little-endian versioned envelope:
// version u8, compat u8, payload length u32, then the payload fields.
func (h *Header) Encode() []byte {
	payload := make([]byte, 0, 64)
	payload = appendString(payload, h.Magic)
	payload = appendUint64(payload, h.TrimmedPos)
	payload = appendUint64(payload, h.ExpirePos)
	payload = appendUint64(payload, h.WritePos)
	payload = appendUint32(payload, h.Layout.StripeUnit)
	payload = appendUint32(payload, h.Layout.StripeCount)
	payload = appendUint32(payload, h.Layout.ObjectSize)
	payload = appendUint32(payload, h.Layout.PoolID)

	out := make([]byte, 0, 6+len(payload))
	out = append(out, headerVersion, headerCompat)
	out = appendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return out
}

// DecodeHeader parses a header object payload. It only checks framing; use
// Validate for the semantic checks.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("header too short: %d bytes", len(b))
	}
	version := b[0]
	if version > headerVersion {
		return nil, fmt.Errorf("unsupported header version %d", version)
	}
	length := util.BytesToUint32(b[2:6])
	body := b[6:]
	if uint32(len(body)) < length {
		return nil, fmt.Errorf("header envelope declares %d bytes, %d available", length, len(body))
	}
	body = body[:length]

	h := &Header{}
	var ok bool
	if h.Magic, body, ok = takeString(body); !ok {
		return nil, fmt.Errorf("header magic truncated")
	}
	if h.TrimmedPos, body, ok = takeUint64(body); !ok {
		return nil, fmt.Errorf("header trimmed_pos truncated")
	}
	if h.ExpirePos, body, ok = takeUint64(body); !ok {
		return nil, fmt.Errorf("header expire_pos truncated")
	}
	if h.WritePos, body, ok = takeUint64(body); !ok {
		return nil, fmt.Errorf("header write_pos truncated")
	}
	if h.Layout.StripeUnit, body, ok = takeUint32(body); !ok {
		return nil, fmt.Errorf("header layout truncated")
	}
	if h.Layout.StripeCount, body, ok = takeUint32(body); !ok {
		return nil, fmt.Errorf("header layout truncated")
	}
	if h.Layout.ObjectSize, body, ok = takeUint32(body); !ok {
		return nil, fmt.Errorf("header layout truncated")
	}
	if h.Layout.PoolID, _, ok = takeUint32(body); !ok {
		return nil, fmt.Errorf("header layout truncated")
	}
	return h, nil
}

// Validate checks magic and offset ordering. A header failing this is corrupt
// and must not drive an event walk.
func (h *Header) Validate() error {
	if h.Magic != OnDiskMagic {
		return fmt.Errorf("bad magic %q", h.Magic)
	}
	if h.TrimmedPos > h.ExpirePos {
		return fmt.Errorf("inconsistent offsets: trimmed_pos 0x%x > expire_pos 0x%x", h.TrimmedPos, h.ExpirePos)
	}
	if h.ExpirePos > h.WritePos {
		return fmt.Errorf("inconsistent offsets: expire_pos 0x%x > write_pos 0x%x", h.ExpirePos, h.WritePos)
	}
	return nil
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	util.Uint32toBytes(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	util.Uint64toBytes(buf[:], v)
	return append(b, buf[:]...)
}

func appendString(b []byte, s string) []byte {
	b = appendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func takeUint32(b []byte) (uint32, []byte, bool) {
	if len(b) < 4 {
		return 0, b, false
	}
	return util.BytesToUint32(b), b[4:], true
}

func takeUint64(b []byte) (uint64, []byte, bool) {
	if len(b) < 8 {
		return 0, b, false
	}
	return util.BytesToUint64(b), b[8:], true
}

func takeString(b []byte) (string, []byte, bool) {
	n, rest, ok := takeUint32(b)
	if !ok || len(rest) < int(n) {
		return "", b, false
	}
	return string(rest[:n]), rest[n:], true
}
