package events

import (
	"fmt"
)

// Event type tags as stored in the first four bytes of an event payload.
// The set is open ended; tags we do not recognize decode as EUnknown.
const (
	TypeSession      = uint32(2)
	TypeSubtreeMap   = uint32(4)
	TypeResetJournal = uint32(9)
	TypeNoOp         = uint32(10)
	TypeUpdate       = uint32(20)
)

// LogEvent is one decoded metadata log event.
type LogEvent interface {
	TypeTag() uint32
	TypeName() string
	// Encode returns the event payload bytes (type tag + body), without the
	// journal framing around it.
	Encode() []byte
}

// Decode parses an event payload. A recognized tag with a malformed body is
// an error; an unrecognized tag is preserved as an EUnknown so newer events
// still round-trip.
func Decode(payload []byte) (LogEvent, error) {
	d := newDecoder(payload)
	tag := d.u32()
	if d.err != nil {
		return nil, fmt.Errorf("event payload too short for type tag: %d bytes", len(payload))
	}

	var ev LogEvent
	switch tag {
	case TypeUpdate:
		ev = decodeUpdate(d)
	case TypeSession:
		ev = decodeSession(d)
	case TypeSubtreeMap:
		ev = decodeSubtreeMap(d)
	case TypeResetJournal:
		ev = &EResetJournal{}
	case TypeNoOp:
		ev = decodeNoOp(d)
	default:
		return &EUnknown{Tag: tag, Raw: d.rest()}, nil
	}

	if d.err != nil {
		return nil, fmt.Errorf("decode %s: %v", ev.TypeName(), d.err)
	}
	if d.remaining() != 0 {
		return nil, fmt.Errorf("decode %s: %d trailing bytes", ev.TypeName(), d.remaining())
	}
	return ev, nil
}

// EUpdate records a metadata mutation under one path.
type EUpdate struct {
	Ino  uint64
	Path string
}

func (e *EUpdate) TypeTag() uint32  { return TypeUpdate }
func (e *EUpdate) TypeName() string { return "EUpdate" }

func (e *EUpdate) Encode() []byte {
	enc := newEncoder()
	enc.u32(TypeUpdate)
	enc.u64(e.Ino)
	enc.str(e.Path)
	return enc.bytes()
}

func decodeUpdate(d *decoder) LogEvent {
	e := &EUpdate{}
	e.Ino = d.u64()
	e.Path = d.str()
	return e
}

// ESession records a client session opening or closing.
type ESession struct {
	Client string
	Open   bool
}

func (e *ESession) TypeTag() uint32  { return TypeSession }
func (e *ESession) TypeName() string { return "ESession" }

func (e *ESession) Encode() []byte {
	enc := newEncoder()
	enc.u32(TypeSession)
	enc.str(e.Client)
	if e.Open {
		enc.u8(1)
	} else {
		enc.u8(0)
	}
	return enc.bytes()
}

func decodeSession(d *decoder) LogEvent {
	e := &ESession{}
	e.Client = d.str()
	e.Open = d.u8() != 0
	return e
}

// ESubtreeMap records the set of subtree roots authoritative on this rank.
type ESubtreeMap struct {
	Roots []string
}

func (e *ESubtreeMap) TypeTag() uint32  { return TypeSubtreeMap }
func (e *ESubtreeMap) TypeName() string { return "ESubtreeMap" }

func (e *ESubtreeMap) Encode() []byte {
	enc := newEncoder()
	enc.u32(TypeSubtreeMap)
	enc.u32(uint32(len(e.Roots)))
	for _, root := range e.Roots {
		enc.str(root)
	}
	return enc.bytes()
}

func decodeSubtreeMap(d *decoder) LogEvent {
	e := &ESubtreeMap{}
	n := d.u32()
	for i := uint32(0); i < n && d.err == nil; i++ {
		e.Roots = append(e.Roots, d.str())
	}
	return e
}

// EResetJournal marks the point where a journal was rebuilt from scratch.
type EResetJournal struct{}

func (e *EResetJournal) TypeTag() uint32  { return TypeResetJournal }
func (e *EResetJournal) TypeName() string { return "EResetJournal" }

func (e *EResetJournal) Encode() []byte {
	enc := newEncoder()
	enc.u32(TypeResetJournal)
	return enc.bytes()
}

// ENoOp pads the journal, typically to align a following event.
type ENoOp struct {
	PadLen uint32
}

func (e *ENoOp) TypeTag() uint32  { return TypeNoOp }
func (e *ENoOp) TypeName() string { return "ENoOp" }

func (e *ENoOp) Encode() []byte {
	enc := newEncoder()
	enc.u32(TypeNoOp)
	enc.u32(e.PadLen)
	enc.pad(int(e.PadLen))
	return enc.bytes()
}

func decodeNoOp(d *decoder) LogEvent {
	e := &ENoOp{}
	e.PadLen = d.u32()
	d.skip(int(e.PadLen))
	return e
}

// EUnknown carries an event we cannot interpret, byte for byte.
type EUnknown struct {
	Tag uint32
	Raw []byte
}

func (e *EUnknown) TypeTag() uint32  { return e.Tag }
func (e *EUnknown) TypeName() string { return "EUnknown" }

func (e *EUnknown) Encode() []byte {
	enc := newEncoder()
	enc.u32(e.Tag)
	enc.raw(e.Raw)
	return enc.bytes()
}
