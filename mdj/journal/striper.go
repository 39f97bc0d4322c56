package journal

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/metafs/metafs/mdj/objectstore"
)

// Striper maps byte ranges of an inode's linear stream onto its segment
// objects. Only the simple layout is supported (stripe count 1, stripe unit
// equal to object size), which is the only layout metadata journals use.
type Striper struct {
	store  objectstore.Store
	ino    uint64
	layout FileLayout
}

func NewStriper(store objectstore.Store, ino uint64, layout FileLayout) (*Striper, error) {
	if layout.StripeCount > 1 || (layout.StripeUnit != 0 && layout.StripeUnit != layout.ObjectSize) {
		return nil, fmt.Errorf("unsupported striping: unit %d count %d object size %d",
			layout.StripeUnit, layout.StripeCount, layout.ObjectSize)
	}
	if layout.ObjectSize == 0 {
		layout.ObjectSize = DefaultObjectSize
	}
	return &Striper{store: store, ino: ino, layout: layout}, nil
}

// ReadRange reads [offset, offset+length) of the inode's byte stream.
// Missing objects and short objects read as zeroes, the way a sparse file
// reads through its holes.
func (s *Striper) ReadRange(offset uint64, length uint64) ([]byte, error) {
	objectSize := uint64(s.layout.ObjectSize)
	out := make([]byte, length)

	for done := uint64(0); done < length; {
		pos := offset + done
		segment := pos / objectSize
		inObject := pos % objectSize
		n := objectSize - inObject
		if n > length-done {
			n = length - done
		}

		object := ObjectName(s.ino, segment)
		data, err := s.store.Read(object, inObject, n)
		if err != nil {
			if objectstore.IsNotFound(err) {
				glog.V(2).Infof("read range: %s absent, zero filling %d bytes", object, n)
				done += n
				continue
			}
			return nil, fmt.Errorf("read %s at %d: %v", object, inObject, err)
		}
		copy(out[done:done+n], data)
		done += n
	}
	return out, nil
}

// WriteRange writes data at offset of the inode's byte stream, patching each
// touched object in turn. One write is in flight at a time.
func (s *Striper) WriteRange(offset uint64, data []byte) error {
	objectSize := uint64(s.layout.ObjectSize)

	for done := uint64(0); done < uint64(len(data)); {
		pos := offset + done
		segment := pos / objectSize
		inObject := pos % objectSize
		n := objectSize - inObject
		if n > uint64(len(data))-done {
			n = uint64(len(data)) - done
		}

		object := ObjectName(s.ino, segment)
		if err := s.writeObjectAt(object, inObject, data[done:done+n]); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// writeObjectAt patches [off, off+len(chunk)) of one object, extending it
// with zeroes if the write lands past its current end.
func (s *Striper) writeObjectAt(object string, off uint64, chunk []byte) error {
	existing, err := s.store.Read(object, 0, 0)
	if err != nil && !objectstore.IsNotFound(err) {
		return fmt.Errorf("read %s for patch: %v", object, err)
	}

	end := off + uint64(len(chunk))
	if uint64(len(existing)) < end {
		grown := make([]byte, end)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[off:end], chunk)

	if err := s.store.WriteFull(object, existing); err != nil {
		return fmt.Errorf("write %s: %v", object, err)
	}
	return nil
}
