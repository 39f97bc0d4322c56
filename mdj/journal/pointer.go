package journal

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/metafs/metafs/mdj/objectstore"
	"github.com/metafs/metafs/mdj/util"
)

// Pointer is the small per-rank record naming the rank's current journal
// inode. Front is the live journal; Back is non-zero mid-rewrite when the
// previous journal has not been deleted yet.
type Pointer struct {
	Front uint64
	Back  uint64
}

func (p *Pointer) Encode() []byte {
	payload := make([]byte, 16)
	util.Uint64toBytes(payload[0:8], p.Front)
	util.Uint64toBytes(payload[8:16], p.Back)

	out := make([]byte, 0, 6+len(payload))
	out = append(out, headerVersion, headerCompat)
	out = appendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

func DecodePointer(b []byte) (*Pointer, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("journal pointer too short: %d bytes", len(b))
	}
	length := util.BytesToUint32(b[2:6])
	body := b[6:]
	if uint32(len(body)) < length || length < 16 {
		return nil, fmt.Errorf("journal pointer envelope declares %d bytes, %d available", length, len(body))
	}
	return &Pointer{
		Front: util.BytesToUint64(body[0:8]),
		Back:  util.BytesToUint64(body[8:16]),
	}, nil
}

// LoadPointer fetches the rank's journal pointer. A missing pointer object is
// tolerated: the journal of a rank that never rewrote its log lives at the
// well-known inode, so fall back to that rather than refusing to operate.
func LoadPointer(store objectstore.Store, rank int) (*Pointer, error) {
	object := ObjectName(PointerIno(rank), 0)
	data, err := store.Read(object, 0, 0)
	if err != nil {
		if objectstore.IsNotFound(err) {
			glog.Warningf("journal pointer %s missing, assuming inode 0x%x", object, LogIno(rank))
			return &Pointer{Front: LogIno(rank)}, nil
		}
		return nil, fmt.Errorf("read journal pointer %s: %v", object, err)
	}
	p, err := DecodePointer(data)
	if err != nil {
		return nil, fmt.Errorf("decode journal pointer %s: %v", object, err)
	}
	return p, nil
}

// SavePointer persists the rank's journal pointer.
func SavePointer(store objectstore.Store, rank int, p *Pointer) error {
	return store.WriteFull(ObjectName(PointerIno(rank), 0), p.Encode())
}
