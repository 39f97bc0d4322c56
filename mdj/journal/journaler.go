package journal

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/metafs/metafs/mdj/objectstore"
)

// Journaler recovers a journal's live region and exposes striped range I/O
// on it. Unlike the scanner it requires a sane header: it is the read/write
// path used by export and import, not a damage detector.
type Journaler struct {
	store objectstore.Store
	ino   uint64

	header   *Header
	readPos  uint64
	writePos uint64
	striper  *Striper
}

func NewJournaler(store objectstore.Store, ino uint64) *Journaler {
	return &Journaler{store: store, ino: ino}
}

// Recover reads the header and probes past its write_pos for the true end of
// written data, yielding a validated read position (the expire_pos) and write
// position. The probe guards against a header that lags the actual tail,
// which happens when a server died between flushing data and flushing the
// header.
func (j *Journaler) Recover() error {
	headerObject := ObjectName(j.ino, 0)
	data, err := j.store.Read(headerObject, 0, 0)
	if err != nil {
		return fmt.Errorf("read journal header %s: %v", headerObject, err)
	}
	h, err := DecodeHeader(data)
	if err != nil {
		return fmt.Errorf("decode journal header %s: %v", headerObject, err)
	}
	if err := h.Validate(); err != nil {
		return fmt.Errorf("journal header %s: %v", headerObject, err)
	}

	layout := h.Layout
	if layout.IsZero() || layout.ObjectSize == 0 {
		layout = DefaultLayout(layout.PoolID)
	}
	striper, err := NewStriper(j.store, j.ino, layout)
	if err != nil {
		return err
	}

	j.header = h
	j.striper = striper
	j.readPos = h.ExpirePos
	j.writePos = h.WritePos

	// Probe forward from the header's idea of the tail.
	objectSize := uint64(layout.ObjectSize)
	segment := h.WritePos / objectSize
	for {
		size, err := j.store.Stat(ObjectName(j.ino, segment))
		if err != nil {
			if objectstore.IsNotFound(err) {
				break
			}
			return fmt.Errorf("probe %s: %v", ObjectName(j.ino, segment), err)
		}
		end := segment*objectSize + size
		if end > j.writePos {
			glog.V(1).Infof("journal data extends past header write_pos 0x%x, using 0x%x", j.writePos, end)
			j.writePos = end
		}
		segment++
	}

	glog.V(1).Infof("recovered journal 0x%x: read_pos 0x%x write_pos 0x%x", j.ino, j.readPos, j.writePos)
	return nil
}

func (j *Journaler) Header() *Header    { return j.header }
func (j *Journaler) ReadPos() uint64    { return j.readPos }
func (j *Journaler) WritePos() uint64   { return j.writePos }
func (j *Journaler) Layout() FileLayout { return j.striper.layout }

func (j *Journaler) ReadRange(offset, length uint64) ([]byte, error) {
	return j.striper.ReadRange(offset, length)
}

func (j *Journaler) WriteRange(offset uint64, data []byte) error {
	return j.striper.WriteRange(offset, data)
}
