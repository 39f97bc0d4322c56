package journal

import (
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"

	"github.com/metafs/metafs/mdj/objectstore"
)

const (
	// PreambleSize is the fixed width of the human-readable header at the
	// start of a dump file. The payload follows at its original journal
	// offset, leaving a sparse hole in between.
	PreambleSize = 200

	// preambleEOT terminates the readable part of the preamble.
	preambleEOT = byte(0x04)

	// UndumpChunkSize bounds each striped write during import, one in
	// flight at a time.
	UndumpChunkSize = 1024 * 1024
)

// Dumper round-trips the live journal region between the object store and a
// local sparse file, for offline surgery on a damaged journal. It is a repair
// tool: the owning metadata server must be stopped first.
type Dumper struct {
	rank   int
	poolID int64

	cluster  objectstore.Cluster
	store    objectstore.Store
	executor *objectstore.Executor
	ino      uint64
}

func NewDumper(rank int, poolID int64, cluster objectstore.Cluster) *Dumper {
	return &Dumper{rank: rank, poolID: poolID, cluster: cluster}
}

// Init connects to the store and resolves the rank's current journal inode
// through its journal pointer.
func (d *Dumper) Init() error {
	if err := d.cluster.Connect(); err != nil {
		return fmt.Errorf("object store unavailable: %v", err)
	}
	poolName, err := d.cluster.PoolReverseLookup(d.poolID)
	if err != nil {
		return fmt.Errorf("resolve pool %d: %v", d.poolID, err)
	}
	store, err := d.cluster.OpenPool(poolName)
	if err != nil {
		return fmt.Errorf("open pool %s: %v", poolName, err)
	}

	d.executor = objectstore.NewExecutor()
	d.store = objectstore.Serialize(store, d.executor)

	pointer, err := LoadPointer(d.store, d.rank)
	if err != nil {
		return fmt.Errorf("load journal pointer for rank %d: %v", d.rank, err)
	}
	d.ino = pointer.Front
	glog.V(1).Infof("rank %d journal is inode 0x%x", d.rank, d.ino)
	return nil
}

// Close releases the store executor. The Dumper is unusable afterwards.
func (d *Dumper) Close() {
	if d.executor != nil {
		d.executor.Close()
	}
}

// Dump exports the live journal region [expire_pos, write_pos) to path as a
// sparse file: a fixed preamble at offset 0, then the payload written at its
// original journal offset.
func (d *Dumper) Dump(path string) error {
	journaler := NewJournaler(d.store, d.ino)
	if err := journaler.Recover(); err != nil {
		return fmt.Errorf("recover journal: %v", err)
	}

	start := journaler.ReadPos()
	length := journaler.WritePos() - start
	fmt.Printf("journal is %d~%d\n", start, length)

	data, err := journaler.ReadRange(start, length)
	if err != nil {
		return fmt.Errorf("read journal %d~%d: %v", start, length, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %v", path, err)
	}
	defer f.Close()

	if _, err := f.Write(buildPreamble(d.rank, start, length)); err != nil {
		return fmt.Errorf("write preamble: %v", err)
	}
	if _, err := f.WriteAt(data, int64(start)); err != nil {
		return fmt.Errorf("write payload: %v", err)
	}

	fmt.Printf("wrote %d bytes at offset %d to %s\n", len(data), start, path)
	fmt.Printf("NOTE: this is a _sparse_ file; you can\n\t$ tar cSzf %s.tgz %s\n      to efficiently compress it while preserving sparseness.\n", path, path)
	return nil
}

// Undump restores a journal from a dump file: a fresh header goes to the
// segment-0 object, then the payload streams back in bounded chunks.
func (d *Dumper) Undump(path string) error {
	fmt.Printf("undump %s\n", path)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %v", path, err)
	}
	defer f.Close()

	preamble := make([]byte, PreambleSize)
	if _, err := f.ReadAt(preamble, 0); err != nil {
		return fmt.Errorf("read preamble: %v", err)
	}
	start, length, err := parsePreamble(preamble)
	if err != nil {
		return err
	}
	fmt.Printf("start %d len %d\n", start, length)

	header := &Header{
		Magic:      OnDiskMagic,
		TrimmedPos: start,
		ExpirePos:  start,
		WritePos:   start + length,
		Layout:     DefaultLayout(uint32(d.poolID)),
	}

	headerObject := ObjectName(d.ino, 0)
	fmt.Printf("writing header %s\n", headerObject)
	if err := d.store.WriteFull(headerObject, header.Encode()); err != nil {
		return fmt.Errorf("write header %s: %v", headerObject, err)
	}

	striper, err := NewStriper(d.store, d.ino, header.Layout)
	if err != nil {
		return err
	}

	pos := start
	left := length
	buf := make([]byte, UndumpChunkSize)
	for left > 0 {
		n := left
		if n > UndumpChunkSize {
			n = UndumpChunkSize
		}
		if _, err := f.ReadAt(buf[:n], int64(pos)); err != nil {
			return fmt.Errorf("read %s at %d: %v", path, pos, err)
		}
		fmt.Printf(" writing %d~%d\n", pos, n)
		if err := striper.WriteRange(pos, buf[:n]); err != nil {
			return err
		}
		pos += n
		left -= n
	}

	fmt.Printf("done.\n")
	return nil
}

func buildPreamble(rank int, start, length uint64) []byte {
	buf := make([]byte, PreambleSize)
	text := fmt.Sprintf("metafs mds%d journal dump\n start offset %d (0x%x)\n       length %d (0x%x)\n",
		rank, start, start, length, length)
	copy(buf, text)
	buf[len(text)] = preambleEOT
	return buf
}

// parsePreamble pulls the decimal start offset and length back out of the
// preamble text, tolerating whitespace.
func parsePreamble(preamble []byte) (start, length uint64, err error) {
	text := string(preamble)
	if i := strings.IndexByte(text, preambleEOT); i >= 0 {
		text = text[:i]
	}

	startIdx := strings.Index(text, "start offset")
	lengthIdx := strings.Index(text, "length")
	if startIdx < 0 || lengthIdx < 0 {
		return 0, 0, fmt.Errorf("not a journal dump file: preamble fields missing")
	}
	if _, err := fmt.Sscanf(text[startIdx:], "start offset %d", &start); err != nil {
		return 0, 0, fmt.Errorf("parse start offset: %v", err)
	}
	if _, err := fmt.Sscanf(text[lengthIdx:], "length %d", &length); err != nil {
		return 0, 0, fmt.Errorf("parse length: %v", err)
	}
	return start, length, nil
}
