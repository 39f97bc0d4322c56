package journal

import (
	"bytes"
	"fmt"

	"github.com/golang/glog"

	"github.com/metafs/metafs/mdj/events"
	"github.com/metafs/metafs/mdj/objectstore"
	"github.com/metafs/metafs/mdj/util"
)

// RangeEndOpen as a range end means the gap ran to the end of the journal.
const RangeEndOpen = ^uint64(0)

// Range is a half-open span of journal bytes for which no valid frame could
// be parsed.
type Range struct {
	Start uint64
	End   uint64
}

// EventPredicate decides whether a decoded event is kept in the scan result.
// Rejected events are discarded but their offsets still count as valid.
type EventPredicate func(offset uint64, ev events.LogEvent) bool

// Scanner is a sequential reader for metadata journals. Unlike the server's
// journaler it is written to detect, record, and read past corruption and
// missing objects. Damage is a finding, not an error: Scan fails only when
// the object store itself is unreachable or the pool cannot be resolved.
type Scanner struct {
	rank   int
	poolID int64

	cluster objectstore.Cluster
	// DefaultObjectSize substitutes for an absent or zero layout object
	// size. Zero means the built-in default.
	DefaultObjectSize uint32
	// Filter, when set, is consulted before keeping each decoded event.
	Filter EventPredicate

	// Scan results.
	HeaderPresent  bool
	HeaderValid    bool
	Header         *Header
	ObjectsValid   []string
	ObjectsMissing []uint64
	Events         map[uint64]events.LogEvent
	EventsValid    []uint64
	RangesInvalid  []Range

	// Walker state.
	ino        uint64
	objectSize uint64
	readOffset uint64
	buf        []byte
	bufBase    uint64
	gap        bool
	gapStart   uint64
}

func NewScanner(rank int, poolID int64, cluster objectstore.Cluster) *Scanner {
	return &Scanner{
		rank:    rank,
		poolID:  poolID,
		cluster: cluster,
		Events:  make(map[uint64]events.LogEvent),
	}
}

// IsHealthy reports whether the scan found an intact journal: header present
// and valid, no missing objects, no unparseable ranges.
func (s *Scanner) IsHealthy() bool {
	return s.HeaderPresent && s.HeaderValid &&
		len(s.ObjectsMissing) == 0 && len(s.RangesInvalid) == 0
}

// Scan reads the header and walks the journal space sequentially. The error
// return covers only an unreachable store or unresolvable pool; everything
// wrong with the journal itself lands in the result fields.
func (s *Scanner) Scan() error {
	glog.V(2).Infof("scan: connecting to object store")
	if err := s.cluster.Connect(); err != nil {
		return fmt.Errorf("object store unavailable: %v", err)
	}

	glog.V(2).Infof("scan: resolving pool %d", s.poolID)
	poolName, err := s.cluster.PoolReverseLookup(s.poolID)
	if err != nil {
		return fmt.Errorf("resolve pool %d: %v", s.poolID, err)
	}
	store, err := s.cluster.OpenPool(poolName)
	if err != nil {
		return fmt.Errorf("open pool %s: %v", poolName, err)
	}

	executor := objectstore.NewExecutor()
	defer executor.Close()
	store = objectstore.Serialize(store, executor)

	s.ino = LogIno(s.rank)
	s.scanHeader(store)
	if !s.HeaderValid {
		return nil
	}
	s.scanEvents(store)
	return nil
}

func (s *Scanner) scanHeader(store objectstore.Store) {
	headerObject := ObjectName(s.ino, 0)
	glog.V(2).Infof("scan: reading header object %s", headerObject)

	data, err := store.Read(headerObject, 0, 0)
	if err != nil {
		glog.Errorf("Header %s is unreadable: %v", headerObject, err)
		return
	}
	s.HeaderPresent = true

	h, err := DecodeHeader(data)
	if err != nil {
		glog.Errorf("Header is corrupt: %v", err)
		return
	}
	s.Header = h
	if err := h.Validate(); err != nil {
		glog.Errorf("Header is corrupt: %v", err)
		return
	}
	s.HeaderValid = true
}

func (s *Scanner) scanEvents(store objectstore.Store) {
	h := s.Header

	s.objectSize = uint64(h.Layout.ObjectSize)
	if s.objectSize == 0 {
		if s.DefaultObjectSize != 0 {
			s.objectSize = uint64(s.DefaultObjectSize)
		} else {
			s.objectSize = uint64(DefaultObjectSize)
		}
	}

	glog.V(3).Infof("Header 0x%x 0x%x 0x%x", h.TrimmedPos, h.ExpirePos, h.WritePos)
	if h.ExpirePos == h.WritePos {
		glog.V(1).Infof("journal is empty, nothing to scan")
		return
	}

	s.readOffset = h.ExpirePos
	glog.V(2).Infof("Starting journal scan from offset 0x%x", s.readOffset)

	startSegment := h.ExpirePos / s.objectSize
	endSegment := (h.WritePos - 1) / s.objectSize

	for segment := startSegment; segment <= endSegment; segment++ {
		name := ObjectName(s.ino, segment)

		inObject := uint64(0)
		if segment == startSegment {
			inObject = h.ExpirePos % s.objectSize
		}
		data, err := store.Read(name, inObject, 0)
		if err != nil {
			glog.Errorf("Missing object %s: %v", name, err)
			s.ObjectsMissing = append(s.ObjectsMissing, segment)
			if !s.gap {
				s.gap = true
				s.gapStart = s.readOffset
			}
			// Bytes before the hole cannot complete a frame any more.
			s.buf = nil
			s.bufBase = (segment + 1) * s.objectSize
			continue
		}
		s.ObjectsValid = append(s.ObjectsValid, name)

		if len(s.buf) == 0 {
			s.bufBase = segment*s.objectSize + inObject
		}
		s.buf = append(s.buf, data...)

		s.consume()
	}

	if s.gap {
		// Ended inside a gap, assume it ran to the end.
		s.RangesInvalid = append(s.RangesInvalid, Range{Start: s.gapStart, End: RangeEndOpen})
	}

	glog.V(1).Infof("Scanned objects, %d missing, %d valid", len(s.ObjectsMissing), len(s.ObjectsValid))
	glog.V(1).Infof("Events scanned, %d gaps", len(s.RangesInvalid))
	glog.V(1).Infof("Found %d valid events", len(s.EventsValid))
}

// consume parses as much of the buffered bytes as possible, alternating
// between frame decoding and sentinel search until more data is needed.
func (s *Scanner) consume() {
	for {
		if s.gap {
			if !s.searchSentinel() {
				return
			}
			continue
		}
		if !s.decodeFrame() {
			return
		}
	}
}

// decodeFrame attempts to parse one frame at the head of the buffer. It
// returns false when more data is needed; on framing damage it switches to
// gap mode and returns true so the caller re-enters the sentinel search.
func (s *Scanner) decodeFrame() bool {
	if len(s.buf) < SentinelSize+EntrySizeSize {
		return false
	}
	sentinel := util.BytesToUint64(s.buf)
	entrySize := util.BytesToUint32(s.buf[SentinelSize:])

	if sentinel != Sentinel {
		glog.V(1).Infof("Invalid sentinel at 0x%x", s.readOffset)
		s.gap = true
		s.gapStart = s.readOffset
		return true
	}

	total := uint64(FrameOverhead) + uint64(entrySize)
	if uint64(len(s.buf)) < total {
		return false
	}

	payload := s.buf[SentinelSize+EntrySizeSize : SentinelSize+EntrySizeSize+int(entrySize)]
	startPtr := util.BytesToUint64(s.buf[SentinelSize+EntrySizeSize+int(entrySize):])

	if startPtr != s.readOffset {
		glog.V(1).Infof("Bad start_ptr 0x%x for frame at 0x%x", startPtr, s.readOffset)
		s.enterGapSkipOne()
		return true
	}

	ev, err := events.Decode(payload)
	if err != nil {
		glog.V(1).Infof("Invalid entry at 0x%x: %v", s.readOffset, err)
		s.enterGapSkipOne()
		return true
	}

	glog.V(3).Infof("Valid entry at 0x%x", s.readOffset)
	if s.accept(s.readOffset, ev) {
		s.Events[s.readOffset] = ev
	}
	s.EventsValid = append(s.EventsValid, s.readOffset)

	s.buf = s.buf[total:]
	s.bufBase += total
	s.readOffset += total
	return true
}

// enterGapSkipOne records the damaged frame's offset as the gap start and
// advances one byte, so the next sentinel search cannot reselect the same
// bad frame.
func (s *Scanner) enterGapSkipOne() {
	s.gap = true
	s.gapStart = s.readOffset
	s.readOffset++
	s.buf = s.buf[1:]
	s.bufBase++
}

var sentinelBytes = func() []byte {
	b := make([]byte, 8)
	util.Uint64toBytes(b, Sentinel)
	return b
}()

// searchSentinel scans the buffer for the next plausible frame start. A
// candidate only ends the gap once its trailing start_ptr points back at the
// sentinel's own offset. Returns false when more data is needed.
func (s *Scanner) searchSentinel() bool {
	for {
		idx := bytes.Index(s.buf, sentinelBytes)
		if idx < 0 {
			// Keep a sentinel's worth of tail in case one straddles
			// the segment boundary.
			if len(s.buf) > SentinelSize-1 {
				cut := len(s.buf) - (SentinelSize - 1)
				s.buf = s.buf[cut:]
				s.bufBase += uint64(cut)
			}
			return false
		}
		s.buf = s.buf[idx:]
		s.bufBase += uint64(idx)

		if len(s.buf) < SentinelSize+EntrySizeSize {
			return false
		}
		entrySize := util.BytesToUint32(s.buf[SentinelSize:])
		total := uint64(FrameOverhead) + uint64(entrySize)

		if s.Header != nil && s.bufBase+total > s.Header.WritePos {
			// Frame would run past the journal; not a real frame.
			s.skipCandidate()
			continue
		}
		if uint64(len(s.buf)) < total {
			return false
		}

		startPtr := util.BytesToUint64(s.buf[SentinelSize+EntrySizeSize+int(entrySize):])
		if startPtr != s.bufBase {
			glog.V(2).Infof("Sentinel candidate at 0x%x rejected, start_ptr 0x%x", s.bufBase, startPtr)
			s.skipCandidate()
			continue
		}

		glog.V(1).Infof("Sentinel at 0x%x ends gap from 0x%x", s.bufBase, s.gapStart)
		s.RangesInvalid = append(s.RangesInvalid, Range{Start: s.gapStart, End: s.bufBase})
		s.readOffset = s.bufBase
		s.gap = false
		return true
	}
}

func (s *Scanner) skipCandidate() {
	s.buf = s.buf[1:]
	s.bufBase++
}

func (s *Scanner) accept(offset uint64, ev events.LogEvent) bool {
	if s.Filter == nil {
		return true
	}
	return s.Filter(offset, ev)
}
