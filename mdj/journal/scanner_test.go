package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metafs/metafs/mdj/events"
	"github.com/metafs/metafs/mdj/objectstore"
	"github.com/metafs/metafs/mdj/util"
)

const testPoolID = int64(1)

func newTestCluster(t *testing.T) (*objectstore.MemoryCluster, *objectstore.MemoryStore) {
	t.Helper()
	cluster := objectstore.NewMemoryCluster()
	store := cluster.CreatePool(testPoolID, "metadata")
	return cluster, store
}

func writeHeader(t *testing.T, store *objectstore.MemoryStore, rank int, h *Header) {
	t.Helper()
	require.NoError(t, store.WriteFull(ObjectName(LogIno(rank), 0), h.Encode()))
}

func testHeader(expire, write uint64, objectSize uint32) *Header {
	return &Header{
		Magic:      OnDiskMagic,
		TrimmedPos: expire,
		ExpirePos:  expire,
		WritePos:   write,
		Layout: FileLayout{
			StripeUnit:  objectSize,
			StripeCount: 1,
			ObjectSize:  objectSize,
			PoolID:      uint32(testPoolID),
		},
	}
}

// frame wraps an event payload in the journal framing for the given offset.
func frame(offset uint64, payload []byte) []byte {
	out := make([]byte, 0, FrameOverhead+len(payload))
	var u64buf [8]byte
	var u32buf [4]byte

	util.Uint64toBytes(u64buf[:], Sentinel)
	out = append(out, u64buf[:]...)
	util.Uint32toBytes(u32buf[:], uint32(len(payload)))
	out = append(out, u32buf[:]...)
	out = append(out, payload...)
	util.Uint64toBytes(u64buf[:], offset)
	return append(out, u64buf[:]...)
}

// appendFrames lays the events out back to back from start, returning the
// byte stream and each frame's offset.
func appendFrames(start uint64, evs ...events.LogEvent) (stream []byte, offsets []uint64) {
	offset := start
	for _, ev := range evs {
		payload := ev.Encode()
		stream = append(stream, frame(offset, payload)...)
		offsets = append(offsets, offset)
		offset += uint64(FrameOverhead + len(payload))
	}
	return stream, offsets
}

// writeStream splits a byte stream starting at journal offset start into
// segment objects. Start must be object aligned.
func writeStream(t *testing.T, store *objectstore.MemoryStore, ino uint64, objectSize uint32, start uint64, stream []byte) {
	t.Helper()
	require.Zero(t, start%uint64(objectSize), "test streams must start object aligned")
	for done := uint64(0); done < uint64(len(stream)); {
		segment := (start + done) / uint64(objectSize)
		n := uint64(objectSize)
		if n > uint64(len(stream))-done {
			n = uint64(len(stream)) - done
		}
		require.NoError(t, store.WriteFull(ObjectName(ino, segment), stream[done:done+n]))
		done += n
	}
}

// noOpWithFrameSize returns an ENoOp padded so its whole frame occupies
// exactly frameSize bytes.
func noOpWithFrameSize(t *testing.T, frameSize int) *events.ENoOp {
	t.Helper()
	// frame = overhead + tag + pad_len field + padding
	pad := frameSize - FrameOverhead - 8
	require.GreaterOrEqual(t, pad, 0)
	return &events.ENoOp{PadLen: uint32(pad)}
}

func TestScanEmptyJournalIsHealthy(t *testing.T) {
	cluster, store := newTestCluster(t)
	h := testHeader(0x400000, 0x400000, DefaultObjectSize)
	writeHeader(t, store, 0, h)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	assert.True(t, scanner.HeaderPresent)
	assert.True(t, scanner.HeaderValid)
	assert.True(t, scanner.IsHealthy())
	assert.Empty(t, scanner.Events)
	assert.Empty(t, scanner.EventsValid)
	assert.Empty(t, scanner.ObjectsMissing)
	assert.Empty(t, scanner.RangesInvalid)
}

func TestScanSingleUpdateEvent(t *testing.T) {
	cluster, store := newTestCluster(t)

	update := &events.EUpdate{Ino: 0x1000, Path: "/a"}
	stream, offsets := appendFrames(0x400000, update)
	h := testHeader(0x400000, 0x400000+uint64(len(stream)), DefaultObjectSize)
	writeHeader(t, store, 0, h)
	writeStream(t, store, LogIno(0), DefaultObjectSize, 0x400000, stream)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	require.True(t, scanner.IsHealthy())
	assert.Equal(t, []string{"200.00000001"}, scanner.ObjectsValid)
	require.Equal(t, []uint64{0x400000}, scanner.EventsValid)
	require.Contains(t, scanner.Events, offsets[0])
	got, ok := scanner.Events[0x400000].(*events.EUpdate)
	require.True(t, ok)
	assert.Equal(t, "/a", got.Path)
	assert.Equal(t, uint64(0x1000), got.Ino)
}

func TestScanMissingHeader(t *testing.T) {
	cluster, _ := newTestCluster(t)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	assert.False(t, scanner.HeaderPresent)
	assert.False(t, scanner.HeaderValid)
	assert.False(t, scanner.IsHealthy())
}

func TestScanCorruptHeaderMagic(t *testing.T) {
	cluster, store := newTestCluster(t)
	h := testHeader(0x400000, 0x400040, DefaultObjectSize)
	h.Magic = "not a journal header"
	writeHeader(t, store, 0, h)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	assert.True(t, scanner.HeaderPresent)
	assert.False(t, scanner.HeaderValid)
	assert.False(t, scanner.IsHealthy())
	assert.Empty(t, scanner.Events)
	assert.Empty(t, scanner.ObjectsValid)
}

func TestScanUndecodableHeader(t *testing.T) {
	cluster, store := newTestCluster(t)
	require.NoError(t, store.WriteFull(ObjectName(LogIno(0), 0), []byte{0x01, 0x02}))

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	assert.True(t, scanner.HeaderPresent)
	assert.False(t, scanner.HeaderValid)
}

func TestScanInconsistentHeaderOffsets(t *testing.T) {
	cluster, store := newTestCluster(t)
	h := testHeader(0x400000, 0x400040, DefaultObjectSize)
	h.ExpirePos = h.WritePos + 1
	writeHeader(t, store, 0, h)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	assert.True(t, scanner.HeaderPresent)
	assert.False(t, scanner.HeaderValid)
}

func TestScanUnreachableCluster(t *testing.T) {
	cluster := objectstore.NewMemoryCluster()
	cluster.ConnectErr = assert.AnError

	scanner := NewScanner(0, testPoolID, cluster)
	assert.Error(t, scanner.Scan())
}

func TestScanUnknownPool(t *testing.T) {
	cluster := objectstore.NewMemoryCluster()

	scanner := NewScanner(0, int64(42), cluster)
	assert.Error(t, scanner.Scan())
}

func TestScanMissingMiddleSegment(t *testing.T) {
	cluster, store := newTestCluster(t)
	objectSize := uint32(64)
	ino := LogIno(0)

	// One 64-byte frame per segment, segments 1 through 4.
	evs := []events.LogEvent{
		noOpWithFrameSize(t, 64),
		noOpWithFrameSize(t, 64),
		noOpWithFrameSize(t, 64),
		noOpWithFrameSize(t, 64),
	}
	stream, offsets := appendFrames(64, evs...)
	require.Equal(t, []uint64{64, 128, 192, 256}, offsets)

	h := testHeader(64, 64+uint64(len(stream)), objectSize)
	writeHeader(t, store, 0, h)
	writeStream(t, store, ino, objectSize, 64, stream)

	// Knock out segment 2.
	store.InjectReadError(ObjectName(ino, 2), assert.AnError)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	assert.False(t, scanner.IsHealthy())
	assert.Equal(t, []uint64{2}, scanner.ObjectsMissing)
	require.Len(t, scanner.RangesInvalid, 1)
	assert.Equal(t, Range{Start: 128, End: 192}, scanner.RangesInvalid[0])
	assert.Equal(t, []uint64{64, 192, 256}, scanner.EventsValid)
	assert.NotContains(t, scanner.Events, uint64(128))
}

func TestScanEventSpanningSegmentBoundary(t *testing.T) {
	cluster, store := newTestCluster(t)
	objectSize := uint32(64)
	ino := LogIno(0)

	// A 100-byte frame starting at 64 runs into segment 2, followed by a
	// second frame crossing into segment 3.
	evs := []events.LogEvent{
		noOpWithFrameSize(t, 100),
		noOpWithFrameSize(t, 64),
	}
	stream, offsets := appendFrames(64, evs...)
	require.Equal(t, []uint64{64, 164}, offsets)

	h := testHeader(64, 64+uint64(len(stream)), objectSize)
	writeHeader(t, store, 0, h)
	writeStream(t, store, ino, objectSize, 64, stream)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	assert.True(t, scanner.IsHealthy())
	assert.Equal(t, []uint64{64, 164}, scanner.EventsValid)
}

func TestScanInvalidSentinelOpensGapToEnd(t *testing.T) {
	cluster, store := newTestCluster(t)
	objectSize := uint32(64)
	ino := LogIno(0)

	evs := []events.LogEvent{
		noOpWithFrameSize(t, 64),
		noOpWithFrameSize(t, 64),
	}
	stream, offsets := appendFrames(64, evs...)

	// Corrupt the second frame's sentinel.
	stream[64] ^= 0xff

	h := testHeader(64, 64+uint64(len(stream)), objectSize)
	writeHeader(t, store, 0, h)
	writeStream(t, store, ino, objectSize, 64, stream)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	assert.False(t, scanner.IsHealthy())
	assert.Equal(t, []uint64{offsets[0]}, scanner.EventsValid)
	require.Len(t, scanner.RangesInvalid, 1)
	assert.Equal(t, Range{Start: 128, End: RangeEndOpen}, scanner.RangesInvalid[0])
}

func TestScanRecoversAfterUndecodableEvent(t *testing.T) {
	cluster, store := newTestCluster(t)
	objectSize := uint32(256)
	ino := LogIno(0)

	// A frame whose payload claims to be an update but is cut short: valid
	// framing, undecodable event.
	badPayload := make([]byte, 12)
	util.Uint32toBytes(badPayload, events.TypeUpdate)
	badFrame := frame(256, badPayload)

	good := &events.EUpdate{Ino: 7, Path: "/b"}
	goodStart := 256 + uint64(len(badFrame))
	goodStream, _ := appendFrames(goodStart, good)

	stream := append(badFrame, goodStream...)
	h := testHeader(256, 256+uint64(len(stream)), objectSize)
	writeHeader(t, store, 0, h)
	writeStream(t, store, ino, objectSize, 256, stream)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	assert.False(t, scanner.IsHealthy())
	// The gap starts at the bad frame itself, not one past it.
	require.Len(t, scanner.RangesInvalid, 1)
	assert.Equal(t, Range{Start: 256, End: goodStart}, scanner.RangesInvalid[0])
	assert.Equal(t, []uint64{goodStart}, scanner.EventsValid)
}

func TestScanBadStartPtrOpensGap(t *testing.T) {
	cluster, store := newTestCluster(t)
	objectSize := uint32(256)
	ino := LogIno(0)

	// Frame claims it started somewhere else.
	payload := (&events.ENoOp{PadLen: 4}).Encode()
	badFrame := frame(0xdead, payload)

	h := testHeader(256, 256+uint64(len(badFrame)), objectSize)
	writeHeader(t, store, 0, h)
	writeStream(t, store, ino, objectSize, 256, badFrame)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())

	assert.False(t, scanner.IsHealthy())
	assert.Empty(t, scanner.EventsValid)
	require.Len(t, scanner.RangesInvalid, 1)
	assert.Equal(t, Range{Start: 256, End: RangeEndOpen}, scanner.RangesInvalid[0])
}

func TestScanZeroObjectSizeUsesDefault(t *testing.T) {
	cluster, store := newTestCluster(t)
	objectSize := uint32(64)
	ino := LogIno(0)

	stream, _ := appendFrames(64, noOpWithFrameSize(t, 64))
	h := testHeader(64, 64+uint64(len(stream)), objectSize)
	h.Layout.ObjectSize = 0
	writeHeader(t, store, 0, h)
	writeStream(t, store, ino, objectSize, 64, stream)

	scanner := NewScanner(0, testPoolID, cluster)
	scanner.DefaultObjectSize = objectSize
	require.NoError(t, scanner.Scan())

	assert.True(t, scanner.IsHealthy())
	assert.Equal(t, []uint64{64}, scanner.EventsValid)
}

func TestScanFilterRejectionKeepsOffsetValid(t *testing.T) {
	cluster, store := newTestCluster(t)

	stream, _ := appendFrames(0x400000,
		&events.EUpdate{Ino: 1, Path: "/a"},
		&events.EUpdate{Ino: 2, Path: "/b"})
	h := testHeader(0x400000, 0x400000+uint64(len(stream)), DefaultObjectSize)
	writeHeader(t, store, 0, h)
	writeStream(t, store, LogIno(0), DefaultObjectSize, 0x400000, stream)

	scanner := NewScanner(0, testPoolID, cluster)
	scanner.Filter = func(offset uint64, ev events.LogEvent) bool {
		update, ok := ev.(*events.EUpdate)
		return ok && update.Path == "/b"
	}
	require.NoError(t, scanner.Scan())

	assert.True(t, scanner.IsHealthy())
	assert.Len(t, scanner.EventsValid, 2)
	assert.Len(t, scanner.Events, 1)
	for _, ev := range scanner.Events {
		assert.Equal(t, "/b", ev.(*events.EUpdate).Path)
	}
}

func TestScanInvariants(t *testing.T) {
	cluster, store := newTestCluster(t)
	objectSize := uint32(128)

	evs := []events.LogEvent{
		&events.EUpdate{Ino: 1, Path: "/a"},
		&events.ESession{Client: "client.4211", Open: true},
		&events.ESubtreeMap{Roots: []string{"/", "/home"}},
		&events.EResetJournal{},
		&events.ENoOp{PadLen: 11},
	}
	stream, offsets := appendFrames(128, evs...)
	h := testHeader(128, 128+uint64(len(stream)), objectSize)
	writeHeader(t, store, 0, h)
	writeStream(t, store, LogIno(0), objectSize, 128, stream)

	scanner := NewScanner(0, testPoolID, cluster)
	require.NoError(t, scanner.Scan())
	require.True(t, scanner.IsHealthy())

	// Keys strictly increasing and within the live region.
	require.Equal(t, offsets, scanner.EventsValid)
	var prev uint64
	for i, offset := range scanner.EventsValid {
		if i > 0 {
			assert.Greater(t, offset, prev)
		}
		prev = offset
		assert.GreaterOrEqual(t, offset, h.ExpirePos)
		assert.Less(t, offset, h.WritePos)
		assert.Contains(t, scanner.Events, offset)
	}

	// Frame sizes of a healthy journal account for every live byte.
	var total uint64
	for _, ev := range scanner.Events {
		total += uint64(FrameOverhead + len(ev.Encode()))
	}
	assert.Equal(t, h.WritePos-h.ExpirePos, total)
}

func TestScanIdempotent(t *testing.T) {
	cluster, store := newTestCluster(t)
	objectSize := uint32(64)

	stream, _ := appendFrames(64,
		noOpWithFrameSize(t, 64),
		noOpWithFrameSize(t, 64),
		noOpWithFrameSize(t, 64))
	// Corrupt the middle frame so damage findings are exercised too.
	stream[64] ^= 0xff
	h := testHeader(64, 64+uint64(len(stream)), objectSize)
	writeHeader(t, store, 0, h)
	writeStream(t, store, LogIno(0), objectSize, 64, stream)

	first := NewScanner(0, testPoolID, cluster)
	require.NoError(t, first.Scan())
	second := NewScanner(0, testPoolID, cluster)
	require.NoError(t, second.Scan())

	assert.Equal(t, first.EventsValid, second.EventsValid)
	assert.Equal(t, first.ObjectsValid, second.ObjectsValid)
	assert.Equal(t, first.ObjectsMissing, second.ObjectsMissing)
	assert.Equal(t, first.RangesInvalid, second.RangesInvalid)
	require.Equal(t, len(first.Events), len(second.Events))
	for offset, ev := range first.Events {
		assert.Equal(t, ev.Encode(), second.Events[offset].Encode())
	}
}
