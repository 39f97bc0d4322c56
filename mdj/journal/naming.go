package journal

import (
	"fmt"
)

const (
	// LogInoBase is the inode number of rank 0's journal. Rank r journals
	// live at LogInoBase + r.
	LogInoBase = uint64(0x200)

	// PointerInoBase is where each rank's journal-pointer record lives.
	PointerInoBase = uint64(0x400)
)

func LogIno(rank int) uint64 {
	return LogInoBase + uint64(rank)
}

func PointerIno(rank int) uint64 {
	return PointerInoBase + uint64(rank)
}

// ObjectName returns the object holding the given segment of an inode's byte
// stream. The segment index is the byte offset divided by the layout's object
// size, not a byte offset.
func ObjectName(ino uint64, segmentIndex uint64) string {
	return fmt.Sprintf("%x.%08x", ino, segmentIndex)
}
