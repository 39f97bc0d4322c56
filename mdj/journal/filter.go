package journal

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/metafs/metafs/mdj/events"
)

// Selector narrows which decoded events a scan keeps. Zero-value fields do
// not constrain; populated fields all have to match (logical AND).
type Selector struct {
	// ByType matches the event type name, with or without the leading "E"
	// and case-insensitively ("update" matches EUpdate).
	ByType string
	// ByInode matches update events touching this inode.
	ByInode *uint64
	// ByPath matches update events on exactly this path.
	ByPath string
	// ByTree matches update events on this path or anything under it.
	ByTree string
	// ByRange keeps events whose journal offset falls in [Start, End).
	// End 0 means unbounded.
	ByRange *Range
	// ByDirfragIno and ByDirfragName together match update events for the
	// named entry within the given directory inode.
	ByDirfragIno  *uint64
	ByDirfragName string
}

// ParseRangeArg parses the "N..M" form of the range selector.
func ParseRangeArg(arg string) (*Range, error) {
	parts := strings.SplitN(arg, "..", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("bad range %q, expected <start>..<end>", arg)
	}
	r := &Range{}
	var err error
	if parts[0] != "" {
		if r.Start, err = strconv.ParseUint(parts[0], 0, 64); err != nil {
			return nil, fmt.Errorf("bad range start %q: %v", parts[0], err)
		}
	}
	if parts[1] != "" {
		if r.End, err = strconv.ParseUint(parts[1], 0, 64); err != nil {
			return nil, fmt.Errorf("bad range end %q: %v", parts[1], err)
		}
	}
	return r, nil
}

// ParseDirfragArg parses the "<inode>,<name>" form of the dirfrag selector.
func ParseDirfragArg(arg string) (uint64, string, error) {
	parts := strings.SplitN(arg, ",", 2)
	if len(parts) != 2 || parts[1] == "" {
		return 0, "", fmt.Errorf("bad dirfrag %q, expected <inode>,<name>", arg)
	}
	ino, err := strconv.ParseUint(parts[0], 0, 64)
	if err != nil {
		return 0, "", fmt.Errorf("bad dirfrag inode %q: %v", parts[0], err)
	}
	return ino, parts[1], nil
}

// Empty reports whether the selector constrains nothing, in which case every
// event is accepted.
func (s *Selector) Empty() bool {
	return s.ByType == "" && s.ByInode == nil && s.ByPath == "" && s.ByTree == "" &&
		s.ByRange == nil && s.ByDirfragIno == nil
}

// Predicate compiles the selector into the scanner's filtering hook.
func (s *Selector) Predicate() EventPredicate {
	return func(offset uint64, ev events.LogEvent) bool {
		if s.ByType != "" && !typeMatches(s.ByType, ev.TypeName()) {
			return false
		}
		if s.ByRange != nil {
			if offset < s.ByRange.Start {
				return false
			}
			if s.ByRange.End != 0 && offset >= s.ByRange.End {
				return false
			}
		}

		needsUpdate := s.ByInode != nil || s.ByPath != "" || s.ByTree != "" || s.ByDirfragIno != nil
		if !needsUpdate {
			return true
		}
		update, ok := ev.(*events.EUpdate)
		if !ok {
			return false
		}
		if s.ByInode != nil && update.Ino != *s.ByInode {
			return false
		}
		if s.ByPath != "" && update.Path != s.ByPath {
			return false
		}
		if s.ByTree != "" && !underTree(update.Path, s.ByTree) {
			return false
		}
		if s.ByDirfragIno != nil {
			if update.Ino != *s.ByDirfragIno || path.Base(update.Path) != s.ByDirfragName {
				return false
			}
		}
		return true
	}
}

func typeMatches(want, name string) bool {
	want = strings.ToLower(want)
	name = strings.ToLower(name)
	return want == name || "e"+want == name
}

func underTree(p, tree string) bool {
	tree = strings.TrimSuffix(tree, "/")
	return p == tree || strings.HasPrefix(p, tree+"/")
}
