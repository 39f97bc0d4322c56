package command

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"

	"github.com/metafs/metafs/mdj/events"
	"github.com/metafs/metafs/mdj/journal"
	"github.com/metafs/metafs/mdj/objectstore"
	"github.com/metafs/metafs/mdj/util"
)

func init() {
	cmdEvent.Run = runEvent // break init cycle
}

var cmdEvent = &Command{
	UsageLine: "event -rank=0 -pool=1 [selectors] get <summary|binary|json> [-o=path]",
	Short:     "extract log events from a metadata journal",
	Long: `Scan one rank's journal and emit the events that match the selectors.

  Selectors (all given selectors must match):
    -by-type=<name>            event type, e.g. update or session
    -by-inode=<ino>            update events touching this inode
    -by-path=<path>            update events on exactly this path
    -by-tree=<path>            update events on or under this path
    -by-range=<start>..<end>   events within this journal offset range
    -by-dirfrag-name=<ino>,<name>  update events for one directory entry

  Outputs:
    summary   one line per event on stdout
    binary    one file per event under the binary output directory
    json      all events as a json array, to stdout or -o=<path>
  `,
}

var (
	eventRank     = cmdEvent.Flag.Int("rank", 0, "journal rank (which metadata server)")
	eventPool     = cmdEvent.Flag.Int64("pool", 1, "metadata pool id")
	eventStoreDir = cmdEvent.Flag.String("store.dir", ".", "root directory of the file-backed object store")
	eventOutput   = cmdEvent.Flag.String("o", "", "output path for json mode")

	eventByType    = cmdEvent.Flag.String("by-type", "", "select events of this type")
	eventByInode   = cmdEvent.Flag.Uint64("by-inode", 0, "select update events touching this inode")
	eventByPath    = cmdEvent.Flag.String("by-path", "", "select update events on exactly this path")
	eventByTree    = cmdEvent.Flag.String("by-tree", "", "select update events on or under this path")
	eventByRange   = cmdEvent.Flag.String("by-range", "", "select events in <start>..<end> journal offsets")
	eventByDirfrag = cmdEvent.Flag.String("by-dirfrag-name", "", "select update events for <inode>,<name>")
)

func runEvent(cmd *Command, args []string) bool {
	util.LoadConfiguration("journal", false)

	if len(args) == 0 {
		glog.Errorf("Missing event command [get]")
		return false
	}
	if args[0] != "get" {
		glog.Errorf("Bad event command %q", args[0])
		return false
	}
	if len(args) < 2 {
		glog.Errorf("Missing output command [summary|binary|json]")
		return false
	}
	outputVerb := args[1]
	// Flags may also follow the output verb ("get json -o=path").
	if err := cmd.Flag.Parse(args[2:]); err != nil {
		return false
	}

	selector, ok := buildSelector()
	if !ok {
		return false
	}

	cluster := objectstore.NewFileCluster(*eventStoreDir)
	scanner := journal.NewScanner(*eventRank, *eventPool, cluster)
	scanner.DefaultObjectSize = uint32(viper.GetInt("journal.object_size"))
	scanner.Filter = selector.Predicate()

	if err := scanner.Scan(); err != nil {
		glog.Fatalf("Failed to scan journal: %v", err)
	}

	switch outputVerb {
	case "summary":
		return emitSummary(scanner, os.Stdout)
	case "binary":
		return emitBinary(scanner, viper.GetString("event.binary_output_dir"))
	case "json":
		return emitJSON(scanner, *eventOutput)
	default:
		glog.Errorf("Bad output command %q", outputVerb)
		return false
	}
}

func buildSelector() (*journal.Selector, bool) {
	selector := &journal.Selector{
		ByType: *eventByType,
		ByPath: *eventByPath,
		ByTree: *eventByTree,
	}
	if flagWasSet(&cmdEvent.Flag, "by-inode") {
		selector.ByInode = eventByInode
	}
	if *eventByRange != "" {
		r, err := journal.ParseRangeArg(*eventByRange)
		if err != nil {
			glog.Errorf("%v", err)
			return nil, false
		}
		selector.ByRange = r
	}
	if *eventByDirfrag != "" {
		ino, name, err := journal.ParseDirfragArg(*eventByDirfrag)
		if err != nil {
			glog.Errorf("%v", err)
			return nil, false
		}
		selector.ByDirfragIno = &ino
		selector.ByDirfragName = name
	}
	return selector, true
}

// sortedOffsets returns the offsets of kept events in journal order.
func sortedOffsets(s *journal.Scanner) []uint64 {
	offsets := make([]uint64, 0, len(s.Events))
	for offset := range s.Events {
		offsets = append(offsets, offset)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

func emitSummary(s *journal.Scanner, w *os.File) bool {
	for _, offset := range sortedOffsets(s) {
		ev := s.Events[offset]
		path := ""
		if update, ok := ev.(*events.EUpdate); ok {
			path = update.Path
		}
		fmt.Fprintf(w, "0x%x %s: %s\n", offset, ev.TypeName(), path)
	}
	return true
}

func emitBinary(s *journal.Scanner, outputDir string) bool {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		glog.Fatalf("Failed to create %s: %v", outputDir, err)
	}
	for _, offset := range sortedOffsets(s) {
		ev := s.Events[offset]
		name := fmt.Sprintf("0x%x_%s.bin", offset, ev.TypeName())
		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, ev.Encode(), 0644); err != nil {
			glog.Fatalf("Failed to write %s: %v", path, err)
		}
		glog.V(2).Infof("wrote %s", path)
	}
	return true
}

func emitJSON(s *journal.Scanner, outputPath string) bool {
	records := make([]map[string]interface{}, 0, len(s.Events))
	for _, offset := range sortedOffsets(s) {
		records = append(records, eventRecord(offset, s.Events[offset]))
	}

	data, err := jsoniter.MarshalIndent(records, "", "  ")
	if err != nil {
		glog.Fatalf("Failed to marshal events: %v", err)
	}
	data = append(data, '\n')

	if outputPath == "" {
		os.Stdout.Write(data)
		return true
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		glog.Fatalf("Failed to write %s: %v", outputPath, err)
	}
	return true
}

// eventRecord flattens one event into the json output shape: offset and type
// always, then the type-specific fields.
func eventRecord(offset uint64, ev events.LogEvent) map[string]interface{} {
	record := map[string]interface{}{
		"offset": offset,
		"type":   ev.TypeName(),
	}
	switch e := ev.(type) {
	case *events.EUpdate:
		record["ino"] = e.Ino
		record["path"] = e.Path
	case *events.ESession:
		record["client"] = e.Client
		record["open"] = e.Open
	case *events.ESubtreeMap:
		record["roots"] = e.Roots
	case *events.ENoOp:
		record["pad_len"] = e.PadLen
	case *events.EUnknown:
		record["type_tag"] = e.Tag
		record["raw"] = e.Raw
	}
	return record
}
