package command

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/spf13/viper"

	"github.com/metafs/metafs/mdj/journal"
	"github.com/metafs/metafs/mdj/objectstore"
	"github.com/metafs/metafs/mdj/util"
)

func init() {
	cmdJournal.Run = runJournal // break init cycle
}

var cmdJournal = &Command{
	UsageLine: "journal -rank=0 -pool=1 <inspect|export|import> [args]",
	Short:     "inspect, export or import one rank's metadata journal",
	Long: `Operations on a metadata server's journal as a whole.

  journal inspect             report the journal's health: header state,
                              missing objects, unreadable byte ranges.
  journal export -o=<path>    dump the live journal region to a sparse file.
  journal import -i=<path>    restore the journal from such a file.

  Inspect never fails on a damaged journal: damage is the report, not an
  error. Stop the metadata server before importing.
  `,
}

var (
	journalRank     = cmdJournal.Flag.Int("rank", 0, "journal rank (which metadata server)")
	journalPool     = cmdJournal.Flag.Int64("pool", 1, "metadata pool id")
	journalStoreDir = cmdJournal.Flag.String("store.dir", ".", "root directory of the file-backed object store")
	journalOutput   = cmdJournal.Flag.String("o", "", "output file for export")
	journalInput    = cmdJournal.Flag.String("i", "", "input file for import")
)

func runJournal(cmd *Command, args []string) bool {
	util.LoadConfiguration("journal", false)

	if len(args) == 0 {
		glog.Errorf("Missing journal command [inspect|export|import]")
		return false
	}
	// Flags may also follow the verb ("export -o=<path>").
	if err := cmd.Flag.Parse(args[1:]); err != nil {
		return false
	}
	if *journalRank < 0 {
		glog.Errorf("Bad rank %d", *journalRank)
		return false
	}

	cluster := objectstore.NewFileCluster(*journalStoreDir)

	switch args[0] {
	case "inspect":
		return journalInspect(cluster)
	case "export":
		if *journalOutput == "" {
			glog.Errorf("export needs -o=<path>")
			return false
		}
		return journalDump(cluster, *journalOutput)
	case "import":
		if *journalInput == "" {
			glog.Errorf("import needs -i=<path>")
			return false
		}
		return journalUndump(cluster, *journalInput)
	default:
		glog.Errorf("Bad journal command %q", args[0])
		return false
	}
}

func journalInspect(cluster objectstore.Cluster) bool {
	scanner := journal.NewScanner(*journalRank, *journalPool, cluster)
	scanner.DefaultObjectSize = uint32(viper.GetInt("journal.object_size"))

	if err := scanner.Scan(); err != nil {
		glog.Fatalf("Failed to scan journal: %v", err)
	}
	printInspectReport(scanner)
	return true
}

func printInspectReport(s *journal.Scanner) {
	fmt.Printf("Overall journal integrity: %s\n", healthWord(s.IsHealthy()))

	if !s.HeaderPresent {
		fmt.Printf("Header: missing\n")
		return
	}
	if !s.HeaderValid {
		fmt.Printf("Header: present but corrupt\n")
		return
	}

	h := s.Header
	fmt.Printf("Header: trimmed_pos 0x%x expire_pos 0x%x write_pos 0x%x\n",
		h.TrimmedPos, h.ExpirePos, h.WritePos)
	fmt.Printf("Live region: %s\n", humanize.IBytes(h.WritePos-h.ExpirePos))
	fmt.Printf("Objects: %d valid, %d missing\n", len(s.ObjectsValid), len(s.ObjectsMissing))
	for _, segment := range s.ObjectsMissing {
		fmt.Printf("  missing segment 0x%x\n", segment)
	}
	for _, r := range s.RangesInvalid {
		if r.End == journal.RangeEndOpen {
			fmt.Printf("Corrupt region from 0x%x to end of journal\n", r.Start)
		} else {
			fmt.Printf("Corrupt region 0x%x~%s\n", r.Start, humanize.IBytes(r.End-r.Start))
		}
	}
	fmt.Printf("Events: %d valid\n", len(s.EventsValid))
}

func healthWord(healthy bool) string {
	if healthy {
		return "OK"
	}
	return "DAMAGED"
}

func journalDump(cluster objectstore.Cluster, path string) bool {
	dumper := journal.NewDumper(*journalRank, *journalPool, cluster)
	if err := dumper.Init(); err != nil {
		glog.Fatalf("Failed to init dumper: %v", err)
	}
	defer dumper.Close()
	if err := dumper.Dump(path); err != nil {
		glog.Fatalf("Failed to export journal: %v", err)
	}
	return true
}

func journalUndump(cluster objectstore.Cluster, path string) bool {
	dumper := journal.NewDumper(*journalRank, *journalPool, cluster)
	if err := dumper.Init(); err != nil {
		glog.Fatalf("Failed to init dumper: %v", err)
	}
	defer dumper.Close()
	if err := dumper.Undump(path); err != nil {
		glog.Fatalf("Failed to import journal: %v", err)
	}
	return true
}
