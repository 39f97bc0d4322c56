package command

import (
	"fmt"
	"strconv"

	"github.com/golang/glog"

	"github.com/metafs/metafs/mdj/journal"
	"github.com/metafs/metafs/mdj/objectstore"
	"github.com/metafs/metafs/mdj/util"
)

func init() {
	cmdHeader.Run = runHeader // break init cycle
}

var cmdHeader = &Command{
	UsageLine: "header -rank=0 -pool=1 <get [field]|set <field> <value>>",
	Short:     "read or rewrite one field of a journal header",
	Long: `Operations on the journal header alone.

  header get                  print all header fields
  header get <field>          print one of trimmed_pos, expire_pos, write_pos, magic
  header set <field> <value>  rewrite one of trimmed_pos, expire_pos, write_pos

  Setting an offset field does not move journal data; it only changes what a
  replay will consider live. Stop the metadata server first.
  `,
}

var (
	headerRank     = cmdHeader.Flag.Int("rank", 0, "journal rank (which metadata server)")
	headerPool     = cmdHeader.Flag.Int64("pool", 1, "metadata pool id")
	headerStoreDir = cmdHeader.Flag.String("store.dir", ".", "root directory of the file-backed object store")
)

func runHeader(cmd *Command, args []string) bool {
	util.LoadConfiguration("journal", false)

	if len(args) == 0 {
		glog.Errorf("Missing header command [get|set]")
		return false
	}

	store, err := openHeaderStore()
	if err != nil {
		glog.Fatalf("%v", err)
	}

	object := journal.ObjectName(journal.LogIno(*headerRank), 0)
	switch args[0] {
	case "get":
		field := ""
		if len(args) > 1 {
			field = args[1]
		}
		return headerGet(store, object, field)
	case "set":
		if len(args) < 3 {
			glog.Errorf("set needs <field> <value>")
			return false
		}
		return headerSet(store, object, args[1], args[2])
	default:
		glog.Errorf("Bad header command %q", args[0])
		return false
	}
}

func openHeaderStore() (objectstore.Store, error) {
	cluster := objectstore.NewFileCluster(*headerStoreDir)
	if err := cluster.Connect(); err != nil {
		return nil, fmt.Errorf("object store unavailable: %v", err)
	}
	poolName, err := cluster.PoolReverseLookup(*headerPool)
	if err != nil {
		return nil, fmt.Errorf("resolve pool %d: %v", *headerPool, err)
	}
	return cluster.OpenPool(poolName)
}

func loadHeader(store objectstore.Store, object string) (*journal.Header, error) {
	data, err := store.Read(object, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("read header %s: %v", object, err)
	}
	h, err := journal.DecodeHeader(data)
	if err != nil {
		return nil, fmt.Errorf("decode header %s: %v", object, err)
	}
	return h, nil
}

func headerGet(store objectstore.Store, object string, field string) bool {
	h, err := loadHeader(store, object)
	if err != nil {
		glog.Fatalf("%v", err)
	}

	switch field {
	case "":
		fmt.Printf("magic %q\n", h.Magic)
		fmt.Printf("trimmed_pos %d (0x%x)\n", h.TrimmedPos, h.TrimmedPos)
		fmt.Printf("expire_pos %d (0x%x)\n", h.ExpirePos, h.ExpirePos)
		fmt.Printf("write_pos %d (0x%x)\n", h.WritePos, h.WritePos)
		fmt.Printf("layout: stripe_unit %d stripe_count %d object_size %d pool %d\n",
			h.Layout.StripeUnit, h.Layout.StripeCount, h.Layout.ObjectSize, h.Layout.PoolID)
	case "magic":
		fmt.Printf("%s\n", h.Magic)
	case "trimmed_pos":
		fmt.Printf("%d\n", h.TrimmedPos)
	case "expire_pos":
		fmt.Printf("%d\n", h.ExpirePos)
	case "write_pos":
		fmt.Printf("%d\n", h.WritePos)
	default:
		glog.Errorf("Bad header field %q", field)
		return false
	}
	return true
}

func headerSet(store objectstore.Store, object string, field, value string) bool {
	v, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		glog.Errorf("Bad value %q for %s: %v", value, field, err)
		return false
	}

	h, err := loadHeader(store, object)
	if err != nil {
		glog.Fatalf("%v", err)
	}

	switch field {
	case "trimmed_pos":
		h.TrimmedPos = v
	case "expire_pos":
		h.ExpirePos = v
	case "write_pos":
		h.WritePos = v
	default:
		glog.Errorf("Bad header field %q", field)
		return false
	}

	if err := h.Validate(); err != nil {
		glog.Warningf("new header fails validation (%v), writing anyway", err)
	}
	if err := store.WriteFull(object, h.Encode()); err != nil {
		glog.Fatalf("write header %s: %v", object, err)
	}
	fmt.Printf("wrote %s = %d\n", field, v)
	return true
}
