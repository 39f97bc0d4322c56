package objectstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang/glog"
)

// FileCluster stores pools as directories and objects as plain files, so a
// journal can be copied out of a live cluster and picked apart on any machine.
// A pool directory is named after its decimal pool id.
type FileCluster struct {
	rootDir   string
	connected bool
}

func NewFileCluster(rootDir string) *FileCluster {
	return &FileCluster{rootDir: rootDir}
}

func (c *FileCluster) Connect() error {
	if err := os.MkdirAll(c.rootDir, 0755); err != nil {
		return fmt.Errorf("create store root %s: %v", c.rootDir, err)
	}
	c.connected = true
	return nil
}

func (c *FileCluster) PoolReverseLookup(id int64) (string, error) {
	if !c.connected {
		return "", ErrNotConnected
	}
	name := strconv.FormatInt(id, 10)
	if _, err := os.Stat(filepath.Join(c.rootDir, name)); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("pool %d: %w", id, ErrPoolNotFound)
		}
		return "", err
	}
	return name, nil
}

func (c *FileCluster) OpenPool(name string) (Store, error) {
	if !c.connected {
		return nil, ErrNotConnected
	}
	dir := filepath.Join(c.rootDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("open pool %s: %v", name, err)
	}
	return &fileStore{dir: dir}, nil
}

type fileStore struct {
	dir string
}

func (s *fileStore) path(object string) string {
	return filepath.Join(s.dir, object)
}

func (s *fileStore) Read(object string, offset uint64, length uint64) ([]byte, error) {
	f, err := os.Open(s.path(object))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", object, ErrObjectNotFound)
		}
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := uint64(stat.Size())
	if offset >= size {
		return nil, nil
	}
	end := size
	if length > 0 && offset+length < end {
		end = offset + length
	}
	buf := make([]byte, end-offset)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("read %s at %d: %v", object, offset, err)
	}
	return buf, nil
}

func (s *fileStore) WriteFull(object string, data []byte) error {
	glog.V(3).Infof("write_full %s (%d bytes)", object, len(data))
	return os.WriteFile(s.path(object), data, 0644)
}

func (s *fileStore) Stat(object string) (uint64, error) {
	stat, err := os.Stat(s.path(object))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%s: %w", object, ErrObjectNotFound)
		}
		return 0, err
	}
	return uint64(stat.Size()), nil
}
