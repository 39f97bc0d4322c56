package objectstore

import (
	"sync"

	"github.com/golang/glog"
)

// The store client completes operations on an internal I/O goroutine. Each
// caller submits an op and blocks on a per-op completion until the executor
// signals done, keeping all submissions strictly serialized in program order.

// Completion carries the result of one submitted operation.
type Completion struct {
	done chan struct{}
	err  error
}

// Wait blocks until the operation finishes and returns its error.
func (c *Completion) Wait() error {
	<-c.done
	return c.err
}

// Executor runs submitted operations one at a time on a dedicated goroutine.
type Executor struct {
	mu     sync.Mutex
	ops    chan *submission
	closed bool
}

type submission struct {
	op func() error
	c  *Completion
}

func NewExecutor() *Executor {
	e := &Executor{
		ops: make(chan *submission),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	for s := range e.ops {
		s.c.err = s.op()
		close(s.c.done)
	}
}

// Submit hands op to the executor goroutine. The submission lock is held only
// until the executor has taken the op, and is released before the caller
// waits on the completion.
func (e *Executor) Submit(op func() error) *Completion {
	c := &Completion{done: make(chan struct{})}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		c.err = ErrNotConnected
		close(c.done)
		return c
	}
	e.ops <- &submission{op: op, c: c}
	e.mu.Unlock()
	return c
}

func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ops)
}

// Serialize wraps a store so every call runs on the executor goroutine and
// the caller blocks for its completion. Call sites stay plain synchronous
// calls.
func Serialize(s Store, e *Executor) Store {
	return &serialStore{inner: s, executor: e}
}

type serialStore struct {
	inner    Store
	executor *Executor
}

func (s *serialStore) Read(object string, offset uint64, length uint64) (data []byte, err error) {
	err = s.executor.Submit(func() error {
		var e error
		data, e = s.inner.Read(object, offset, length)
		return e
	}).Wait()
	return
}

func (s *serialStore) WriteFull(object string, data []byte) error {
	glog.V(4).Infof("serialized write_full %s (%d bytes)", object, len(data))
	return s.executor.Submit(func() error {
		return s.inner.WriteFull(object, data)
	}).Wait()
}

func (s *serialStore) Stat(object string) (size uint64, err error) {
	err = s.executor.Submit(func() error {
		var e error
		size, e = s.inner.Stat(object)
		return e
	}).Wait()
	return
}
