// Package cache implements the offload cache: a bounded in-memory ring
// backed by a pluggable storage backend, used to spill forward-pass
// block state to local memory, a temp file, an encrypted temp file, or
// a remote TCP service while the HMM engine walks the marker axis, and
// to pop it back in reverse (LIFO) order during the backward pass.
//
// Every cached value is handled as an opaque []byte: callers encode
// their own block snapshots (gob is the natural choice, matching the
// rest of this module's serialization) before Push and decode after
// Pop. This mirrors the reference implementation's TCP backend, which
// already treats cached items as pre-serialized byte buffers.
package cache

import "io"

// WriteBackend accepts cached items in push order and, once writing is
// complete, yields a ReadBackend that will return them.
type WriteBackend interface {
	Push(item []byte) error
	IntoRead() (ReadBackend, error)
}

// ReadBackend returns previously pushed items in LIFO order. Pop
// returns io.EOF once the backend is exhausted.
type ReadBackend interface {
	Pop() ([]byte, error)
}

// Backend constructs a fresh WriteBackend for one save/load cycle.
type Backend interface {
	NewWrite() (WriteBackend, error)
}

// state tracks an OffloadCache's lifecycle: Fresh before any Push,
// Writing while accepting pushes, Draining once IntoLoad has started
// pulling spilled items back in, Done once the backend is exhausted.
type state int

const (
	stateFresh state = iota
	stateWriting
	stateDraining
	stateDone
)

// OffloadCache is a pluggable save/load cycle factory: bound controls
// how many items stay in the in-memory ring before older ones spill to
// the backend, giving the spill writes and reads time to overlap with
// the caller's own computation instead of blocking on every push/pop.
type OffloadCache struct {
	bound   int
	backend Backend
}

func NewOffloadCache(bound int, backend Backend) *OffloadCache {
	return &OffloadCache{bound: bound, backend: backend}
}

// NewSave starts a new push phase, spawning the async backend writer.
func (c *OffloadCache) NewSave() (*Save, error) {
	wb, err := c.backend.NewWrite()
	if err != nil {
		return nil, err
	}
	s := &Save{
		bound:    c.bound,
		toWorker: make(chan []byte, c.bound),
		fromWorker: make(chan []byte, c.bound),
		done:     make(chan error, 1),
		state:    stateFresh,
	}
	go s.offloadProc(wb)
	return s, nil
}

// Save accepts pushed items, keeping the most recent bound items in an
// in-memory ring (a slice used as a stack) and handing older ones to
// the async backend writer.
type Save struct {
	bound int
	local [][]byte // ring of pending items, most recent last

	toWorker   chan []byte
	fromWorker chan []byte
	done       chan error

	state state
}

func (s *Save) offloadProc(wb WriteBackend) {
	defer close(s.fromWorker)
	for item := range s.toWorker {
		if err := wb.Push(item); err != nil {
			s.done <- err
			// Drain remaining sends so the producer side never blocks
			// forever on a full, now-abandoned channel.
			for range s.toWorker {
			}
			return
		}
	}
	rb, err := wb.IntoRead()
	if err != nil {
		s.done <- err
		return
	}
	for {
		item, err := rb.Pop()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.done <- err
			return
		}
		s.fromWorker <- item
	}
	s.done <- nil
}

// Push appends an item to the ring, spilling the oldest ring entry to
// the backend once the ring exceeds bound.
func (s *Save) Push(item []byte) {
	s.state = stateWriting
	if len(s.local) == s.bound {
		overflow := s.local[0]
		s.local = s.local[1:]
		s.toWorker <- overflow
	}
	s.local = append(s.local, item)
}

// IntoLoad closes the write side and returns a Load that pops items
// back out in LIFO order: most-recently-pushed first.
func (s *Save) IntoLoad() *Load {
	close(s.toWorker)
	s.state = stateDraining
	return &Load{
		local:      s.local,
		fromWorker: s.fromWorker,
		done:       s.done,
	}
}

// Load pops items in LIFO order: the in-memory ring first (most recent
// first), then whatever the backend spills back once the ring runs dry.
type Load struct {
	local      [][]byte
	fromWorker chan []byte
	done       chan error
	workerErr  error
	state      state
}

// Pop returns the next item in LIFO order, or false once both the ring
// and the backend are exhausted.
func (l *Load) Pop() ([]byte, bool) {
	if n := len(l.local); n > 0 {
		item := l.local[n-1]
		l.local = l.local[:n-1]
		return item, true
	}
	item, ok := <-l.fromWorker
	if !ok {
		l.state = stateDone
		if err := <-l.done; err != nil {
			l.workerErr = err
		}
		return nil, false
	}
	return item, true
}

// Err returns any error the async backend worker encountered, valid
// only after Pop has returned false.
func (l *Load) Err() error { return l.workerErr }
