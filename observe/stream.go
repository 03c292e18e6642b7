package observe

import (
	"sync"

	"mabletask/agent/logger"
)

// Stream is a subscribable proxy over an externally appended event list.
// Push keeps the list's own semantics (append, return the new length) and
// then notifies subscribers; a failing subscriber never breaks a push.
type Stream struct {
	mu     sync.Mutex
	items  []any
	subs   map[int]func(any)
	nextID int
	log    logger.Logger
}

// NewStream wraps the entries already present.
func NewStream(initial []any, log logger.Logger) *Stream {
	return &Stream{
		items: append([]any(nil), initial...),
		subs:  make(map[int]func(any)),
		log:   log,
	}
}

// Push appends items and returns the new length.
func (s *Stream) Push(items ...any) int {
	s.mu.Lock()
	s.items = append(s.items, items...)
	n := len(s.items)
	subs := make([]func(any), 0, len(s.subs))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	for _, item := range items {
		for _, fn := range subs {
			s.notify(fn, item)
		}
	}
	return n
}

// Subscribe registers fn for items pushed from now on. The returned function
// removes it.
func (s *Stream) Subscribe(fn func(any)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Items returns a copy of every entry.
func (s *Stream) Items() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.items...)
}

// Len returns the number of entries.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Stream) notify(fn func(any), item any) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Debug("Stream subscriber failed", logger.Any("panic", r))
		}
	}()
	fn(item)
}
