package ledger

import (
	"context"
	"sync"
)

// Locker serializes writers of a single card.
// The returned unlock func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, cardID int64) (unlock func(), err error)
}

// LocalLocker is an in-process keyed lock. Cards are independent of each other
// and idle entries are dropped so the map does not grow with the card count.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[int64]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, cardID int64) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[cardID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[cardID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(cardID, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(cardID, s)
		})
	}, nil
}

func (l *LocalLocker) release(cardID int64, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, cardID)
	}
	l.mu.Unlock()
}

// size reports the number of live slots.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
