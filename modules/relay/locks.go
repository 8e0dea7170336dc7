package relay

import "sync"

// roomLocks hands out one mutex per room name. Entries are dropped once no
// goroutine holds or waits for them.
type roomLocks struct {
	mu    sync.Mutex
	rooms map[string]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{rooms: make(map[string]*roomLock)}
}

// lock locks room and returns the matching unlock.
func (l *roomLocks) lock(room string) func() {
	l.mu.Lock()
	rl, ok := l.rooms[room]
	if !ok {
		rl = &roomLock{}
		l.rooms[room] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.rooms, room)
		}
		l.mu.Unlock()
	}
}

// size returns the number of rooms with a live lock.
func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}
