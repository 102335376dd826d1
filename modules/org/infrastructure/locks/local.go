package locks

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// LocalLocker is a per-unit RW lock for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	units map[uuid.UUID]*sync.RWMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{units: map[uuid.UUID]*sync.RWMutex{}}
}

func (l *LocalLocker) get(unitID uuid.UUID) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.units[unitID]
	if !ok {
		m = &sync.RWMutex{}
		l.units[unitID] = m
	}
	return m
}

func (l *LocalLocker) LockUnit(ctx context.Context, unitID uuid.UUID) (func(), error) {
	m := l.get(unitID)
	if err := acquire(ctx, m.Lock, m.Unlock); err != nil {
		return nil, err
	}
	return m.Unlock, nil
}

func (l *LocalLocker) RLockUnit(ctx context.Context, unitID uuid.UUID) (func(), error) {
	m := l.get(unitID)
	if err := acquire(ctx, m.RLock, m.RUnlock); err != nil {
		return nil, err
	}
	return m.RUnlock, nil
}

// acquire waits for lock or ctx. A lock obtained after ctx was cancelled is
// released immediately.
func acquire(ctx context.Context, lock, unlock func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		lock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		go func() {
			<-done
			unlock()
		}()
		return ctx.Err()
	}
}
