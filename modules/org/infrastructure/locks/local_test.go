package locks_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/salesorg/modules/org/infrastructure/locks"
)

func TestLocalLocker_WriterExcludesReaders(t *testing.T) {
	l := locks.NewLocalLocker()
	unitID := uuid.New()
	ctx := context.Background()

	unlock, err := l.LockUnit(ctx, unitID)
	require.NoError(t, err)

	var readerIn atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		runlock, err := l.RLockUnit(ctx, unitID)
		if err != nil {
			return
		}
		readerIn.Store(true)
		runlock()
	}()

	time.Sleep(20 * time.Millisecond)
	require.False(t, readerIn.Load())

	unlock()
	<-done
	require.True(t, readerIn.Load())
}

func TestLocalLocker_UnitsAreIndependent(t *testing.T) {
	l := locks.NewLocalLocker()
	ctx := context.Background()

	unlockA, err := l.LockUnit(ctx, uuid.New())
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := l.LockUnit(ctx, uuid.New())
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_RespectsContext(t *testing.T) {
	l := locks.NewLocalLocker()
	unitID := uuid.New()

	unlock, err := l.LockUnit(context.Background(), unitID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.LockUnit(ctx, unitID)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	// the abandoned waiter must not keep the lock forever
	require.Eventually(t, func() bool {
		u, err := l.LockUnit(context.Background(), unitID)
		if err != nil {
			return false
		}
		u()
		return true
	}, time.Second, 10*time.Millisecond)
}
