package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Locker hands out named locks that every process opening the same store
// respects.
type Locker interface {
	// Lock blocks until name is held or ctx is done.
	Lock(ctx context.Context, name string) (unlock func(), err error)
	// TryLock takes name only if nobody holds it.
	TryLock(name string) (unlock func(), ok bool, err error)
}

const lockRetry = 25 * time.Millisecond

// fileLocks backs each name with an OS lock on the file <base><name>.lock.
type fileLocks struct {
	base string
}

// Lock tries once before it looks at ctx, so a free lock is taken even
// with a cancelled ctx.
func (l fileLocks) Lock(ctx context.Context, name string) (func(), error) {
	fl := flock.New(l.base + name + ".lock")
	ok, err := fl.TryLock()
	if err == nil && !ok {
		ok, err = fl.TryLockContext(ctx, lockRetry)
	}
	if err != nil || !ok {
		_ = fl.Close()
		if err == nil {
			err = context.Canceled
		}
		return nil, fmt.Errorf("storage error locking %s: %w", name, err)
	}
	return unlocker(fl), nil
}

func (l fileLocks) TryLock(name string) (func(), bool, error) {
	fl := flock.New(l.base + name + ".lock")
	ok, err := fl.TryLock()
	if err != nil || !ok {
		_ = fl.Close()
		if err != nil {
			return nil, false, fmt.Errorf("storage error locking %s: %w", name, err)
		}
		return nil, false, nil
	}
	return unlocker(fl), true, nil
}

func unlocker(fl *flock.Flock) func() {
	var once sync.Once
	return func() { once.Do(func() { _ = fl.Unlock() }) }
}

// memLocks serves stores that live in a single process.
type memLocks struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func (l *memLocks) sem(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sems == nil {
		l.sems = map[string]chan struct{}{}
	}
	ch, ok := l.sems[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.sems[name] = ch
	}
	return ch
}

func (l *memLocks) Lock(ctx context.Context, name string) (func(), error) {
	if unlock, ok, _ := l.TryLock(name); ok {
		return unlock, nil
	}
	ch := l.sem(name)
	select {
	case ch <- struct{}{}:
		return release(ch), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("storage error locking %s: %w", name, ctx.Err())
	}
}

func (l *memLocks) TryLock(name string) (func(), bool, error) {
	ch := l.sem(name)
	select {
	case ch <- struct{}{}:
		return release(ch), true, nil
	default:
		return nil, false, nil
	}
}

func release(ch chan struct{}) func() {
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }
}
