// Package liblock provides per-library reentrant locking (§4.6/§5):
// one mutex per library_id. Callers take it around chunk creation and
// deletion, library deletion, and index build, load and info; chunk and
// document reads and updates do not take it. Locks are
// reentrant so a build path may call back into a storage operation
// that also takes the same library's lock without deadlocking.
//
// Go has no built-in recursive mutex, so reentrancy is modeled through
// context.Context instead of goroutine identity: With stamps the
// context with a marker for the library it just locked, and a nested
// With call for the same library sees that marker and runs its
// function directly instead of re-acquiring.
package liblock

import (
	"context"
	"sync"
	"time"
)

type heldKey struct{ libraryID string }

// Manager is a process-wide registry of per-library locks. The zero
// value is not usable; construct with New.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an empty lock registry.
func New() *Manager {
	return &Manager{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for libraryID, creating it on first use.
// Locks are never removed automatically — only an explicit admin
// operation would do that, and this package doesn't expose one.
func (m *Manager) get(libraryID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[libraryID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[libraryID] = lock
	}
	return lock
}

// held reports whether ctx already carries the "locked" marker for
// libraryID, i.e. whether this call is nested inside an outer With
// for the same library.
func held(ctx context.Context, libraryID string) bool {
	v, _ := ctx.Value(heldKey{libraryID}).(bool)
	return v
}

// mark returns a child context stamped as holding libraryID's lock.
func mark(ctx context.Context, libraryID string) context.Context {
	return context.WithValue(ctx, heldKey{libraryID}, true)
}

// With runs fn with libraryID's lock held. If ctx already carries the
// lock for libraryID (a nested call from within an outer With for the
// same library), fn runs immediately without re-acquiring — this is
// what makes the lock reentrant.
func (m *Manager) With(ctx context.Context, libraryID string, fn func(ctx context.Context) error) error {
	if held(ctx, libraryID) {
		return fn(ctx)
	}

	lock := m.get(libraryID)
	lock.Lock()
	defer lock.Unlock()
	return fn(mark(ctx, libraryID))
}

// TryWith behaves like With but gives up if the lock cannot be
// acquired within timeout, returning false for acquired. A zero
// timeout blocks indefinitely.
func (m *Manager) TryWith(ctx context.Context, libraryID string, timeout time.Duration, fn func(ctx context.Context) error) (acquired bool, err error) {
	if held(ctx, libraryID) {
		return true, fn(ctx)
	}

	lock := m.get(libraryID)
	if timeout <= 0 {
		lock.Lock()
		defer lock.Unlock()
		return true, fn(mark(ctx, libraryID))
	}

	// done is unbuffered: the hand-off of the held lock completes only
	// if the caller is still waiting to receive it.
	done := make(chan struct{})
	abandoned := make(chan struct{})
	go func() {
		lock.Lock()
		select {
		case done <- struct{}{}:
		case <-abandoned:
			// The caller already gave up; release what we just
			// acquired instead of leaving the library wedged.
			lock.Unlock()
		}
	}()

	select {
	case <-done:
		defer lock.Unlock()
		return true, fn(mark(ctx, libraryID))
	case <-time.After(timeout):
		close(abandoned)
		return false, nil
	}
}
