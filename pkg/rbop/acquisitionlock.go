package rbop

import (
	"sync"
	"time"
)

// AcquisitionLock is the quiescence fence between external producers
// (the VFS kernel callback, calling enqueue) and the RBOP consumer's
// self-release of GitLock. It is a reader-writer token, not a data
// guard: a producer briefly holds it as a reader while calling enqueue;
// the consumer holds it as a writer only while deciding whether to
// release GitLock. This closes the race where the consumer observes an
// empty queue, is about to release GitLock, and a producer's enqueue
// lands in between.
//
// Double-release is not guarded against: AcquisitionLock is a typed
// RW token built directly on sync.RWMutex, and a caller releasing a side
// it does not hold is a programming error the underlying mutex itself
// will surface (a panic on unlock-of-unlocked), so no additional
// "is held" bookkeeping is needed. See DESIGN.md's Open Question 1.
type AcquisitionLock struct {
	mu sync.RWMutex
}

// NewAcquisitionLock returns a free lock.
func NewAcquisitionLock() *AcquisitionLock {
	return &AcquisitionLock{}
}

// AcquireReader is the producer side: called by the VFS boundary around
// enqueue (ObtainAcquisitionLock / ReleaseAcquisitionLock in Processor).
func (l *AcquisitionLock) AcquireReader() {
	l.mu.RLock()
}

// ReleaseReader ends a producer's hold.
func (l *AcquisitionLock) ReleaseReader() {
	l.mu.RUnlock()
}

// writerPollInterval is how often TryAcquireWriter retries TryLock
// within its timeout budget.
const writerPollInterval = 1 * time.Millisecond

// TryAcquireWriter is the consumer side: a bounded attempt to take the
// writer lock before releasing GitLock, per spec §4.4b. It returns false
// if no producer yields the fence within timeout, in which case the
// consumer must re-check the in-memory queue rather than release
// GitLock.
func (l *AcquisitionLock) TryAcquireWriter(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		if l.mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(writerPollInterval)
	}
}

// ReleaseWriter ends a successful TryAcquireWriter hold.
func (l *AcquisitionLock) ReleaseWriter() {
	l.mu.Unlock()
}
