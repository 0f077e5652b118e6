package rbop

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gitvfsd/gitvfsd/internal/logger"
	"github.com/gitvfsd/gitvfsd/pkg/gitlock"
	"github.com/gitvfsd/gitvfsd/pkg/metrics"
)

// defaultProgressInterval is how often the consumer emits a
// TaskProcessingStatus event while draining, per spec §4.4's "every
// 25,000 processed items", when Config.ProgressInterval is left unset.
const defaultProgressInterval = 25_000

// defaultGitLockPollInterval is how long the consumer sleeps between
// unsuccessful GitLock.TryAcquire polls, when Config.GitLockPollInterval
// is left unset.
const defaultGitLockPollInterval = 50 * time.Millisecond

// defaultRetryableBackoff is how long the consumer sleeps after a
// RetryableError before reattempting the same item or callback, when
// Config.RetryableBackoff is left unset.
const defaultRetryableBackoff = 50 * time.Millisecond

// defaultAcquisitionLockTimeout bounds how long the consumer waits for
// the AcquisitionLock writer side before re-checking the queue, per
// §4.4b, when Config.AcquisitionLockTimeout is left unset.
const defaultAcquisitionLockTimeout = 10 * time.Millisecond

// die terminates the process after a fatal error. It is a package
// variable, not a direct os.Exit call, so tests can stub termination and
// observe that the fatal path was taken without actually exiting the
// test binary.
var die = func(reason string) {
	logger.Error("fatal error, exiting: %s", reason)
	os.Exit(1)
}

// Processor is the RBOP consumer: a single-threaded state machine that
// drives Callbacks.Pre/PerItem/Post under GitLock, coordinating with
// external producers through AcquisitionLock.
type Processor struct {
	store     *DurableStore
	gitLock   *gitlock.Lock
	acqLock   *AcquisitionLock
	callbacks Callbacks
	metrics   metrics.RBOPMetrics
	identity  string

	progressInterval       int
	gitLockPollInterval    time.Duration
	retryableBackoff       time.Duration
	acquisitionLockTimeout time.Duration

	queue  *memQueue
	wakeup *wakeupSignal

	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	startOnce sync.Once
}

// Config bundles the collaborators and tuning knobs a Processor needs
// beyond the durable store it owns.
type Config struct {
	GitLock   *gitlock.Lock
	Callbacks Callbacks
	Metrics   metrics.RBOPMetrics

	// Identity names this consumer for GitLock contention diagnostics.
	Identity string

	// ProgressInterval overrides how many processed items elapse
	// between TaskProcessingStatus log lines. Defaults to 25,000.
	ProgressInterval int

	// GitLockPollInterval overrides the spin-poll period for
	// GitLock.TryAcquire. Defaults to 50ms.
	GitLockPollInterval time.Duration

	// RetryableBackoff overrides the sleep between RetryableError
	// reattempts of the same item or callback. Defaults to 50ms.
	RetryableBackoff time.Duration

	// AcquisitionLockTimeout overrides the writer-side timeout used by
	// the safe-release step (§4.4b). Defaults to 10ms.
	AcquisitionLockTimeout time.Duration
}

// NewProcessor wires a Processor around an already-open DurableStore.
func NewProcessor(store *DurableStore, cfg Config) *Processor {
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoopRBOPMetrics()
	}

	identity := cfg.Identity
	if identity == "" {
		identity = "rbop-consumer"
	}

	progressInterval := cfg.ProgressInterval
	if progressInterval == 0 {
		progressInterval = defaultProgressInterval
	}
	gitLockPollInterval := cfg.GitLockPollInterval
	if gitLockPollInterval == 0 {
		gitLockPollInterval = defaultGitLockPollInterval
	}
	retryableBackoff := cfg.RetryableBackoff
	if retryableBackoff == 0 {
		retryableBackoff = defaultRetryableBackoff
	}
	acquisitionLockTimeout := cfg.AcquisitionLockTimeout
	if acquisitionLockTimeout == 0 {
		acquisitionLockTimeout = defaultAcquisitionLockTimeout
	}

	return &Processor{
		store:                  store,
		gitLock:                cfg.GitLock,
		acqLock:                NewAcquisitionLock(),
		callbacks:              cfg.Callbacks,
		metrics:                m,
		identity:               identity,
		progressInterval:       progressInterval,
		gitLockPollInterval:    gitLockPollInterval,
		retryableBackoff:       retryableBackoff,
		acquisitionLockTimeout: acquisitionLockTimeout,
		queue:                  newMemQueue(),
		wakeup:                 newWakeupSignal(),
		stopping:               make(chan struct{}),
		done:                   make(chan struct{}),
	}
}

// Start replays durable entries into the in-memory queue and spawns the
// single consumer goroutine. Safe to call once; subsequent calls are
// no-ops.
func (p *Processor) Start() error {
	var startErr error

	p.startOnce.Do(func() {
		ops, err := p.store.Keys()
		if err != nil {
			startErr = fmt.Errorf("failed to replay durable queue: %w", err)
			return
		}

		for _, op := range ops {
			p.queue.push(op)
		}
		p.metrics.QueueDepth(p.queue.len())

		if !p.queue.empty() {
			p.wakeup.Pulse()
		}

		go p.consume()
	})

	return startErr
}

// Enqueue persists op, then — unless the processor is stopping — appends
// it to the in-memory queue and pulses the consumer awake. Per spec §6,
// external callers must hold the AcquisitionLock reader side (via
// ObtainAcquisitionLock) for the duration of this call.
func (p *Processor) Enqueue(op BackgroundOperation) error {
	if err := p.store.Put(op); err != nil {
		return err
	}
	if err := p.store.Flush(); err != nil {
		return err
	}

	select {
	case <-p.stopping:
		return nil
	default:
	}

	p.queue.push(op)
	p.metrics.QueueDepth(p.queue.len())
	p.wakeup.Pulse()
	return nil
}

// ObtainAcquisitionLock is the reader side of AcquisitionLock for
// external producers: the VFS boundary calls this before Enqueue and
// ReleaseAcquisitionLock after, per spec §6.
func (p *Processor) ObtainAcquisitionLock() {
	p.acqLock.AcquireReader()
}

// ReleaseAcquisitionLock ends a producer's hold obtained via
// ObtainAcquisitionLock.
func (p *Processor) ReleaseAcquisitionLock() {
	p.acqLock.ReleaseReader()
}

// Count returns the current in-memory queue length. Advisory only — it
// can be stale the instant it is read under concurrent enqueue/drain.
func (p *Processor) Count() int {
	return p.queue.len()
}

// Shutdown signals the consumer to stop at the earliest safe point and
// blocks until it has exited. Safe to call more than once.
func (p *Processor) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.stopping)
		p.wakeup.Pulse()
	})
	<-p.done
}

func (p *Processor) isStopping() bool {
	select {
	case <-p.stopping:
		return true
	default:
		return false
	}
}

// consume is the single consumer loop described in spec §4.4. It never
// returns except by exiting the goroutine (normal shutdown) or by
// process termination (FatalError, or any failure reaching the top of
// the loop).
func (p *Processor) consume() {
	defer close(p.done)

	processed := 0

	for {
		p.wakeup.Wait()
		if p.isStopping() {
			return
		}

		if !p.acquireGitLock() {
			// Stopping was observed mid-spin.
			return
		}
		heldSince := time.Now()

		if result := p.runUntilSuccess(p.callbacks.Pre); result.Status == FatalError {
			die(fmt.Sprintf("pre-callback fatal error: %v", result.Err))
			return
		}

		if !p.drain(&processed) {
			// Stopping was observed mid-drain; durable store was
			// already flushed by drain before returning.
			return
		}

		if err := p.store.Flush(); err != nil {
			logger.Error("failed to flush durable queue: %v", err)
		}

		if result := p.runUntilSuccess(p.callbacks.Post); result.Status == FatalError {
			die(fmt.Sprintf("post-callback fatal error: %v", result.Err))
			return
		}

		p.releaseIfEmpty(heldSince)
	}
}

// acquireGitLock spin-polls GitLock.TryAcquire every gitLockPollInterval
// (50ms by default) until it succeeds or stopping is observed. Returns false in the latter case.
func (p *Processor) acquireGitLock() bool {
	for {
		if p.gitLock.TryAcquire(p.identity) {
			return true
		}
		if p.isStopping() {
			return false
		}
		time.Sleep(p.gitLockPollInterval)
	}
}

// runUntilSuccess implements spec §4.4a: repeat until Success, sleeping
// retryableBackoff between RetryableError attempts unless stopping (in
// which case the loop abandons and returns the last RetryableError
// result rather than looping forever).
func (p *Processor) runUntilSuccess(fn func() CallbackResult) CallbackResult {
	for {
		result := fn()
		switch result.Status {
		case Success:
			return result
		case FatalError:
			return result
		case RetryableError:
			if p.isStopping() {
				return result
			}
			time.Sleep(p.retryableBackoff)
		}
	}
}

// drain processes queued items one at a time until the queue empties or
// stopping is observed. Returns false if it exited because of stopping,
// in which case the durable store has already been flushed.
func (p *Processor) drain(processed *int) bool {
	for {
		op, ok := p.queue.peek()
		if !ok {
			return true
		}

		if p.isStopping() {
			if err := p.store.Flush(); err != nil {
				logger.Error("failed to flush durable queue during shutdown: %v", err)
			}
			return false
		}

		result := p.callbacks.PerItem(op)
		switch result.Status {
		case Success:
			p.queue.pop()
			if err := p.store.Delete(op.ID); err != nil {
				logger.Error("failed to delete completed operation %s: %v", op.ID, err)
			}
			*processed++
			p.metrics.ItemProcessed()
			p.metrics.QueueDepth(p.queue.len())

			if *processed%p.progressInterval == 0 {
				remaining := p.queue.len()
				logger.Info("TaskProcessingStatus: processed=%d remaining=%d", *processed, remaining)
				p.metrics.ProgressReported(*processed, remaining)
			}

		case RetryableError:
			p.metrics.ItemRetried()
			if !p.isStopping() {
				time.Sleep(p.retryableBackoff)
			}

		case FatalError:
			die(fmt.Sprintf("per-item callback fatal error for operation %s: %v", op.ID, result.Err))
			return false
		}
	}
}

// releaseIfEmpty implements spec §4.4b's safe release: acquire the
// AcquisitionLock writer side with a bounded timeout before releasing
// GitLock, to close the race against a producer mid-Enqueue. If the
// writer lock can't be obtained in time, or an item appeared while
// waiting, it re-enters the drain loop instead of releasing. Like every
// other retry loop in this file, it abandons as soon as stopping is
// observed rather than spinning against sustained producer traffic.
// heldSince is when this drain cycle's GitLock acquisition succeeded,
// used to report the hold duration once release actually happens.
func (p *Processor) releaseIfEmpty(heldSince time.Time) {
	for {
		if !p.queue.empty() {
			// Something appeared since Post ran; go back and drain it
			// before considering release again.
			var processed int
			if !p.drain(&processed) {
				return
			}
			continue
		}

		if !p.acqLock.TryAcquireWriter(p.acquisitionLockTimeout) {
			if p.isStopping() {
				return
			}
			continue
		}

		empty := p.queue.empty()
		if empty {
			p.gitLock.Release()
			p.metrics.GitLockHeld(time.Since(heldSince).Seconds())
		}
		p.acqLock.ReleaseWriter()

		if empty {
			return
		}
	}
}
