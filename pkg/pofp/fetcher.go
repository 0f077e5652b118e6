package pofp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gitvfsd/gitvfsd/internal/logger"
	"github.com/gitvfsd/gitvfsd/pkg/metrics"
)

// defaultHeartbeatInterval is how often Fetcher emits DownloadHeartbeat
// when FetcherConfig.HeartbeatInterval is left unset.
const defaultHeartbeatInterval = 20 * time.Second

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Client      *Client
	ObjectStore ObjectStore

	// TempDir holds in-progress pack downloads before the indexer takes
	// ownership of them.
	TempDir string

	// Workers bounds concurrent batch downloads.
	Workers int

	// CommitDepth is passed to bulk object requests.
	CommitDepth int

	// PreferBatchedLooseObjects sets content negotiation for
	// multi-object batches.
	PreferBatchedLooseObjects bool

	// HeartbeatInterval overrides how often Run emits DownloadHeartbeat.
	// Defaults to 20s.
	HeartbeatInterval time.Duration

	Metrics metrics.POFPMetrics
}

// Fetcher is the Object Fetcher (C6): it downloads each batch produced
// by the chunker (C5) as a loose object or a pack, dispatching by
// response content type, and publishes results to the downstream
// channels the orchestrator (C7) wires in.
type Fetcher struct {
	client      *Client
	objectStore ObjectStore
	tempDir     string
	workers     int
	commitDepth int
	preferBatch bool
	heartbeat   time.Duration
	metrics     metrics.POFPMetrics

	activeDownloads atomic.Int64
	bytesDownloaded atomic.Int64
	hasFailures     atomic.Bool
}

// NewFetcher builds a Fetcher from cfg, applying defaults for any zero
// fields.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	workers := cfg.Workers
	if workers == 0 {
		workers = 8
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoopPOFPMetrics()
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = defaultHeartbeatInterval
	}

	return &Fetcher{
		client:      cfg.Client,
		objectStore: cfg.ObjectStore,
		tempDir:     cfg.TempDir,
		workers:     workers,
		commitDepth: cfg.CommitDepth,
		preferBatch: cfg.PreferBatchedLooseObjects,
		heartbeat:   heartbeat,
		metrics:     m,
	}
}

// HasFailures reports whether any batch has exhausted its retries since
// the Fetcher was created.
func (f *Fetcher) HasFailures() bool {
	return f.hasFailures.Load()
}

// BytesDownloaded returns the running total of response bytes written.
func (f *Fetcher) BytesDownloaded() int64 {
	return f.bytesDownloaded.Load()
}

// Run drains requests with Workers concurrent goroutines, publishing
// available SHAs and IndexPackRequests to the given channels, until
// requests is closed and fully drained. It closes both output channels
// before returning, per the "stage closes its output channel in its
// after-work hook" rule in spec.md §5.
func (f *Fetcher) Run(ctx context.Context, requests <-chan BlobDownloadRequest, availableSHAs chan<- string, availablePacks chan<- IndexPackRequest) {
	stopHeartbeat := make(chan struct{})
	var heartbeatWG sync.WaitGroup
	heartbeatWG.Add(1)
	go func() {
		defer heartbeatWG.Done()
		f.heartbeatLoop(stopHeartbeat)
	}()

	var workerWG sync.WaitGroup
	workerWG.Add(f.workers)
	for i := 0; i < f.workers; i++ {
		go func() {
			defer workerWG.Done()
			for req := range requests {
				f.fetchBatch(ctx, req, availableSHAs, availablePacks)
			}
		}()
	}

	workerWG.Wait()
	close(stopHeartbeat)
	heartbeatWG.Wait()

	close(availableSHAs)
	close(availablePacks)
}

func (f *Fetcher) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(f.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			active := int(f.activeDownloads.Load())
			logger.Info("DownloadHeartbeat: active downloads=%d", active)
			f.metrics.Heartbeat(active)
		case <-stop:
			return
		}
	}
}

func (f *Fetcher) fetchBatch(ctx context.Context, req BlobDownloadRequest, availableSHAs chan<- string, availablePacks chan<- IndexPackRequest) {
	f.activeDownloads.Add(1)
	defer f.activeDownloads.Add(-1)

	var result interface {
		succeeded() bool
	}

	if len(req.SHAs) == 1 {
		result = f.fetchSingle(ctx, req, availableSHAs, availablePacks)
	} else {
		result = f.fetchBulk(ctx, req, availableSHAs, availablePacks)
	}

	if !result.succeeded() {
		f.hasFailures.Store(true)
		logger.Warn("pack %d exhausted retries for %d sha(s)", req.PackID, len(req.SHAs))
	}
}

type fetchResult bool

func (r fetchResult) succeeded() bool { return bool(r) }

func (f *Fetcher) fetchSingle(ctx context.Context, req BlobDownloadRequest, availableSHAs chan<- string, availablePacks chan<- IndexPackRequest) fetchResult {
	sha := req.SHAs[0]

	invocation := f.client.TryDownloadLooseObject(ctx, sha, func(attempt int, contentType ContentType, resp *http.Response) Outcome {
		return f.writeObjectOrPack(contentType, resp, req, sha, availableSHAs, availablePacks)
	})

	return fetchResult(invocation.Succeeded)
}

func (f *Fetcher) fetchBulk(ctx context.Context, req BlobDownloadRequest, availableSHAs chan<- string, availablePacks chan<- IndexPackRequest) fetchResult {
	var mu sync.Mutex
	succeeded := make(map[string]struct{}, len(req.SHAs))

	shaProvider := func(int) []string {
		mu.Lock()
		defer mu.Unlock()

		remaining := make([]string, 0, len(req.SHAs))
		for _, sha := range req.SHAs {
			if _, done := succeeded[sha]; !done {
				remaining = append(remaining, sha)
			}
		}
		return remaining
	}

	invocation := f.client.TryDownloadObjects(ctx, shaProvider, f.commitDepth, f.preferBatch, func(attempt int, contentType ContentType, resp *http.Response) Outcome {
		return f.writeObjectOrPackBulk(contentType, resp, req, &mu, succeeded, availableSHAs, availablePacks)
	})

	return fetchResult(invocation.Succeeded)
}

// writeObjectOrPack handles the response for a single-SHA request.
func (f *Fetcher) writeObjectOrPack(contentType ContentType, resp *http.Response, req BlobDownloadRequest, sha string, availableSHAs chan<- string, availablePacks chan<- IndexPackRequest) Outcome {
	defer resp.Body.Close()

	switch contentType {
	case LooseObject:
		n, err := f.writeLooseObject(sha, resp.Body)
		if err != nil {
			return OutcomeRetry(err)
		}
		f.recordBytes(n)
		availableSHAs <- sha
		return OutcomeOk()

	case PackFile:
		return f.writePack(resp.Body, req, availablePacks)

	default:
		return OutcomeRetry(fmt.Errorf("unexpected content type %s for single-sha request", contentType))
	}
}

// writeObjectOrPackBulk handles the response for a multi-SHA request,
// additionally tracking which SHAs have been successfully received so a
// retry resends only the remainder.
func (f *Fetcher) writeObjectOrPackBulk(contentType ContentType, resp *http.Response, req BlobDownloadRequest, mu *sync.Mutex, succeeded map[string]struct{}, availableSHAs chan<- string, availablePacks chan<- IndexPackRequest) Outcome {
	defer resp.Body.Close()

	switch contentType {
	case PackFile:
		return f.writePack(resp.Body, req, availablePacks)

	case BatchedLooseObjects:
		err := decodeBatchedLooseObjects(resp.Body, func(sha string, body io.Reader) error {
			n, writeErr := f.writeLooseObject(sha, body)
			if writeErr != nil {
				return writeErr
			}
			f.recordBytes(n)

			mu.Lock()
			succeeded[sha] = struct{}{}
			mu.Unlock()

			availableSHAs <- sha
			return nil
		})
		if err != nil {
			return OutcomeRetry(err)
		}
		return OutcomeOk()

	default:
		return OutcomeRetry(fmt.Errorf("unexpected content type %s for bulk request", contentType))
	}
}

func (f *Fetcher) writeLooseObject(sha string, body io.Reader) (int64, error) {
	counting := &countingReader{r: body}
	if err := f.objectStore.WriteLooseObject(sha, counting); err != nil {
		return 0, fmt.Errorf("failed to write loose object %s: %w", sha, err)
	}
	return counting.n, nil
}

// writePack streams resp.Body into a temp pack file and, once the fetch
// completes with a non-empty file, publishes the resulting
// IndexPackRequest. A temp pack that ends up empty is treated as a
// retryable failure, per spec.md §4.6's invariant.
func (f *Fetcher) writePack(body io.Reader, req BlobDownloadRequest, availablePacks chan<- IndexPackRequest) Outcome {
	tmp, err := os.CreateTemp(f.tempDir, fmt.Sprintf("pack-%d-*.tmp", req.PackID))
	if err != nil {
		return OutcomeRetry(fmt.Errorf("failed to create temp pack file: %w", err))
	}
	tmpPath := tmp.Name()

	n, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()

	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return OutcomeRetry(fmt.Errorf("failed to stream pack to %s: %w", tmpPath, copyErr))
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return OutcomeRetry(fmt.Errorf("failed to close temp pack file %s: %w", tmpPath, closeErr))
	}
	if n == 0 {
		_ = os.Remove(tmpPath)
		return OutcomeRetry(fmt.Errorf("temp pack file %s is empty after fetch", tmpPath))
	}

	f.recordBytes(n)
	availablePacks <- IndexPackRequest{TempPackPath: tmpPath, Request: req}
	return OutcomeOk()
}

func (f *Fetcher) recordBytes(n int64) {
	f.bytesDownloaded.Add(n)
	f.metrics.BytesDownloaded(n)
}

// countingReader wraps an io.Reader to total the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
