package pofp

import (
	"context"
	"sync/atomic"
)

// BlobFinder discovers missing blob SHAs reachable from the current
// checkout diff and streams them to out, closing out when the search
// completes. It reports its own failure via the returned error.
type BlobFinder func(ctx context.Context, out chan<- string) error

// PackIndexer consumes IndexPackRequests, indexes each pack, and streams
// the packed objects' SHAs to out as they become available for
// checkout. It closes out when in is closed and drained.
type PackIndexer func(ctx context.Context, in <-chan IndexPackRequest, out chan<- string) error

// Checkout consumes the fully-merged stream of available SHAs and
// materializes them into the working tree. It returns when in is closed
// and drained.
type Checkout func(ctx context.Context, in <-chan string) error

// OrchestratorConfig wires the checkout-path stages together.
type OrchestratorConfig struct {
	Finder    BlobFinder
	Fetcher   *Fetcher
	Indexer   PackIndexer
	Checkout  Checkout
	ChunkSize int
}

// Orchestrator is the Pipeline Orchestrator (C7): it wires
// diff-helper → FindMissingBlobs → downloader(C6) → pack-indexer →
// checkout, propagating channel completion in the exact order required
// by spec.md §4.7 to avoid both dropped SHAs and deadlock.
type Orchestrator struct {
	cfg OrchestratorConfig

	hasFailures atomic.Bool
}

// NewOrchestrator builds an Orchestrator from cfg.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

// HasFailures reports whether any stage reported a failure during any
// Run of this Orchestrator; the flag is never cleared between Runs.
func (o *Orchestrator) HasFailures() bool {
	return o.hasFailures.Load()
}

// Run drives one complete fetch-and-checkout pass and blocks until the
// checkout stage finishes.
//
// Completion order (spec.md §4.7):
//  1. start downloader, blob-finder, checkout workers
//  2. wait for blob-finder completion, OR its failure into the flag
//  3. only then start the pack indexer
//  4. wait for downloader completion, OR failures
//  5. wait for pack indexer completion, OR failures
//  6. close the checkout's merged input channel (indexer is the last producer)
//  7. wait for checkout completion
func (o *Orchestrator) Run(ctx context.Context) error {
	missingSHAs := make(chan string)
	batches := make(chan BlobDownloadRequest)
	availableSHAs := make(chan string)
	availablePacks := make(chan IndexPackRequest)
	checkoutInput := make(chan string)

	finderDone := make(chan error, 1)
	go func() {
		finderDone <- o.cfg.Finder(ctx, missingSHAs)
	}()

	go o.runChunker(missingSHAs, batches)

	fetcherDone := make(chan struct{})
	go func() {
		o.cfg.Fetcher.Run(ctx, batches, availableSHAs, availablePacks)
		close(fetcherDone)
	}()

	checkoutDone := make(chan error, 1)
	go func() {
		checkoutDone <- o.cfg.Checkout(ctx, checkoutInput)
	}()

	mergeDone := make(chan struct{})
	go o.mergeIntoCheckout(availableSHAs, checkoutInput, mergeDone)

	if err := <-finderDone; err != nil {
		o.hasFailures.Store(true)
	}

	indexedSHAs := make(chan string)
	indexerDone := make(chan error, 1)
	go func() {
		indexerDone <- o.cfg.Indexer(ctx, availablePacks, indexedSHAs)
	}()

	indexerMergeDone := make(chan struct{})
	go o.mergeIntoCheckout(indexedSHAs, checkoutInput, indexerMergeDone)

	<-fetcherDone
	if o.cfg.Fetcher.HasFailures() {
		o.hasFailures.Store(true)
	}

	if err := <-indexerDone; err != nil {
		o.hasFailures.Store(true)
	}

	<-mergeDone
	<-indexerMergeDone
	close(checkoutInput)

	if err := <-checkoutDone; err != nil {
		o.hasFailures.Store(true)
		return err
	}
	return nil
}

// runChunker bridges the raw discovered-SHA stream into batches for the
// fetcher, closing batches once missingSHAs is closed and drained.
func (o *Orchestrator) runChunker(missingSHAs <-chan string, batches chan<- BlobDownloadRequest) {
	defer close(batches)

	chunker := NewChunker(missingSHAs, o.cfg.ChunkSize)
	for {
		shas, ok := chunker.TryTake()
		if !ok {
			return
		}
		batches <- BlobDownloadRequest{SHAs: shas, PackID: NextPackID()}
	}
}

// mergeIntoCheckout forwards every SHA from src onto dst without closing
// dst — dst is shared by two producers (fetcher-published loose SHAs and
// indexer-published pack SHAs) and only the orchestrator, once both have
// finished, is allowed to close it.
func (o *Orchestrator) mergeIntoCheckout(src <-chan string, dst chan<- string, done chan<- struct{}) {
	defer close(done)
	for sha := range src {
		dst <- sha
	}
}
