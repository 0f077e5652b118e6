// Package pofp implements the Parallel Object Fetch Pipeline: a
// multi-stage producer/consumer pipeline that batches missing blob SHAs,
// downloads them over HTTP as loose objects or packfiles with bounded
// retry, indexes received packs, and streams available-object ids to a
// checkout stage.
package pofp

import "sync/atomic"

// ContentType discriminates the object-endpoint response body.
type ContentType int

const (
	// LooseObject is a single compressed object body.
	LooseObject ContentType = iota
	// PackFile is a full packfile stream.
	PackFile
	// BatchedLooseObjects is a framed stream of (sha, body) records.
	BatchedLooseObjects
)

func (c ContentType) String() string {
	switch c {
	case LooseObject:
		return "loose-object"
	case PackFile:
		return "pack-file"
	case BatchedLooseObjects:
		return "batched-loose-objects"
	default:
		return "unknown"
	}
}

// packIDCounter hands out monotonically increasing pack identifiers for
// telemetry correlation — see BlobDownloadRequest.PackID.
var packIDCounter uint64

// NextPackID returns the next monotonically-assigned pack identifier.
func NextPackID() uint64 {
	return atomic.AddUint64(&packIDCounter, 1)
}

// BlobDownloadRequest is a non-empty ordered batch of object SHAs
// produced by the bounded chunker (C5) and consumed by the object
// fetcher (C6). PackID is assigned once per batch purely for telemetry
// correlation; it has no bearing on retry or ordering semantics.
type BlobDownloadRequest struct {
	SHAs   []string
	PackID uint64
}

// IndexPackRequest pairs an on-disk temp-pack path with the
// BlobDownloadRequest that produced it. Ownership of the pack file
// passes to the indexer on channel transfer — the fetcher must not
// touch it again.
type IndexPackRequest struct {
	TempPackPath string
	Request      BlobDownloadRequest
}
