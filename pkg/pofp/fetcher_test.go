package pofp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFetcher_SingleSHALooseObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(contentTypeHeader, contentTypeValueLoose)
		_, _ = w.Write([]byte("object-bytes"))
	}))
	defer server.Close()

	objectRoot := t.TempDir()
	objectStore, err := NewFilesystemObjectStore(objectRoot)
	if err != nil {
		t.Fatalf("NewFilesystemObjectStore: %v", err)
	}

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxAttempts: 2, BackoffBase: 0})
	fetcher := NewFetcher(FetcherConfig{Client: client, ObjectStore: objectStore, TempDir: t.TempDir(), Workers: 2})

	requests := make(chan BlobDownloadRequest, 1)
	requests <- BlobDownloadRequest{SHAs: []string{"abc1234567"}, PackID: 1}
	close(requests)

	availableSHAs := make(chan string, 4)
	availablePacks := make(chan IndexPackRequest, 4)

	fetcher.Run(context.Background(), requests, availableSHAs, availablePacks)

	shas := drainStrings(t, availableSHAs)
	if len(shas) != 1 || shas[0] != "abc1234567" {
		t.Fatalf("availableSHAs = %v, want [abc1234567]", shas)
	}
	if fetcher.HasFailures() {
		t.Fatal("expected no failures")
	}

	got, err := os.ReadFile(filepath.Join(objectRoot, "ab", "c1234567"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "object-bytes" {
		t.Fatalf("content = %q, want object-bytes", got)
	}
}

func TestFetcher_SingleSHAPackResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(contentTypeHeader, contentTypeValuePack)
		_, _ = w.Write([]byte("pack-contents"))
	}))
	defer server.Close()

	objectStore, err := NewFilesystemObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemObjectStore: %v", err)
	}
	tempDir := t.TempDir()

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxAttempts: 2, BackoffBase: 0})
	fetcher := NewFetcher(FetcherConfig{Client: client, ObjectStore: objectStore, TempDir: tempDir, Workers: 1})

	requests := make(chan BlobDownloadRequest, 1)
	requests <- BlobDownloadRequest{SHAs: []string{"deadbeef00"}, PackID: 2}
	close(requests)

	availableSHAs := make(chan string, 4)
	availablePacks := make(chan IndexPackRequest, 4)

	fetcher.Run(context.Background(), requests, availableSHAs, availablePacks)

	packs := drainPacks(t, availablePacks)
	if len(packs) != 1 {
		t.Fatalf("got %d pack requests, want 1", len(packs))
	}
	data, err := os.ReadFile(packs[0].TempPackPath)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", packs[0].TempPackPath, err)
	}
	if string(data) != "pack-contents" {
		t.Fatalf("pack content = %q, want pack-contents", data)
	}
}

func TestFetcher_BulkBatchedLooseObjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(contentTypeHeader, contentTypeValueBatchedLoose)
		writeRecord(w, "sha0000001", []byte("body-one"))
		writeRecord(w, "sha0000002", []byte("body-two"))
	}))
	defer server.Close()

	objectRoot := t.TempDir()
	objectStore, err := NewFilesystemObjectStore(objectRoot)
	if err != nil {
		t.Fatalf("NewFilesystemObjectStore: %v", err)
	}

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxAttempts: 2, BackoffBase: 0})
	fetcher := NewFetcher(FetcherConfig{Client: client, ObjectStore: objectStore, TempDir: t.TempDir(), Workers: 1, PreferBatchedLooseObjects: true})

	requests := make(chan BlobDownloadRequest, 1)
	requests <- BlobDownloadRequest{SHAs: []string{"sha0000001", "sha0000002"}, PackID: 3}
	close(requests)

	availableSHAs := make(chan string, 4)
	availablePacks := make(chan IndexPackRequest, 4)

	fetcher.Run(context.Background(), requests, availableSHAs, availablePacks)

	shas := drainStrings(t, availableSHAs)
	if len(shas) != 2 {
		t.Fatalf("availableSHAs = %v, want 2 entries", shas)
	}
}

func TestFetcher_EmptyPackIsRetryableAndEventuallyFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(contentTypeHeader, contentTypeValuePack)
		// no body written: empty pack
	}))
	defer server.Close()

	objectStore, err := NewFilesystemObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemObjectStore: %v", err)
	}

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxAttempts: 2, BackoffBase: 0})
	fetcher := NewFetcher(FetcherConfig{Client: client, ObjectStore: objectStore, TempDir: t.TempDir(), Workers: 1})

	requests := make(chan BlobDownloadRequest, 1)
	requests <- BlobDownloadRequest{SHAs: []string{"feedface00"}, PackID: 4}
	close(requests)

	availableSHAs := make(chan string, 4)
	availablePacks := make(chan IndexPackRequest, 4)

	fetcher.Run(context.Background(), requests, availableSHAs, availablePacks)

	if !fetcher.HasFailures() {
		t.Fatal("expected HasFailures() to be true after an empty pack exhausts retries")
	}
}

func drainStrings(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-deadline:
			t.Fatal("timed out draining string channel")
		}
	}
}

func drainPacks(t *testing.T, ch <-chan IndexPackRequest) []IndexPackRequest {
	t.Helper()
	var out []IndexPackRequest
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-deadline:
			t.Fatal("timed out draining pack channel")
		}
	}
}

func writeRecord(w http.ResponseWriter, sha string, body []byte) {
	_, _ = w.Write([]byte{byte(len(sha))})
	_, _ = w.Write([]byte(sha))
	lenBuf := make([]byte, 4)
	lenBuf[0] = byte(len(body) >> 24)
	lenBuf[1] = byte(len(body) >> 16)
	lenBuf[2] = byte(len(body) >> 8)
	lenBuf[3] = byte(len(body))
	_, _ = w.Write(lenBuf)
	_, _ = w.Write(body)
}
