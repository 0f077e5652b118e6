package pofp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestClient_TryDownloadLooseObject_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(contentTypeHeader, contentTypeValueLoose)
		_, _ = w.Write([]byte("object-body"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxAttempts: 3, BackoffBase: 0})

	var gotBody string
	invocation := client.TryDownloadLooseObject(context.Background(), "abc123", func(attempt int, contentType ContentType, resp *http.Response) Outcome {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return OutcomeAbort(err)
		}
		gotBody = string(data)
		return OutcomeOk()
	})

	if !invocation.Succeeded {
		t.Fatalf("invocation did not succeed: %v", invocation.LastError)
	}
	if invocation.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", invocation.Attempts)
	}
	if gotBody != "object-body" {
		t.Fatalf("body = %q, want object-body", gotBody)
	}
}

func TestClient_TryDownloadLooseObject_RetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set(contentTypeHeader, contentTypeValueLoose)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxAttempts: 5, BackoffBase: 0})

	invocation := client.TryDownloadLooseObject(context.Background(), "sha", func(attempt int, contentType ContentType, resp *http.Response) Outcome {
		_, _ = io.ReadAll(resp.Body)
		return OutcomeOk()
	})

	if !invocation.Succeeded {
		t.Fatalf("invocation did not succeed: %v", invocation.LastError)
	}
	if invocation.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", invocation.Attempts)
	}
}

func TestClient_TryDownloadLooseObject_ExhaustsRetriesOnPersistentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxAttempts: 3, BackoffBase: 0})

	invocation := client.TryDownloadLooseObject(context.Background(), "sha", func(attempt int, contentType ContentType, resp *http.Response) Outcome {
		return OutcomeOk()
	})

	if invocation.Succeeded {
		t.Fatal("expected invocation to fail after exhausting retries")
	}
	if invocation.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", invocation.Attempts)
	}
}

func TestClient_TryDownloadObjects_QueriesProviderFreshEachAttempt(t *testing.T) {
	var seenBatches [][]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		values, _ := url.ParseQuery(string(body))
		seenBatches = append(seenBatches, values["sha"])

		if len(seenBatches) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set(contentTypeHeader, contentTypeValuePack)
		_, _ = w.Write([]byte("pack-bytes"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxAttempts: 2, BackoffBase: 0})

	// Simulates a caller tracking which SHAs already succeeded: the
	// first attempt requests all three, the second (a retry) requests
	// only the one not yet received.
	shaProvider := func(attempt int) []string {
		if attempt == 1 {
			return []string{"a", "b", "c"}
		}
		return []string{"c"}
	}

	invocation := client.TryDownloadObjects(context.Background(), shaProvider, 0, true, func(attempt int, contentType ContentType, resp *http.Response) Outcome {
		_, _ = io.ReadAll(resp.Body)
		return OutcomeOk()
	})

	if !invocation.Succeeded {
		t.Fatalf("invocation did not succeed: %v", invocation.LastError)
	}
	if len(seenBatches) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(seenBatches))
	}
	if len(seenBatches[0]) != 3 {
		t.Fatalf("first request sha count = %d, want 3", len(seenBatches[0]))
	}
	if len(seenBatches[1]) != 1 || seenBatches[1][0] != "c" {
		t.Fatalf("second request shas = %v, want [c]", seenBatches[1])
	}
}
