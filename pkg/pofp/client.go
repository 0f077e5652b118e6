package pofp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gitvfsd/gitvfsd/internal/ratelimiter"
	"github.com/gitvfsd/gitvfsd/pkg/metrics"
	"github.com/gitvfsd/gitvfsd/pkg/retry"
)

// contentTypeHeader is the response header the object endpoints use to
// disambiguate the body framing, per spec.md §4.6/§6.
const contentTypeHeader = "X-Git-Object-Content-Type"

const (
	contentTypeValueLoose        = "loose-object"
	contentTypeValuePack         = "pack-file"
	contentTypeValueBatchedLoose = "batched-loose-objects"
)

func parseContentType(header http.Header) (ContentType, error) {
	switch header.Get(contentTypeHeader) {
	case contentTypeValueLoose:
		return LooseObject, nil
	case contentTypeValuePack:
		return PackFile, nil
	case contentTypeValueBatchedLoose:
		return BatchedLooseObjects, nil
	case "":
		return PackFile, nil
	default:
		return 0, fmt.Errorf("unrecognized %s header value %q", contentTypeHeader, header.Get(contentTypeHeader))
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the smart-HTTP remote root, e.g. "https://example.com/org/repo.git".
	BaseURL string

	// MaxAttempts and BackoffBase parameterize the retry wrapper (C1)
	// used for every request.
	MaxAttempts int
	BackoffBase float64

	// RequestsPerSecond and Burst configure the token-bucket pacing
	// applied before every attempt. A zero RequestsPerSecond means
	// unlimited (Burst is then ignored); with a non-zero rate, a zero
	// Burst makes every attempt fail its pacing wait.
	RequestsPerSecond uint
	Burst             uint

	HTTPClient *http.Client
	Metrics    metrics.POFPMetrics
}

// Client is the Retryable HTTP Client (C8): it exposes the two
// object-endpoint download operations, retrying transient failures via
// the retry wrapper (C1) and pacing requests via a token-bucket limiter.
type Client struct {
	baseURL     string
	maxAttempts int
	backoffBase float64
	httpClient  *http.Client
	limiter     *ratelimiter.RateLimiter
	metrics     metrics.POFPMetrics
}

// NewClient builds a Client from cfg, applying defaults for any zero
// fields.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 5
	}
	backoffBase := cfg.BackoffBase
	if backoffBase == 0 {
		backoffBase = 2
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoopPOFPMetrics()
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		httpClient:  httpClient,
		limiter:     ratelimiter.New(cfg.RequestsPerSecond, cfg.Burst),
		metrics:     m,
	}
}

// OnResponse is invoked once per HTTP attempt with the 1-based attempt
// number and the live response; it must fully consume or close resp.Body
// and report what happened via the returned Outcome.
type OnResponse func(attempt int, contentType ContentType, resp *http.Response) Outcome

// TryDownloadLooseObject requests the single-object endpoint for sha,
// retrying via C1 until onResponse reports success or retries are
// exhausted.
func (c *Client) TryDownloadLooseObject(ctx context.Context, sha string, onResponse OnResponse) retry.InvocationResult[Outcome] {
	endpoint := fmt.Sprintf("%s/objects/%s", c.baseURL, sha)
	return c.doRetryable(ctx, http.MethodGet, endpoint, nil, onResponse)
}

// TryDownloadObjects requests the bulk object endpoint. shaProvider is
// called once per attempt so that a retry can resend only the SHAs not
// yet successfully received (tracked by the caller in a local set, per
// spec.md §4.6). commitDepth bounds how far back the server may walk
// history when resolving a batched request; preferBatchedLooseObjects
// sets the content negotiation header favoring a BatchedLooseObjects
// response over a pack when both are valid for the request shape.
func (c *Client) TryDownloadObjects(ctx context.Context, shaProvider func(attempt int) []string, commitDepth int, preferBatchedLooseObjects bool, onResponse OnResponse) retry.InvocationResult[Outcome] {
	endpoint := fmt.Sprintf("%s/objects/batch", c.baseURL)

	op := func(attempt int) retry.Result[Outcome] {
		shas := shaProvider(attempt)
		if len(shas) == 0 {
			return retry.Result[Outcome]{Value: OutcomeOk()}
		}

		body := strings.NewReader(encodeBatchRequest(shas, commitDepth))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return retry.Result[Outcome]{Err: err, ShouldRetry: false}
		}
		req.Header.Set("Content-Type", "application/x-git-sha-batch")
		if preferBatchedLooseObjects {
			req.Header.Set("Accept", contentTypeValueBatchedLoose+", "+contentTypeValuePack)
		} else {
			req.Header.Set("Accept", contentTypeValuePack+", "+contentTypeValueBatchedLoose)
		}

		return c.attempt(attempt, req, onResponse)
	}

	return retry.Invoke(op, c.maxAttempts, c.backoffBase, c.observer)
}

func (c *Client) doRetryable(ctx context.Context, method, endpoint string, body []byte, onResponse OnResponse) retry.InvocationResult[Outcome] {
	op := func(attempt int) retry.Result[Outcome] {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return retry.Result[Outcome]{Err: err, ShouldRetry: false}
		}
		return c.attempt(attempt, req, onResponse)
	}
	return retry.Invoke(op, c.maxAttempts, c.backoffBase, c.observer)
}

// attempt performs a single paced HTTP round-trip and translates its
// outcome into a retry.Result.
func (c *Client) attempt(attempt int, req *http.Request, onResponse OnResponse) retry.Result[Outcome] {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return retry.Result[Outcome]{Err: err, ShouldRetry: false}
	}

	resp, err := c.httpClient.Do(req)
	c.metrics.RequestCompleted()
	if err != nil {
		return retry.Result[Outcome]{Err: err, ShouldRetry: req.Context().Err() == nil}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return retry.Result[Outcome]{
			Err:         fmt.Errorf("object endpoint %s returned status %d", req.URL, resp.StatusCode),
			ShouldRetry: true,
		}
	}

	contentType, err := parseContentType(resp.Header)
	if err != nil {
		_ = resp.Body.Close()
		return retry.Result[Outcome]{Err: err, ShouldRetry: false}
	}

	outcome := onResponse(attempt, contentType, resp)
	switch outcome.Status {
	case OutcomeSuccess:
		return retry.Result[Outcome]{Value: outcome}
	case OutcomeFatal:
		return retry.Result[Outcome]{Err: outcome.Err, ShouldRetry: false}
	default:
		return retry.Result[Outcome]{Err: outcome.Err, ShouldRetry: true}
	}
}

func (c *Client) observer(attempt int, err error, willRetry bool) {
	if !willRetry {
		c.metrics.BatchFailed()
	}
}

// encodeBatchRequest renders a bulk object request body as form-encoded
// sha/depth pairs; the exact wire format is owned by the remote, but this
// keeps request construction in one testable place.
func encodeBatchRequest(shas []string, commitDepth int) string {
	values := url.Values{}
	for _, sha := range shas {
		values.Add("sha", sha)
	}
	values.Set("depth", strconv.Itoa(commitDepth))
	return values.Encode()
}
