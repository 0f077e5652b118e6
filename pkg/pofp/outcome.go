package pofp

// OutcomeStatus is the tagged result of handling one HTTP response or one
// fetch attempt, mirroring the CallbackResult shape used by RBOP but
// scoped to this package's own domain so pofp carries no dependency on
// rbop.
type OutcomeStatus int

const (
	// OutcomeSuccess means the response was consumed and all contained
	// objects were written/published.
	OutcomeSuccess OutcomeStatus = iota
	// OutcomeRetryable means the attempt failed in a way a fresh HTTP
	// attempt may fix.
	OutcomeRetryable
	// OutcomeFatal means the batch cannot be recovered by retrying.
	OutcomeFatal
)

// Outcome is what an on-success handler or a fetch stage returns.
type Outcome struct {
	Status OutcomeStatus
	Err    error
}

// OutcomeOk is a convenience constructor for a successful outcome.
func OutcomeOk() Outcome { return Outcome{Status: OutcomeSuccess} }

// OutcomeRetry wraps err as a retryable outcome.
func OutcomeRetry(err error) Outcome { return Outcome{Status: OutcomeRetryable, Err: err} }

// OutcomeAbort wraps err as a fatal, non-retryable outcome.
func OutcomeAbort(err error) Outcome { return Outcome{Status: OutcomeFatal, Err: err} }
