package rbop

// Callbacks is the consumer's view into the three hand-off points of a
// drain cycle: a one-time setup before draining, one invocation per
// queued item, and a one-time teardown after the queue empties.
//
// Idempotency requirement: an item is deleted from the durable store
// strictly after its PerItem callback returns Success, never before. A
// crash between "PerItem returned Success" and "the delete flushed"
// replays that same operation on the next Start. Callback authors must
// therefore make PerItem safe to invoke more than once for the same
// BackgroundOperation (see DESIGN.md's Open Question 2).
type Callbacks interface {
	// Pre runs once, after GitLock is acquired and before the drain
	// loop begins. Typically used to snapshot repository state the
	// per-item callback will compare against.
	Pre() CallbackResult

	// PerItem processes a single queued operation. Returning
	// RetryableError leaves the item at the head of the queue for a
	// later retry; it must not be dequeued or deleted by the callback
	// itself.
	PerItem(op BackgroundOperation) CallbackResult

	// Post runs once, after the in-memory queue has drained to empty
	// and the durable store has been flushed, before GitLock is
	// considered for release.
	Post() CallbackResult
}
