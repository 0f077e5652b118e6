package pofp

// Chunker drains up to chunkSize items at a time from an upstream
// blocking channel and emits non-empty batches preserving arrival order.
// Grounded on the maxBatchSize chunking loop used for batched S3 deletes,
// adapted from a flat slice source to a channel source.
type Chunker struct {
	in        <-chan string
	chunkSize int
}

// NewChunker returns a Chunker draining in in batches of at most
// chunkSize. chunkSize<=1 is treated as 1.
func NewChunker(in <-chan string, chunkSize int) *Chunker {
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &Chunker{in: in, chunkSize: chunkSize}
}

// TryTake blocks on the first item until one arrives or in is closed; it
// then drains up to chunkSize-1 further items without blocking, so a
// batch never waits for more than the first element. Returns ok=false
// once in is closed and fully drained.
func (c *Chunker) TryTake() (batch []string, ok bool) {
	first, open := <-c.in
	if !open {
		return nil, false
	}

	batch = make([]string, 0, c.chunkSize)
	batch = append(batch, first)

	for len(batch) < c.chunkSize {
		select {
		case sha, open := <-c.in:
			if !open {
				return batch, true
			}
			batch = append(batch, sha)
		default:
			return batch, true
		}
	}

	return batch, true
}
