package job

import "sync"

// chunkSize is the number of slots in each chunk of the work queue.
const chunkSize = 128

// chunk is a fixed-size node in the chunked linked list backing workQueue.
type chunk struct {
	next    *chunk
	items   [chunkSize]func()
	readPos int
	pos     int
}

var chunkPool = sync.Pool{ //nolint:gochecknoglobals // shared free list
	New: func() any {
		return &chunk{}
	},
}

func newChunk() *chunk {
	c := chunkPool.Get().(*chunk) //nolint:errcheck // pool only holds chunks
	c.next = nil
	c.readPos = 0
	c.pos = 0
	return c
}

// releaseChunk clears the used slots so queued closures can be collected, then returns c to the
// pool.
func releaseChunk(c *chunk) {
	for i := range c.pos {
		c.items[i] = nil
	}
	c.next = nil
	c.readPos = 0
	c.pos = 0
	chunkPool.Put(c)
}

// workQueue is an unbounded FIFO of closures. It is not safe for concurrent use; the worker pool
// guards it with its own mutex.
type workQueue struct {
	head   *chunk
	tail   *chunk
	length int
}

func (q *workQueue) push(fn func()) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	}
	if q.tail.pos == chunkSize {
		c := newChunk()
		q.tail.next = c
		q.tail = c
	}
	q.tail.items[q.tail.pos] = fn
	q.tail.pos++
	q.length++
}

func (q *workQueue) pop() (func(), bool) {
	if q.length == 0 {
		return nil, false
	}

	c := q.head
	fn := c.items[c.readPos]
	c.items[c.readPos] = nil
	c.readPos++
	q.length--

	if c.readPos == c.pos {
		// Chunk fully consumed. Keep the last chunk around to avoid churn on a drained queue.
		if c.next == nil {
			c.readPos = 0
			c.pos = 0
		} else {
			q.head = c.next
			releaseChunk(c)
		}
	}
	return fn, true
}

func (q *workQueue) len() int {
	return q.length
}
