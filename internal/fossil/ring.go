package fossil

// ring is a bounded FIFO byte buffer backing a session's input or output
// queue. Writes accept as many bytes as fit and report the count; callers
// must surface partial acceptance accurately rather than silently truncate.
// Not safe for concurrent use; the owning session's lock guards it.
type ring struct {
	buf  []byte
	r    int
	w    int
	size int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]byte, capacity)}
}

// write copies as much of p as fits and returns the number of bytes taken.
func (q *ring) write(p []byte) int {
	free := len(q.buf) - q.size
	if free == 0 || len(p) == 0 {
		return 0
	}
	n := len(p)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		q.buf[q.w] = p[i]
		q.w++
		if q.w == len(q.buf) {
			q.w = 0
		}
	}
	q.size += n
	return n
}

// read removes and returns up to max buffered bytes. An empty buffer yields
// an empty slice immediately.
func (q *ring) read(max int) []byte {
	if max <= 0 || q.size == 0 {
		return nil
	}
	n := q.size
	if n > max {
		n = max
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = q.buf[q.r]
		q.r++
		if q.r == len(q.buf) {
			q.r = 0
		}
	}
	q.size -= n
	return out
}

func (q *ring) length() int {
	return q.size
}

func (q *ring) reset() {
	q.r, q.w, q.size = 0, 0, 0
}
