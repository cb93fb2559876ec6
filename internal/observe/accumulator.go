package observe

// DefaultMaxBodyBytes caps how much of a response body is retained for reporting.
const DefaultMaxBodyBytes = 2 << 20

// Accumulator collects the chunks of one response body up to a byte cap.
//
// Once the cap would be exceeded the accumulator stops accepting bytes for the
// rest of the response; it never drops what it holds to start over. It only
// reads the chunks it is given and retains copies of them.
type Accumulator struct {
	buf       []byte
	truncated bool
	capacity  int
}

// NewAccumulator returns an accumulator holding at most capacity bytes.
// A non-positive capacity selects DefaultMaxBodyBytes.
func NewAccumulator(capacity int) *Accumulator {
	if capacity <= 0 {
		capacity = DefaultMaxBodyBytes
	}
	return &Accumulator{capacity: capacity}
}

// Observe records a chunk. When final is set it returns the collected body,
// or nil if the response overflowed the cap, together with the truncation
// flag, and resets the accumulator for reuse.
func (a *Accumulator) Observe(chunk []byte, final bool) (body []byte, truncated bool) {
	if !a.truncated && len(a.buf)+len(chunk) <= a.capacity {
		a.buf = append(a.buf, chunk...)
	} else {
		a.truncated = true
	}
	if !final {
		return nil, a.truncated
	}

	body, truncated = a.buf, a.truncated
	if truncated {
		body = nil
	}
	a.buf = nil
	a.truncated = false
	return body, truncated
}

// Len reports the number of retained bytes.
func (a *Accumulator) Len() int { return len(a.buf) }

// Truncated reports whether the current response overflowed the cap.
func (a *Accumulator) Truncated() bool { return a.truncated }
