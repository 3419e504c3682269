package aec

// circularBuffer is a fixed-length rolling buffer used for both the FFT
// analysis windows (mic-in, far-in) and overlap-add synthesis (out).
// Grounded on original_source/src-tauri/src/aec/mod.rs's CircularBuffer.
type circularBuffer struct {
	data       []float32
	blockShift int
}

func newCircularBuffer(length, blockShift int) *circularBuffer {
	return &circularBuffer{
		data:       make([]float32, length),
		blockShift: blockShift,
	}
}

// pushChunk shifts the buffer left by blockShift samples and writes chunk
// (length blockShift, zero-padded if shorter) into the tail.
func (c *circularBuffer) pushChunk(chunk []float32) {
	n := len(c.data)
	copy(c.data[:n-c.blockShift], c.data[c.blockShift:])
	tail := c.data[n-c.blockShift:]
	for i := range tail {
		if i < len(chunk) {
			tail[i] = chunk[i]
		} else {
			tail[i] = 0
		}
	}
}

// shiftAndAccumulate shifts the buffer left by blockShift, zero-fills the
// tail, then adds block elementwise over its full length. This implements
// overlap-add: each call both emits the leading blockShift samples
// (matured by all previous overlapping blocks) and folds in the new block.
func (c *circularBuffer) shiftAndAccumulate(block []float32) {
	n := len(c.data)
	copy(c.data[:n-c.blockShift], c.data[c.blockShift:])
	tail := c.data[n-c.blockShift:]
	for i := range tail {
		tail[i] = 0
	}
	for i := 0; i < n && i < len(block); i++ {
		c.data[i] += block[i]
	}
}

// leading returns the first n samples, the portion ready to emit.
func (c *circularBuffer) leading(n int) []float32 {
	return c.data[:n]
}

func (c *circularBuffer) reset() {
	for i := range c.data {
		c.data[i] = 0
	}
}
