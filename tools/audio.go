package tools

import "sync"

// BlockBuffer accumulates captured samples and hands them out in fixed-size
// blocks. When the capacity is exceeded the oldest samples are dropped.
type BlockBuffer struct {
	mu     sync.Mutex
	buffer []float32
	block  int
	cap    int
}

func NewBlockBuffer(block, fixedCap int) *BlockBuffer {
	if fixedCap < block {
		fixedCap = block
	}
	return &BlockBuffer{
		buffer: make([]float32, 0, fixedCap),
		block:  block,
		cap:    fixedCap,
	}
}

func (bb *BlockBuffer) Write(samples []float32) (dropped int) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if len(samples) > bb.cap {
		dropped = len(samples) - bb.cap
		samples = samples[dropped:]
	}
	if over := len(bb.buffer) + len(samples) - bb.cap; over > 0 {
		bb.buffer = append(bb.buffer[:0], bb.buffer[over:]...)
		dropped += over
	}
	bb.buffer = append(bb.buffer, samples...)
	return dropped
}

// Next pops one full block, or returns false when fewer samples are buffered.
func (bb *BlockBuffer) Next() ([]float32, bool) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if len(bb.buffer) < bb.block {
		return nil, false
	}
	out := make([]float32, bb.block)
	copy(out, bb.buffer[:bb.block])
	bb.buffer = append(bb.buffer[:0], bb.buffer[bb.block:]...)
	return out, true
}

func (bb *BlockBuffer) Len() int {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return len(bb.buffer)
}

func (bb *BlockBuffer) Reset() {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	bb.buffer = bb.buffer[:0]
}
