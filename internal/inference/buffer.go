package inference

import "fmt"

// TokenBuffer is the fixed-shape token input of a runtime.
type TokenBuffer struct {
	data  []int64
	valid int
	past  int
}

func NewTokenBuffer(size int) *TokenBuffer {
	return &TokenBuffer{data: make([]int64, size)}
}

// Load writes a prompt into the leading slots and zeroes the rest.
func (b *TokenBuffer) Load(ids []int) error {
	if len(ids) > len(b.data) {
		return fmt.Errorf("prompt has %d tokens, input holds %d", len(ids), len(b.data))
	}
	clear(b.data)
	for i, id := range ids {
		b.data[i] = int64(id)
	}
	b.valid = len(ids)
	b.past = 0
	return nil
}

// Feed replaces the buffer with the single token to feed back on the next
// step. The graph carries earlier context in its own state; Past counts the
// tokens it has already consumed.
func (b *TokenBuffer) Feed(id int) {
	clear(b.data)
	if len(b.data) > 0 {
		b.past += b.valid
		b.data[0] = int64(id)
		b.valid = 1
	}
}

func (b *TokenBuffer) Data() []int64 { return b.data }
func (b *TokenBuffer) Valid() int    { return b.valid }
func (b *TokenBuffer) Past() int     { return b.past }
func (b *TokenBuffer) Len() int      { return len(b.data) }
