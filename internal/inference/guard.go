package inference

import (
	"sync"

	"github.com/samcharles93/aistudio/internal/tokenizer"
)

// guard holds the resources one session owns and releases them exactly once
// on whichever exit path runs first.
type guard struct {
	once    sync.Once
	runtime *Runtime
	codec   *tokenizer.Codec
	err     error
}

func (g *guard) release() error {
	if g == nil {
		return nil
	}
	g.once.Do(func() {
		g.err = g.runtime.Close()
		g.runtime = nil
		g.codec = nil
	})
	return g.err
}
