package chat

import (
	"context"
	"iter"

	"github.com/samcharles93/aistudio/internal/inference"
)

// Turn is the assistant side of one Send.
type Turn struct {
	chat    *Context
	session *inference.Session
	index   int
}

func (t *Turn) Session() *inference.Session { return t.session }

// Fragments streams the reply. Every fragment is appended to the assistant
// message before it is yielded; a failure is appended as an error notice.
func (t *Turn) Fragments(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for frag, err := range t.session.Stream(ctx) {
			if err != nil {
				t.chat.appendError(t.index, err)
				yield("", err)
				return
			}
			t.chat.appendFragment(t.index, frag)
			if !yield(frag, nil) {
				return
			}
		}
	}
}

// Run drains the turn into fn and returns the session's terminal cause.
func (t *Turn) Run(ctx context.Context, fn func(string)) error {
	for frag, err := range t.Fragments(ctx) {
		if err != nil {
			return err
		}
		if fn != nil {
			fn(frag)
		}
	}
	return t.session.Err()
}

// Reply returns the assistant message as it stands.
func (t *Turn) Reply() Message {
	t.chat.mu.Lock()
	defer t.chat.mu.Unlock()
	return t.chat.messages[t.index]
}

// Text returns the generated text without any error notice.
func (t *Turn) Text() string {
	t.chat.mu.Lock()
	defer t.chat.mu.Unlock()
	m := t.chat.messages[t.index]
	return m.Content[:m.generated]
}
