package api

import (
	"fmt"
	"io"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

const (
	eventFragment = "fragment"
	eventDone     = "done"
)

// SSEStreamWriter writes one fragment event per decoded token and a single
// done event carrying the final message. A token that ends inside a
// multi-byte character is held back until the rest of the character arrives.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	seq     int
	session string
	pending []byte
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	return &SSEStreamWriter{
		w:       res,
		flusher: flusher.Flush,
		seq:     1,
	}, nil
}

func (s *SSEStreamWriter) Fragment(sessionID, delta string) error {
	s.session = sessionID
	text := string(s.pending) + delta
	cut := completePrefix(text)
	s.pending = append(s.pending[:0], text[cut:]...)
	if cut == 0 {
		return nil
	}
	return s.fragment(text[:cut])
}

// Done flushes any held back bytes and writes the final message.
func (s *SSEStreamWriter) Done(resp MessageResponse) error {
	if len(s.pending) > 0 {
		rest := string(s.pending)
		s.pending = s.pending[:0]
		if err := s.fragment(rest); err != nil {
			return err
		}
	}
	return s.send(eventDone, resp)
}

func (s *SSEStreamWriter) fragment(delta string) error {
	return s.send(eventFragment, FragmentEvent{
		SessionID:      s.session,
		Delta:          delta,
		SequenceNumber: s.seq,
	})
}

// completePrefix returns the length of the longest prefix of text that does
// not end inside a multi-byte sequence.
func completePrefix(text string) int {
	for i := len(text) - 1; i >= 0 && i >= len(text)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(text[i]) {
			continue
		}
		if utf8.FullRuneInString(text[i:]) {
			return len(text)
		}
		return i
	}
	return len(text)
}

func (s *SSEStreamWriter) send(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher()
	}
	s.seq++
	return nil
}
