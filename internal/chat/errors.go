package chat

import "errors"

var (
	ErrNoModel     = errors.New("no model selected")
	ErrEmptyPrompt = errors.New("prompt is empty")
	ErrClosed      = errors.New("chat is closed")
	ErrNotFound    = errors.New("chat not found")
)
