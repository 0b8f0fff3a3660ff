package catalog

import "errors"

var (
	ErrNotFound         = errors.New("model not found")
	ErrTokenizerPaired  = errors.New("model already has a tokenizer")
	ErrNotSelectable    = errors.New("model is not selectable")
	ErrInvalidTokenizer = errors.New("invalid tokenizer file")
	ErrClosed           = errors.New("catalog is closed")
)
