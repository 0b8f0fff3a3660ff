package modelfile

import "errors"

var (
	ErrEmptyFile          = errors.New("model file is empty")
	ErrTooLarge           = errors.New("model file too large to map")
	ErrInUse              = errors.New("model file is already mapped by an open runtime")
	ErrUnrecognizedFormat = errors.New("unrecognized model format")
)
