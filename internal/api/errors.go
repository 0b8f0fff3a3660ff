package api

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/catalog"
	"github.com/samcharles93/aistudio/internal/chat"
	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/pkg/modelfile"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps a domain error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, chat.ErrEmptyPrompt),
		errors.Is(err, catalog.ErrInvalidTokenizer),
		errors.Is(err, os.ErrNotExist):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, catalog.ErrNotSelectable), errors.Is(err, chat.ErrNoModel):
		return http.StatusUnprocessableEntity, "model_not_selectable"
	case errors.Is(err, catalog.ErrTokenizerPaired),
		errors.Is(err, modelfile.ErrInUse),
		errors.Is(err, chat.ErrClosed),
		errors.Is(err, catalog.ErrClosed):
		return http.StatusConflict, "conflict_error"
	case errors.Is(err, inference.ErrTokenizerLoad):
		return http.StatusUnprocessableEntity, "tokenizer_error"
	case errors.Is(err, inference.ErrRuntimeInit), errors.Is(err, backend.ErrAcceleratorUnavailable):
		return http.StatusServiceUnavailable, "runtime_error"
	case errors.Is(err, inference.ErrInferenceStep):
		return http.StatusInternalServerError, "inference_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "request_cancelled"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
