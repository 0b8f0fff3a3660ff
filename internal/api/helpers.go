package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// maxJSONBody bounds request documents; model uploads are streamed instead.
const maxJSONBody = 1 << 20

var errEmptyBody = invalidRequestError{msg: "request body is empty"}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeDomainError renders err with the status its class maps to.
func writeDomainError(c *echo.Context, err error) error {
	status, errType := classify(err)
	return writeError(c, status, errType, err.Error(), "", "")
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, errEmptyBody
		}
		return out, newInvalidRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return out, nil
}

// decodeOptionalJSON is decodeJSON that treats an empty body as the zero value.
func decodeOptionalJSON[T any](c *echo.Context) (T, error) {
	var zero T
	if c.Request().ContentLength == 0 {
		return zero, nil
	}
	out, err := decodeJSON[T](c.Request().Body)
	if errors.Is(err, errEmptyBody) {
		return zero, nil
	}
	return out, err
}

func isJSON(c *echo.Context) bool {
	ct := c.Request().Header.Get(echo.HeaderContentType)
	return ct == "" || strings.HasPrefix(ct, echo.MIMEApplicationJSON)
}
