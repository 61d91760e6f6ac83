// Package upload validates and stores chat image attachments.
package upload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultLimit is the maximum accepted image size in bytes.
const DefaultLimit int64 = 5_000_000

// AcceptedTypes lists the MIME types an upload may have.
var AcceptedTypes = []string{"image/png", "image/jpeg"}

var (
	ErrUnsupportedType = errors.New("upload: unsupported type")
	ErrTooLarge        = errors.New("upload: too large")
)

// ValidationError carries the message shown to the user.
type ValidationError struct {
	Reason  error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Reason }

// Validate checks the type first, then the size against limit. A non-positive limit
// means DefaultLimit.
func Validate(contentType string, size, limit int64) error {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if !Accepted(contentType) {
		return &ValidationError{Reason: ErrUnsupportedType, Message: "Accepted formats: PNG, JPEG."}
	}
	if size > limit {
		return &ValidationError{
			Reason:  ErrTooLarge,
			Message: fmt.Sprintf("Max image size: %sMB", strconv.FormatFloat(float64(limit)/1_000_000, 'f', -1, 64)),
		}
	}
	return nil
}

// Accepted reports whether contentType, ignoring parameters, is an accepted type.
func Accepted(contentType string) bool {
	base := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	for _, t := range AcceptedTypes {
		if base == t {
			return true
		}
	}
	return false
}

// Message returns the user-facing message for err, or err's text.
func Message(err error) string {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Message
	}
	return err.Error()
}
