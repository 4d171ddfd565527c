package external

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFieldMissing is returned when an expected field is absent from the tool output.
	ErrFieldMissing = errors.New("field missing")
	// ErrFieldMalformed is returned when a field is present but cannot be parsed.
	ErrFieldMalformed = errors.New("field malformed")
	// ErrFieldExtra is returned when the output holds more fields than expected.
	ErrFieldExtra = errors.New("unexpected extra field")
)

// FieldError describes a field that could not be extracted from a line of tool output.
type FieldError struct {
	Err   error
	Field string
	Line  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v in %q", e.Field, e.Err, e.Line)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// splitLines splits text into lines the way the tool writes them: a trailing newline does not
// start a new line and carriage returns are dropped.
func splitLines(text string) []string {
	text = strings.TrimSuffix(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
