// Package sizespec turns human-readable byte sizes ("2MB", "512KiB", "1048576") into
// byte counts.
package sizespec

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

var ErrInvalidSize = errors.New("invalid size threshold")

// ParseError reports a size string that could not be turned into a byte count.
type ParseError struct {
	Spec string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %q", ErrInvalidSize, e.Spec)
	}
	return fmt.Sprintf("%s: %q: %v", ErrInvalidSize, e.Spec, e.Err)
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidSize}
	}
	return []error{ErrInvalidSize, e.Err}
}

// Parse uses SI multiples for "kB"/"MB"/"GB" and IEC multiples for "KiB"/"MiB"/"GiB".
// A bare number is a byte count.
func Parse(spec string) (int64, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return 0, &ParseError{Spec: spec, Err: errors.New("empty size")}
	}

	n, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, &ParseError{Spec: spec, Err: err}
	}
	if n > math.MaxInt64 {
		return 0, &ParseError{Spec: spec, Err: errors.New("size overflows int64")}
	}
	return int64(n), nil
}
