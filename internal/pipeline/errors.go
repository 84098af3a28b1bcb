package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrDecode = errors.New("decode failed")
	ErrEncode = errors.New("encode failed")
)

// DecodeError means the source could not be read or interpreted as an image. Network
// and file read failures are reported as DecodeError too.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %v", ErrDecode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Source, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// EncodeError means the codec refused to produce bytes for the surface and type.
type EncodeError struct {
	MIMEType string
	Err      error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrEncode, e.MIMEType, e.Err)
}

func (e *EncodeError) Unwrap() []error {
	return []error{ErrEncode, e.Err}
}
