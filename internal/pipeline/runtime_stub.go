//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

// DefaultCodec is the pure Go codec unless built with -tags govips.
func DefaultCodec() Codec {
	return stdCodec{}
}

func codecName() string {
	return "std"
}
