package pipeline

import (
	"context"
	"image"
	"mime"
	"strings"
)

const defaultOutputType = "image/png"

// Codec is the host image capability: bytes to pixels and back. Implementations must
// not retain the image passed to Encode after it returns.
type Codec interface {
	Decode(ctx context.Context, data []byte, opts DecodeOptions) (Decoded, error)
	Encode(ctx context.Context, img image.Image, opts EncodeOptions) ([]byte, error)
	Supports(mimeType string) bool
	SupportsColorSpace(cs ColorSpace) bool
}

type DecodeOptions struct {
	DeclaredType string
	// VectorScale rasterizes vector input at this multiple of its natural size.
	VectorScale float64
}

// Decoded carries the logical size for inputs rasterized at a scale other than 1.
type Decoded struct {
	Image         image.Image
	LogicalWidth  int
	LogicalHeight int
}

type EncodeOptions struct {
	MIMEType   string
	Quality    int
	ColorSpace ColorSpace
}

// canonicalType accepts MIME types (with or without parameters) and short format
// names, returning "" for anything unrecognized.
func canonicalType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		t = mediaType
	}

	switch t {
	case "image/jpeg", "image/jpg", "image/pjpeg", "jpeg", "jpg":
		return "image/jpeg"
	case "image/png", "png":
		return "image/png"
	case "image/webp", "webp":
		return "image/webp"
	case "image/gif", "gif":
		return "image/gif"
	case "image/bmp", "image/x-ms-bmp", "bmp":
		return "image/bmp"
	case "image/tiff", "tiff", "tif":
		return "image/tiff"
	case "image/svg+xml", "image/svg", "svg":
		return "image/svg+xml"
	default:
		return ""
	}
}

// outputType picks what the codec will actually produce: the requested type when
// supported, the codec default otherwise.
func outputType(codec Codec, requested string) string {
	t := canonicalType(requested)
	if t != "" && codec.Supports(t) {
		return t
	}
	return defaultOutputType
}

func extensionForType(mimeType string) string {
	switch canonicalType(mimeType) {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	case "image/svg+xml":
		return "svg"
	default:
		return "png"
	}
}

func isVectorType(t string) bool {
	return strings.Contains(strings.ToLower(t), "svg")
}
