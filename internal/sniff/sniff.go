// Package sniff classifies encoded image bytes by their leading signature.
package sniff

import "bytes"

type Format int

const (
	Unknown Format = iota
	JPEG
	PNG
	SVG
)

var (
	pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	svgSignature = []byte("<svg ")
)

// Classify never fails: input that matches no signature is Unknown.
func Classify(b []byte) Format {
	switch {
	case IsJPEG(b):
		return JPEG
	case IsPNG(b):
		return PNG
	case IsSVG(b):
		return SVG
	default:
		return Unknown
	}
}

func IsJPEG(b []byte) bool {
	return len(b) > 0 && b[0] == 0xFF
}

func IsPNG(b []byte) bool {
	return hasPrefix(b, pngSignature)
}

func IsSVG(b []byte) bool {
	return hasPrefix(b, svgSignature)
}

// Extension returns the file extension for the detected format, or "" when unknown.
func Extension(b []byte) string {
	return Classify(b).Extension()
}

func hasPrefix(b, sig []byte) bool {
	if len(b) < len(sig) {
		return false
	}
	return bytes.Equal(b[:len(sig)], sig)
}

func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	case SVG:
		return "svg"
	default:
		return "unknown"
	}
}

func (f Format) Extension() string {
	switch f {
	case JPEG:
		return "jpg"
	case PNG:
		return "png"
	case SVG:
		return "svg"
	default:
		return ""
	}
}

func (f Format) MIMEType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	case SVG:
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}
