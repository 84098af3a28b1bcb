package pipeline

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

var errEmptyImage = errors.New("image has zero area")

// Bitmap is a decoded image. Stages never modify a Bitmap; each transform returns a
// new one.
type Bitmap struct {
	img        image.Image
	width      int
	height     int
	orgWidth   int
	orgHeight  int
	sourceType string
}

// NewBitmap wraps a decoded image. sourceType is the MIME type of the bytes it was
// decoded from, if known.
func NewBitmap(img image.Image, sourceType string) (*Bitmap, error) {
	if img == nil {
		return nil, errEmptyImage
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errEmptyImage
	}
	return &Bitmap{
		img:        img,
		width:      b.Dx(),
		height:     b.Dy(),
		sourceType: sourceType,
	}, nil
}

// WithLogicalSize returns a copy whose logical size overrides the pixel size when
// encoding. Non-positive values clear the override.
func (b *Bitmap) WithLogicalSize(width, height int) *Bitmap {
	out := *b
	if width > 0 && height > 0 {
		out.orgWidth, out.orgHeight = width, height
	} else {
		out.orgWidth, out.orgHeight = 0, 0
	}
	return &out
}

func (b *Bitmap) Image() image.Image { return b.img }
func (b *Bitmap) Width() int         { return b.width }
func (b *Bitmap) Height() int        { return b.height }
func (b *Bitmap) OrgWidth() int      { return b.orgWidth }
func (b *Bitmap) OrgHeight() int     { return b.orgHeight }
func (b *Bitmap) SourceType() string { return b.sourceType }

// LogicalSize is OrgWidth/OrgHeight when set, the pixel size otherwise.
func (b *Bitmap) LogicalSize() (int, int) {
	w, h := b.width, b.height
	if b.orgWidth > 0 {
		w = b.orgWidth
	}
	if b.orgHeight > 0 {
		h = b.orgHeight
	}
	return w, h
}

func (b *Bitmap) String() string {
	return fmt.Sprintf("%dx%d %s", b.width, b.height, b.sourceType)
}

type ColorSpace string

const (
	ColorSpaceSRGB      ColorSpace = "srgb"
	ColorSpaceDisplayP3 ColorSpace = "display-p3"
)

var ErrUnknownColorSpace = errors.New("unknown color space")

// ParseColorSpace accepts "srgb" and "display-p3"; empty means srgb.
func ParseColorSpace(s string) (ColorSpace, error) {
	switch ColorSpace(strings.ToLower(strings.TrimSpace(s))) {
	case "", ColorSpaceSRGB:
		return ColorSpaceSRGB, nil
	case ColorSpaceDisplayP3:
		return ColorSpaceDisplayP3, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownColorSpace, s)
	}
}

// EncodeSpec describes one encode call. Quality is in [0,1]; nil or out-of-range
// values leave the choice to the codec.
type EncodeSpec struct {
	MIMEType   string
	Quality    *float64
	ColorSpace ColorSpace
}

func Quality(q float64) *float64 { return &q }

// codecQuality maps the [0,1] quality onto the codec's 1..100 scale, 0 meaning default.
func (s EncodeSpec) codecQuality() int {
	if s.Quality == nil {
		return 0
	}
	q := *s.Quality
	if q < 0 || q > 1 {
		return 0
	}
	scaled := int(q*100 + 0.5)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// File is client-supplied input: bytes plus the type the client declared for them.
type File struct {
	Name string
	Type string
	Data []byte
}

func (f File) Size() int64 { return int64(len(f.Data)) }

func (f File) IsVector() bool {
	return strings.Contains(strings.ToLower(f.Type), "svg")
}
