package pipeline

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
)

// surfacePool recycles RGBA pixel buffers between calls. A buffer is only reused after
// the surface that held it has been released.
type surfacePool struct {
	pool sync.Pool
}

func newSurfacePool() *surfacePool {
	return &surfacePool{}
}

// surface is a drawing target that must be released exactly once, on every exit path.
type surface struct {
	img        *image.RGBA
	colorSpace ColorSpace
	pool       *surfacePool
}

func (p *surfacePool) acquire(width, height int, cs ColorSpace) *surface {
	n := width * height * 4

	var pix []uint8
	if buf, ok := p.pool.Get().(*[]uint8); ok && cap(*buf) >= n {
		pix = (*buf)[:n]
		clear(pix)
	} else {
		pix = make([]uint8, n)
	}

	return &surface{
		img: &image.RGBA{
			Pix:    pix,
			Stride: width * 4,
			Rect:   image.Rect(0, 0, width, height),
		},
		colorSpace: cs,
		pool:       p,
	}
}

func (s *surface) release() {
	if s.img == nil {
		return
	}
	buf := s.img.Pix[:0]
	s.img = nil
	s.pool.pool.Put(&buf)
}

func (s *surface) fill(c color.Color) {
	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}
