package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/vector"
)

// circleKappa places cubic control points so four curves approximate a circle
const circleKappa = 0.5522847498

type point struct {
	x, y float32
}

// shape accumulates closed paths and rasterizes them into a coverage mask.
// Paths wound in opposite directions cancel, which is how outlines are cut.
type shape struct {
	z *vector.Rasterizer
}

func newShape(size image.Point) *shape {
	return &shape{z: vector.NewRasterizer(size.X, size.Y)}
}

func (s *shape) polygon(pts []point) {
	if len(pts) < 3 {
		return
	}
	s.z.MoveTo(pts[0].x, pts[0].y)
	for _, p := range pts[1:] {
		s.z.LineTo(p.x, p.y)
	}
	s.z.ClosePath()
}

// rect adds a rectangle wound clockwise, or counter-clockwise when reverse is set
func (s *shape) rect(x0, y0, x1, y1 float32, reverse bool) {
	pts := []point{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
	if reverse {
		pts[1], pts[3] = pts[3], pts[1]
	}
	s.polygon(pts)
}

// outline adds a rectangular frame of the given width inside the rectangle
func (s *shape) outline(x0, y0, x1, y1, width float32) {
	s.rect(x0, y0, x1, y1, false)
	if x1-x0 > 2*width && y1-y0 > 2*width {
		s.rect(x0+width, y0+width, x1-width, y1-width, true)
	}
}

func (s *shape) circle(cx, cy, r float32, reverse bool) {
	k := r * circleKappa
	if reverse {
		k = -k
	}
	sign := float32(1)
	if reverse {
		sign = -1
	}
	s.z.MoveTo(cx+r, cy)
	s.z.CubeTo(cx+r, cy+k, cx+sign*k, cy+sign*r, cx, cy+sign*r)
	s.z.CubeTo(cx-sign*k, cy+sign*r, cx-r, cy+k, cx-r, cy)
	s.z.CubeTo(cx-r, cy-k, cx-sign*k, cy-sign*r, cx, cy-sign*r)
	s.z.CubeTo(cx+sign*k, cy-sign*r, cx+r, cy-k, cx+r, cy)
	s.z.ClosePath()
}

// ring adds a circular band of the given width
func (s *shape) ring(cx, cy, r, width float32) {
	s.circle(cx, cy, r, false)
	if r > width {
		s.circle(cx, cy, r-width, true)
	}
}

func (s *shape) mask() *image.Alpha {
	size := s.z.Size()
	m := image.NewAlpha(image.Rect(0, 0, size.X, size.Y))
	s.z.Draw(m, m.Bounds(), image.Opaque, image.Point{})
	return m
}

// intersect multiplies two masks of the same size
func intersect(a, b *image.Alpha) *image.Alpha {
	out := image.NewAlpha(a.Bounds())
	for i := range a.Pix {
		out.Pix[i] = uint8(uint16(a.Pix[i]) * uint16(b.Pix[i]) / 0xff)
	}
	return out
}

// invert returns the complement of a mask
func invert(a *image.Alpha) *image.Alpha {
	out := image.NewAlpha(a.Bounds())
	for i, v := range a.Pix {
		out.Pix[i] = 0xff - v
	}
	return out
}

// paint composites c over dst through mask
func paint(dst draw.Image, mask *image.Alpha, c color.Color) {
	draw.DrawMask(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

func withAlpha(c color.Color, alpha float64) color.NRGBA {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = uint8(alpha*0xff + 0.5)
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
