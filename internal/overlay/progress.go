package overlay

import (
	"image"
	"image/color"
	"sync"
)

// DefaultRings is the ring count of a progress indicator, one per stability step
const DefaultRings = 5

// Progress is a row of rings that fill up as a value goes from 0 to 100
type Progress struct {
	mu    sync.Mutex
	rings int
	value int
	color color.NRGBA
}

// NewProgress creates an indicator with the given number of rings
func NewProgress(rings int) *Progress {
	if rings <= 0 {
		rings = DefaultRings
	}
	return &Progress{rings: rings, color: StabilityColor(NotReady)}
}

// SetProgress sets the value, clamped to [0,100], and the ring color
func (p *Progress) SetProgress(value int, c color.Color) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = clamp(value, 0, 100)
	p.color = color.NRGBAModel.Convert(c).(color.NRGBA)
}

func (p *Progress) Value() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *Progress) Color() color.NRGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.color
}

func (p *Progress) Rings() int {
	return p.rings
}

// FilledRings is the number of rings drawn solid for the current value
func (p *Progress) FilledRings() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value * p.rings / 100
}

// Render draws the rings side by side, centered in size
func (p *Progress) Render(size image.Point) *image.RGBA {
	frame := image.NewRGBA(image.Rectangle{Max: size})
	if size.X <= 0 || size.Y <= 0 {
		return frame
	}

	filled := p.FilledRings()
	c := p.Color()

	cell := float32(size.X) / float32(p.rings)
	diameter := cell
	if h := float32(size.Y); h < diameter {
		diameter = h
	}
	radius := diameter * 0.4
	width := radius / 4
	if width < 1 {
		width = 1
	}

	outlines := newShape(size)
	discs := newShape(size)
	cy := float32(size.Y) / 2
	for i := 0; i < p.rings; i++ {
		cx := cell*float32(i) + cell/2
		if i < filled {
			discs.circle(cx, cy, radius, false)
		} else {
			outlines.ring(cx, cy, radius, width)
		}
	}
	paint(frame, outlines.mask(), c)
	paint(frame, discs.mask(), c)
	return frame
}
