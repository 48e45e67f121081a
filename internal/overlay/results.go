package overlay

import (
	"image"
	"image/color"
	"sync"

	"github.com/zombor/mobile-capture/internal/engine"
)

var (
	fogColor     = color.NRGBA{A: uint8(0.7*0xff + 0.5)}
	unknownColor = withAlpha(color.NRGBA{R: 0xaa, G: 0xaa, B: 0xaa, A: 0xff}, 0.2)
)

// DrawResults renders the document boundary and quality blocks found in a
// camera frame as a transparent overlay for a view of any size.
type DrawResults struct {
	mu        sync.Mutex
	imageSize image.Point
	boundary  []image.Point
	blocks    []engine.Block
	revision  uint64

	cached         *image.RGBA
	cachedRevision uint64
	cachedSize     image.Point
}

// NewDrawResults creates an empty overlay
func NewDrawResults() *DrawResults {
	return &DrawResults{}
}

// SetImageBufferSize sets the size of the frame the coordinates refer to
func (d *DrawResults) SetImageBufferSize(size image.Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.imageSize = size
	d.revision++
}

// SetDocumentBoundary sets the boundary polygon in image coordinates
func (d *DrawResults) SetDocumentBoundary(points []image.Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.boundary = append([]image.Point(nil), points...)
	d.revision++
}

// SetBlocks sets the quality assessment blocks in image coordinates
func (d *DrawResults) SetBlocks(blocks []engine.Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks = append([]engine.Block(nil), blocks...)
	d.revision++
}

// Clear removes the boundary and blocks
func (d *DrawResults) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.boundary = nil
	d.blocks = nil
	d.revision++
}

func (d *DrawResults) ImageBufferSize() image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.imageSize
}

func (d *DrawResults) DocumentBoundary() []image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]image.Point(nil), d.boundary...)
}

func (d *DrawResults) Blocks() []engine.Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]engine.Block(nil), d.blocks...)
}

// Revision increases every time the overlay content changes
func (d *DrawResults) Revision() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revision
}

// Render draws the overlay for a view of viewSize. The frame is cached until
// the content or the size changes; callers must not modify it.
func (d *DrawResults) Render(viewSize image.Point) *image.RGBA {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil && d.cachedRevision == d.revision && d.cachedSize == viewSize {
		return d.cached
	}

	frame := image.NewRGBA(image.Rectangle{Max: viewSize})
	if viewSize.X > 0 && viewSize.Y > 0 && d.imageSize.X > 0 && d.imageSize.Y > 0 {
		d.draw(frame, viewSize)
	}

	d.cached = frame
	d.cachedRevision = d.revision
	d.cachedSize = viewSize
	return frame
}

func (d *DrawResults) draw(frame *image.RGBA, viewSize image.Point) {
	sx := float32(viewSize.X) / float32(d.imageSize.X)
	sy := float32(viewSize.Y) / float32(d.imageSize.Y)

	var inside *image.Alpha
	if len(d.boundary) >= 3 {
		s := newShape(viewSize)
		pts := make([]point, len(d.boundary))
		for i, p := range d.boundary {
			pts[i] = point{float32(p.X) * sx, float32(p.Y) * sy}
		}
		s.polygon(pts)
		inside = s.mask()
	}

	for _, block := range d.blocks {
		r := block.Rect.Canon()
		if r.Empty() {
			continue
		}
		x0, y0 := float32(r.Min.X)*sx, float32(r.Min.Y)*sy
		x1, y1 := float32(r.Max.X)*sx, float32(r.Max.Y)*sy

		c := unknownColor
		fill := false
		if block.Type == engine.TextBlock {
			q := float64(clamp(block.Quality, 0, 100)) / 100
			c = withAlpha(color.NRGBA{R: uint8((1-q)*0xff + 0.5), G: uint8(q*0xff + 0.5), A: 0xff}, 0.4)
			fill = true
		}

		stroke := newShape(viewSize)
		stroke.outline(x0, y0, x1, y1, 1)
		paintClipped(frame, stroke.mask(), inside, c)
		if fill {
			body := newShape(viewSize)
			body.rect(x0, y0, x1, y1, false)
			paintClipped(frame, body.mask(), inside, c)
		}
	}

	if inside != nil {
		paint(frame, invert(inside), fogColor)
	}
}

func paintClipped(frame *image.RGBA, mask, clip *image.Alpha, c color.Color) {
	if clip != nil {
		mask = intersect(mask, clip)
	}
	paint(frame, mask, c)
}
