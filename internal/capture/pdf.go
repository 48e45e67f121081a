package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	xdraw "golang.org/x/image/draw"
)

// PageSizing selects how PDF page dimensions are chosen
type PageSizing string

const (
	// SizeToImage makes every page exactly as large as its image at the configured DPI
	SizeToImage PageSizing = "image"
	// SizeToProfile uses the profile's paper size and fits the image inside it
	SizeToProfile PageSizing = "profile"
)

// ParsePageSizing parses a PageSizing name
func ParsePageSizing(s string) (PageSizing, error) {
	switch PageSizing(s) {
	case SizeToImage, SizeToProfile:
		return PageSizing(s), nil
	}
	return "", fmt.Errorf("unknown page sizing %q (want %q or %q)", s, SizeToImage, SizeToProfile)
}

const jpegQuality = 90

// pdfWriter assembles page images into a single PDF document
type pdfWriter struct {
	doc          *fpdf.Fpdf
	sizing       PageSizing
	documentSize DocumentSize
	dpi          float64
	maxDimension int
	pages        int
}

func newPDFWriter(sizing PageSizing, documentSize DocumentSize, dpi float64, maxDimension int, created time.Time) *pdfWriter {
	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: 595.28, Ht: 841.89},
	})
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.SetCreator("mobile-capture", true)
	doc.SetCreationDate(created)

	return &pdfWriter{
		doc:          doc,
		sizing:       sizing,
		documentSize: documentSize,
		dpi:          dpi,
		maxDimension: maxDimension,
	}
}

// AddPage appends one page holding img
func (w *pdfWriter) AddPage(img image.Image) error {
	img = limitDimension(img, w.maxDimension)
	bounds := img.Bounds()
	if bounds.Empty() {
		return fmt.Errorf("page %d is empty", w.pages+1)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("encoding page %d: %w", w.pages+1, err)
	}

	imgW := float64(bounds.Dx()) * 72 / w.dpi
	imgH := float64(bounds.Dy()) * 72 / w.dpi
	pageW, pageH := imgW, imgH
	if w.sizing == SizeToProfile {
		if pw, ph, ok := w.documentSize.Points(); ok {
			// Match the paper orientation to the page image
			if (imgW > imgH) != (pw > ph) {
				pw, ph = ph, pw
			}
			pageW, pageH = pw, ph
		}
	}
	x, y, drawW, drawH := fitRect(imgW, imgH, pageW, pageH)

	w.pages++
	name := fmt.Sprintf("page-%d", w.pages)
	opts := fpdf.ImageOptions{ImageType: "JPG"}

	w.doc.AddPageFormat("P", fpdf.SizeType{Wd: pageW, Ht: pageH})
	w.doc.RegisterImageOptionsReader(name, opts, &buf)
	w.doc.ImageOptions(name, x, y, drawW, drawH, false, opts, 0, "")
	if w.doc.Err() {
		return fmt.Errorf("writing page %d: %w", w.pages, w.doc.Error())
	}
	return nil
}

// WriteTo serializes the document
func (w *pdfWriter) WriteTo(out io.Writer) error {
	if err := w.doc.Output(out); err != nil {
		return fmt.Errorf("writing pdf: %w", err)
	}
	return nil
}

// fitRect scales a w x h box to fit a page, centered, preserving aspect ratio
func fitRect(w, h, pageW, pageH float64) (x, y, drawW, drawH float64) {
	scale := pageW / w
	if s := pageH / h; s < scale {
		scale = s
	}
	drawW, drawH = w*scale, h*scale
	return (pageW - drawW) / 2, (pageH - drawH) / 2, drawW, drawH
}

// limitDimension downscales img so its longer side is at most max pixels
func limitDimension(img image.Image, max int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if max <= 0 || (w <= max && h <= max) {
		return img
	}

	scale := float64(max) / float64(w)
	if h > w {
		scale = float64(max) / float64(h)
	}
	dstW := int(float64(w)*scale + 0.5)
	dstH := int(float64(h)*scale + 0.5)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)
	return dst
}
