package sheet

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"collectopdf/internal/wfs"
)

// Compose renders the stop sheet for attrs. A nil image slice means the image
// is absent; absent or malformed images become placeholder boxes and never
// fail the composition. The returned error covers only genuine defects while
// serializing the document.
func Compose(attrs wfs.StopAttributes, mapImage, photo []byte) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(sideMargin, topBottomMargin, sideMargin)
	pdf.SetAutoPageBreak(true, topBottomMargin)
	pdf.SetTitle("Collecto "+attrs.CodeStop, true)
	// Pinned so identical inputs yield byte-identical documents.
	pdf.SetCreationDate(time.Unix(0, 0).UTC())
	pdf.SetModificationDate(time.Unix(0, 0).UTC())
	pdf.SetCatalogSort(true)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	usable := pageW - 2*sideMargin

	p := &pass{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	for _, b := range buildStory(attrs, mapImage, photo, usable) {
		b.render(p)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// pass holds the state of the single render walk over the story.
type pass struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

// breakIfNeeded starts a new page when a box of height h would straddle the
// bottom margin. Keeps image and placeholder boxes atomic; text flows via the
// auto page break instead.
func (p *pass) breakIfNeeded(h float64) {
	_, pageH := p.pdf.GetPageSize()
	y := p.pdf.GetY()
	if y+h > pageH-topBottomMargin && y > topBottomMargin {
		p.pdf.AddPage()
	}
}

func (b textBlock) render(p *pass) {
	pdf := p.pdf
	lineH := b.size + 3
	if b.center {
		// Centered lines are always a single styled run.
		style := ""
		if b.spans[0].bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, b.size)
		pdf.CellFormat(0, lineH, p.tr(b.spans[0].text), "", 1, "C", false, 0, "")
		if b.after > 0 {
			pdf.Ln(b.after)
		}
		return
	}
	for _, s := range b.spans {
		style := ""
		if s.bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, b.size)
		pdf.Write(lineH, p.tr(s.text))
	}
	pdf.Ln(lineH)
	if b.after > 0 {
		pdf.Ln(b.after)
	}
}

func (b spacerBlock) render(p *pass) {
	p.pdf.SetY(p.pdf.GetY() + b.h)
}

func (b placeholderBlock) render(p *pass) {
	pdf := p.pdf
	p.breakIfNeeded(b.h)

	x, y := pdf.GetX(), pdf.GetY()
	pdf.SetFillColor(211, 211, 211)
	pdf.SetDrawColor(128, 128, 128)
	pdf.SetLineWidth(1)
	pdf.Rect(x, y, b.w, b.h, "FD")

	lineH := bodyFontSize + 3
	pdf.SetFont("Helvetica", "", bodyFontSize)
	pdf.SetTextColor(169, 169, 169)
	pdf.SetXY(x, y+(b.h-lineH)/2)
	pdf.CellFormat(b.w, lineH, p.tr(b.label), "", 0, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)

	pdf.SetY(y + b.h)
}

func (b imageBlock) render(p *pass) {
	pdf := p.pdf
	p.breakIfNeeded(b.h)

	x, y := pdf.GetX(), pdf.GetY()
	if !b.embed(p, x, y) {
		placeholderBlock{w: b.w, h: b.fallbackH, label: b.label}.render(p)
		return
	}
	pdf.SetY(y + b.h)
}

// embed places the raster, reporting failure instead of propagating it.
// fpdf signals some decode failures through its sticky error and panics on
// others, e.g. a stream truncated after the header probe, so both paths are
// caught here and degrade to the placeholder.
func (b imageBlock) embed(p *pass, x, y float64) (ok bool) {
	pdf := p.pdf
	defer func() {
		if r := recover(); r != nil {
			pdf.ClearError()
			ok = false
		}
	}()

	opts := fpdf.ImageOptions{ImageType: b.format}
	pdf.RegisterImageOptionsReader(b.name, opts, bytes.NewReader(b.data))
	if pdf.Err() {
		pdf.ClearError()
		return false
	}

	pdf.ImageOptions(b.name, x, y, b.w, b.h, false, opts, 0, "")
	if pdf.Err() {
		pdf.ClearError()
		return false
	}
	return true
}
