// Package sheet composes the Collecto stop information sheet as a PDF.
//
// The layout is described first as an ordered sequence of immutable block
// descriptors (the story), then a single render pass turns the story into the
// output bytes.
package sheet

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"collectopdf/internal/wfs"
)

// cm converts centimeters to points, the document unit.
const cm = 72.0 / 2.54

const (
	sideMargin      = 2 * cm
	topBottomMargin = 1.6 * cm

	titleFontSize   = 20.0
	headingFontSize = 14.0
	bodyFontSize    = 11.0

	mapWidthRatio   = 1.0
	photoWidthRatio = 2.0 / 3.0

	mapPlaceholderHeight   = 8 * cm
	photoPlaceholderHeight = 6 * cm

	mapPlaceholderLabel   = "Map image unavailable"
	photoPlaceholderLabel = "Stop photo unavailable"
)

// block is one flowable of the sheet.
type block interface {
	render(p *pass)
}

// span is a run of text sharing one style within a line.
type span struct {
	text string
	bold bool
}

// textBlock is a single line of text followed by vertical spacing.
type textBlock struct {
	spans  []span
	size   float64
	after  float64
	center bool
}

// imageBlock is a pre-validated raster scaled to w x h. When embedding still
// fails at render time the block degrades to its placeholder.
type imageBlock struct {
	name      string
	data      []byte
	format    string
	w, h      float64
	fallbackH float64
	label     string
}

// placeholderBlock is a bordered grey box with a centered label, drawn where
// an image is absent or unreadable.
type placeholderBlock struct {
	w, h  float64
	label string
}

// spacerBlock adds vertical whitespace.
type spacerBlock struct {
	h float64
}

// buildStory lays out the fixed template: title, map image, names line, the
// two address paragraphs and the stop photo.
func buildStory(attrs wfs.StopAttributes, mapImage, photo []byte, usable float64) []block {
	return []block{
		textBlock{
			spans:  []span{{text: "COLLECTO " + attrs.CodeStop, bold: true}},
			size:   titleFontSize,
			after:  6,
			center: true,
		},
		imageOrPlaceholder("map", mapImage, usable*mapWidthRatio, mapPlaceholderHeight, mapPlaceholderLabel),
		spacerBlock{h: 12},
		textBlock{
			spans: []span{{text: attrs.NameFR + " - " + attrs.NameNL, bold: true}},
			size:  headingFontSize,
			after: 6,
		},
		textBlock{
			spans: []span{
				{text: "Adresse : ", bold: true},
				{text: attrs.HouseNr + ", " + attrs.RoadFR + " - " + attrs.MuFR},
			},
			size:  bodyFontSize,
			after: 2,
		},
		textBlock{
			spans: []span{
				{text: "Adres : ", bold: true},
				{text: attrs.RoadNL + " " + attrs.HouseNr + " - " + attrs.MuNL},
			},
			size:  bodyFontSize,
			after: 10,
		},
		imageOrPlaceholder("photo", photo, usable*photoWidthRatio, photoPlaceholderHeight, photoPlaceholderLabel),
	}
}

// imageOrPlaceholder decides between a scaled image block and its placeholder.
// Absent bytes, an undecodable header or zero intrinsic dimensions all end up
// as the placeholder; nothing here can fail the composition.
func imageOrPlaceholder(name string, data []byte, targetW, fallbackH float64, label string) block {
	if len(data) == 0 {
		return placeholderBlock{w: targetW, h: fallbackH, label: label}
	}
	iw, ih, format, err := probeImage(data)
	if err != nil {
		return placeholderBlock{w: targetW, h: fallbackH, label: label}
	}
	w, h, err := scaled(iw, ih, targetW)
	if err != nil {
		return placeholderBlock{w: targetW, h: fallbackH, label: label}
	}
	return imageBlock{
		name:      name,
		data:      data,
		format:    format,
		w:         w,
		h:         h,
		fallbackH: fallbackH,
		label:     label,
	}
}

// probeImage reads the intrinsic pixel dimensions and format from the image
// header without decoding the full raster.
func probeImage(data []byte) (iw, ih int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", err
	}
	return cfg.Width, cfg.Height, format, nil
}

// scaled computes the output size for an image of iw x ih pixels scaled to
// targetW, preserving the intrinsic aspect ratio.
func scaled(iw, ih int, targetW float64) (w, h float64, err error) {
	if targetW <= 0 {
		return 0, 0, fmt.Errorf("non-positive target width %g", targetW)
	}
	if iw <= 0 || ih <= 0 {
		return 0, 0, fmt.Errorf("invalid image dimensions %dx%d", iw, ih)
	}
	ratio := targetW / float64(iw)
	return targetW, float64(ih) * ratio, nil
}
