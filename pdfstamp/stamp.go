// Package pdfstamp burns handwritten-signature images into PDF pages.
package pdfstamp

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"fundflow/placement"
)

// ErrBadImage signals an undecodable signature image payload.
var ErrBadImage = errors.New("pdfstamp: invalid signature image encoding")

const (
	// imageScale is the absolute scale applied to the signature image.
	imageScale = 0.18
	// Text lines sit below the image, offset per line.
	timestampDrop = 14
	nameDrop      = 26
)

// Stamper draws signature images plus metadata text at resolved coordinates.
// Stamping is a pure transformation; no I/O happens here.
type Stamper struct {
	conf *model.Configuration
}

func New() *Stamper {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Stamper{conf: conf}
}

// StampPlacements draws the signature once per placement, each with a
// human-readable timestamp and the signer's name underneath.
func (s *Stamper) StampPlacements(doc []byte, imageB64 string, placements []placement.Placement, signerName string, signedAt time.Time) ([]byte, error) {
	if len(placements) == 0 {
		return nil, fmt.Errorf("pdfstamp: no placements to draw")
	}

	img, err := decodeImage(imageB64)
	if err != nil {
		return nil, err
	}

	ctx, err := api.ReadContext(bytes.NewReader(doc), s.conf)
	if err != nil {
		return nil, fmt.Errorf("pdfstamp: parse pdf: %w", err)
	}
	dims, err := ctx.PageDims()
	if err != nil {
		return nil, fmt.Errorf("pdfstamp: page dimensions: %w", err)
	}

	stamp := signedAt.UTC().Format("2006-01-02 15:04 UTC")
	marks := make(map[int][]*model.Watermark, len(placements))
	for _, pl := range placements {
		if pl.Page < 1 || pl.Page > len(dims) {
			return nil, fmt.Errorf("pdfstamp: placement page %d out of range (document has %d)", pl.Page, len(dims))
		}
		x := pl.X * dims[pl.Page-1].Width

		sig, err := api.ImageWatermarkForReader(bytes.NewReader(img), imageDesc(x, pl.Y), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
		}
		ts, err := api.TextWatermark(stamp, textDesc(x, pl.Y-timestampDrop), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("pdfstamp: timestamp mark: %w", err)
		}
		name, err := api.TextWatermark(signerName, textDesc(x, pl.Y-nameDrop), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("pdfstamp: signer name mark: %w", err)
		}
		marks[pl.Page] = append(marks[pl.Page], sig, ts, name)
	}

	var out bytes.Buffer
	if err := api.AddWatermarksSliceMap(bytes.NewReader(doc), &out, marks, s.conf); err != nil {
		return nil, fmt.Errorf("pdfstamp: stamp: %w", err)
	}
	return out.Bytes(), nil
}

// StampAt is the single-location variant for non-anchor documents. Drawing
// semantics are identical to StampPlacements.
func (s *Stamper) StampAt(doc []byte, imageB64 string, page int, x, y float64, signerName string, signedAt time.Time) ([]byte, error) {
	return s.StampPlacements(doc, imageB64, []placement.Placement{
		{Page: page, X: x, Y: y, Label: "single"},
	}, signerName, signedAt)
}

func decodeImage(imageB64 string) ([]byte, error) {
	payload := imageB64
	// Tolerate data-URI prefixes from browser canvases.
	if i := strings.Index(payload, ";base64,"); i >= 0 {
		payload = payload[i+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if len(raw) == 0 {
		return nil, ErrBadImage
	}
	return raw, nil
}

func imageDesc(x, y float64) string {
	return fmt.Sprintf("pos:bl, off:%.1f %.1f, scale:%.2f abs, rot:0, op:1", x, y, imageScale)
}

func textDesc(x, y float64) string {
	return fmt.Sprintf("pos:bl, off:%.1f %.1f, fontname:Helvetica, points:7, fillcol:#444444, scale:1 abs, rot:0", x, y)
}
