// Package anchor extracts invisible signature markers from a PDF's text layer.
//
// Markers are emitted by the document templating pipeline as text runs of the
// form SIG_ANCHOR:<id>. Some HTML-to-PDF renderers degrade underscores to
// spaces, producing SIG ANCHOR:<words>; both encodings normalize to the same
// identifier.
package anchor

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	pdflib "github.com/digitorus/pdf"
	"github.com/rs/zerolog"
)

// Anchor is an ephemeral per-scan detection result. It is never persisted;
// callers snapshot resolved placements instead.
type Anchor struct {
	ID         string
	Page       int // 1-indexed
	X          float64
	Y          float64
	PageWidth  float64
	PageHeight float64
}

var (
	cleanMarker = regexp.MustCompile(`SIG_ANCHOR:([A-Za-z0-9_]+)`)
	// Space-corrupted form: underscores degraded to spaces by the renderer.
	corruptMarker = regexp.MustCompile(`SIG ANCHOR:\s*([A-Za-z0-9]+(?: [A-Za-z0-9]+)*)`)
)

type Scanner struct {
	log zerolog.Logger
}

func NewScanner(log zerolog.Logger) *Scanner {
	return &Scanner{log: log.With().Str("component", "anchor_scanner").Logger()}
}

// Scan returns every detected anchor across all pages. An unparseable PDF is
// a fatal error; zero detected anchors is not an error at this layer.
func (s *Scanner) Scan(doc []byte) ([]Anchor, error) {
	rdr, err := pdflib.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return nil, fmt.Errorf("anchor: parse pdf: %w", err)
	}

	var anchors []Anchor
	for pageNum := 1; pageNum <= rdr.NumPage(); pageNum++ {
		page := rdr.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		width, height := mediaBox(page)

		text, ok := pageText(page)
		if !ok {
			s.log.Warn().Int("page", pageNum).Msg("unreadable page content, skipping")
			continue
		}

		for _, ln := range assembleLines(text) {
			for _, m := range matchLine(ln) {
				anchors = append(anchors, Anchor{
					ID:         m.id,
					Page:       pageNum,
					X:          m.x,
					Y:          ln.y,
					PageWidth:  width,
					PageHeight: height,
				})
			}
		}
	}

	s.log.Debug().Int("anchors", len(anchors)).Msg("scan complete")
	return anchors, nil
}

// pageText reads a page's content, tolerating pages whose content streams the
// underlying reader cannot interpret.
func pageText(page pdflib.Page) (text []pdflib.Text, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = nil, false
		}
	}()
	return page.Content().Text, true
}

// line is a horizontal run of text fragments sharing a baseline.
type line struct {
	y     float64
	frags []pdflib.Text
	text  string
	// starts[i] is the rune offset of frags[i] within text.
	starts []int
}

// assembleLines groups fragments by baseline and orders them left to right.
// Content streams frequently split a marker across several show-text
// operations, so matching must run against the joined line.
func assembleLines(text []pdflib.Text) []line {
	byY := make(map[float64][]pdflib.Text)
	for _, t := range text {
		key := math.Round(t.Y*10) / 10
		byY[key] = append(byY[key], t)
	}

	lines := make([]line, 0, len(byY))
	for y, frags := range byY {
		sort.SliceStable(frags, func(i, j int) bool { return frags[i].X < frags[j].X })
		ln := line{y: y, frags: frags}
		var b strings.Builder
		for _, f := range frags {
			ln.starts = append(ln.starts, b.Len())
			b.WriteString(f.S)
		}
		ln.text = b.String()
		lines = append(lines, ln)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].y > lines[j].y })
	return lines
}

type match struct {
	id string
	x  float64
}

func matchLine(ln line) []match {
	var out []match
	for _, loc := range cleanMarker.FindAllStringSubmatchIndex(ln.text, -1) {
		out = append(out, match{id: ln.text[loc[2]:loc[3]], x: ln.xAt(loc[0])})
	}
	if len(out) > 0 {
		return out
	}
	for _, loc := range corruptMarker.FindAllStringSubmatchIndex(ln.text, -1) {
		id := NormalizeID(ln.text[loc[2]:loc[3]])
		out = append(out, match{id: id, x: ln.xAt(loc[0])})
	}
	return out
}

// xAt returns the X coordinate of the fragment covering byte offset off.
func (ln line) xAt(off int) float64 {
	if len(ln.frags) == 0 {
		return 0
	}
	x := ln.frags[0].X
	for i, start := range ln.starts {
		if start > off {
			break
		}
		x = ln.frags[i].X
	}
	return x
}

// NormalizeID joins the words of a space-corrupted marker with underscores.
func NormalizeID(raw string) string {
	return strings.Join(strings.Fields(raw), "_")
}

// mediaBox resolves the page dimensions, walking the Parent chain for
// inherited attributes. US Letter is the fallback for pages that omit it.
func mediaBox(page pdflib.Page) (width, height float64) {
	v := page.V
	for depth := 0; depth < 16 && !v.IsNull(); depth++ {
		mb := v.Key("MediaBox")
		if !mb.IsNull() && mb.Len() == 4 {
			x0, y0 := mb.Index(0).Float64(), mb.Index(1).Float64()
			x1, y1 := mb.Index(2).Float64(), mb.Index(3).Float64()
			return x1 - x0, y1 - y0
		}
		v = v.Key("Parent")
	}
	return 612, 792
}
