// Package pdfgen builds small single-font PDFs for tests. The output is a
// complete file with a correct cross-reference table, enough for both the
// text-layer scanner and the watermark stamper to parse.
package pdfgen

import (
	"bytes"
	"fmt"
)

// Line is one text run placed on a page in PDF user-space points.
type Line struct {
	X    float64
	Y    float64
	Text string
}

// Page is a sequence of text runs on one 612x792 page.
type Page struct {
	Lines []Line
}

// Build renders the pages into a PDF file.
func Build(pages ...Page) []byte {
	if len(pages) == 0 {
		pages = []Page{{}}
	}

	var body bytes.Buffer
	offsets := []int{0} // object numbers are 1-based

	writeObj := func(content string) {
		offsets = append(offsets, body.Len())
		body.WriteString(content)
	}

	// object layout: 1 catalog, 2 pages, 3 font, then per page: page obj,
	// content obj
	numObjs := 3 + 2*len(pages)

	kids := ""
	for i := range pages {
		if i > 0 {
			kids += " "
		}
		kids += fmt.Sprintf("%d 0 R", 4+2*i)
	}

	body.WriteString("%PDF-1.4\n")
	writeObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	writeObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", kids, len(pages)))
	writeObj("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	for i, p := range pages {
		pageNum := 4 + 2*i
		contentNum := pageNum + 1

		var stream bytes.Buffer
		for _, ln := range p.Lines {
			fmt.Fprintf(&stream, "BT /F1 12 Tf %.2f %.2f Td (%s) Tj ET\n", ln.X, ln.Y, escape(ln.Text))
		}

		writeObj(fmt.Sprintf(
			"%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>\nendobj\n",
			pageNum, contentNum))
		writeObj(fmt.Sprintf(
			"%d 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n",
			contentNum, stream.Len(), stream.String()))
	}

	xrefOffset := body.Len()
	fmt.Fprintf(&body, "xref\n0 %d\n", numObjs+1)
	body.WriteString("0000000000 65535 f \n")
	for i := 1; i <= numObjs; i++ {
		fmt.Fprintf(&body, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&body, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", numObjs+1, xrefOffset)

	return body.Bytes()
}

func escape(s string) string {
	var out bytes.Buffer
	for _, r := range s {
		switch r {
		case '(', ')', '\\':
			out.WriteByte('\\')
		}
		out.WriteRune(r)
	}
	return out.String()
}
