// Package report renders the single page PDF handed back to the patient.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/go-pdf/fpdf"

	"mri-inference-service/condition"
	"mri-inference-service/imaging"
	"mri-inference-service/patient"
)

var ErrReportRender = errors.New("report render error")

const (
	Title    = "Alzheimer's Disease Prediction Report"
	Filename = "Alzheimer_Report.pdf"

	// ScanSize is the pixel size of the embedded scan.
	ScanSize = 200
	// scanWidthMM is the printed width of the scan on the page.
	scanWidthMM = 60.0
)

type Option func(*Generator)

// WithCompression toggles stream compression. Uncompressed output keeps the
// text searchable in the raw bytes.
func WithCompression(on bool) Option {
	return func(g *Generator) { g.compress = on }
}

type Generator struct {
	compress bool
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{compress: true}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate renders a fresh report. Nothing is written to disk: the scan is
// encoded in memory and registered with the document from a reader.
func (g *Generator) Generate(rec patient.Record, m condition.Mapping, scan image.Image) ([]byte, error) {
	if scan == nil {
		return nil, fmt.Errorf("%w: no scan to embed", ErrReportRender)
	}
	if b := scan.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: scan has no pixels", ErrReportRender)
	}

	var scanJPEG bytes.Buffer
	thumb := imaging.Thumbnail(scan, ScanSize, ScanSize)
	if err := jpeg.Encode(&scanJPEG, thumb, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("%w: encode scan: %v", ErrReportRender, err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(g.compress)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(Title, false)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, field := range []struct{ name, value string }{
		{"name", rec.Name},
		{"contact", rec.Contact},
	} {
		if r, ok := unencodable(tr, field.value); ok {
			return nil, fmt.Errorf("%w: patient %s contains %q, which the report font cannot encode", ErrReportRender, field.name, r)
		}
	}
	pdf.AddPage()

	line := func(text string) {
		pdf.CellFormat(190, 10, tr(text), "", 1, "L", false, 0, "")
	}

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(190, 10, Title, "", 1, "C", false, 0, "")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 12)
	line("Patient Name: " + rec.Name)
	line(fmt.Sprintf("Age: %d", rec.Age))
	line("Gender: " + string(rec.Gender))
	line("Contact: " + rec.Contact)
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 14)
	line("Diagnosis:")
	pdf.SetFont("Arial", "", 12)
	line("Predicted Condition: " + string(m.Label))
	pdf.Ln(10)

	if m.Label != condition.NoDementia {
		pdf.SetFont("Arial", "B", 14)
		line("Precautions:")
		pdf.SetFont("Arial", "", 12)
		for _, p := range condition.Precautions() {
			pdf.MultiCell(0, 8, tr("- "+p), "", "L", false)
		}
		pdf.Ln(10)
	} else {
		line(condition.Congratulations)
	}

	opts := fpdf.ImageOptions{ImageType: "JPG"}
	pdf.RegisterImageOptionsReader("mri_scan", opts, &scanJPEG)
	pdf.ImageOptions("mri_scan", 30, pdf.GetY(), scanWidthMM, 0, false, opts, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReportRender, err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrReportRender)
	}
	return out.Bytes(), nil
}

// unencodable returns the first rune of s that the cp1252 translator would
// silently replace with '.'.
func unencodable(tr func(string) string, s string) (rune, bool) {
	for _, r := range s {
		if r != '.' && tr(string(r)) == "." {
			return r, true
		}
	}
	return 0, false
}
