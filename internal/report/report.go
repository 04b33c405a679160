// Package report renders a filed complaint as a two-column PDF table.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/cyberguard/internal/ticket"
)

const Title = "CYBER CRIME COMPLAINT REPORT"

const (
	fieldWidth  = 150.0
	detailWidth = 400.0
	margin      = 31.0
	lineHeight  = 14.0
	cellPad     = 3.0
)

// documentDate stands in for the creation date of records with no filing time.
var documentDate = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Rows returns the header and the sixteen report rows, built from the
// canonical answers.
func Rows(r *ticket.Record) [][2]string {
	d := r.Canonical
	get := func(field, fallback string) string {
		if v, ok := d[field]; ok {
			return v
		}
		return fallback
	}

	return [][2]string{
		{"Field", "Details"},
		{"Ticket Number", r.ID},
		{"Date Filed", r.DateFiled()},
		{"Name", get("name", "")},
		{"Phone", get("phone", "")},
		{"Email", get("email", "")},
		{"Address", get("address", "")},
		{"ID Type", get("id_type", "")},
		{"ID Number", get("id_number", "")},
		{"Incident Date", get("incident_datetime", "")},
		{"Description", get("incident_details", "")},
		{"Financial Loss", get("fraud_amount", "N/A")},
		{"Suspect Details", get("suspect_additional_info", "N/A")},
		{"Category", fmt.Sprintf("%s - %s", r.Category, r.SubCategory)},
		{"Status", string(r.Status)},
		{"Assigned Officer", r.AssignedTo},
		{"Priority", string(r.Priority)},
	}
}

// Render draws the report. The output depends only on the record.
func Render(r *ticket.Record) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	created := r.FiledAt
	if created.IsZero() {
		created = documentDate
	}
	pdf.SetCreationDate(created)
	pdf.SetModificationDate(created)
	pdf.SetCatalogSort(true)
	pdf.SetTitle(Title, true)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 24, Title, "", 1, "L", false, 0, "")
	pdf.Ln(12)

	pdf.SetLineWidth(1)
	pdf.SetDrawColor(0, 0, 0)
	for i, row := range Rows(r) {
		header := i == 0
		if header {
			pdf.SetFont("Helvetica", "B", 10)
			pdf.SetFillColor(128, 128, 128)
			pdf.SetTextColor(245, 245, 245)
		} else {
			pdf.SetFont("Helvetica", "", 10)
			pdf.SetTextColor(0, 0, 0)
		}
		drawRow(pdf, [2]string{tr(row[0]), tr(row[1])}, header)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

func drawRow(pdf *fpdf.Fpdf, cells [2]string, fill bool) {
	widths := [2]float64{fieldWidth, detailWidth}

	var lines [2][][]byte
	n := 1
	for i, c := range cells {
		lines[i] = pdf.SplitLines([]byte(c), widths[i])
		n = max(n, len(lines[i]))
	}
	h := float64(n)*lineHeight + 2*cellPad

	_, pageHeight := pdf.GetPageSize()
	if pdf.GetY()+h > pageHeight-margin {
		pdf.AddPage()
	}

	style := "D"
	if fill {
		style = "FD"
	}

	x, y := margin, pdf.GetY()
	for i, w := range widths {
		pdf.Rect(x, y, w, h, style)
		for j, line := range lines[i] {
			pdf.SetXY(x, y+cellPad+float64(j)*lineHeight)
			pdf.CellFormat(w, lineHeight, string(line), "", 0, "L", false, 0, "")
		}
		x += w
	}
	pdf.SetXY(margin, y+h)
}
