package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-pdf/fpdf"
)

const (
	pdfMargin     = 15.0
	pdfLineHeight = 6.0
)

// PDFRenderer renders an A4 document with the core Helvetica font.
type PDFRenderer struct{}

func (PDFRenderer) Render(w io.Writer, c *Content) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetCreationDate(c.GeneratedAt)
	pdf.SetModificationDate(c.GeneratedAt)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(c.Title, true)
	pdf.SetCreator("nexasec", false)
	pdf.AddPage()

	width, _ := pdf.GetPageSize()
	body := width - 2*pdfMargin

	heading := func(text string, size float64) {
		pdf.SetFont("Helvetica", "B", size)
		pdf.MultiCell(body, size/2+2, tr(text), "", "L", false)
		pdf.Ln(1)
	}
	para := func(text string) {
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(body, pdfLineHeight, tr(text), "", "L", false)
	}
	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(40, pdfLineHeight, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(body-40, pdfLineHeight, tr(value), "", "L", false)
	}

	heading(c.Title, 18)
	para("Generated " + c.GeneratedAt.Format("2006-01-02 15:04 MST"))
	pdf.Ln(4)

	heading("Scan", 13)
	row("Name", c.Scan.Name)
	row("Target", c.Scan.Target)
	row("Category", string(c.Scan.Category))
	row("Started", formatDate(c.Scan.StartedAt))
	row("Ended", formatDate(c.Scan.EndedAt))
	if len(c.CustomFields) > 0 {
		keys := make([]string, 0, len(c.CustomFields))
		for k := range c.CustomFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			row(k, c.CustomFields[k])
		}
	}
	pdf.Ln(4)

	if s := c.ExecutiveSummary; s != nil {
		heading("Executive summary", 13)
		para(s.Overview)
		para(fmt.Sprintf("Security score: %d (risk %s)", s.SecurityScore, s.RiskLevel))
		for _, k := range s.KeyFindings {
			para("- " + k)
		}
		pdf.Ln(4)
	}

	heading(fmt.Sprintf("Findings (%d)", c.TotalFindings), 13)
	pdf.SetFont("Helvetica", "B", 10)
	colWidth := body / float64(len(c.SeverityCounts))
	for _, sc := range c.SeverityCounts {
		pdf.CellFormat(colWidth, pdfLineHeight, string(sc.Severity), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 10)
	for _, sc := range c.SeverityCounts {
		pdf.CellFormat(colWidth, pdfLineHeight, fmt.Sprint(sc.Count), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(pdfLineHeight + 2)

	for _, f := range c.Findings {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.MultiCell(body, pdfLineHeight, tr(fmt.Sprintf("[%s] %s (CVSS %s, %s)", f.Severity, f.Name, cvss(f.CVSSScore), f.Status)), "", "L", false)
		if c.TechnicalDetails {
			if f.Description != "" {
				para(f.Description)
			}
			if len(f.CVEIDs) > 0 {
				para("CVE: " + joinList(f.CVEIDs))
			}
			if len(f.AffectedComponents) > 0 {
				para("Affected: " + joinList(f.AffectedComponents))
			}
		}
		pdf.Ln(1)
	}

	if len(c.RemediationPlan) > 0 {
		pdf.Ln(3)
		heading("Remediation plan", 13)
		for i, step := range c.RemediationPlan {
			para(fmt.Sprintf("%d. %s: %s (%s)", i+1, step.Priority, step.Action, joinList(step.Findings)))
		}
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to lay out pdf: %w", err)
	}
	return pdf.Output(w)
}

func (PDFRenderer) Extension() string   { return "pdf" }
func (PDFRenderer) ContentType() string { return "application/pdf" }
