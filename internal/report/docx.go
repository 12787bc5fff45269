package report

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zip"
)

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

// DOCXRenderer writes a minimal WordprocessingML package.
type DOCXRenderer struct{}

func (DOCXRenderer) Render(w io.Writer, c *Content) error {
	doc, err := docxDocument(c)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)
	parts := []struct {
		name string
		body []byte
	}{
		{"[Content_Types].xml", []byte(docxContentTypes)},
		{"_rels/.rels", []byte(docxRels)},
		{"word/document.xml", doc},
	}
	for _, p := range parts {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: p.name, Method: zip.Deflate, Modified: c.GeneratedAt})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", p.name, err)
		}
		if _, err := fw.Write(p.body); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.name, err)
		}
	}
	return zw.Close()
}

func (DOCXRenderer) Extension() string { return "docx" }
func (DOCXRenderer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

type docxBuilder struct {
	buf bytes.Buffer
	err error
}

// paragraph appends one paragraph with a single run. size is in half-points.
func (b *docxBuilder) paragraph(text string, bold bool, size int) {
	if b.err != nil {
		return
	}
	b.buf.WriteString("<w:p><w:r>")
	if bold || size > 0 {
		b.buf.WriteString("<w:rPr>")
		if bold {
			b.buf.WriteString("<w:b/>")
		}
		if size > 0 {
			fmt.Fprintf(&b.buf, `<w:sz w:val="%d"/>`, size)
		}
		b.buf.WriteString("</w:rPr>")
	}
	b.buf.WriteString(`<w:t xml:space="preserve">`)
	b.err = xml.EscapeText(&b.buf, []byte(text))
	b.buf.WriteString("</w:t></w:r></w:p>")
}

func docxDocument(c *Content) ([]byte, error) {
	b := &docxBuilder{}
	b.buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.buf.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)

	b.paragraph(c.Title, true, 36)
	b.paragraph("Generated "+c.GeneratedAt.Format("2006-01-02 15:04 MST"), false, 0)
	b.paragraph("Scan", true, 28)
	b.paragraph("Name: "+c.Scan.Name, false, 0)
	b.paragraph("Target: "+c.Scan.Target, false, 0)
	b.paragraph("Category: "+string(c.Scan.Category), false, 0)
	b.paragraph("Started: "+formatDate(c.Scan.StartedAt), false, 0)
	b.paragraph("Ended: "+formatDate(c.Scan.EndedAt), false, 0)
	keys := make([]string, 0, len(c.CustomFields))
	for k := range c.CustomFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.paragraph(k+": "+c.CustomFields[k], false, 0)
	}

	if s := c.ExecutiveSummary; s != nil {
		b.paragraph("Executive summary", true, 28)
		b.paragraph(s.Overview, false, 0)
		b.paragraph(fmt.Sprintf("Security score: %d (risk %s)", s.SecurityScore, s.RiskLevel), false, 0)
		for _, k := range s.KeyFindings {
			b.paragraph("- "+k, false, 0)
		}
	}

	b.paragraph(fmt.Sprintf("Findings (%d)", c.TotalFindings), true, 28)
	for _, sc := range c.SeverityCounts {
		b.paragraph(fmt.Sprintf("%s: %d", sc.Severity, sc.Count), false, 0)
	}
	for _, f := range c.Findings {
		b.paragraph(fmt.Sprintf("[%s] %s (CVSS %s, %s)", f.Severity, f.Name, cvss(f.CVSSScore), f.Status), true, 0)
		if c.TechnicalDetails {
			if f.Description != "" {
				b.paragraph(f.Description, false, 0)
			}
			if len(f.CVEIDs) > 0 {
				b.paragraph("CVE: "+joinList(f.CVEIDs), false, 0)
			}
			if len(f.AffectedComponents) > 0 {
				b.paragraph("Affected: "+joinList(f.AffectedComponents), false, 0)
			}
		}
	}

	if len(c.RemediationPlan) > 0 {
		b.paragraph("Remediation plan", true, 28)
		for i, step := range c.RemediationPlan {
			b.paragraph(fmt.Sprintf("%d. %s: %s (%s)", i+1, step.Priority, step.Action, joinList(step.Findings)), false, 0)
		}
	}

	b.buf.WriteString(`</w:body></w:document>`)
	if b.err != nil {
		return nil, fmt.Errorf("failed to build document: %w", b.err)
	}
	return b.buf.Bytes(), nil
}
