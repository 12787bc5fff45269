package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nexasecurity/nexasec/internal/data/model"
)

// Renderer writes Content in one output format.
type Renderer interface {
	Render(w io.Writer, c *Content) error
	// Extension is the file extension without the dot.
	Extension() string
	ContentType() string
}

// DefaultRenderers returns a renderer for every supported format.
func DefaultRenderers() map[model.ReportFormat]Renderer {
	return map[model.ReportFormat]Renderer{
		model.FormatJSON: JSONRenderer{},
		model.FormatCSV:  CSVRenderer{},
		model.FormatHTML: HTMLRenderer{},
		model.FormatPDF:  PDFRenderer{},
		model.FormatDOCX: DOCXRenderer{},
	}
}

type JSONRenderer struct{}

func (JSONRenderer) Render(w io.Writer, c *Content) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

func (JSONRenderer) Extension() string   { return "json" }
func (JSONRenderer) ContentType() string { return "application/json" }

// CSVRenderer writes a header and one row per finding.
type CSVRenderer struct{}

var csvHeader = []string{
	"id", "name", "severity", "status", "cvss_score", "phase",
	"cve_ids", "affected_components", "description", "remediation",
}

func (CSVRenderer) Render(w io.Writer, c *Content) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range c.Findings {
		score := ""
		if f.CVSSScore != nil {
			score = strconv.FormatFloat(*f.CVSSScore, 'f', 1, 64)
		}
		row := []string{
			f.ID, f.Name, string(f.Severity), string(f.Status), score, f.Phase,
			strings.Join(f.CVEIDs, ";"), strings.Join(f.AffectedComponents, ";"),
			f.Description, f.Remediation,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write finding %s: %w", f.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (CSVRenderer) Extension() string   { return "csv" }
func (CSVRenderer) ContentType() string { return "text/csv" }

func cvss(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', 1, 64)
}

func joinList(items []string) string {
	return strings.Join(items, ", ")
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC1123)
}
