package report

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/nexasecurity/nexasec/internal/data/model"
)

const keyFindingsLimit = 5

// Content is the format-independent body of a report.
type Content struct {
	GeneratedAt      time.Time         `json:"generated_at"`
	ExecutiveSummary *ExecutiveSummary `json:"executive_summary,omitempty"`
	CustomFields     map[string]string `json:"custom_fields,omitempty"`
	ReportID         string            `json:"report_id"`
	Title            string            `json:"title"`
	Scan             ScanInfo          `json:"scan"`
	SeverityCounts   []SeverityCount   `json:"severity_counts"`
	Findings         []Finding         `json:"findings"`
	RemediationPlan  []RemediationStep `json:"remediation_plan,omitempty"`
	TotalFindings    int               `json:"total_findings"`
	TechnicalDetails bool              `json:"technical_details"`
}

// ScanInfo is the metadata of the scan a report was built from.
type ScanInfo struct {
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	EndedAt         *time.Time         `json:"ended_at,omitempty"`
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Target          string             `json:"target"`
	Category        model.ScanCategory `json:"category"`
	PortRange       string             `json:"port_range,omitempty"`
	Phases          []string           `json:"phases,omitempty"`
	OpenPorts       int                `json:"open_ports"`
	TotalServices   int                `json:"total_services"`
	DurationSeconds float64            `json:"duration_seconds"`
}

type SeverityCount struct {
	Severity model.Severity `json:"severity"`
	Count    int            `json:"count"`
}

// Finding is one vulnerability as shown in a report. The detail fields are
// empty unless technical details were requested.
type Finding struct {
	CVSSScore          *float64                  `json:"cvss_score,omitempty"`
	ID                 string                    `json:"id"`
	Name               string                    `json:"name"`
	Severity           model.Severity            `json:"severity"`
	Status             model.VulnerabilityStatus `json:"status"`
	Phase              string                    `json:"phase,omitempty"`
	Description        string                    `json:"description,omitempty"`
	Remediation        string                    `json:"remediation,omitempty"`
	CVEIDs             []string                  `json:"cve_ids,omitempty"`
	AffectedComponents []string                  `json:"affected_components,omitempty"`
}

type ExecutiveSummary struct {
	Overview      string          `json:"overview"`
	RiskLevel     model.RiskLevel `json:"risk_level"`
	KeyFindings   []string        `json:"key_findings,omitempty"`
	SecurityScore int             `json:"security_score"`
}

// RemediationStep groups the findings that share a fix.
type RemediationStep struct {
	Priority string         `json:"priority"`
	Severity model.Severity `json:"severity"`
	Action   string         `json:"action"`
	Findings []string       `json:"findings"`
}

var priorities = map[model.Severity]string{
	model.SeverityCritical: "immediate",
	model.SeverityHigh:     "short-term",
	model.SeverityMedium:   "medium-term",
	model.SeverityLow:      "long-term",
}

// Build assembles the content of a report on sc. Findings are ordered by
// severity, most severe first, keeping discovery order within a severity.
func Build(rep *model.Report, sc *model.Scan, vulns []model.Vulnerability, now time.Time) *Content {
	opts := rep.Options
	sorted := make([]model.Vulnerability, len(vulns))
	copy(sorted, vulns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() < sorted[j].Severity.Rank()
	})

	counts := make(map[model.Severity]int, len(model.Severities))
	findings := make([]Finding, 0, len(sorted))
	for _, v := range sorted {
		counts[v.Severity]++
		f := Finding{
			ID:        v.ID,
			Name:      v.Name,
			Severity:  v.Severity,
			Status:    v.Status,
			CVSSScore: v.CVSSScore,
		}
		if opts.IncludeTechnicalDetails {
			f.Phase = v.Phase
			f.Description = v.Description
			f.Remediation = v.Remediation
			f.CVEIDs = v.CVEIDs
			f.AffectedComponents = v.AffectedComponents
		}
		findings = append(findings, f)
	}

	c := &Content{
		GeneratedAt: now.UTC(),
		ReportID:    rep.ID,
		Title:       rep.Title,
		Scan: ScanInfo{
			ID:              sc.ID,
			Name:            sc.Name,
			Target:          sc.Target,
			Category:        sc.Category,
			PortRange:       sc.PortRange,
			StartedAt:       sc.StartedAt,
			EndedAt:         sc.EndedAt,
			Phases:          sc.ResultSummary.Phases,
			OpenPorts:       sc.ResultSummary.OpenPorts,
			TotalServices:   sc.ResultSummary.TotalServices,
			DurationSeconds: sc.ResultSummary.DurationSeconds,
		},
		Findings:         findings,
		TotalFindings:    len(findings),
		TechnicalDetails: opts.IncludeTechnicalDetails,
		CustomFields:     opts.CustomFields,
	}
	for _, s := range model.Severities {
		c.SeverityCounts = append(c.SeverityCounts, SeverityCount{Severity: s, Count: counts[s]})
	}
	if opts.IncludeExecutiveSummary {
		c.ExecutiveSummary = executiveSummary(sc, counts, sorted)
	}
	if opts.IncludeRemediationPlan {
		c.RemediationPlan = remediationPlan(sorted)
	}
	return c
}

func executiveSummary(sc *model.Scan, counts map[model.Severity]int, sorted []model.Vulnerability) *ExecutiveSummary {
	score := model.SecurityScore(counts)
	var key []string
	for _, v := range sorted {
		if len(key) == keyFindingsLimit || v.Severity.Rank() > model.SeverityHigh.Rank() {
			break
		}
		key = append(key, v.Name)
	}
	var parts []string
	for _, s := range model.Severities {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	overview := fmt.Sprintf("The %s assessment of %s found no vulnerabilities.", sc.Category, sc.Target)
	if len(sorted) > 0 {
		overview = fmt.Sprintf("The %s assessment of %s identified %d findings (%s).",
			sc.Category, sc.Target, len(sorted), strings.Join(parts, ", "))
	}
	return &ExecutiveSummary{
		Overview:      overview,
		SecurityScore: score,
		RiskLevel:     model.RiskLevelFor(score),
		KeyFindings:   key,
	}
}

// remediationPlan groups findings by fix, skipping informational findings and
// those without remediation advice.
func remediationPlan(sorted []model.Vulnerability) []RemediationStep {
	var steps []RemediationStep
	index := make(map[string]int)
	for _, v := range sorted {
		priority, ok := priorities[v.Severity]
		if !ok || strings.TrimSpace(v.Remediation) == "" {
			continue
		}
		key := string(v.Severity) + "\x00" + v.Remediation
		if i, ok := index[key]; ok {
			if !slices.Contains(steps[i].Findings, v.Name) {
				steps[i].Findings = append(steps[i].Findings, v.Name)
			}
			continue
		}
		index[key] = len(steps)
		steps = append(steps, RemediationStep{
			Priority: priority,
			Severity: v.Severity,
			Action:   v.Remediation,
			Findings: []string{v.Name},
		})
	}
	return steps
}
