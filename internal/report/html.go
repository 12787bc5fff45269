package report

import (
	"html/template"
	"io"
)

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"date": formatDate,
	"cvss": cvss,
	"join": joinList,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; vertical-align: top; }
.critical { color: #8b0000; } .high { color: #d9534f; } .medium { color: #f0ad4e; } .low { color: #5bc0de; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}</p>
<h2>Scan</h2>
<table>
<tr><th>Name</th><td>{{.Scan.Name}}</td></tr>
<tr><th>Target</th><td>{{.Scan.Target}}</td></tr>
<tr><th>Category</th><td>{{.Scan.Category}}</td></tr>
<tr><th>Started</th><td>{{date .Scan.StartedAt}}</td></tr>
<tr><th>Ended</th><td>{{date .Scan.EndedAt}}</td></tr>
</table>
{{with .CustomFields}}<h2>Details</h2>
<table>{{range $k, $v := .}}<tr><th>{{$k}}</th><td>{{$v}}</td></tr>{{end}}</table>
{{end}}{{with .ExecutiveSummary}}<h2>Executive summary</h2>
<p>{{.Overview}}</p>
<p>Security score: <strong>{{.SecurityScore}}</strong> (risk {{.RiskLevel}})</p>
{{with .KeyFindings}}<ul>{{range .}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{end}}<h2>Findings ({{.TotalFindings}})</h2>
<table>
<tr>{{range .SeverityCounts}}<th class="{{.Severity}}">{{.Severity}}</th>{{end}}</tr>
<tr>{{range .SeverityCounts}}<td>{{.Count}}</td>{{end}}</tr>
</table>
{{if .Findings}}<table>
<tr><th>Severity</th><th>Name</th><th>CVSS</th><th>Status</th>{{if .TechnicalDetails}}<th>Details</th>{{end}}</tr>
{{$details := .TechnicalDetails}}{{range .Findings}}<tr>
<td class="{{.Severity}}">{{.Severity}}</td><td>{{.Name}}</td><td>{{cvss .CVSSScore}}</td><td>{{.Status}}</td>
{{if $details}}<td>{{.Description}}{{with .CVEIDs}}<br>CVE: {{join .}}{{end}}{{with .AffectedComponents}}<br>Affected: {{join .}}{{end}}</td>{{end}}
</tr>
{{end}}</table>
{{end}}{{with .RemediationPlan}}<h2>Remediation plan</h2>
<ol>{{range .}}<li><strong>{{.Priority}}</strong>: {{.Action}} ({{join .Findings}})</li>{{end}}</ol>
{{end}}</body>
</html>
`))

// HTMLRenderer renders a standalone HTML document.
type HTMLRenderer struct{}

func (HTMLRenderer) Render(w io.Writer, c *Content) error {
	return htmlTemplate.Execute(w, c)
}

func (HTMLRenderer) Extension() string   { return "html" }
func (HTMLRenderer) ContentType() string { return "text/html; charset=utf-8" }
