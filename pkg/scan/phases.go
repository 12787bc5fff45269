package scan

import "github.com/nexasecurity/nexasec/internal/data/model"

// Phase names shared by several categories.
const (
	PhaseDiscovery          = "discovery"
	PhasePortScan           = "port_scan"
	PhaseServiceEnumeration = "service_enumeration"
	PhaseVulnerabilityProbe = "vulnerability_probe"
	PhaseAnalysis           = "analysis"
	PhaseCrawl              = "crawl"
	PhaseEndpoints          = "endpoint_enumeration"
	PhaseStaticAnalysis     = "static_analysis"
	PhaseDynamicAnalysis    = "dynamic_analysis"
	PhaseEnumeration        = "enumeration"
	PhaseProbing            = "probing"
)

var phases = map[model.ScanCategory][]string{
	model.CategoryNetwork: {PhaseDiscovery, PhasePortScan, PhaseServiceEnumeration, PhaseVulnerabilityProbe, PhaseAnalysis},
	model.CategoryWeb:     {PhaseDiscovery, PhaseCrawl, PhaseVulnerabilityProbe, PhaseAnalysis},
	model.CategoryAPI:     {PhaseDiscovery, PhaseEndpoints, PhaseVulnerabilityProbe, PhaseAnalysis},
	model.CategoryMobile:  {PhaseDiscovery, PhaseStaticAnalysis, PhaseDynamicAnalysis, PhaseAnalysis},
	model.CategoryCustom:  {PhaseDiscovery, PhaseEnumeration, PhaseProbing, PhaseAnalysis},
}

// Phases returns the ordered phases of a category. Unknown categories have none.
func Phases(category model.ScanCategory) []string {
	p := phases[category]
	out := make([]string, len(p))
	copy(out, p)
	return out
}
