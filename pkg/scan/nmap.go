package scan

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/pkg/semver"
	"github.com/nexasecurity/nexasec/pkg/types"
)

const (
	defaultNmapBinary = "nmap"
	defaultNmapPorts  = "1-1024"
	nmapGeneratorName = "nmap"
)

type nmapRun struct {
	XMLName xml.Name   `xml:"nmaprun"`
	Hosts   []nmapHost `xml:"host"`
}

type nmapHost struct {
	Status    nmapStatus    `xml:"status"`
	Addresses []nmapAddress `xml:"address"`
	Ports     struct {
		Ports []nmapPort `xml:"port"`
	} `xml:"ports"`
}

type nmapStatus struct {
	State string `xml:"state,attr"`
}

type nmapAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type nmapPort struct {
	Protocol string      `xml:"protocol,attr"`
	PortID   string      `xml:"portid,attr"`
	State    nmapStatus  `xml:"state"`
	Service  nmapService `xml:"service"`
}

type nmapService struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
	Version string `xml:"version,attr"`
}

// riskyService describes a service that should not be reachable.
type riskyService struct {
	severity    model.Severity
	cvss        float64
	remediation string
}

var riskyServices = map[string]riskyService{
	"telnet":        {model.SeverityHigh, 7.5, "Disable telnet and use SSH for remote administration."},
	"ftp":           {model.SeverityHigh, 7.5, "Replace FTP with SFTP or FTPS and disable anonymous access."},
	"vnc":           {model.SeverityHigh, 7.3, "Restrict VNC to a VPN and require strong authentication."},
	"ms-wbt-server": {model.SeverityHigh, 7.3, "Restrict RDP to a VPN or gateway and enable network level authentication."},
	"microsoft-ds":  {model.SeverityHigh, 8.1, "Block SMB at the perimeter and disable SMBv1."},
	"netbios-ssn":   {model.SeverityHigh, 7.5, "Block NetBIOS at the perimeter."},
	"mysql":         {model.SeverityMedium, 5.3, "Bind the database to private interfaces only."},
	"postgresql":    {model.SeverityMedium, 5.3, "Bind the database to private interfaces only."},
	"mongodb":       {model.SeverityMedium, 6.5, "Enable authentication and bind MongoDB to private interfaces."},
	"redis":         {model.SeverityMedium, 6.5, "Require a password and bind Redis to private interfaces."},
	"elasticsearch": {model.SeverityMedium, 6.5, "Enable security features and restrict access to the cluster."},
	"snmp":          {model.SeverityMedium, 5.3, "Disable SNMP if not needed or restrict access and update community strings."},
}

// versionRule flags a product whose version satisfies a known-vulnerable constraint.
type versionRule struct {
	product    string
	constraint string
	name       string
	severity   model.Severity
	cve        string
	cvss       float64
	fix        string
}

var versionRules = []versionRule{
	{"openssh", "< 7.7", "Outdated OpenSSH version", model.SeverityHigh, "CVE-2018-15473", 5.3, "Upgrade to the latest version of OpenSSH."},
	{"apache httpd", ">= 2.4.49, <= 2.4.50", "Apache HTTP Server path traversal", model.SeverityCritical, "CVE-2021-41773", 9.8, "Upgrade Apache HTTP Server to 2.4.51 or later."},
	{"vsftpd", "= 2.3.4", "vsftpd backdoor", model.SeverityCritical, "CVE-2011-2523", 9.8, "Reinstall vsftpd from a trusted source."},
	{"proftpd", "< 1.3.6", "ProFTPD mod_copy arbitrary file copy", model.SeverityCritical, "CVE-2019-12815", 9.8, "Upgrade ProFTPD to 1.3.6 or later."},
	{"nginx", "< 1.20.1", "nginx resolver off-by-one", model.SeverityHigh, "CVE-2021-23017", 7.7, "Upgrade nginx to 1.20.1 or later."},
}

// NmapGenerator runs nmap service detection during the port scan phase of network scans.
type NmapGenerator struct {
	executor types.CommandExecutor
	fallback Generator
	binary   string
}

// NmapOption configures an NmapGenerator.
type NmapOption func(*NmapGenerator)

// WithNmapBinary sets the nmap executable path.
func WithNmapBinary(path string) NmapOption {
	return func(g *NmapGenerator) {
		if path != "" {
			g.binary = path
		}
	}
}

// WithFallback sets the generator used for phases nmap does not cover.
func WithFallback(fallback Generator) NmapOption {
	return func(g *NmapGenerator) {
		g.fallback = fallback
	}
}

// NewNmapGenerator creates a new NmapGenerator.
func NewNmapGenerator(executor types.CommandExecutor, opts ...NmapOption) (*NmapGenerator, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	g := &NmapGenerator{executor: executor, binary: defaultNmapBinary}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate runs nmap for the port scan phase of network scans.
func (g *NmapGenerator) Generate(ctx context.Context, target string, category model.ScanCategory, phase string) ([]FindingDraft, error) {
	if category != model.CategoryNetwork || phase != PhasePortScan {
		if g.fallback == nil {
			return nil, nil
		}
		return g.fallback.Generate(ctx, target, category, phase)
	}

	opts := OptionsFromContext(ctx)
	ports := opts.PortRange
	if ports == "" {
		ports = defaultNmapPorts
	}
	args := []string{"-sV", "-oX", "-", "-p", ports}
	if opts.Intensity > 0 {
		args = append(args, fmt.Sprintf("-T%d", opts.Intensity))
	}
	args = append(args, target)

	stdout, stderr, err := g.executor.ExecuteCommand(ctx, g.binary, args, nil)
	if err != nil {
		return nil, &GeneratorError{
			Generator: nmapGeneratorName,
			Phase:     phase,
			Err:       fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr)),
		}
	}
	drafts, err := ParseNmapXML([]byte(stdout))
	if err != nil {
		return nil, &GeneratorError{Generator: nmapGeneratorName, Phase: phase, Err: err}
	}
	return drafts, nil
}

// ParseNmapXML converts nmap XML output into findings for open ports and vulnerable versions.
func ParseNmapXML(data []byte) ([]FindingDraft, error) {
	var run nmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse nmap output: %w", err)
	}
	var drafts []FindingDraft
	for _, host := range run.Hosts {
		if host.Status.State != "up" {
			continue
		}
		address := hostAddress(host)
		for _, port := range host.Ports.Ports {
			if port.State.State != "open" {
				continue
			}
			drafts = append(drafts, portFinding(address, port))
			drafts = append(drafts, versionFindings(address, port)...)
		}
	}
	return drafts, nil
}

func hostAddress(host nmapHost) string {
	for _, kind := range []string{"ipv4", "ipv6"} {
		for _, addr := range host.Addresses {
			if addr.AddrType == kind {
				return addr.Addr
			}
		}
	}
	return "unknown"
}

func portFinding(address string, port nmapPort) FindingDraft {
	component := port.PortID + "/" + port.Protocol
	service := strings.ToLower(port.Service.Name)
	d := FindingDraft{
		Name:               fmt.Sprintf("Open port %s (%s)", component, displayService(service)),
		Description:        fmt.Sprintf("Port %s is open on %s. Service: %s", component, address, serviceBanner(port.Service)),
		Severity:           model.SeverityInfo,
		AffectedComponents: []string{component},
	}
	if risk, ok := riskyServices[service]; ok {
		score := risk.cvss
		d.Name = fmt.Sprintf("Open %s Port", strings.ToUpper(displayService(service)))
		d.Severity = risk.severity
		d.CVSSScore = &score
		d.Remediation = risk.remediation
	}
	return d
}

func versionFindings(address string, port nmapPort) []FindingDraft {
	if port.Service.Product == "" || port.Service.Version == "" {
		return nil
	}
	product := strings.ToLower(port.Service.Product)
	var drafts []FindingDraft
	for _, rule := range versionRules {
		if !strings.Contains(product, rule.product) {
			continue
		}
		ok, err := semver.Satisfies(port.Service.Version, rule.constraint)
		if err != nil || !ok {
			continue
		}
		score := rule.cvss
		drafts = append(drafts, FindingDraft{
			Name: rule.name,
			Description: fmt.Sprintf("%s on %s port %s/%s reports version %s, which is affected by %s.",
				port.Service.Product, address, port.PortID, port.Protocol, port.Service.Version, rule.cve),
			Severity:           rule.severity,
			AffectedComponents: []string{strings.TrimSpace(port.Service.Product + " " + port.Service.Version)},
			CVSSScore:          &score,
			CVEIDs:             []string{rule.cve},
			Remediation:        rule.fix,
		})
	}
	return drafts
}

func displayService(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

func serviceBanner(s nmapService) string {
	parts := []string{displayService(s.Name)}
	if s.Product != "" {
		parts = append(parts, s.Product)
	}
	if s.Version != "" {
		parts = append(parts, s.Version)
	}
	return strings.Join(parts, " ")
}
