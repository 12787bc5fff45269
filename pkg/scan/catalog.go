package scan

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nexasecurity/nexasec/internal/data/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogEntry struct {
	CVSSScore          *float64         `yaml:"cvss_score"`
	Name               string           `yaml:"name"`
	Description        string           `yaml:"description"`
	Severity           model.Severity   `yaml:"severity"`
	Remediation        string           `yaml:"remediation"`
	SeverityChoices    []model.Severity `yaml:"severity_choices"`
	AffectedComponents []string         `yaml:"affected_components"`
	CVEIDs             []string         `yaml:"cve_ids"`
	CVSSRange          []float64        `yaml:"cvss_range"`
	Probability        float64          `yaml:"probability"`
	Repeat             int              `yaml:"repeat"`
}

// Catalog maps a category and phase to the findings that phase may emit.
type Catalog map[model.ScanCategory]map[string][]catalogEntry

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for category, byPhase := range c {
		if !category.IsValid() {
			return nil, fmt.Errorf("catalog: unknown category %q", category)
		}
		for phase, entries := range byPhase {
			for i := range entries {
				if err := entries[i].validate(); err != nil {
					return nil, fmt.Errorf("catalog %s/%s entry %d: %w", category, phase, i, err)
				}
			}
		}
	}
	return c, nil
}

func (e *catalogEntry) validate() error {
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(e.SeverityChoices) == 0 && !e.Severity.IsValid() {
		return fmt.Errorf("invalid severity %q", e.Severity)
	}
	for _, s := range e.SeverityChoices {
		if !s.IsValid() {
			return fmt.Errorf("invalid severity choice %q", s)
		}
	}
	if e.Probability < 0 || e.Probability > 1 {
		return fmt.Errorf("probability %v outside [0, 1]", e.Probability)
	}
	if e.CVSSScore != nil && (*e.CVSSScore < 0 || *e.CVSSScore > 10) {
		return fmt.Errorf("cvss score %v outside [0, 10]", *e.CVSSScore)
	}
	if e.CVSSRange != nil && (len(e.CVSSRange) != 2 || e.CVSSRange[0] < 0 || e.CVSSRange[1] > 10 || e.CVSSRange[0] > e.CVSSRange[1]) {
		return fmt.Errorf("invalid cvss range %v", e.CVSSRange)
	}
	return nil
}

// CatalogGenerator emits findings from a catalog, simulating a scanner.
type CatalogGenerator struct {
	catalog Catalog
	mu      sync.Mutex
	rng     *rand.Rand
}

// CatalogOption configures a CatalogGenerator.
type CatalogOption func(*CatalogGenerator) error

// WithRand sets the random source used for probabilistic entries.
func WithRand(r *rand.Rand) CatalogOption {
	return func(g *CatalogGenerator) error {
		g.rng = r
		return nil
	}
}

// WithCatalog replaces the embedded catalog.
func WithCatalog(data []byte) CatalogOption {
	return func(g *CatalogGenerator) error {
		c, err := ParseCatalog(data)
		if err != nil {
			return err
		}
		g.catalog = c
		return nil
	}
}

// NewCatalogGenerator creates a generator backed by the embedded catalog.
func NewCatalogGenerator(opts ...CatalogOption) (*CatalogGenerator, error) {
	g := &CatalogGenerator{}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if g.catalog == nil {
		c, err := ParseCatalog(defaultCatalog)
		if err != nil {
			return nil, err
		}
		g.catalog = c
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return g, nil
}

// Generate returns the catalog findings for the phase.
func (g *CatalogGenerator) Generate(_ context.Context, target string, category model.ScanCategory, phase string) ([]FindingDraft, error) {
	entries := g.catalog[category][phase]
	g.mu.Lock()
	defer g.mu.Unlock()

	var drafts []FindingDraft
	for i := range entries {
		e := &entries[i]
		if e.Probability > 0 && g.rng.Float64() >= e.Probability {
			continue
		}
		repeat := max(e.Repeat, 1)
		for n := 1; n <= repeat; n++ {
			drafts = append(drafts, g.draft(e, target, n))
		}
	}
	return drafts, nil
}

func (g *CatalogGenerator) draft(e *catalogEntry, target string, n int) FindingDraft {
	r := strings.NewReplacer("{target}", target, "{n}", strconv.Itoa(n))
	d := FindingDraft{
		Name:        r.Replace(e.Name),
		Description: r.Replace(e.Description),
		Severity:    e.Severity,
		Remediation: r.Replace(e.Remediation),
	}
	if len(e.SeverityChoices) > 0 {
		d.Severity = e.SeverityChoices[g.rng.IntN(len(e.SeverityChoices))]
	}
	for _, c := range e.AffectedComponents {
		d.AffectedComponents = append(d.AffectedComponents, r.Replace(c))
	}
	if len(e.CVEIDs) > 0 {
		d.CVEIDs = append([]string(nil), e.CVEIDs...)
	}
	switch {
	case e.CVSSScore != nil:
		score := *e.CVSSScore
		d.CVSSScore = &score
	case len(e.CVSSRange) == 2:
		score := e.CVSSRange[0] + g.rng.Float64()*(e.CVSSRange[1]-e.CVSSRange[0])
		score = math.Round(score*10) / 10
		d.CVSSScore = &score
	}
	return d
}
