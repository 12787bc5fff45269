package scan

import (
	"context"
	"fmt"

	"github.com/nexasecurity/nexasec/internal/data/model"
)

// FindingDraft is a finding produced by a generator before it is persisted.
type FindingDraft struct {
	CVSSScore          *float64       `json:"cvss_score,omitempty"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	Severity           model.Severity `json:"severity"`
	Remediation        string         `json:"remediation,omitempty"`
	AffectedComponents []string       `json:"affected_components,omitempty"`
	CVEIDs             []string       `json:"cve_ids,omitempty"`
}

// Generator produces findings for one phase of a scan.
type Generator interface {
	Generate(ctx context.Context, target string, category model.ScanCategory, phase string) ([]FindingDraft, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, target string, category model.ScanCategory, phase string) ([]FindingDraft, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, target string, category model.ScanCategory, phase string) ([]FindingDraft, error) {
	return f(ctx, target, category, phase)
}

// GeneratorError is returned when a generator or the tool behind it fails.
type GeneratorError struct {
	Err       error
	Generator string
	Phase     string
}

func (e *GeneratorError) Error() string {
	return fmt.Sprintf("%s generator failed during %s: %v", e.Generator, e.Phase, e.Err)
}

func (e *GeneratorError) Unwrap() error {
	return e.Err
}

// MultiGenerator runs every generator in order and concatenates their findings.
type MultiGenerator []Generator

// Generate stops at the first failing generator.
func (m MultiGenerator) Generate(ctx context.Context, target string, category model.ScanCategory, phase string) ([]FindingDraft, error) {
	var all []FindingDraft
	for _, g := range m {
		drafts, err := g.Generate(ctx, target, category, phase)
		if err != nil {
			return all, err
		}
		all = append(all, drafts...)
	}
	return all, nil
}

// Options carries per-scan settings that a generator may honor.
type Options struct {
	PortRange string
	Probes    []string
	Intensity int
}

type optionsKey struct{}

// WithOptions returns a context carrying the scan options.
func WithOptions(ctx context.Context, opts Options) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

// OptionsFromContext returns the scan options stored in ctx, if any.
func OptionsFromContext(ctx context.Context) Options {
	opts, _ := ctx.Value(optionsKey{}).(Options)
	return opts
}
