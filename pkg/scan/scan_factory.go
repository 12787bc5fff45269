package scan

import (
	"fmt"

	"github.com/nexasecurity/nexasec/pkg/types"
)

// Generator kinds accepted by NewGenerator.
const (
	KindCatalog = "catalog"
	KindNmap    = "nmap"
)

// FactoryOptions tunes the generator built by NewGenerator.
type FactoryOptions struct {
	NmapBinary string
	Catalog    []CatalogOption
}

// NewGenerator creates a Generator by kind. The nmap generator falls back to
// the catalog for phases it does not cover.
func NewGenerator(kind string, executor types.CommandExecutor, opts ...FactoryOptions) (Generator, error) {
	var o FactoryOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	catalog, err := NewCatalogGenerator(o.Catalog...)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "", KindCatalog:
		return catalog, nil
	case KindNmap:
		return NewNmapGenerator(executor, WithNmapBinary(o.NmapBinary), WithFallback(catalog))
	default:
		return nil, fmt.Errorf("unknown generator %q", kind)
	}
}
