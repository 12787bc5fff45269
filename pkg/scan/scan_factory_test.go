package scan

import (
	"fmt"
	"testing"

	"github.com/zeebo/assert"

	"github.com/nexasecurity/nexasec/internal/executor"
)

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name         string
		kind         string
		opts         []FactoryOptions
		expectedType string
		wantErr      bool
	}{
		{name: "default", kind: "", expectedType: "*scan.CatalogGenerator"},
		{name: "catalog", kind: KindCatalog, expectedType: "*scan.CatalogGenerator"},
		{name: "nmap", kind: KindNmap, expectedType: "*scan.NmapGenerator"},
		{name: "nmap binary", kind: KindNmap, opts: []FactoryOptions{{NmapBinary: "/opt/nmap/bin/nmap"}}, expectedType: "*scan.NmapGenerator"},
		{name: "unknown", kind: "openvas", wantErr: true},
		{name: "bad catalog", kind: KindCatalog, opts: []FactoryOptions{{Catalog: []CatalogOption{WithCatalog([]byte("network: ["))}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGenerator(tt.kind, executor.NewCommandExecutor(), tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedType, fmt.Sprintf("%T", g))
		})
	}
}

func TestNewGeneratorNmapSettings(t *testing.T) {
	g, err := NewGenerator(KindNmap, executor.NewCommandExecutor(), FactoryOptions{NmapBinary: "/opt/nmap/bin/nmap"})
	assert.NoError(t, err)
	nmap, ok := g.(*NmapGenerator)
	assert.True(t, ok)
	assert.Equal(t, "/opt/nmap/bin/nmap", nmap.binary)
	_, isCatalog := nmap.fallback.(*CatalogGenerator)
	assert.True(t, isCatalog)
}

func TestNewGeneratorNmapRequiresExecutor(t *testing.T) {
	_, err := NewGenerator(KindNmap, nil)
	assert.Error(t, err)
}
