package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nexasecurity/nexasec/internal/config"
	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/events"
	"github.com/nexasecurity/nexasec/internal/metrics"
	"github.com/nexasecurity/nexasec/internal/validation"
	"github.com/nexasecurity/nexasec/pkg/scan"
)

type stores struct {
	scans *db.GormScanStore
	vulns *db.GormVulnerabilityStore
	users *db.GormUserStore
}

func setupStores(t *testing.T) stores {
	t.Helper()
	uniqueDBIdentifier := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(uniqueDBIdentifier), &gorm.Config{})
	require.NoError(t, err, "failed to open database")
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, gdb.AutoMigrate(model.AllModels()...))

	scans, err := db.NewGormScanStore(gdb)
	require.NoError(t, err)
	vulns, err := db.NewGormVulnerabilityStore(gdb)
	require.NoError(t, err)
	users, err := db.NewGormUserStore(gdb)
	require.NoError(t, err)
	return stores{scans: scans, vulns: vulns, users: users}
}

func testConfig() config.ScanConfig {
	return config.ScanConfig{
		MaxConcurrent: 3,
		MaxDaily:      10,
		Timeout:       time.Minute,
	}
}

func newOrchestrator(t *testing.T, s stores, cfg config.ScanConfig, gen scan.Generator, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(cfg, s.scans, s.vulns, gen, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

// phaseGenerator returns one finding per phase, named after the phase.
func phaseGenerator(severity model.Severity) scan.Generator {
	return scan.GeneratorFunc(func(_ context.Context, target string, _ model.ScanCategory, phase string) ([]scan.FindingDraft, error) {
		return []scan.FindingDraft{{
			Name:               "finding in " + phase,
			Description:        "found on " + target,
			Severity:           severity,
			AffectedComponents: []string{"22/tcp"},
		}}, nil
	})
}

// gateGenerator blocks in one phase until released.
type gateGenerator struct {
	block   string
	entered chan string
	release chan struct{}
}

func newGateGenerator(block string) *gateGenerator {
	return &gateGenerator{block: block, entered: make(chan string, 64), release: make(chan struct{})}
}

func (g *gateGenerator) Generate(_ context.Context, _ string, _ model.ScanCategory, phase string) ([]scan.FindingDraft, error) {
	if phase == g.block {
		g.entered <- phase
		<-g.release
	}
	return []scan.FindingDraft{{Name: "finding in " + phase, Severity: model.SeverityMedium}}, nil
}

func (g *gateGenerator) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("generator never reached phase %s", g.block)
	}
}

func waitForStatus(t *testing.T, o *Orchestrator, id, owner string, want model.ScanStatus) *model.Scan {
	t.Helper()
	require.Eventually(t, func() bool {
		sc, err := o.GetScan(context.Background(), id, owner)
		return err == nil && sc.Status == want
	}, 5*time.Second, 5*time.Millisecond, "scan %s never reached %s", id, want)
	sc, err := o.GetScan(context.Background(), id, owner)
	require.NoError(t, err)
	return sc
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool { return o.Active() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestNew(t *testing.T) {
	s := setupStores(t)
	gen := phaseGenerator(model.SeverityLow)

	_, err := New(testConfig(), nil, s.vulns, gen)
	require.Error(t, err)
	_, err = New(testConfig(), s.scans, s.vulns, nil)
	require.Error(t, err)
	_, err = New(config.ScanConfig{MaxConcurrent: 0, MaxDaily: 1, Timeout: time.Minute}, s.scans, s.vulns, gen)
	require.Error(t, err)
	_, err = New(config.ScanConfig{MaxConcurrent: 1, MaxDaily: 1}, s.scans, s.vulns, gen)
	require.Error(t, err)

	collector := metrics.New("nexasec")
	_, err = New(testConfig(), s.scans, s.vulns, gen, WithMetrics(collector))
	require.NoError(t, err)
	_, err = New(testConfig(), s.scans, s.vulns, gen, WithMetrics(collector))
	require.ErrorContains(t, err, "already registered")
}

func TestCanTransition(t *testing.T) {
	statuses := []model.ScanStatus{model.StatusPending, model.StatusRunning, model.StatusCompleted, model.StatusFailed, model.StatusCancelled}
	allowed := map[[2]model.ScanStatus]bool{
		{model.StatusPending, model.StatusRunning}:   true,
		{model.StatusRunning, model.StatusCompleted}: true,
		{model.StatusRunning, model.StatusFailed}:    true,
		{model.StatusRunning, model.StatusCancelled}: true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				assert.Equal(t, allowed[[2]model.ScanStatus{from, to}], CanTransition(from, to))
			})
		}
	}
}

func TestCreateScanCompletes(t *testing.T) {
	s := setupStores(t)
	rec := &events.Recorder{}
	o := newOrchestrator(t, s, testConfig(), phaseGenerator(model.SeverityHigh), WithPublisher(rec))
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "198.51.100.7", Category: model.CategoryNetwork})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, sc.Status)
	assert.Equal(t, validation.DefaultIntensity, sc.Intensity)
	assert.Equal(t, "network scan of 198.51.100.7", sc.Name)

	done := waitForStatus(t, o, sc.ID, "alice", model.StatusCompleted)
	waitIdle(t, o)

	assert.Equal(t, 100.0, done.Progress)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.EndedAt)
	assert.Empty(t, done.CurrentPhase)
	assert.Equal(t, 5, done.HighCount)
	assert.Equal(t, 5, done.ResultSummary.TotalFindings)
	assert.Equal(t, 1, done.ResultSummary.OpenPorts)
	assert.Equal(t, 1, done.ResultSummary.TotalServices)
	assert.Equal(t, scan.Phases(model.CategoryNetwork), done.ResultSummary.Phases)
	assert.Len(t, done.ResultSummary.TopFindings, 5)

	vulns, err := o.ListVulnerabilities(ctx, sc.ID, "alice", nil)
	require.NoError(t, err)
	require.Len(t, vulns, 5)
	for _, v := range vulns {
		assert.True(t, v.Severity.IsValid(), "unexpected severity %q", v.Severity)
		assert.Equal(t, model.VulnOpen, v.Status)
	}

	assert.Equal(t, []events.Type{events.ScanCreated, events.ScanRunning, events.ScanCompleted}, rec.Types(sc.ID))
}

func TestCreateScanWithCatalogGenerator(t *testing.T) {
	s := setupStores(t)
	gen, err := scan.NewCatalogGenerator()
	require.NoError(t, err)
	o := newOrchestrator(t, s, testConfig(), gen)
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "198.51.100.7", Category: model.CategoryNetwork, PortRange: "22, 80-443"})
	require.NoError(t, err)
	assert.Equal(t, "22,80-443", sc.PortRange)

	done := waitForStatus(t, o, sc.ID, "alice", model.StatusCompleted)
	vulns, err := o.ListVulnerabilities(ctx, sc.ID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, len(vulns), done.TotalFindings())
	for _, v := range vulns {
		assert.Contains(t, model.Severities, v.Severity)
	}
}

func TestCreateScanValidation(t *testing.T) {
	s := setupStores(t)
	o := newOrchestrator(t, s, testConfig(), phaseGenerator(model.SeverityLow))
	ctx := context.Background()

	tests := []struct {
		name  string
		req   ScanRequest
		field string
	}{
		{name: "missing owner", req: ScanRequest{Target: "example.com", Category: model.CategoryWeb}, field: "owner"},
		{name: "url target", req: ScanRequest{Owner: "alice", Target: "http://example.com", Category: model.CategoryWeb}, field: "target"},
		{name: "empty target", req: ScanRequest{Owner: "alice", Category: model.CategoryWeb}, field: "target"},
		{name: "unknown category", req: ScanRequest{Owner: "alice", Target: "example.com", Category: "iot"}, field: "category"},
		{name: "reversed ports", req: ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryNetwork, PortRange: "443-80"}, field: "port_range"},
		{name: "port out of range", req: ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryNetwork, PortRange: "70000"}, field: "port_range"},
		{name: "intensity too high", req: ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryNetwork, Intensity: 6}, field: "intensity"},
		{name: "blank probe", req: ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryCustom, Probes: []string{" "}}, field: "probes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.CreateScan(ctx, tt.req)
			require.ErrorIs(t, err, ErrValidation)
			var fieldErr *validation.FieldError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tt.field, fieldErr.Field)
		})
	}

	scans, err := o.ListScans(ctx, "alice", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, scans)
}

func TestCreateScanConcurrencyLimit(t *testing.T) {
	s := setupStores(t)
	o := newOrchestrator(t, s, testConfig(), phaseGenerator(model.SeverityLow))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.scans.Create(ctx, &model.Scan{
			ID: fmt.Sprintf("running-%d", i), OwnerID: "alice", Target: "198.51.100.7",
			Category: model.CategoryNetwork, Status: model.StatusRunning, CreatedAt: time.Now().UTC(),
		}))
	}

	_, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "198.51.100.7", Category: model.CategoryNetwork})
	require.ErrorIs(t, err, ErrConcurrencyLimitExceeded)

	scans, err := o.ListScans(ctx, "alice", ListOptions{})
	require.NoError(t, err)
	assert.Len(t, scans, 3)

	// other owners are unaffected
	_, err = o.CreateScan(ctx, ScanRequest{Owner: "bob", Target: "198.51.100.7", Category: model.CategoryNetwork})
	require.NoError(t, err)
}

func TestCreateScanParallelRespectsLimit(t *testing.T) {
	s := setupStores(t)
	gen := newGateGenerator(scan.PhaseDiscovery)
	o := newOrchestrator(t, s, testConfig(), gen)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "198.51.100.7", Category: model.CategoryWeb})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrConcurrencyLimitExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	assert.Equal(t, 7, rejected)
	for i := 0; i < accepted; i++ {
		gen.waitEntered(t)
	}
	running, err := s.scans.CountRunning(ctx, "alice")
	require.NoError(t, err)
	assert.LessOrEqual(t, running, int64(3))

	close(gen.release)
	waitIdle(t, o)
}

func TestCreateScanDailyQuota(t *testing.T) {
	s := setupStores(t)
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.MaxDaily = 2
	o := newOrchestrator(t, s, cfg, phaseGenerator(model.SeverityLow), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i, created := range []time.Time{now.Add(-16 * time.Hour), now.Add(-time.Hour), now.Add(-2 * time.Hour)} {
		require.NoError(t, s.scans.Create(ctx, &model.Scan{
			ID: fmt.Sprintf("done-%d", i), OwnerID: "alice", Target: "198.51.100.7",
			Category: model.CategoryNetwork, Status: model.StatusCompleted, CreatedAt: created,
		}))
	}

	_, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "198.51.100.7", Category: model.CategoryNetwork})
	require.ErrorIs(t, err, ErrQuotaExceeded)

	scans, err := o.ListScans(ctx, "alice", ListOptions{})
	require.NoError(t, err)
	assert.Len(t, scans, 3)
}

func TestCreateScanUserOverrides(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()
	require.NoError(t, s.users.Create(ctx, &model.User{ID: "carol", Email: "carol@example.com", PasswordHash: "x", MaxConcurrentScans: 1}))

	gen := newGateGenerator(scan.PhaseDiscovery)
	o := newOrchestrator(t, s, testConfig(), gen, WithUserStore(s.users))

	_, err := o.CreateScan(ctx, ScanRequest{Owner: "carol", Target: "198.51.100.7", Category: model.CategoryWeb})
	require.NoError(t, err)
	_, err = o.CreateScan(ctx, ScanRequest{Owner: "carol", Target: "198.51.100.7", Category: model.CategoryWeb})
	require.ErrorIs(t, err, ErrConcurrencyLimitExceeded)

	// unknown users fall back to the configured limits
	_, err = o.CreateScan(ctx, ScanRequest{Owner: "dave", Target: "198.51.100.7", Category: model.CategoryWeb})
	require.NoError(t, err)

	close(gen.release)
	waitIdle(t, o)
}

func TestCancelScanMidPhase(t *testing.T) {
	s := setupStores(t)
	gen := newGateGenerator(scan.PhaseCrawl)
	rec := &events.Recorder{}
	o := newOrchestrator(t, s, testConfig(), gen, WithPublisher(rec))
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryWeb})
	require.NoError(t, err)
	gen.waitEntered(t)

	require.NoError(t, o.CancelScan(ctx, sc.ID, "alice"))
	cancelled, err := o.GetScan(ctx, sc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.EndedAt)

	err = o.CancelScan(ctx, sc.ID, "alice")
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	close(gen.release)
	waitIdle(t, o)

	final, err := o.GetScan(ctx, sc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, final.Status)
	assert.Equal(t, 25.0, final.Progress)
	assert.Equal(t, scan.PhaseCrawl, final.CurrentPhase)

	vulns, err := o.ListVulnerabilities(ctx, sc.ID, "alice", nil)
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, scan.PhaseDiscovery, vulns[0].Phase)
	assert.Equal(t, 1, final.MediumCount)

	assert.Equal(t, []events.Type{events.ScanCreated, events.ScanRunning, events.ScanCancelled}, rec.Types(sc.ID))
}

func TestCancelScanNotRunning(t *testing.T) {
	s := setupStores(t)
	o := newOrchestrator(t, s, testConfig(), phaseGenerator(model.SeverityLow))
	ctx := context.Background()
	require.NoError(t, s.scans.Create(ctx, &model.Scan{ID: "pending", OwnerID: "alice", Target: "example.com", Category: model.CategoryWeb, Status: model.StatusPending}))

	err := o.CancelScan(ctx, "pending", "alice")
	require.ErrorIs(t, err, ErrInvalidState)
	require.NotErrorIs(t, err, ErrInvalidStateTransition)

	require.ErrorIs(t, o.CancelScan(ctx, "missing", "alice"), ErrNotFound)
}

func TestGeneratorFailureKeepsFindings(t *testing.T) {
	s := setupStores(t)
	rec := &events.Recorder{}
	gen := scan.GeneratorFunc(func(_ context.Context, _ string, _ model.ScanCategory, phase string) ([]scan.FindingDraft, error) {
		if phase == scan.PhaseVulnerabilityProbe {
			return nil, &scan.GeneratorError{Generator: "test", Phase: phase, Err: errors.New("tool crashed")}
		}
		return []scan.FindingDraft{{Name: "finding in " + phase, Severity: model.SeverityCritical}}, nil
	})
	o := newOrchestrator(t, s, testConfig(), gen, WithPublisher(rec))
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "api.example.com", Category: model.CategoryAPI})
	require.NoError(t, err)

	failed := waitForStatus(t, o, sc.ID, "alice", model.StatusFailed)
	waitIdle(t, o)

	assert.Equal(t, "test generator failed during vulnerability_probe: tool crashed", failed.ErrorMessage)
	assert.NotNil(t, failed.EndedAt)
	assert.Equal(t, 50.0, failed.Progress)
	assert.Equal(t, 2, failed.CriticalCount)

	vulns, err := o.ListVulnerabilities(ctx, sc.ID, "alice", nil)
	require.NoError(t, err)
	require.Len(t, vulns, 2)

	// terminal: no further transition is possible
	err = o.CancelScan(ctx, sc.ID, "alice")
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, []events.Type{events.ScanCreated, events.ScanRunning, events.ScanFailed}, rec.Types(sc.ID))
}

func TestGeneratorPanicFailsScan(t *testing.T) {
	s := setupStores(t)
	gen := scan.GeneratorFunc(func(context.Context, string, model.ScanCategory, string) ([]scan.FindingDraft, error) {
		panic("boom")
	})
	o := newOrchestrator(t, s, testConfig(), gen)

	sc, err := o.CreateScan(context.Background(), ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryMobile})
	require.NoError(t, err)
	failed := waitForStatus(t, o, sc.ID, "alice", model.StatusFailed)
	assert.Equal(t, "internal error: boom", failed.ErrorMessage)
	waitIdle(t, o)
}

func TestInvalidSeverityFailsScan(t *testing.T) {
	s := setupStores(t)
	o := newOrchestrator(t, s, testConfig(), phaseGenerator("urgent"))

	sc, err := o.CreateScan(context.Background(), ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryCustom})
	require.NoError(t, err)
	failed := waitForStatus(t, o, sc.ID, "alice", model.StatusFailed)
	assert.Contains(t, failed.ErrorMessage, `unknown severity "urgent"`)
	assert.Zero(t, failed.TotalFindings())
}

func TestFailedInsertKeepsCountersConsistent(t *testing.T) {
	s := setupStores(t)
	o := newOrchestrator(t, s, testConfig(), phaseGenerator(model.SeverityHigh))
	// ids repeat from the third call on, so the third phase collides on insert
	issued := 0
	o.newID = func() string {
		issued++
		if issued > 2 {
			return "repeated"
		}
		return fmt.Sprintf("id-%d", issued)
	}
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "198.51.100.7", Category: model.CategoryNetwork})
	require.NoError(t, err)
	failed := waitForStatus(t, o, sc.ID, "alice", model.StatusFailed)
	waitIdle(t, o)

	assert.Contains(t, failed.ErrorMessage, "error inserting vulnerabilities")
	assert.Equal(t, scan.PhaseServiceEnumeration, failed.CurrentPhase)

	vulns, err := o.ListVulnerabilities(ctx, sc.ID, "alice", nil)
	require.NoError(t, err)
	assert.Len(t, vulns, 2)
	assert.Equal(t, len(vulns), failed.TotalFindings())
	assert.Equal(t, 2, failed.HighCount)
}

func TestScanTimeout(t *testing.T) {
	s := setupStores(t)
	cfg := testConfig()
	cfg.Timeout = time.Hour
	cfg.Timeouts = map[string]time.Duration{string(model.CategoryWeb): 20 * time.Millisecond}
	gen := scan.GeneratorFunc(func(context.Context, string, model.ScanCategory, string) ([]scan.FindingDraft, error) {
		time.Sleep(40 * time.Millisecond)
		return nil, nil
	})
	o := newOrchestrator(t, s, cfg, gen)

	sc, err := o.CreateScan(context.Background(), ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryWeb})
	require.NoError(t, err)
	failed := waitForStatus(t, o, sc.ID, "alice", model.StatusFailed)
	assert.Equal(t, "scan timed out", failed.ErrorMessage)
	assert.Less(t, failed.Progress, 100.0)
}

func TestProgressIsMonotonic(t *testing.T) {
	s := setupStores(t)
	var (
		mu       sync.Mutex
		observed []float64
	)
	gen := scan.GeneratorFunc(func(ctx context.Context, _ string, _ model.ScanCategory, phase string) ([]scan.FindingDraft, error) {
		scans, err := s.scans.List(ctx, "alice", db.ScanFilter{})
		if err != nil || len(scans) != 1 {
			return nil, fmt.Errorf("unexpected scans: %v", err)
		}
		mu.Lock()
		observed = append(observed, scans[0].Progress)
		mu.Unlock()
		assert.Equal(t, model.StatusRunning, scans[0].Status)
		assert.Equal(t, phase, scans[0].CurrentPhase)
		return nil, nil
	})
	o := newOrchestrator(t, s, testConfig(), gen)

	sc, err := o.CreateScan(context.Background(), ScanRequest{Owner: "alice", Target: "198.51.100.7", Category: model.CategoryNetwork})
	require.NoError(t, err)
	done := waitForStatus(t, o, sc.ID, "alice", model.StatusCompleted)
	waitIdle(t, o)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{0, 20, 40, 60, 80}, observed)
	assert.Equal(t, 100.0, done.Progress)
}

func TestOwnershipIsolation(t *testing.T) {
	s := setupStores(t)
	o := newOrchestrator(t, s, testConfig(), phaseGenerator(model.SeverityInfo))
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "198.51.100.7", Category: model.CategoryCustom})
	require.NoError(t, err)
	waitForStatus(t, o, sc.ID, "alice", model.StatusCompleted)
	waitIdle(t, o)

	_, err = o.GetScan(ctx, sc.ID, "mallory")
	require.ErrorIs(t, err, ErrNotFound)
	_, missingErr := o.GetScan(ctx, "does-not-exist", "mallory")
	assert.Equal(t, missingErr.Error(), err.Error())

	_, err = o.GetProgress(ctx, sc.ID, "mallory")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = o.ListVulnerabilities(ctx, sc.ID, "mallory", nil)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, o.CancelScan(ctx, sc.ID, "mallory"), ErrNotFound)
	require.ErrorIs(t, o.DeleteScan(ctx, sc.ID, "mallory"), ErrNotFound)

	list, err := o.ListScans(ctx, "mallory", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)

	progress, err := o.GetProgress(ctx, sc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, Progress{Status: model.StatusCompleted, Progress: 100}, progress)
}

func TestListScansAndVulnerabilityFilters(t *testing.T) {
	s := setupStores(t)
	o := newOrchestrator(t, s, testConfig(), phaseGenerator(model.SeverityLow))
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "198.51.100.7", Category: model.CategoryWeb})
	require.NoError(t, err)
	waitForStatus(t, o, sc.ID, "alice", model.StatusCompleted)

	completed := model.StatusCompleted
	scans, err := o.ListScans(ctx, "alice", ListOptions{Status: &completed})
	require.NoError(t, err)
	require.Len(t, scans, 1)

	bogus := model.ScanStatus("paused")
	_, err = o.ListScans(ctx, "alice", ListOptions{Status: &bogus})
	require.ErrorIs(t, err, ErrValidation)
	_, err = o.ListScans(ctx, "alice", ListOptions{Offset: -1})
	require.ErrorIs(t, err, ErrValidation)

	low := model.SeverityLow
	vulns, err := o.ListVulnerabilities(ctx, sc.ID, "alice", &low)
	require.NoError(t, err)
	assert.Len(t, vulns, 4)
	high := model.SeverityHigh
	vulns, err = o.ListVulnerabilities(ctx, sc.ID, "alice", &high)
	require.NoError(t, err)
	assert.Empty(t, vulns)
	badSeverity := model.Severity("severe")
	_, err = o.ListVulnerabilities(ctx, sc.ID, "alice", &badSeverity)
	require.ErrorIs(t, err, ErrValidation)
}

func TestTransitionClosure(t *testing.T) {
	s := setupStores(t)
	o := newOrchestrator(t, s, testConfig(), phaseGenerator(model.SeverityLow))
	ctx := context.Background()

	terminal := []model.ScanStatus{model.StatusCompleted, model.StatusFailed, model.StatusCancelled}
	targets := []model.ScanStatus{model.StatusPending, model.StatusRunning, model.StatusCompleted, model.StatusFailed, model.StatusCancelled}
	for _, from := range terminal {
		id := "scan-" + string(from)
		require.NoError(t, s.scans.Create(ctx, &model.Scan{ID: id, OwnerID: "alice", Target: "example.com", Category: model.CategoryWeb, Status: from, Progress: 40}))
		for _, to := range targets {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				err := o.transition(ctx, id, from, to, nil)
				require.ErrorIs(t, err, ErrInvalidStateTransition)
				got, err := o.GetScan(ctx, id, "alice")
				require.NoError(t, err)
				assert.Equal(t, from, got.Status)
				assert.Equal(t, 40.0, got.Progress)
			})
		}
		require.ErrorIs(t, o.CancelScan(ctx, id, "alice"), ErrInvalidStateTransition)
	}

	// a stale from-status is refused by the store
	require.NoError(t, s.scans.Create(ctx, &model.Scan{ID: "stale", OwnerID: "alice", Target: "example.com", Category: model.CategoryWeb, Status: model.StatusCompleted}))
	require.ErrorIs(t, o.transition(ctx, "stale", model.StatusRunning, model.StatusFailed, nil), ErrInvalidStateTransition)
}

func TestDeleteScan(t *testing.T) {
	s := setupStores(t)
	gen := newGateGenerator(scan.PhaseDiscovery)
	o := newOrchestrator(t, s, testConfig(), gen)
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryWeb})
	require.NoError(t, err)
	gen.waitEntered(t)
	require.ErrorIs(t, o.DeleteScan(ctx, sc.ID, "alice"), ErrInvalidState)

	close(gen.release)
	waitForStatus(t, o, sc.ID, "alice", model.StatusCompleted)
	require.NoError(t, o.DeleteScan(ctx, sc.ID, "alice"))

	_, err = o.GetScan(ctx, sc.ID, "alice")
	require.ErrorIs(t, err, ErrNotFound)
	vulns, err := s.vulns.ListByOwner(ctx, "alice", db.VulnerabilityFilter{})
	require.NoError(t, err)
	assert.Empty(t, vulns)
}

func TestShutdownCancelsExecutions(t *testing.T) {
	s := setupStores(t)
	gen := newGateGenerator(scan.PhaseDiscovery)
	rec := &events.Recorder{}
	o := newOrchestrator(t, s, testConfig(), gen, WithPublisher(rec))
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryWeb})
	require.NoError(t, err)
	gen.waitEntered(t)
	assert.Equal(t, 1, o.Active())

	errCh := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		errCh <- o.Shutdown(shutdownCtx)
	}()

	require.Eventually(t, func() bool {
		_, err = o.CreateScan(ctx, ScanRequest{Owner: "bob", Target: "example.com", Category: model.CategoryWeb})
		return errors.Is(err, ErrShuttingDown)
	}, 5*time.Second, 5*time.Millisecond)

	close(gen.release)
	require.NoError(t, <-errCh)
	assert.Equal(t, 0, o.Active())

	final, err := o.GetScan(ctx, sc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, final.Status)
	assert.Equal(t, "cancelled by shutdown", final.ErrorMessage)
	assert.Contains(t, rec.Types(sc.ID), events.ScanCancelled)
}

func TestShutdownTimeout(t *testing.T) {
	s := setupStores(t)
	gen := newGateGenerator(scan.PhaseDiscovery)
	o := newOrchestrator(t, s, testConfig(), gen)

	_, err := o.CreateScan(context.Background(), ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryWeb})
	require.NoError(t, err)
	gen.waitEntered(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, o.Shutdown(ctx), context.DeadlineExceeded)

	close(gen.release)
	waitIdle(t, o)
}

// closingScanStore runs afterCreate once a scan row has been inserted.
type closingScanStore struct {
	*db.GormScanStore
	afterCreate func()
}

func (s *closingScanStore) Create(ctx context.Context, sc *model.Scan) error {
	if err := s.GormScanStore.Create(ctx, sc); err != nil {
		return err
	}
	s.afterCreate()
	return nil
}

func TestCreateScanDuringShutdownFailsRecord(t *testing.T) {
	s := setupStores(t)
	store := &closingScanStore{GormScanStore: s.scans}
	rec := &events.Recorder{}
	o, err := New(testConfig(), store, s.vulns, phaseGenerator(model.SeverityLow), WithPublisher(rec))
	require.NoError(t, err)
	store.afterCreate = func() { require.NoError(t, o.Shutdown(context.Background())) }
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryWeb})
	require.ErrorIs(t, err, ErrShuttingDown)
	assert.Nil(t, sc)

	scans, err := o.ListScans(ctx, "alice", ListOptions{})
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, model.StatusFailed, scans[0].Status)
	assert.Equal(t, ErrShuttingDown.Error(), scans[0].ErrorMessage)
	assert.NotNil(t, scans[0].EndedAt)

	active, err := s.scans.CountActive(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, active)
	assert.Equal(t, []events.Type{events.ScanCreated, events.ScanFailed}, rec.Types(scans[0].ID))
}

func TestRecoverInterrupted(t *testing.T) {
	s := setupStores(t)
	o := newOrchestrator(t, s, testConfig(), phaseGenerator(model.SeverityLow))
	ctx := context.Background()

	for id, status := range map[string]model.ScanStatus{"p": model.StatusPending, "r": model.StatusRunning, "c": model.StatusCompleted} {
		require.NoError(t, s.scans.Create(ctx, &model.Scan{ID: id, OwnerID: "alice", Target: "example.com", Category: model.CategoryWeb, Status: status}))
	}

	n, err := o.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []string{"p", "r"} {
		sc, err := o.GetScan(ctx, id, "alice")
		require.NoError(t, err)
		assert.Equal(t, model.StatusFailed, sc.Status)
		assert.Equal(t, "interrupted by restart", sc.ErrorMessage)
	}
	sc, err := o.GetScan(ctx, "c", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, sc.Status)
}

func TestPhaseDelay(t *testing.T) {
	s := setupStores(t)
	cfg := testConfig()
	cfg.PhaseDelay = 10 * time.Millisecond
	o := newOrchestrator(t, s, cfg, phaseGenerator(model.SeverityLow))

	start := time.Now()
	sc, err := o.CreateScan(context.Background(), ScanRequest{Owner: "alice", Target: "example.com", Category: model.CategoryWeb})
	require.NoError(t, err)
	waitForStatus(t, o, sc.ID, "alice", model.StatusCompleted)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
