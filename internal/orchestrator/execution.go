package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/events"
	"github.com/nexasecurity/nexasec/internal/log"
	"github.com/nexasecurity/nexasec/pkg/scan"
)

// topFindingsLimit caps ResultSummary.TopFindings.
const topFindingsLimit = 5

var portComponent = regexp.MustCompile(`^\d{1,5}/(tcp|udp)$`)

// execution is the in-memory handle of one running scan.
type execution struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// launch registers and starts the execution of sc. Only one execution may
// exist per scan id.
func (o *Orchestrator) launch(sc model.Scan) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShuttingDown
	}
	if _, ok := o.running[sc.ID]; ok {
		return fmt.Errorf("scan %s is already executing", sc.ID)
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	e := &execution{ctx: ctx, cancel: cancel}
	o.running[sc.ID] = e
	o.wg.Add(1)
	go o.run(e, sc)
	return nil
}

func (o *Orchestrator) unregister(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.running[id]; ok {
		e.cancel(nil)
		delete(o.running, id)
	}
}

// signal cancels the execution of id, if any.
func (o *Orchestrator) signal(id string, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.running[id]; ok {
		e.cancel(cause)
	}
}

// run drives one scan through its phases. Cancellation and the timeout are
// only observed between phases; a phase in flight always runs to the end.
func (o *Orchestrator) run(e *execution, sc model.Scan) {
	defer o.wg.Done()
	defer o.unregister(sc.ID)

	ctx := o.baseContext()
	logger := log.NewLogger(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("scan execution panicked", zap.String("id", sc.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			o.fail(ctx, &sc, fmt.Sprintf("internal error: %v", r))
		}
	}()

	started := o.now().UTC()
	err := o.transition(ctx, sc.ID, model.StatusPending, model.StatusRunning, map[string]interface{}{
		"started_at": started,
		"progress":   0.0,
	})
	if err != nil {
		logger.Error("failed to start scan", zap.String("id", sc.ID), zap.Error(err))
		return
	}
	sc.Status = model.StatusRunning
	sc.StartedAt = &started
	events.Emit(ctx, o.publisher, events.Event{Type: events.ScanRunning, ScanID: sc.ID, OwnerID: sc.OwnerID, Status: string(sc.Status)})
	if o.metrics != nil {
		_ = o.metrics.AddGauge(ctx, metricScansRunning, 1)
		defer func() { _ = o.metrics.AddGauge(ctx, metricScansRunning, -1) }()
	}

	deadline := started.Add(o.cfg.TimeoutFor(string(sc.Category)))
	genCtx := scan.WithOptions(ctx, scan.Options{PortRange: sc.PortRange, Probes: sc.Probes, Intensity: sc.Intensity})
	phases := scan.Phases(sc.Category)
	acc := newAccumulator()

	for i, phase := range phases {
		if i > 0 {
			o.pause(e, deadline)
		}
		if o.stopped(ctx, e, &sc, deadline) {
			return
		}
		progress := 100 * float64(i) / float64(len(phases))
		if err := o.scans.UpdateProgress(ctx, sc.ID, progress, phase); err != nil {
			o.abort(ctx, &sc, err)
			return
		}
		sc.Progress = progress
		sc.CurrentPhase = phase

		drafts, err := o.generate(genCtx, sc, phase)
		if err != nil {
			o.fail(ctx, &sc, err.Error())
			return
		}
		if o.stopped(ctx, e, &sc, deadline) {
			return
		}
		if err := o.record(ctx, sc, phase, drafts); err != nil {
			o.abort(ctx, &sc, err)
			return
		}
		acc.add(phase, drafts)
	}

	if o.stopped(ctx, e, &sc, deadline) {
		return
	}
	ended := o.now().UTC()
	summary := acc.summary(phases, ended.Sub(started))
	if err := o.scans.Complete(ctx, sc.ID, summary, ended); err != nil {
		o.abort(ctx, &sc, err)
		return
	}
	logger.Info("scan completed", zap.String("id", sc.ID), zap.Int("findings", summary.TotalFindings))
	o.finished(ctx, &sc, model.StatusCompleted, "")
}

// generate runs one phase of the generator, timing it.
func (o *Orchestrator) generate(ctx context.Context, sc model.Scan, phase string) ([]scan.FindingDraft, error) {
	if o.metrics != nil {
		if stop, err := o.metrics.MeasureFunctionExecutionTime(ctx, "phase_"+phase); err == nil {
			defer stop()
		}
	}
	return o.generator.Generate(ctx, sc.Target, sc.Category, phase)
}

// record persists the drafts of one phase together with the counter
// increments. Nothing is written once the scan has left the running state.
func (o *Orchestrator) record(ctx context.Context, sc model.Scan, phase string, drafts []scan.FindingDraft) error {
	if len(drafts) == 0 {
		return nil
	}
	vulns := make([]model.Vulnerability, 0, len(drafts))
	for _, d := range drafts {
		if !d.Severity.IsValid() {
			return &scan.GeneratorError{Generator: "orchestrator", Phase: phase, Err: fmt.Errorf("finding %q has unknown severity %q", d.Name, d.Severity)}
		}
		vulns = append(vulns, model.Vulnerability{
			ID:                 o.newID(),
			ScanID:             sc.ID,
			OwnerID:            sc.OwnerID,
			Name:               d.Name,
			Description:        d.Description,
			Severity:           d.Severity,
			Status:             model.VulnOpen,
			CVSSScore:          d.CVSSScore,
			CVEIDs:             d.CVEIDs,
			AffectedComponents: d.AffectedComponents,
			Remediation:        d.Remediation,
			Phase:              phase,
		})
	}
	return o.scans.RecordFindings(ctx, sc.ID, vulns)
}

// pause waits for the configured delay between phases, returning early on
// cancellation or when the deadline passes.
func (o *Orchestrator) pause(e *execution, deadline time.Time) {
	d := o.cfg.PhaseDelay
	if remaining := deadline.Sub(o.now()); remaining < d {
		d = remaining
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
	case <-timer.C:
	}
}

// stopped checks the cancellation token and the deadline, finishing the scan
// when either fired.
func (o *Orchestrator) stopped(ctx context.Context, e *execution, sc *model.Scan, deadline time.Time) bool {
	if e.ctx.Err() != nil {
		cause := context.Cause(e.ctx)
		if errors.Is(cause, errShutdown) {
			err := o.transition(ctx, sc.ID, model.StatusRunning, model.StatusCancelled, map[string]interface{}{
				"ended_at":      o.now().UTC(),
				"error_message": cause.Error(),
			})
			if err == nil {
				o.finished(ctx, sc, model.StatusCancelled, cause.Error())
			}
		}
		// a user cancel already moved the scan to cancelled
		return true
	}
	if !o.now().Before(deadline) {
		o.fail(ctx, sc, "scan timed out")
		return true
	}
	return false
}

// abort handles a store error during execution. A stale transition means the
// scan was finished elsewhere, typically by CancelScan.
func (o *Orchestrator) abort(ctx context.Context, sc *model.Scan, err error) {
	if errors.Is(err, ErrInvalidStateTransition) || errors.Is(err, db.ErrStaleTransition) {
		return
	}
	o.fail(ctx, sc, err.Error())
}

// fail moves a running scan to failed. Findings already written are kept.
func (o *Orchestrator) fail(ctx context.Context, sc *model.Scan, message string) {
	logger := log.NewLogger(ctx)
	err := o.transition(ctx, sc.ID, model.StatusRunning, model.StatusFailed, map[string]interface{}{
		"ended_at":      o.now().UTC(),
		"error_message": message,
	})
	if err != nil {
		logger.Warn("failed to mark scan failed", zap.String("id", sc.ID), zap.Error(err))
		return
	}
	logger.Warn("scan failed", zap.String("id", sc.ID), zap.String("error", message))
	o.finished(ctx, sc, model.StatusFailed, message)
}

// accumulator gathers what the summary of a completed scan needs.
type accumulator struct {
	counts   map[model.Severity]int
	findings []scan.FindingDraft
	ports    map[string]bool
	services map[string]bool
}

func newAccumulator() *accumulator {
	return &accumulator{
		counts:   make(map[model.Severity]int),
		ports:    make(map[string]bool),
		services: make(map[string]bool),
	}
}

func (a *accumulator) add(phase string, drafts []scan.FindingDraft) {
	for _, d := range drafts {
		a.counts[d.Severity]++
		a.findings = append(a.findings, d)
		for _, c := range d.AffectedComponents {
			if portComponent.MatchString(c) {
				a.ports[c] = true
			}
			if phase == scan.PhaseServiceEnumeration {
				a.services[c] = true
			}
		}
	}
}

func (a *accumulator) summary(phases []string, elapsed time.Duration) model.ResultSummary {
	sorted := make([]scan.FindingDraft, len(a.findings))
	copy(sorted, a.findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() < sorted[j].Severity.Rank()
	})
	var top []string
	for _, d := range sorted {
		if len(top) == topFindingsLimit {
			break
		}
		top = append(top, d.Name)
	}
	counts := make(map[model.Severity]int, len(model.Severities))
	for _, s := range model.Severities {
		counts[s] = a.counts[s]
	}
	return model.ResultSummary{
		SeverityCounts:  counts,
		TopFindings:     top,
		Phases:          phases,
		TotalHosts:      1,
		OpenPorts:       len(a.ports),
		TotalServices:   len(a.services),
		TotalFindings:   len(a.findings),
		DurationSeconds: elapsed.Seconds(),
	}
}
