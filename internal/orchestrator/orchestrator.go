// Package orchestrator owns the scan lifecycle: it validates and admits scan
// requests, runs each scan's phases in a background goroutine and is the only
// writer of scan status, progress and counters.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexasecurity/nexasec/internal/config"
	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/events"
	"github.com/nexasecurity/nexasec/internal/log"
	"github.com/nexasecurity/nexasec/internal/metrics"
	"github.com/nexasecurity/nexasec/internal/validation"
	"github.com/nexasecurity/nexasec/pkg/scan"
	"github.com/nexasecurity/nexasec/pkg/types"
)

// interruptedMessage is recorded on scans left unfinished by a previous process.
const interruptedMessage = "interrupted by restart"

// Metric names registered by New.
const (
	metricScansCreated  = "scans_created_total"
	metricScansFinished = "scans_finished_total"
	metricScansRunning  = "scans_running"
)

// ScanRequest is the input of CreateScan.
type ScanRequest struct {
	Owner     string
	Name      string
	Target    string
	Category  model.ScanCategory
	PortRange string
	Probes    []string
	Intensity int
}

// ListOptions filters and pages ListScans.
type ListOptions struct {
	Status *model.ScanStatus
	Offset int
	Limit  int
}

// Progress is the pollable state of a scan.
type Progress struct {
	Status   model.ScanStatus `json:"status"`
	Phase    string           `json:"phase,omitempty"`
	Progress float64          `json:"progress"`
}

// Orchestrator schedules and tracks scans.
type Orchestrator struct {
	cfg       config.ScanConfig
	scans     db.ScanStore
	vulns     db.VulnerabilityStore
	users     db.UserStore
	generator scan.Generator
	publisher events.Publisher
	metrics   metrics.Collector
	logger    types.Logger
	now       func() time.Time
	newID     func() string

	ownersMu sync.Mutex
	owners   map[string]*sync.Mutex

	mu      sync.Mutex
	running map[string]*execution
	closed  bool
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *Orchestrator) {
		o.metrics = c
	}
}

// WithLogger sets the logger used by background executions.
func WithLogger(l types.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithUserStore enables per-user limit overrides.
func WithUserStore(users db.UserStore) Option {
	return func(o *Orchestrator) {
		o.users = users
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator.
func New(cfg config.ScanConfig, scans db.ScanStore, vulns db.VulnerabilityStore, generator scan.Generator, opts ...Option) (*Orchestrator, error) {
	if scans == nil || vulns == nil {
		return nil, errors.New("scan and vulnerability stores are required")
	}
	if generator == nil {
		return nil, errors.New("generator cannot be nil")
	}
	if cfg.MaxConcurrent < 1 || cfg.MaxDaily < 1 {
		return nil, fmt.Errorf("invalid scan limits: max concurrent %d, max daily %d", cfg.MaxConcurrent, cfg.MaxDaily)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("scan timeout must be positive")
	}
	o := &Orchestrator{
		cfg:       cfg,
		scans:     scans,
		vulns:     vulns,
		generator: generator,
		publisher: events.NopPublisher{},
		now:       time.Now,
		newID:     uuid.NewString,
		owners:    make(map[string]*sync.Mutex),
		running:   make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics != nil {
		ctx := context.Background()
		if _, err := o.metrics.RegisterCounter(ctx, metricScansCreated, "category"); err != nil {
			return nil, err
		}
		if _, err := o.metrics.RegisterCounter(ctx, metricScansFinished, "status"); err != nil {
			return nil, err
		}
		if _, err := o.metrics.RegisterGauge(ctx, metricScansRunning); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// baseContext is the root context of background executions. It is never
// cancelled by the request that created the scan.
func (o *Orchestrator) baseContext() context.Context {
	ctx := context.Background()
	if o.logger != nil {
		ctx = log.WithLogger(ctx, o.logger)
	}
	return ctx
}

func (o *Orchestrator) ownerLock(owner string) *sync.Mutex {
	o.ownersMu.Lock()
	defer o.ownersMu.Unlock()
	m, ok := o.owners[owner]
	if !ok {
		m = &sync.Mutex{}
		o.owners[owner] = m
	}
	return m
}

// CreateScan validates req, enforces the owner's limits, stores a pending
// scan and starts executing it in the background.
func (o *Orchestrator) CreateScan(ctx context.Context, req ScanRequest) (*model.Scan, error) {
	sc, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	logger := log.NewLogger(ctx)
	logger.Debug("CreateScan", zap.String("owner", sc.OwnerID), zap.String("target", sc.Target), zap.String("category", string(sc.Category)))

	lock := o.ownerLock(sc.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	maxConcurrent, maxDaily := o.limits(ctx, sc.OwnerID)
	active, err := o.scans.CountActive(ctx, sc.OwnerID)
	if err != nil {
		return nil, err
	}
	if active >= int64(maxConcurrent) {
		return nil, ErrConcurrencyLimitExceeded
	}
	now := o.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := o.scans.CountCreatedSince(ctx, sc.OwnerID, dayStart)
	if err != nil {
		return nil, err
	}
	if today >= int64(maxDaily) {
		return nil, ErrQuotaExceeded
	}

	sc.CreatedAt = now
	if err := o.scans.Create(ctx, sc); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		_ = o.metrics.AddCounter(ctx, metricScansCreated, 1, string(sc.Category))
	}
	events.Emit(ctx, o.publisher, events.Event{Type: events.ScanCreated, ScanID: sc.ID, OwnerID: sc.OwnerID, Status: string(sc.Status)})

	if err := o.launch(*sc); err != nil {
		logger.Warn("scan was stored but not started", zap.String("id", sc.ID), zap.Error(err))
		o.abandon(ctx, sc, err)
		return nil, err
	}
	return sc, nil
}

// prepare validates req and builds the pending record.
func (o *Orchestrator) prepare(req ScanRequest) (*model.Scan, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return nil, fmt.Errorf("%w: %w", ErrValidation, &validation.FieldError{Field: "owner", Reason: "cannot be empty"})
	}
	target := strings.TrimSpace(req.Target)
	if _, err := validation.ValidateTarget(target); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if !req.Category.IsValid() {
		return nil, fmt.Errorf("%w: %w", ErrValidation, &validation.FieldError{Field: "category", Reason: fmt.Sprintf("unknown category %q", req.Category)})
	}
	var portRange string
	if strings.TrimSpace(req.PortRange) != "" {
		intervals, err := validation.ParsePortRange(req.PortRange)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		portRange = validation.FormatPortRange(intervals)
	}
	intensity, err := validation.NormalizeIntensity(req.Intensity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var probes model.StringArray
	seen := make(map[string]bool)
	for _, p := range req.Probes {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("%w: %w", ErrValidation, &validation.FieldError{Field: "probes", Reason: "probe ids cannot be empty"})
		}
		if !seen[p] {
			seen[p] = true
			probes = append(probes, p)
		}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("%s scan of %s", req.Category, target)
	}
	return &model.Scan{
		ID:        o.newID(),
		OwnerID:   owner,
		Name:      name,
		Target:    target,
		Category:  req.Category,
		PortRange: portRange,
		Probes:    probes,
		Intensity: intensity,
		Status:    model.StatusPending,
	}, nil
}

// limits returns the owner's effective concurrent and daily limits.
func (o *Orchestrator) limits(ctx context.Context, owner string) (int, int) {
	maxConcurrent, maxDaily := o.cfg.MaxConcurrent, o.cfg.MaxDaily
	if o.users == nil {
		return maxConcurrent, maxDaily
	}
	user, err := o.users.GetByID(ctx, owner)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			logger := log.NewLogger(ctx)
			logger.Warn("failed to load user limits", zap.String("owner", owner), zap.Error(err))
		}
		return maxConcurrent, maxDaily
	}
	if user.MaxConcurrentScans > 0 {
		maxConcurrent = user.MaxConcurrentScans
	}
	if user.MaxDailyScans > 0 {
		maxDaily = user.MaxDailyScans
	}
	return maxConcurrent, maxDaily
}

// GetScan returns the requester's scan. Another owner's scan is reported as ErrNotFound.
func (o *Orchestrator) GetScan(ctx context.Context, id, requester string) (*model.Scan, error) {
	sc, err := o.scans.Get(ctx, requester, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// ListScans returns the owner's scans, newest first.
func (o *Orchestrator) ListScans(ctx context.Context, owner string, opts ListOptions) ([]model.Scan, error) {
	if opts.Status != nil && !opts.Status.IsValid() {
		return nil, fmt.Errorf("%w: %w", ErrValidation, &validation.FieldError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *opts.Status)})
	}
	if opts.Offset < 0 || opts.Limit < 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, &validation.FieldError{Field: "pagination", Reason: "offset and limit cannot be negative"})
	}
	return o.scans.List(ctx, owner, db.ScanFilter{Status: opts.Status, Offset: opts.Offset, Limit: opts.Limit})
}

// GetProgress returns the status, progress and current phase of the requester's scan.
func (o *Orchestrator) GetProgress(ctx context.Context, id, requester string) (Progress, error) {
	sc, err := o.GetScan(ctx, id, requester)
	if err != nil {
		return Progress{}, err
	}
	return Progress{Status: sc.Status, Phase: sc.CurrentPhase, Progress: sc.Progress}, nil
}

// CancelScan stops a running scan. The scan is cancelled immediately; its
// execution notices at the next phase boundary and writes nothing further.
func (o *Orchestrator) CancelScan(ctx context.Context, id, requester string) error {
	sc, err := o.GetScan(ctx, id, requester)
	if err != nil {
		return err
	}
	if sc.Status != model.StatusRunning {
		return invalidState(sc.Status)
	}
	err = o.transition(ctx, id, model.StatusRunning, model.StatusCancelled, map[string]interface{}{
		"ended_at": o.now().UTC(),
	})
	if errors.Is(err, ErrInvalidStateTransition) {
		// finished between the read and the update
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if err != nil {
		return err
	}
	o.signal(id, errUserCancelled)
	o.finished(ctx, sc, model.StatusCancelled, "")
	return nil
}

// DeleteScan removes the requester's finished scan and its vulnerabilities.
func (o *Orchestrator) DeleteScan(ctx context.Context, id, requester string) error {
	sc, err := o.GetScan(ctx, id, requester)
	if err != nil {
		return err
	}
	if !sc.Status.IsTerminal() {
		return fmt.Errorf("%w: scan is %s", ErrInvalidState, sc.Status)
	}
	err = o.scans.Delete(ctx, requester, id)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// ListVulnerabilities returns the findings of the requester's scan, optionally
// restricted to one severity.
func (o *Orchestrator) ListVulnerabilities(ctx context.Context, scanID, requester string, severity *model.Severity) ([]model.Vulnerability, error) {
	if severity != nil && !severity.IsValid() {
		return nil, fmt.Errorf("%w: %w", ErrValidation, &validation.FieldError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", *severity)})
	}
	if _, err := o.GetScan(ctx, scanID, requester); err != nil {
		return nil, err
	}
	return o.vulns.ListByScan(ctx, requester, scanID, severity)
}

// RecoverInterrupted fails every scan a previous process left pending or
// running. It must run before the orchestrator accepts new scans.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := o.scans.MarkInterrupted(ctx, interruptedMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger := log.NewLogger(ctx)
		logger.Warn("failed scans interrupted by restart", zap.Int64("count", n))
	}
	return n, nil
}

// Active returns the number of executions in flight.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// Shutdown stops accepting scans, cancels every execution and waits for them
// to finish or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, e := range o.running {
		e.cancel(errShutdown)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d scans: %w", o.Active(), ctx.Err())
	}
}

// abandon fails a pending scan that could not be started so it stops counting
// against the owner's active scans. Like recovery after a restart, this
// bypasses the running state.
func (o *Orchestrator) abandon(ctx context.Context, sc *model.Scan, cause error) {
	err := o.scans.Transition(ctx, sc.ID, model.StatusPending, model.StatusFailed, map[string]interface{}{
		"ended_at":      o.now().UTC(),
		"error_message": cause.Error(),
	})
	if err != nil {
		log.NewLogger(ctx).Warn("failed to mark unstarted scan failed", zap.String("id", sc.ID), zap.Error(err))
		return
	}
	sc.Status = model.StatusFailed
	o.finished(ctx, sc, model.StatusFailed, cause.Error())
}

// transition applies a status change, refusing anything the state machine does not allow.
func (o *Orchestrator) transition(ctx context.Context, id string, from, to model.ScanStatus, fields map[string]interface{}) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidStateTransition, from, to)
	}
	err := o.scans.Transition(ctx, id, from, to, fields)
	if errors.Is(err, db.ErrStaleTransition) {
		return fmt.Errorf("%w: scan is no longer %s", ErrInvalidStateTransition, from)
	}
	return err
}

func invalidState(status model.ScanStatus) error {
	if status.IsTerminal() {
		return fmt.Errorf("%w: %w: scan is %s", ErrInvalidState, ErrInvalidStateTransition, status)
	}
	return fmt.Errorf("%w: scan is %s", ErrInvalidState, status)
}

// finished records the terminal status in metrics and events.
func (o *Orchestrator) finished(ctx context.Context, sc *model.Scan, status model.ScanStatus, message string) {
	if o.metrics != nil {
		_ = o.metrics.AddCounter(ctx, metricScansFinished, 1, string(status))
	}
	var typ events.Type
	switch status {
	case model.StatusCompleted:
		typ = events.ScanCompleted
	case model.StatusFailed:
		typ = events.ScanFailed
	default:
		typ = events.ScanCancelled
	}
	progress := 100.0
	if status != model.StatusCompleted {
		progress = sc.Progress
	}
	events.Emit(ctx, o.publisher, events.Event{
		Type:     typ,
		ScanID:   sc.ID,
		OwnerID:  sc.OwnerID,
		Status:   string(status),
		Progress: progress,
		Error:    message,
	})
}
