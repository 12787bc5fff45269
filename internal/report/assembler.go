// Package report assembles completed scans and their findings into report
// documents and stores the rendered files.
package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/events"
	"github.com/nexasecurity/nexasec/internal/log"
	"github.com/nexasecurity/nexasec/internal/metrics"
)

const metricReportsGenerated = "reports_generated_total"

// AssembleRequest is the input of Assemble and Start. A nil Options enables
// every section, or the sections of the template when TemplateID is set.
type AssembleRequest struct {
	Options    *model.ReportOptions
	Owner      string
	SourceType model.ReportSourceType
	SourceID   string
	TemplateID string
	Format     model.ReportFormat
	Title      string
}

// Artifact describes a rendered file.
type Artifact struct {
	Path        string
	ContentHash string
	Size        int64
}

// Assembler creates report records and renders them to files under dir.
type Assembler struct {
	scans     db.ScanStore
	vulns     db.VulnerabilityStore
	reports   db.ReportStore
	templates db.ReportTemplateStore
	renderers map[model.ReportFormat]Renderer
	publisher events.Publisher
	metrics   metrics.Collector
	now       func() time.Time
	newID     func() string
	dir       string
	wg        sync.WaitGroup
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithPublisher sets the publisher of report lifecycle events.
func WithPublisher(p events.Publisher) Option {
	return func(a *Assembler) {
		a.publisher = p
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(a *Assembler) {
		a.metrics = c
	}
}

// WithTemplateStore enables report templates.
func WithTemplateStore(templates db.ReportTemplateStore) Option {
	return func(a *Assembler) {
		a.templates = templates
	}
}

// WithRenderer replaces the renderer of one format.
func WithRenderer(format model.ReportFormat, r Renderer) Option {
	return func(a *Assembler) {
		a.renderers[format] = r
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// NewAssembler creates an Assembler writing to dir, creating it if needed.
func NewAssembler(dir string, scans db.ScanStore, vulns db.VulnerabilityStore, reports db.ReportStore, opts ...Option) (*Assembler, error) {
	if scans == nil || vulns == nil || reports == nil {
		return nil, errors.New("scan, vulnerability and report stores are required")
	}
	if dir == "" {
		return nil, errors.New("report directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}
	a := &Assembler{
		scans:     scans,
		vulns:     vulns,
		reports:   reports,
		renderers: DefaultRenderers(),
		publisher: events.NopPublisher{},
		now:       time.Now,
		newID:     uuid.NewString,
		dir:       dir,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics != nil {
		if _, err := a.metrics.RegisterCounter(context.Background(), metricReportsGenerated, "format", "status"); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Assemble renders a report synchronously. Rendering failures are recorded
// on the returned report, whose status is then failed.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (*model.Report, error) {
	rep, sc, renderer, err := a.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	a.generate(ctx, rep, sc, renderer)
	return rep, nil
}

// Start checks the preconditions and creates the report record, then renders
// it in the background. The returned report is still pending.
func (a *Assembler) Start(ctx context.Context, req AssembleRequest) (*model.Report, error) {
	rep, sc, renderer, err := a.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	pending := *rep
	bg := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.generate(bg, rep, sc, renderer)
	}()
	return &pending, nil
}

// Wait blocks until background renders finish or ctx is done.
func (a *Assembler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for report renders: %w", ctx.Err())
	}
}

// Get returns the requester's report. Another owner's report is reported as ErrNotFound.
func (a *Assembler) Get(ctx context.Context, id, requester string) (*model.Report, error) {
	rep, err := a.reports.Get(ctx, requester, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rep, err
}

// List returns the owner's reports, newest first.
func (a *Assembler) List(ctx context.Context, owner string) ([]model.Report, error) {
	return a.reports.List(ctx, owner)
}

// Open returns a completed report and its file. The caller closes the reader.
func (a *Assembler) Open(ctx context.Context, id, requester string) (*model.Report, io.ReadCloser, error) {
	rep, err := a.Get(ctx, id, requester)
	if err != nil {
		return nil, nil, err
	}
	if rep.Status != model.ReportCompleted {
		return nil, nil, fmt.Errorf("%w: report is %s", ErrNotGenerated, rep.Status)
	}
	f, err := os.Open(rep.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open report file: %w", err)
	}
	return rep, f, nil
}

// ContentType returns the media type of a format, or an empty string.
func (a *Assembler) ContentType(format model.ReportFormat) string {
	if r, ok := a.renderers[format]; ok {
		return r.ContentType()
	}
	return ""
}

func (a *Assembler) prepare(ctx context.Context, req AssembleRequest) (*model.Report, *model.Scan, Renderer, error) {
	renderer, ok := a.renderers[req.Format]
	if !ok || !req.Format.IsValid() {
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
	if req.SourceType == "" {
		req.SourceType = model.SourceScan
	}
	if !req.SourceType.IsValid() || strings.TrimSpace(req.SourceID) == "" {
		return nil, nil, nil, fmt.Errorf("%w: source %q %q", ErrInvalidRequest, req.SourceType, req.SourceID)
	}
	if req.SourceType == model.SourcePentest {
		return nil, nil, nil, fmt.Errorf("%w: pentest reports are not available", ErrSourceNotReady)
	}

	sc, err := a.scans.Get(ctx, req.Owner, req.SourceID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, nil, err
	}
	if sc.Status != model.StatusCompleted {
		return nil, nil, nil, fmt.Errorf("%w: scan %s is %s", ErrSourceNotReady, sc.ID, sc.Status)
	}

	tpl, err := a.resolveTemplate(ctx, req)
	if err != nil {
		return nil, nil, nil, err
	}
	opts := model.DefaultReportOptions()
	title := strings.TrimSpace(req.Title)
	var templateID string
	if tpl != nil {
		opts = tpl.Options()
		if title == "" {
			title = tpl.Title
		}
		templateID = tpl.ID
	}
	if req.Options != nil {
		opts = *req.Options
	}
	if title == "" {
		title = fmt.Sprintf("Security assessment of %s", sc.Target)
	}
	rep := &model.Report{
		ID:         a.newID(),
		OwnerID:    req.Owner,
		Title:      title,
		SourceType: req.SourceType,
		SourceID:   sc.ID,
		TemplateID: templateID,
		Format:     req.Format,
		Status:     model.ReportPending,
		Options:    opts,
	}
	if err := a.reports.Create(ctx, rep); err != nil {
		return nil, nil, nil, err
	}
	return rep, sc, renderer, nil
}

// generate renders rep and records the outcome on it.
func (a *Assembler) generate(ctx context.Context, rep *model.Report, sc *model.Scan, renderer Renderer) {
	logger := log.NewLogger(ctx)
	started := a.now()
	if err := a.reports.Update(ctx, rep.ID, map[string]interface{}{"status": model.ReportGenerating}); err != nil {
		logger.Warn("failed to mark report generating", zap.String("id", rep.ID), zap.Error(err))
	}
	rep.Status = model.ReportGenerating

	artifact, err := a.render(ctx, rep, sc, renderer)
	elapsed := a.now().Sub(started).Seconds()
	if err != nil {
		logger.Error("report generation failed", zap.String("id", rep.ID), zap.Error(err))
		rep.Status = model.ReportFailed
		rep.ErrorMessage = err.Error()
		rep.GenerationSeconds = elapsed
		if uerr := a.reports.Update(ctx, rep.ID, map[string]interface{}{
			"status":             rep.Status,
			"error_message":      rep.ErrorMessage,
			"generation_seconds": elapsed,
		}); uerr != nil {
			logger.Warn("failed to mark report failed", zap.String("id", rep.ID), zap.Error(uerr))
		}
		a.finished(ctx, rep, events.ReportFailed)
		return
	}

	rep.Status = model.ReportCompleted
	rep.FilePath = artifact.Path
	rep.ContentHash = artifact.ContentHash
	rep.Size = artifact.Size
	rep.GenerationSeconds = elapsed
	if err := a.reports.Update(ctx, rep.ID, map[string]interface{}{
		"status":             rep.Status,
		"file_path":          rep.FilePath,
		"content_hash":       rep.ContentHash,
		"size":               rep.Size,
		"generation_seconds": elapsed,
	}); err != nil {
		logger.Error("failed to record report", zap.String("id", rep.ID), zap.Error(err))
		rep.Status = model.ReportFailed
		rep.ErrorMessage = err.Error()
		a.finished(ctx, rep, events.ReportFailed)
		return
	}
	logger.Info("report generated", zap.String("id", rep.ID), zap.String("format", string(rep.Format)), zap.Int64("size", rep.Size))
	a.finished(ctx, rep, events.ReportCompleted)
}

// render writes the report file. A partial file is removed on failure.
func (a *Assembler) render(ctx context.Context, rep *model.Report, sc *model.Scan, renderer Renderer) (Artifact, error) {
	if a.metrics != nil {
		if stop, merr := a.metrics.MeasureFunctionExecutionTime(ctx, "render_"+string(rep.Format)); merr == nil {
			defer stop()
		}
	}

	vulns, err := a.vulns.ListByScan(ctx, rep.OwnerID, sc.ID, nil)
	if err != nil {
		return Artifact{}, err
	}
	content := Build(rep, sc, vulns, a.now())

	path := filepath.Join(a.dir, rep.ID+"."+renderer.Extension())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to create report file: %w", err)
	}
	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(f, h)}
	rerr := safeRender(renderer, cw, content)
	cerr := f.Close()
	if rerr != nil || cerr != nil {
		_ = os.Remove(path)
		if rerr != nil {
			return Artifact{}, fmt.Errorf("failed to render %s report: %w", rep.Format, rerr)
		}
		return Artifact{}, fmt.Errorf("failed to write report file: %w", cerr)
	}
	return Artifact{Path: path, ContentHash: hex.EncodeToString(h.Sum(nil)), Size: cw.n}, nil
}

func (a *Assembler) finished(ctx context.Context, rep *model.Report, eventType events.Type) {
	if a.metrics != nil {
		_ = a.metrics.AddCounter(ctx, metricReportsGenerated, 1, string(rep.Format), string(rep.Status))
	}
	events.Emit(ctx, a.publisher, events.Event{
		Type:     eventType,
		ReportID: rep.ID,
		ScanID:   rep.SourceID,
		OwnerID:  rep.OwnerID,
		Status:   string(rep.Status),
		Error:    rep.ErrorMessage,
	})
}

func safeRender(r Renderer, w io.Writer, c *Content) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("renderer panicked: %v", p)
		}
	}()
	return r.Render(w, c)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
