package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/log"
)

const templateVersion = "1.0.0"

// TemplateRequest is the input of CreateTemplate. Empty Sections enables
// every section and empty Formats allows every format.
type TemplateRequest struct {
	Owner       string
	Name        string
	Description string
	Title       string
	Formats     []model.ReportFormat
	Sections    []string
	IsPublic    bool
}

var errTemplatesDisabled = errors.New("report templates are not enabled")

// CreateTemplate validates and stores a template owned by req.Owner.
func (a *Assembler) CreateTemplate(ctx context.Context, req TemplateRequest) (*model.ReportTemplate, error) {
	if a.templates == nil {
		return nil, errTemplatesDisabled
	}
	name := strings.TrimSpace(req.Name)
	if n := len(name); n < 3 || n > 100 {
		return nil, fmt.Errorf("%w: name must be between 3 and 100 characters", ErrInvalidTemplate)
	}
	var formats model.StringArray
	for _, f := range req.Formats {
		if !f.IsValid() {
			return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidTemplate, f)
		}
		formats = appendUnique(formats, string(f))
	}
	sections := model.StringArray{}
	for _, s := range req.Sections {
		if !knownSection(s) {
			return nil, fmt.Errorf("%w: unknown section %q", ErrInvalidTemplate, s)
		}
		sections = appendUnique(sections, s)
	}
	if len(sections) == 0 {
		sections = append(sections, model.ReportSections...)
	}

	tpl := &model.ReportTemplate{
		ID:          a.newID(),
		OwnerID:     req.Owner,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Title:       strings.TrimSpace(req.Title),
		Formats:     formats,
		Sections:    sections,
		Version:     templateVersion,
		IsPublic:    req.IsPublic,
	}
	if err := a.templates.Create(ctx, tpl); err != nil {
		return nil, err
	}
	logger := log.NewLogger(ctx)
	logger.Info("report template created", zap.String("id", tpl.ID), zap.Bool("public", tpl.IsPublic))
	return tpl, nil
}

// GetTemplate returns a template the requester owns or that is public.
func (a *Assembler) GetTemplate(ctx context.Context, id, requester string) (*model.ReportTemplate, error) {
	if a.templates == nil {
		return nil, ErrNotFound
	}
	tpl, err := a.templates.Get(ctx, requester, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	return tpl, err
}

// ListTemplates returns the requester's templates and the public ones.
func (a *Assembler) ListTemplates(ctx context.Context, requester string) ([]model.ReportTemplate, error) {
	if a.templates == nil {
		return nil, nil
	}
	return a.templates.List(ctx, requester)
}

// DeleteTemplate removes one of the owner's templates. Reports already built
// from it keep their sections.
func (a *Assembler) DeleteTemplate(ctx context.Context, id, owner string) error {
	if a.templates == nil {
		return ErrNotFound
	}
	err := a.templates.Delete(ctx, owner, id)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// resolveTemplate resolves the template named by req, if any.
func (a *Assembler) resolveTemplate(ctx context.Context, req AssembleRequest) (*model.ReportTemplate, error) {
	if strings.TrimSpace(req.TemplateID) == "" {
		return nil, nil
	}
	tpl, err := a.GetTemplate(ctx, req.TemplateID, req.Owner)
	if err != nil {
		return nil, err
	}
	if !tpl.Supports(req.Format) {
		return nil, fmt.Errorf("%w: template %s does not support %s", ErrInvalidTemplate, tpl.ID, req.Format)
	}
	return tpl, nil
}

func knownSection(s string) bool {
	for _, known := range model.ReportSections {
		if s == known {
			return true
		}
	}
	return false
}

func appendUnique(list model.StringArray, v string) model.StringArray {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
