package db

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/log"
)

// ReportTemplateStore defines the interface for persisting report templates.
// Reads return the requester's own templates and public ones; deletes only
// the requester's own.
type ReportTemplateStore interface {
	Create(ctx context.Context, template *model.ReportTemplate) error
	Get(ctx context.Context, requester, id string) (*model.ReportTemplate, error)
	List(ctx context.Context, requester string) ([]model.ReportTemplate, error)
	Delete(ctx context.Context, owner, id string) error
}

// GormReportTemplateStore implements the ReportTemplateStore interface using a GORM DB connection.
type GormReportTemplateStore struct {
	db *gorm.DB
}

// NewGormReportTemplateStore creates a new GormReportTemplateStore.
func NewGormReportTemplateStore(db *gorm.DB) (*GormReportTemplateStore, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &GormReportTemplateStore{db: db}, nil
}

// Create inserts a new template.
func (store *GormReportTemplateStore) Create(ctx context.Context, template *model.ReportTemplate) error {
	if ctx == nil {
		return errNilCtx
	}
	if template == nil {
		return fmt.Errorf("template cannot be nil")
	}
	logger := log.NewLogger(ctx)
	logger.Debug("CreateReportTemplate", zap.String("id", template.ID), zap.String("owner", template.OwnerID))
	if err := store.db.WithContext(ctx).Create(template).Error; err != nil {
		return fmt.Errorf("error creating report template: %w", err)
	}
	return nil
}

func (store *GormReportTemplateStore) visible(ctx context.Context, requester string) *gorm.DB {
	return store.db.WithContext(ctx).Where("owner_id = ? OR is_public = ?", requester, true)
}

// Get returns a template the requester owns or that is public.
func (store *GormReportTemplateStore) Get(ctx context.Context, requester, id string) (*model.ReportTemplate, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	var template model.ReportTemplate
	err := store.visible(ctx, requester).Where("id = ?", id).First(&template).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving report template: %w", err)
	}
	return &template, nil
}

// List returns the templates the requester can use, by name.
func (store *GormReportTemplateStore) List(ctx context.Context, requester string) ([]model.ReportTemplate, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	var templates []model.ReportTemplate
	if err := store.visible(ctx, requester).Order("name, id").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("error listing report templates: %w", err)
	}
	return templates, nil
}

// Delete removes the owner's template. Public templates of other owners are
// reported as ErrNotFound.
func (store *GormReportTemplateStore) Delete(ctx context.Context, owner, id string) error {
	if ctx == nil {
		return errNilCtx
	}
	res := store.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, owner).Delete(&model.ReportTemplate{})
	if res.Error != nil {
		return fmt.Errorf("error deleting report template: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
