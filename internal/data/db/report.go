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

// ReportStore defines the interface for persisting report records.
type ReportStore interface {
	Create(ctx context.Context, report *model.Report) error
	Get(ctx context.Context, owner, id string) (*model.Report, error)
	List(ctx context.Context, owner string) ([]model.Report, error)
	// Update applies fields to a report regardless of owner; only the assembler calls it.
	Update(ctx context.Context, id string, fields map[string]interface{}) error
}

// GormReportStore implements the ReportStore interface using a GORM DB connection.
type GormReportStore struct {
	db *gorm.DB
}

// NewGormReportStore creates a new GormReportStore.
func NewGormReportStore(db *gorm.DB) (*GormReportStore, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &GormReportStore{db: db}, nil
}

// Create inserts a new report record.
func (store *GormReportStore) Create(ctx context.Context, report *model.Report) error {
	if ctx == nil {
		return errNilCtx
	}
	logger := log.NewLogger(ctx)
	logger.Debug("CreateReport", zap.String("id", report.ID), zap.String("source", report.SourceID))
	if err := store.db.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("error creating report: %w", err)
	}
	return nil
}

// Get returns the owner's report with the given id.
func (store *GormReportStore) Get(ctx context.Context, owner, id string) (*model.Report, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	var report model.Report
	err := store.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, owner).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving report: %w", err)
	}
	return &report, nil
}

// List returns the owner's reports, newest first.
func (store *GormReportStore) List(ctx context.Context, owner string) ([]model.Report, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	var reports []model.Report
	err := store.db.WithContext(ctx).Where("owner_id = ?", owner).Order("created_at DESC").Find(&reports).Error
	if err != nil {
		return nil, fmt.Errorf("error listing reports: %w", err)
	}
	return reports, nil
}

// Update applies fields to a report.
func (store *GormReportStore) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if ctx == nil {
		return errNilCtx
	}
	res := store.db.WithContext(ctx).Model(&model.Report{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("error updating report: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
