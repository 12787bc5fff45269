package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/log"
)

// ScanFilter narrows a scan listing.
type ScanFilter struct {
	Status *model.ScanStatus
	Offset int
	Limit  int
}

// ScanStore defines the interface for persisting scans.
// Every read that takes an owner only returns that owner's records.
type ScanStore interface {
	// Create inserts a new scan.
	Create(ctx context.Context, scan *model.Scan) error
	// Get returns the owner's scan with the given id.
	Get(ctx context.Context, owner, id string) (*model.Scan, error)
	// List returns the owner's scans, newest first.
	List(ctx context.Context, owner string, filter ScanFilter) ([]model.Scan, error)
	// CountRunning counts the owner's scans in the running state.
	CountRunning(ctx context.Context, owner string) (int64, error)
	// CountActive counts the owner's scans that are pending or running.
	CountActive(ctx context.Context, owner string) (int64, error)
	// CountCreatedSince counts the owner's scans created at or after since.
	CountCreatedSince(ctx context.Context, owner string, since time.Time) (int64, error)
	// Transition moves a scan from one status to another, applying fields in the same update.
	Transition(ctx context.Context, id string, from, to model.ScanStatus, fields map[string]interface{}) error
	// UpdateProgress records progress and the current phase of a running scan.
	UpdateProgress(ctx context.Context, id string, progress float64, phase string) error
	// RecordFindings stores the findings of a running scan and adds them to its
	// per-severity counters in one transaction.
	RecordFindings(ctx context.Context, id string, vulns []model.Vulnerability) error
	// Complete moves a running scan to completed with its summary.
	Complete(ctx context.Context, id string, summary model.ResultSummary, endedAt time.Time) error
	// Delete removes the owner's scan and its vulnerabilities.
	Delete(ctx context.Context, owner, id string) error
	// MarkInterrupted fails every scan left pending or running.
	MarkInterrupted(ctx context.Context, message string) (int64, error)
	// StatusCounts groups the owner's scans by status.
	StatusCounts(ctx context.Context, owner string) (map[model.ScanStatus]int64, error)
}

// GormScanStore implements the ScanStore interface using a GORM DB connection.
type GormScanStore struct {
	db *gorm.DB
}

// NewGormScanStore creates a new GormScanStore.
func NewGormScanStore(db *gorm.DB) (*GormScanStore, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &GormScanStore{db: db}, nil
}

func (store *GormScanStore) check(ctx context.Context) error {
	if ctx == nil {
		return errNilCtx
	}
	if store.db == nil {
		return errNilDB
	}
	return nil
}

// Create inserts a new scan.
func (store *GormScanStore) Create(ctx context.Context, scan *model.Scan) error {
	if err := store.check(ctx); err != nil {
		return err
	}
	if scan == nil {
		return fmt.Errorf("scan cannot be nil")
	}
	logger := log.NewLogger(ctx)
	logger.Debug("CreateScan", zap.String("id", scan.ID), zap.String("owner", scan.OwnerID))

	if err := store.db.WithContext(ctx).Create(scan).Error; err != nil {
		return fmt.Errorf("error creating scan: %w", err)
	}
	return nil
}

// Get returns the owner's scan with the given id.
func (store *GormScanStore) Get(ctx context.Context, owner, id string) (*model.Scan, error) {
	if err := store.check(ctx); err != nil {
		return nil, err
	}
	logger := log.NewLogger(ctx)
	logger.Debug("GetScan", zap.String("id", id), zap.String("owner", owner))

	var scan model.Scan
	err := store.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, owner).First(&scan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving scan: %w", err)
	}
	return &scan, nil
}

// List returns the owner's scans, newest first.
func (store *GormScanStore) List(ctx context.Context, owner string, filter ScanFilter) ([]model.Scan, error) {
	if err := store.check(ctx); err != nil {
		return nil, err
	}
	q := store.db.WithContext(ctx).Where("owner_id = ?", owner)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var scans []model.Scan
	if err := q.Order("created_at DESC").Order("id DESC").Find(&scans).Error; err != nil {
		return nil, fmt.Errorf("error listing scans: %w", err)
	}
	return scans, nil
}

// CountRunning counts the owner's scans in the running state.
func (store *GormScanStore) CountRunning(ctx context.Context, owner string) (int64, error) {
	if err := store.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := store.db.WithContext(ctx).Model(&model.Scan{}).
		Where("owner_id = ? AND status = ?", owner, model.StatusRunning).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("error counting running scans: %w", err)
	}
	return n, nil
}

// CountActive counts the owner's scans that are pending or running.
func (store *GormScanStore) CountActive(ctx context.Context, owner string) (int64, error) {
	if err := store.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := store.db.WithContext(ctx).Model(&model.Scan{}).
		Where("owner_id = ? AND status IN ?", owner, []model.ScanStatus{model.StatusPending, model.StatusRunning}).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("error counting active scans: %w", err)
	}
	return n, nil
}

// CountCreatedSince counts the owner's scans created at or after since.
func (store *GormScanStore) CountCreatedSince(ctx context.Context, owner string, since time.Time) (int64, error) {
	if err := store.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := store.db.WithContext(ctx).Model(&model.Scan{}).
		Where("owner_id = ? AND created_at >= ?", owner, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("error counting scans: %w", err)
	}
	return n, nil
}

// Transition moves a scan from one status to another, applying fields in the same update.
// It returns ErrStaleTransition when the scan is not in the from status.
func (store *GormScanStore) Transition(ctx context.Context, id string, from, to model.ScanStatus, fields map[string]interface{}) error {
	if err := store.check(ctx); err != nil {
		return err
	}
	logger := log.NewLogger(ctx)
	logger.Debug("TransitionScan", zap.String("id", id), zap.String("from", string(from)), zap.String("to", string(to)))

	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to

	res := store.db.WithContext(ctx).Model(&model.Scan{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("error updating scan status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// UpdateProgress records progress and the current phase of a running scan.
// Progress never moves backwards.
func (store *GormScanStore) UpdateProgress(ctx context.Context, id string, progress float64, phase string) error {
	if err := store.check(ctx); err != nil {
		return err
	}
	res := store.db.WithContext(ctx).Model(&model.Scan{}).
		Where("id = ? AND status = ? AND progress <= ?", id, model.StatusRunning, progress).
		Updates(map[string]interface{}{"progress": progress, "current_phase": phase})
	if res.Error != nil {
		return fmt.Errorf("error updating scan progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// RecordFindings stores the findings of a running scan and adds them to its
// per-severity counters. Both happen in one transaction, so the counters never
// disagree with the stored rows. ErrStaleTransition is returned, and nothing
// is written, when the scan is no longer running.
func (store *GormScanStore) RecordFindings(ctx context.Context, id string, vulns []model.Vulnerability) error {
	if err := store.check(ctx); err != nil {
		return err
	}
	if len(vulns) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for i := range vulns {
		col, err := model.SeverityColumn(vulns[i].Severity)
		if err != nil {
			return err
		}
		counts[col]++
		if vulns[i].Status == "" {
			vulns[i].Status = model.VulnOpen
		}
	}
	updates := make(map[string]interface{}, len(counts))
	for col, n := range counts {
		updates[col] = gorm.Expr(col+" + ?", n)
	}
	logger := log.NewLogger(ctx)
	logger.Debug("RecordFindings", zap.String("id", id), zap.Int("count", len(vulns)))

	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Scan{}).
			Where("id = ? AND status = ?", id, model.StatusRunning).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("error incrementing scan counters: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleTransition
		}
		if err := tx.CreateInBatches(vulns, insertBatchSize).Error; err != nil {
			return fmt.Errorf("error inserting vulnerabilities: %w", err)
		}
		return nil
	})
}

// Complete moves a running scan to completed, setting progress to 100.
func (store *GormScanStore) Complete(ctx context.Context, id string, summary model.ResultSummary, endedAt time.Time) error {
	return store.Transition(ctx, id, model.StatusRunning, model.StatusCompleted, map[string]interface{}{
		"progress":       100.0,
		"current_phase":  "",
		"result_summary": summary,
		"ended_at":       endedAt,
	})
}

// Delete removes the owner's scan and its vulnerabilities.
func (store *GormScanStore) Delete(ctx context.Context, owner, id string) error {
	if err := store.check(ctx); err != nil {
		return err
	}
	logger := log.NewLogger(ctx)
	logger.Debug("DeleteScan", zap.String("id", id), zap.String("owner", owner))

	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND owner_id = ?", id, owner).Delete(&model.Scan{})
		if res.Error != nil {
			return fmt.Errorf("error deleting scan: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("scan_id = ? AND owner_id = ?", id, owner).Delete(&model.Vulnerability{}).Error; err != nil {
			return fmt.Errorf("error deleting vulnerabilities: %w", err)
		}
		return nil
	})
}

// MarkInterrupted fails every scan left pending or running.
func (store *GormScanStore) MarkInterrupted(ctx context.Context, message string) (int64, error) {
	if err := store.check(ctx); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	res := store.db.WithContext(ctx).Model(&model.Scan{}).
		Where("status IN ?", []model.ScanStatus{model.StatusPending, model.StatusRunning}).
		Updates(map[string]interface{}{
			"status":        model.StatusFailed,
			"error_message": message,
			"ended_at":      now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("error marking interrupted scans: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// StatusCounts groups the owner's scans by status.
func (store *GormScanStore) StatusCounts(ctx context.Context, owner string) (map[model.ScanStatus]int64, error) {
	if err := store.check(ctx); err != nil {
		return nil, err
	}
	var rows []struct {
		Status model.ScanStatus
		Count  int64
	}
	err := store.db.WithContext(ctx).Model(&model.Scan{}).
		Select("status, count(*) as count").
		Where("owner_id = ?", owner).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error counting scans by status: %w", err)
	}
	counts := make(map[model.ScanStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
