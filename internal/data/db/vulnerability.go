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

// insertBatchSize bounds the rows sent per INSERT statement.
const insertBatchSize = 100

// VulnerabilityFilter narrows a vulnerability listing.
type VulnerabilityFilter struct {
	Severity *model.Severity
	Status   *model.VulnerabilityStatus
	Offset   int
	Limit    int
}

// VulnerabilityStore defines the interface for persisting vulnerabilities.
type VulnerabilityStore interface {
	// BulkInsert stores a batch of findings.
	BulkInsert(ctx context.Context, vulns []model.Vulnerability) error
	// ListByScan returns the owner's findings for one scan, most severe first.
	ListByScan(ctx context.Context, owner, scanID string, severity *model.Severity) ([]model.Vulnerability, error)
	// ListByOwner returns the owner's findings across every scan.
	ListByOwner(ctx context.Context, owner string, filter VulnerabilityFilter) ([]model.Vulnerability, error)
	// Get returns the owner's finding with the given id.
	Get(ctx context.Context, owner, id string) (*model.Vulnerability, error)
	// UpdateStatus changes the triage status of the owner's finding.
	UpdateStatus(ctx context.Context, owner, id string, status model.VulnerabilityStatus) (*model.Vulnerability, error)
	// SeverityCounts groups the owner's findings by severity.
	SeverityCounts(ctx context.Context, owner string, unresolvedOnly bool) (map[model.Severity]int64, error)
	// StatusCounts groups the owner's findings by status.
	StatusCounts(ctx context.Context, owner string) (map[model.VulnerabilityStatus]int64, error)
}

// GormVulnerabilityStore implements the VulnerabilityStore interface using a GORM DB connection.
type GormVulnerabilityStore struct {
	db *gorm.DB
}

// NewGormVulnerabilityStore creates a new GormVulnerabilityStore.
func NewGormVulnerabilityStore(db *gorm.DB) (*GormVulnerabilityStore, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &GormVulnerabilityStore{db: db}, nil
}

func (store *GormVulnerabilityStore) check(ctx context.Context) error {
	if ctx == nil {
		return errNilCtx
	}
	if store.db == nil {
		return errNilDB
	}
	return nil
}

// severityOrder sorts critical first regardless of the dialect's string ordering.
const severityOrder = "CASE severity WHEN 'critical' THEN 0 WHEN 'high' THEN 1 " +
	"WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END"

// BulkInsert stores a batch of findings.
func (store *GormVulnerabilityStore) BulkInsert(ctx context.Context, vulns []model.Vulnerability) error {
	if err := store.check(ctx); err != nil {
		return err
	}
	if len(vulns) == 0 {
		return nil
	}
	for i := range vulns {
		if vulns[i].Status == "" {
			vulns[i].Status = model.VulnOpen
		}
	}
	logger := log.NewLogger(ctx)
	logger.Debug("BulkInsertVulnerabilities", zap.String("scan", vulns[0].ScanID), zap.Int("count", len(vulns)))

	if err := store.db.WithContext(ctx).CreateInBatches(vulns, insertBatchSize).Error; err != nil {
		return fmt.Errorf("error inserting vulnerabilities: %w", err)
	}
	return nil
}

// ListByScan returns the owner's findings for one scan, most severe first.
func (store *GormVulnerabilityStore) ListByScan(ctx context.Context, owner, scanID string, severity *model.Severity) ([]model.Vulnerability, error) {
	if err := store.check(ctx); err != nil {
		return nil, err
	}
	q := store.db.WithContext(ctx).Where("owner_id = ? AND scan_id = ?", owner, scanID)
	if severity != nil {
		q = q.Where("severity = ?", *severity)
	}
	var vulns []model.Vulnerability
	if err := q.Order(severityOrder).Order("discovered_at").Find(&vulns).Error; err != nil {
		return nil, fmt.Errorf("error listing scan vulnerabilities: %w", err)
	}
	return vulns, nil
}

// ListByOwner returns the owner's findings across every scan.
func (store *GormVulnerabilityStore) ListByOwner(ctx context.Context, owner string, filter VulnerabilityFilter) ([]model.Vulnerability, error) {
	if err := store.check(ctx); err != nil {
		return nil, err
	}
	q := store.db.WithContext(ctx).Where("owner_id = ?", owner)
	if filter.Severity != nil {
		q = q.Where("severity = ?", *filter.Severity)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var vulns []model.Vulnerability
	if err := q.Order("discovered_at DESC").Order(severityOrder).Find(&vulns).Error; err != nil {
		return nil, fmt.Errorf("error listing vulnerabilities: %w", err)
	}
	return vulns, nil
}

// Get returns the owner's finding with the given id.
func (store *GormVulnerabilityStore) Get(ctx context.Context, owner, id string) (*model.Vulnerability, error) {
	if err := store.check(ctx); err != nil {
		return nil, err
	}
	var v model.Vulnerability
	err := store.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, owner).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving vulnerability: %w", err)
	}
	return &v, nil
}

// UpdateStatus changes the triage status of the owner's finding.
func (store *GormVulnerabilityStore) UpdateStatus(ctx context.Context, owner, id string, status model.VulnerabilityStatus) (*model.Vulnerability, error) {
	if err := store.check(ctx); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid vulnerability status %q", status)
	}
	logger := log.NewLogger(ctx)
	logger.Debug("UpdateVulnerabilityStatus", zap.String("id", id), zap.String("status", string(status)))

	var v model.Vulnerability
	err := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND owner_id = ?", id, owner).First(&v).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("error retrieving vulnerability: %w", err)
		}
		if err := tx.Model(&v).Update("status", status).Error; err != nil {
			return fmt.Errorf("error updating vulnerability: %w", err)
		}
		v.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SeverityCounts groups the owner's findings by severity.
func (store *GormVulnerabilityStore) SeverityCounts(ctx context.Context, owner string, unresolvedOnly bool) (map[model.Severity]int64, error) {
	if err := store.check(ctx); err != nil {
		return nil, err
	}
	q := store.db.WithContext(ctx).Model(&model.Vulnerability{}).
		Select("severity, count(*) as count").
		Where("owner_id = ?", owner)
	if unresolvedOnly {
		q = q.Where("status IN ?", []model.VulnerabilityStatus{model.VulnOpen, model.VulnInProgress})
	}
	var rows []struct {
		Severity model.Severity
		Count    int64
	}
	if err := q.Group("severity").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error counting vulnerabilities by severity: %w", err)
	}
	counts := make(map[model.Severity]int64, len(rows))
	for _, r := range rows {
		counts[r.Severity] = r.Count
	}
	return counts, nil
}

// StatusCounts groups the owner's findings by status.
func (store *GormVulnerabilityStore) StatusCounts(ctx context.Context, owner string) (map[model.VulnerabilityStatus]int64, error) {
	if err := store.check(ctx); err != nil {
		return nil, err
	}
	var rows []struct {
		Status model.VulnerabilityStatus
		Count  int64
	}
	err := store.db.WithContext(ctx).Model(&model.Vulnerability{}).
		Select("status, count(*) as count").
		Where("owner_id = ?", owner).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error counting vulnerabilities by status: %w", err)
	}
	counts := make(map[model.VulnerabilityStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
