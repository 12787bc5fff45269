package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ReportFormat is the output format of a rendered report.
type ReportFormat string

const (
	FormatPDF  ReportFormat = "pdf"
	FormatHTML ReportFormat = "html"
	FormatDOCX ReportFormat = "docx"
	FormatJSON ReportFormat = "json"
	FormatCSV  ReportFormat = "csv"
)

// IsValid reports whether f is a supported report format.
func (f ReportFormat) IsValid() bool {
	switch f {
	case FormatPDF, FormatHTML, FormatDOCX, FormatJSON, FormatCSV:
		return true
	}
	return false
}

// ReportStatus is the generation state of a report.
type ReportStatus string

const (
	ReportPending    ReportStatus = "pending"
	ReportGenerating ReportStatus = "generating"
	ReportCompleted  ReportStatus = "completed"
	ReportFailed     ReportStatus = "failed"
)

// ReportSourceType names the kind of record a report is built from.
type ReportSourceType string

const (
	SourceScan    ReportSourceType = "scan"
	SourcePentest ReportSourceType = "pentest"
)

// IsValid reports whether t is a known source type.
func (t ReportSourceType) IsValid() bool {
	return t == SourceScan || t == SourcePentest
}

// ReportOptions toggles the sections of a report.
type ReportOptions struct {
	CustomFields            map[string]string `json:"custom_fields,omitempty"`
	IncludeExecutiveSummary bool              `json:"include_executive_summary"`
	IncludeTechnicalDetails bool              `json:"include_technical_details"`
	IncludeRemediationPlan  bool              `json:"include_remediation_plan"`
}

// DefaultReportOptions enables every section.
func DefaultReportOptions() ReportOptions {
	return ReportOptions{
		IncludeExecutiveSummary: true,
		IncludeTechnicalDetails: true,
		IncludeRemediationPlan:  true,
	}
}

// Value implements the driver.Valuer interface for database serialization.
func (o ReportOptions) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (o *ReportOptions) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*o = ReportOptions{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("ReportOptions Scan error: expected []byte or string, got %T", value)
	}
	if err := json.Unmarshal(b, o); err != nil {
		return fmt.Errorf("failed to unmarshal ReportOptions: %w", err)
	}
	return nil
}

// Report is a rendered document built from a completed scan.
type Report struct {
	CreatedAt         time.Time        `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt         time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
	ID                string           `json:"id" gorm:"primaryKey;size:36"`
	OwnerID           string           `json:"owner_id" gorm:"index;size:36;not null"`
	Title             string           `json:"title"`
	SourceType        ReportSourceType `json:"source_type" gorm:"size:16;not null"`
	SourceID          string           `json:"source_id" gorm:"index;size:36;not null"`
	TemplateID        string           `json:"template_id,omitempty" gorm:"size:36"`
	Format            ReportFormat     `json:"format" gorm:"size:8;not null"`
	Status            ReportStatus     `json:"status" gorm:"size:16;not null"`
	FilePath          string           `json:"-"`
	ContentHash       string           `json:"content_hash,omitempty" gorm:"size:64"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	Options           ReportOptions    `json:"options" gorm:"type:text"`
	Size              int64            `json:"size"`
	GenerationSeconds float64          `json:"generation_seconds"`
}

// Sections a report template can enable.
const (
	SectionExecutiveSummary = "executive_summary"
	SectionTechnicalDetails = "technical_details"
	SectionRemediationPlan  = "remediation_plan"
)

// ReportSections lists every known section in document order.
var ReportSections = []string{SectionExecutiveSummary, SectionTechnicalDetails, SectionRemediationPlan}

// ReportTemplate presets the title, formats and sections of reports built
// from it. It is visible to its owner, and to every user once public.
type ReportTemplate struct {
	CreatedAt   time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
	ID          string      `json:"id" gorm:"primaryKey;size:36"`
	OwnerID     string      `json:"owner_id" gorm:"index;size:36;not null"`
	Name        string      `json:"name" gorm:"not null"`
	Description string      `json:"description,omitempty"`
	Title       string      `json:"title,omitempty"`
	Formats     StringArray `json:"supported_formats" gorm:"type:text"`
	Sections    StringArray `json:"sections" gorm:"type:text"`
	Version     string      `json:"version" gorm:"size:16"`
	IsPublic    bool        `json:"is_public" gorm:"index"`
}

// Options returns the section toggles the template enables.
func (t *ReportTemplate) Options() ReportOptions {
	var o ReportOptions
	for _, s := range t.Sections {
		switch s {
		case SectionExecutiveSummary:
			o.IncludeExecutiveSummary = true
		case SectionTechnicalDetails:
			o.IncludeTechnicalDetails = true
		case SectionRemediationPlan:
			o.IncludeRemediationPlan = true
		}
	}
	return o
}

// Supports reports whether reports in format f may use the template. A
// template without formats supports all of them.
func (t *ReportTemplate) Supports(f ReportFormat) bool {
	if len(t.Formats) == 0 {
		return true
	}
	for _, v := range t.Formats {
		if ReportFormat(v) == f {
			return true
		}
	}
	return false
}
