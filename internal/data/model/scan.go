package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Scan is an assessment run against a single target.
// It is owned by the orchestrator: handlers read it but never write it.
type Scan struct {
	CreatedAt     time.Time     `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt     time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	ID            string        `json:"id" gorm:"primaryKey;size:36"`
	OwnerID       string        `json:"owner_id" gorm:"index;size:36;not null"`
	Name          string        `json:"name"`
	Target        string        `json:"target" gorm:"not null"`
	Category      ScanCategory  `json:"category" gorm:"size:16;not null"`
	PortRange     string        `json:"port_range,omitempty"`
	Status        ScanStatus    `json:"status" gorm:"size:16;index;not null"`
	CurrentPhase  string        `json:"current_phase,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Probes        StringArray   `json:"probes,omitempty" gorm:"type:text"`
	ResultSummary ResultSummary `json:"result_summary" gorm:"type:text"`
	Progress      float64       `json:"progress"`
	Intensity     int           `json:"intensity"`
	CriticalCount int           `json:"-"`
	HighCount     int           `json:"-"`
	MediumCount   int           `json:"-"`
	LowCount      int           `json:"-"`
	InfoCount     int           `json:"-"`
}

// SeverityCounts returns the per-severity vulnerability counters.
func (s *Scan) SeverityCounts() map[Severity]int {
	return map[Severity]int{
		SeverityCritical: s.CriticalCount,
		SeverityHigh:     s.HighCount,
		SeverityMedium:   s.MediumCount,
		SeverityLow:      s.LowCount,
		SeverityInfo:     s.InfoCount,
	}
}

// TotalFindings is the sum of all severity counters.
func (s *Scan) TotalFindings() int {
	return s.CriticalCount + s.HighCount + s.MediumCount + s.LowCount + s.InfoCount
}

// MarshalJSON adds the severity counters as a map.
func (s Scan) MarshalJSON() ([]byte, error) {
	type alias Scan
	return json.Marshal(struct {
		alias
		VulnerabilityCounts map[Severity]int `json:"vulnerability_counts"`
	}{
		alias:               alias(s),
		VulnerabilityCounts: s.SeverityCounts(),
	})
}

// SeverityColumn returns the counter column for a severity.
func SeverityColumn(s Severity) (string, error) {
	switch s {
	case SeverityCritical:
		return "critical_count", nil
	case SeverityHigh:
		return "high_count", nil
	case SeverityMedium:
		return "medium_count", nil
	case SeverityLow:
		return "low_count", nil
	case SeverityInfo:
		return "info_count", nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// ResultSummary is the free-form outcome of a completed scan.
type ResultSummary struct {
	SeverityCounts  map[Severity]int `json:"severity_counts,omitempty"`
	TopFindings     []string         `json:"top_findings,omitempty"`
	Phases          []string         `json:"phases,omitempty"`
	TotalHosts      int              `json:"total_hosts"`
	OpenPorts       int              `json:"open_ports"`
	TotalServices   int              `json:"total_services"`
	TotalFindings   int              `json:"total_findings"`
	DurationSeconds float64          `json:"duration_seconds"`
}

// Value implements the driver.Valuer interface for database serialization.
func (r ResultSummary) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (r *ResultSummary) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*r = ResultSummary{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("ResultSummary Scan error: expected []byte or string, got %T", value)
	}
	if len(b) == 0 {
		*r = ResultSummary{}
		return nil
	}
	if err := json.Unmarshal(b, r); err != nil {
		return fmt.Errorf("failed to unmarshal ResultSummary: %w", err)
	}
	return nil
}
