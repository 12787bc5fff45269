package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ScanCategory is the kind of assessment a scan performs.
type ScanCategory string

const (
	CategoryNetwork ScanCategory = "network"
	CategoryWeb     ScanCategory = "web"
	CategoryAPI     ScanCategory = "api"
	CategoryMobile  ScanCategory = "mobile"
	CategoryCustom  ScanCategory = "custom"
)

// Categories lists every supported scan category.
var Categories = []ScanCategory{CategoryNetwork, CategoryWeb, CategoryAPI, CategoryMobile, CategoryCustom}

// IsValid reports whether c is a known category.
func (c ScanCategory) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
	StatusCancelled ScanStatus = "cancelled"
)

// IsValid reports whether s is a known status.
func (s ScanStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func (s ScanStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Severity is the impact rating of a vulnerability.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	return s.Rank() < len(Severities)
}

// Rank orders severities with critical first. Unknown severities sort last.
func (s Severity) Rank() int {
	for i, known := range Severities {
		if s == known {
			return i
		}
	}
	return len(Severities)
}

// VulnerabilityStatus is the triage state of a vulnerability.
type VulnerabilityStatus string

const (
	VulnOpen          VulnerabilityStatus = "open"
	VulnInProgress    VulnerabilityStatus = "in_progress"
	VulnResolved      VulnerabilityStatus = "resolved"
	VulnFalsePositive VulnerabilityStatus = "false_positive"
	VulnWontFix       VulnerabilityStatus = "wont_fix"
)

// IsValid reports whether s is a known vulnerability status.
func (s VulnerabilityStatus) IsValid() bool {
	switch s {
	case VulnOpen, VulnInProgress, VulnResolved, VulnFalsePositive, VulnWontFix:
		return true
	}
	return false
}

// IsUnresolved reports whether the vulnerability still counts against the owner.
func (s VulnerabilityStatus) IsUnresolved() bool {
	return s == VulnOpen || s == VulnInProgress
}

// StringArray handles JSON serialization of string slices in a single column.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("StringArray Scan error: expected []byte or string, got %T", value)
	}
	if err := json.Unmarshal(b, a); err != nil {
		return fmt.Errorf("failed to unmarshal StringArray: %w", err)
	}
	return nil
}
