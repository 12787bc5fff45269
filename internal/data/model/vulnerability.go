package model

import "time"

// Vulnerability is a single finding persisted during a scan.
type Vulnerability struct {
	DiscoveredAt       time.Time           `json:"discovered_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time           `json:"updated_at" gorm:"autoUpdateTime"`
	CVSSScore          *float64            `json:"cvss_score,omitempty"`
	ID                 string              `json:"id" gorm:"primaryKey;size:36"`
	ScanID             string              `json:"scan_id" gorm:"index;size:36;not null"`
	OwnerID            string              `json:"owner_id" gorm:"index;size:36;not null"`
	Name               string              `json:"name" gorm:"not null"`
	Description        string              `json:"description"`
	Severity           Severity            `json:"severity" gorm:"size:16;index;not null"`
	Status             VulnerabilityStatus `json:"status" gorm:"size:16;index;not null;default:open"`
	Remediation        string              `json:"remediation,omitempty"`
	Phase              string              `json:"phase,omitempty"`
	CVEIDs             StringArray         `json:"cve_ids,omitempty" gorm:"type:text"`
	AffectedComponents StringArray         `json:"affected_components,omitempty" gorm:"type:text"`
}
