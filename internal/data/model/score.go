package model

// RiskLevel buckets a security score.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

var severityPenalty = map[Severity]int{
	SeverityCritical: 10,
	SeverityHigh:     7,
	SeverityMedium:   4,
	SeverityLow:      2,
}

// SecurityScore returns 100 minus a per-severity penalty for each finding,
// floored at 0. Informational findings cost nothing.
func SecurityScore[N int | int64](counts map[Severity]N) int {
	score := 100
	for sev, n := range counts {
		score -= severityPenalty[sev] * int(n)
		if score <= 0 {
			return 0
		}
	}
	return score
}

// RiskLevelFor maps a security score to its risk level.
func RiskLevelFor(score int) RiskLevel {
	switch {
	case score < 40:
		return RiskCritical
	case score < 60:
		return RiskHigh
	case score < 80:
		return RiskMedium
	}
	return RiskLow
}
