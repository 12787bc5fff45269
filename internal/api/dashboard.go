package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/data/model"
)

const recentScansLimit = 5

type summaryResponse struct {
	ScansByStatus             map[model.ScanStatus]int64          `json:"scans_by_status"`
	VulnerabilitiesBySeverity map[model.Severity]int64            `json:"vulnerabilities_by_severity"`
	VulnerabilitiesByStatus   map[model.VulnerabilityStatus]int64 `json:"vulnerabilities_by_status"`
	RiskLevel                 model.RiskLevel                     `json:"risk_level"`
	RecentScans               []model.Scan                        `json:"recent_scans"`
	TotalScans                int64                               `json:"total_scans"`
	TotalVulnerabilities      int64                               `json:"total_vulnerabilities"`
	SecurityScore             int                                 `json:"security_score"`
}

// dashboardSummary aggregates the user's scans and vulnerabilities. The
// security score only counts unresolved vulnerabilities.
func (s *Server) dashboardSummary(c *gin.Context) {
	ctx, owner := c.Request.Context(), currentUser(c).ID

	byStatus, err := s.deps.ScanStore.StatusCounts(ctx, owner)
	if err != nil {
		writeError(c, err)
		return
	}
	bySeverity, err := s.deps.Vulnerabilities.SeverityCounts(ctx, owner, false)
	if err != nil {
		writeError(c, err)
		return
	}
	byVulnStatus, err := s.deps.Vulnerabilities.StatusCounts(ctx, owner)
	if err != nil {
		writeError(c, err)
		return
	}
	unresolved, err := s.deps.Vulnerabilities.SeverityCounts(ctx, owner, true)
	if err != nil {
		writeError(c, err)
		return
	}
	recent, err := s.deps.ScanStore.List(ctx, owner, db.ScanFilter{Limit: recentScansLimit})
	if err != nil {
		writeError(c, err)
		return
	}

	summary := summaryResponse{
		ScansByStatus:             make(map[model.ScanStatus]int64),
		VulnerabilitiesBySeverity: make(map[model.Severity]int64),
		VulnerabilitiesByStatus:   byVulnStatus,
		RecentScans:               recent,
		SecurityScore:             model.SecurityScore(unresolved),
	}
	for _, st := range []model.ScanStatus{model.StatusPending, model.StatusRunning, model.StatusCompleted, model.StatusFailed, model.StatusCancelled} {
		summary.ScansByStatus[st] = byStatus[st]
		summary.TotalScans += byStatus[st]
	}
	for _, sev := range model.Severities {
		summary.VulnerabilitiesBySeverity[sev] = bySeverity[sev]
		summary.TotalVulnerabilities += bySeverity[sev]
	}
	summary.RiskLevel = model.RiskLevelFor(summary.SecurityScore)
	if summary.RecentScans == nil {
		summary.RecentScans = []model.Scan{}
	}
	c.JSON(http.StatusOK, summary)
}
