package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/data/model"
)

type updateVulnerabilityRequest struct {
	Status model.VulnerabilityStatus `json:"status" binding:"required"`
}

func (s *Server) listVulnerabilities(c *gin.Context) {
	offset, limit, err := pagination(c)
	if err != nil {
		writeError(c, err)
		return
	}
	filter := db.VulnerabilityFilter{Offset: offset, Limit: limit}
	if v := c.Query("severity"); v != "" {
		sev := model.Severity(v)
		if !sev.IsValid() {
			writeError(c, fmt.Errorf("%w: unknown severity %q", errInvalidQuery, v))
			return
		}
		filter.Severity = &sev
	}
	if v := c.Query("status"); v != "" {
		status := model.VulnerabilityStatus(v)
		if !status.IsValid() {
			writeError(c, fmt.Errorf("%w: unknown status %q", errInvalidQuery, v))
			return
		}
		filter.Status = &status
	}
	vulns, err := s.deps.Vulnerabilities.ListByOwner(c.Request.Context(), currentUser(c).ID, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vulns)
}

func (s *Server) getVulnerability(c *gin.Context) {
	v, err := s.deps.Vulnerabilities.Get(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) updateVulnerability(c *gin.Context) {
	var req updateVulnerabilityRequest
	if !bind(c, &req) {
		return
	}
	if !req.Status.IsValid() {
		writeError(c, fmt.Errorf("%w: unknown status %q", errInvalidQuery, req.Status))
		return
	}
	v, err := s.deps.Vulnerabilities.UpdateStatus(c.Request.Context(), currentUser(c).ID, c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
