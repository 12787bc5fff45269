package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/orchestrator"
)

type createScanRequest struct {
	Name      string             `json:"name"`
	Target    string             `json:"target"`
	Category  model.ScanCategory `json:"category"`
	PortRange string             `json:"port_range"`
	Probes    []string           `json:"probes"`
	Intensity int                `json:"intensity"`
}

func (s *Server) createScan(c *gin.Context) {
	var req createScanRequest
	if !bind(c, &req) {
		return
	}
	sc, err := s.deps.Scans.CreateScan(c.Request.Context(), orchestrator.ScanRequest{
		Owner:     currentUser(c).ID,
		Name:      req.Name,
		Target:    req.Target,
		Category:  req.Category,
		PortRange: req.PortRange,
		Probes:    req.Probes,
		Intensity: req.Intensity,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sc)
}

func (s *Server) listScans(c *gin.Context) {
	offset, limit, err := pagination(c)
	if err != nil {
		writeError(c, err)
		return
	}
	opts := orchestrator.ListOptions{Offset: offset, Limit: limit}
	if v := c.Query("status"); v != "" {
		status := model.ScanStatus(v)
		opts.Status = &status
	}
	scans, err := s.deps.Scans.ListScans(c.Request.Context(), currentUser(c).ID, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, scans)
}

func (s *Server) getScan(c *gin.Context) {
	sc, err := s.deps.Scans.GetScan(c.Request.Context(), c.Param("id"), currentUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) scanStatus(c *gin.Context) {
	p, err := s.deps.Scans.GetProgress(c.Request.Context(), c.Param("id"), currentUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) cancelScan(c *gin.Context) {
	ctx, id, owner := c.Request.Context(), c.Param("id"), currentUser(c).ID
	if err := s.deps.Scans.CancelScan(ctx, id, owner); err != nil {
		writeError(c, err)
		return
	}
	sc, err := s.deps.Scans.GetScan(ctx, id, owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) deleteScan(c *gin.Context) {
	if err := s.deps.Scans.DeleteScan(c.Request.Context(), c.Param("id"), currentUser(c).ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) scanVulnerabilities(c *gin.Context) {
	var severity *model.Severity
	if v := c.Query("severity"); v != "" {
		sev := model.Severity(v)
		severity = &sev
	}
	vulns, err := s.deps.Scans.ListVulnerabilities(c.Request.Context(), c.Param("id"), currentUser(c).ID, severity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vulns)
}

// pagination reads the offset and limit query parameters.
func pagination(c *gin.Context) (int, int, error) {
	var values [2]int
	for i, name := range []string{"offset", "limit"} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("%w: %s must be a non-negative integer", errInvalidQuery, name)
		}
		values[i] = n
	}
	return values[0], values[1], nil
}
