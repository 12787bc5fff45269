package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/report"
)

type generateReportRequest struct {
	Options    *model.ReportOptions   `json:"options"`
	SourceType model.ReportSourceType `json:"source_type"`
	SourceID   string                 `json:"source_id" binding:"required"`
	TemplateID string                 `json:"template_id"`
	Format     model.ReportFormat     `json:"format" binding:"required"`
	Title      string                 `json:"title"`
}

type createTemplateRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Title       string               `json:"title"`
	Formats     []model.ReportFormat `json:"supported_formats"`
	Sections    []string             `json:"sections"`
	IsPublic    bool                 `json:"is_public"`
}

func (s *Server) generateReport(c *gin.Context) {
	var req generateReportRequest
	if !bind(c, &req) {
		return
	}
	rep, err := s.deps.Reports.Start(c.Request.Context(), report.AssembleRequest{
		Owner:      currentUser(c).ID,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		TemplateID: req.TemplateID,
		Format:     req.Format,
		Title:      req.Title,
		Options:    req.Options,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"report_id": rep.ID, "status": rep.Status})
}

func (s *Server) listReports(c *gin.Context) {
	reports, err := s.deps.Reports.List(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

func (s *Server) getReport(c *gin.Context) {
	rep, err := s.deps.Reports.Get(c.Request.Context(), c.Param("id"), currentUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) downloadReport(c *gin.Context) {
	rep, rc, err := s.deps.Reports.Open(c.Request.Context(), c.Param("id"), currentUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, rep.Size, s.deps.Reports.ContentType(rep.Format), rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="report-%s.%s"`, rep.ID, rep.Format),
		"ETag":                `"` + rep.ContentHash + `"`,
	})
}

func (s *Server) createTemplate(c *gin.Context) {
	var req createTemplateRequest
	if !bind(c, &req) {
		return
	}
	tpl, err := s.deps.Reports.CreateTemplate(c.Request.Context(), report.TemplateRequest{
		Owner:       currentUser(c).ID,
		Name:        req.Name,
		Description: req.Description,
		Title:       req.Title,
		Formats:     req.Formats,
		Sections:    req.Sections,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

func (s *Server) listTemplates(c *gin.Context) {
	templates, err := s.deps.Reports.ListTemplates(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if templates == nil {
		templates = []model.ReportTemplate{}
	}
	c.JSON(http.StatusOK, templates)
}

func (s *Server) getTemplate(c *gin.Context) {
	tpl, err := s.deps.Reports.GetTemplate(c.Request.Context(), c.Param("id"), currentUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (s *Server) deleteTemplate(c *gin.Context) {
	if err := s.deps.Reports.DeleteTemplate(c.Request.Context(), c.Param("id"), currentUser(c).ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
